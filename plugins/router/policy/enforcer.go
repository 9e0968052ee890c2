// Copyright (c) 2019 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package policy applies the traffic policy of a service on top of
// the compiled forwarding table.
package policy

import (
	"github.com/pkg/errors"

	"github.com/contiv/svcroute/plugins/router/api"
	"github.com/contiv/svcroute/plugins/router/model"
	"github.com/contiv/svcroute/plugins/router/table"
)

// Enforcer restricts the eligible endpoints of an entry to those allowed
// for a requesting node.
type Enforcer struct{}

// Candidates returns the endpoints which may serve a request from <node>
// (optionally restricted to one service port).
//
// ClusterWide: all eligible endpoints are candidates.
// NodeLocal: only eligible endpoints located on <node> are candidates, never
// falling back to remote endpoints. ErrNoLocalEndpoint is returned when
// the service has eligible endpoints, but none on the node.
func (e *Enforcer) Candidates(entry *table.Entry, node, portName string) ([]model.Endpoint, error) {
	eligible := entry.EndpointsForPort(portName)
	if len(eligible) == 0 {
		return nil, errors.Wrapf(api.ErrNoEligibleEndpoint, "service %s", entry.Service)
	}

	switch entry.TrafficPolicy {
	case model.ClusterWide:
		return eligible, nil
	case model.NodeLocal:
		var local []model.Endpoint
		for _, ep := range eligible {
			if ep.Node == node {
				local = append(local, ep)
			}
		}
		if len(local) == 0 {
			return nil, errors.Wrapf(api.ErrNoLocalEndpoint, "service %s, node %s", entry.Service, node)
		}
		return local, nil
	}
	return nil, errors.Errorf("service %s: unhandled traffic policy %v", entry.Service, entry.TrafficPolicy)
}
