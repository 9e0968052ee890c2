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

package file

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/contiv/svcroute/plugins/router/model"
)

// Topology is the content of the topology file.
type Topology struct {
	Services []Service `json:"services"`
}

// Service describes one virtual service together with its endpoints.
type Service struct {
	Namespace       string     `json:"namespace,omitempty"`
	Name            string     `json:"name"`
	Kind            string     `json:"kind,omitempty"`
	Address         string     `json:"address,omitempty"`
	Ports           []Port     `json:"ports,omitempty"`
	SessionAffinity string     `json:"sessionAffinity,omitempty"`
	AffinityTimeout string     `json:"affinityTimeout,omitempty"`
	TrafficPolicy   string     `json:"trafficPolicy,omitempty"`
	AliasTarget     string     `json:"aliasTarget,omitempty"`
	Endpoints       []Endpoint `json:"endpoints,omitempty"`
}

// Port of a service.
type Port struct {
	Name           string `json:"name,omitempty"`
	Protocol       string `json:"protocol,omitempty"`
	Port           uint16 `json:"port"`
	TargetPort     uint16 `json:"targetPort,omitempty"`
	TargetPortName string `json:"targetPortName,omitempty"`
	NodePort       uint16 `json:"nodePort,omitempty"`
}

// Endpoint of a service. Endpoints are ready unless stated otherwise.
type Endpoint struct {
	Address  string `json:"address"`
	Port     uint16 `json:"port"`
	PortName string `json:"portName,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Node     string `json:"node,omitempty"`
	Ready    *bool  `json:"ready,omitempty"`
}

// toEvents converts the file content into a snapshot of topology events,
// every resource carrying the given version.
func (t *Topology) toEvents(version uint64) ([]model.Event, error) {
	var events []model.Event
	seen := make(map[model.ID]struct{})
	for i := range t.Services {
		svc, eps, err := t.Services[i].convert()
		if err != nil {
			return nil, err
		}
		if _, duplicate := seen[svc.ID]; duplicate {
			return nil, errors.Errorf("duplicate service %s", svc.ID)
		}
		seen[svc.ID] = struct{}{}

		events = append(events, &model.ServiceUpserted{Service: svc, Version: version})
		if svc.Kind != model.AliasOnly {
			events = append(events, &model.EndpointsUpserted{ID: svc.ID, Endpoints: eps, Version: version})
		}
	}
	return events, nil
}

func (s *Service) convert() (*model.VirtualService, model.EndpointSet, error) {
	id := model.ID{Namespace: s.Namespace, Name: s.Name}
	if id.Namespace == "" {
		id.Namespace = model.DefaultNamespace
	}
	svc := &model.VirtualService{
		ID:          id,
		AliasTarget: s.AliasTarget,
	}

	var err error
	if s.Kind != "" {
		if svc.Kind, err = model.ParseServiceKind(s.Kind); err != nil {
			return nil, nil, errors.Wrapf(err, "service %s", id)
		}
	}
	if s.Address != "" {
		if svc.StableAddress = net.ParseIP(s.Address); svc.StableAddress == nil {
			return nil, nil, errors.Errorf("service %s: invalid address %q", id, s.Address)
		}
	}

	switch s.SessionAffinity {
	case "", model.NoAffinity.String():
	case model.ClientAddressAffinity.String():
		svc.SessionAffinity.Mode = model.ClientAddressAffinity
		if s.AffinityTimeout != "" {
			if svc.SessionAffinity.Timeout, err = time.ParseDuration(s.AffinityTimeout); err != nil {
				return nil, nil, errors.Wrapf(err, "service %s: invalid affinity timeout", id)
			}
		}
	default:
		return nil, nil, errors.Errorf("service %s: unknown session affinity %q", id, s.SessionAffinity)
	}

	switch s.TrafficPolicy {
	case "", model.ClusterWide.String():
	case model.NodeLocal.String():
		svc.TrafficPolicy = model.NodeLocal
	default:
		return nil, nil, errors.Errorf("service %s: unknown traffic policy %q", id, s.TrafficPolicy)
	}

	for _, port := range s.Ports {
		protocol, err := model.ParseProtocol(port.Protocol)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "service %s", id)
		}
		svc.Ports = append(svc.Ports, model.ServicePort{
			Name:           port.Name,
			Protocol:       protocol,
			ExposedPort:    port.Port,
			TargetPort:     port.TargetPort,
			TargetPortName: port.TargetPortName,
			NodePort:       port.NodePort,
		})
	}

	eps := model.NewEndpointSet()
	for _, ep := range s.Endpoints {
		addr := net.ParseIP(ep.Address)
		if addr == nil {
			return nil, nil, errors.Errorf("service %s: invalid endpoint address %q", id, ep.Address)
		}
		protocol, err := model.ParseProtocol(ep.Protocol)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "service %s", id)
		}
		eps.Add(model.Endpoint{
			Address:  addr,
			Port:     ep.Port,
			PortName: ep.PortName,
			Protocol: protocol,
			Node:     ep.Node,
			Ready:    ep.Ready == nil || *ep.Ready,
		})
	}
	return svc, eps, nil
}
