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

package cmdimpl

import (
	"fmt"
	"net/url"

	"github.com/contiv/svcroute/plugins/router/restapi"
)

// Resolve prints the address(es) of the service.
func (c *Ctl) Resolve(service string) error {
	query := url.Values{}
	query.Set(restapi.ServiceParam, service)

	var res restapi.Resolution
	if err := c.Client.GetJSON(c.Agent, restapi.RestURLResolve+"?"+query.Encode(), &res); err != nil {
		return err
	}

	fmt.Fprintf(c.Out, "%s (%s)\n", res.Service, res.Kind)
	switch {
	case res.AliasTarget != "":
		fmt.Fprintf(c.Out, "  alias: %s\n", res.AliasTarget)
	case res.StableAddress == "":
		for _, ep := range res.Endpoints {
			fmt.Fprintf(c.Out, "  endpoint: %s:%d\n", ep.Address, ep.Port)
		}
	default:
		fmt.Fprintf(c.Out, "  address: %s\n", res.StableAddress)
		if res.ExternalAddress != "" {
			fmt.Fprintf(c.Out, "  external: %s\n", res.ExternalAddress)
		}
	}
	return nil
}

// Select asks the agent for one endpoint of the service.
func (c *Ctl) Select(service, client, node, port string) error {
	query := url.Values{}
	query.Set(restapi.ServiceParam, service)
	for param, value := range map[string]string{
		restapi.ClientParam: client,
		restapi.NodeParam:   node,
		restapi.PortParam:   port,
	} {
		if value != "" {
			query.Set(param, value)
		}
	}

	var sel restapi.Selection
	if err := c.Client.GetJSON(c.Agent, restapi.RestURLSelect+"?"+query.Encode(), &sel); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "%s:%d (node %s)\n", sel.Endpoint.Address, sel.Endpoint.Port, orNone(sel.Endpoint.Node))
	return nil
}

// SetReadiness changes readiness of one endpoint.
func (c *Ctl) SetReadiness(service, address string, port uint16, ready bool) error {
	update := restapi.ReadinessUpdate{Service: service, Address: address, Port: port, Ready: ready}
	return c.Client.PostJSON(c.Agent, restapi.RestURLReadiness, update, nil)
}
