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
	"strings"

	"github.com/contiv/svcroute/plugins/router/restapi"
)

// PrintTable prints the forwarding table of the agent.
func (c *Ctl) PrintTable() error {
	var tbl restapi.Table
	if err := c.Client.GetJSON(c.Agent, restapi.RestURLTable, &tbl); err != nil {
		return err
	}

	fmt.Fprintf(c.Out, "Forwarding table version: %d\n\n", tbl.Version)
	w := c.tabWriter()
	fmt.Fprintf(w, "SERVICE\tKIND\tADDRESS\tPORTS\tENDPOINTS\tREVISION\n")
	for _, entry := range tbl.Entries {
		var eps []string
		for _, ep := range entry.Endpoints {
			eps = append(eps, fmt.Sprintf("%s:%d", ep.Address, ep.Port))
		}
		endpoints := orNone(strings.Join(eps, ","))
		if entry.NoEligible {
			endpoints = fmt.Sprintf("<none eligible of %d>", entry.TotalEndpoints)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			entry.Service,
			entry.Kind,
			orNone(entry.StableAddress),
			orNone(strings.Join(entry.Ports, ",")),
			endpoints,
			entry.Revision)
	}
	return w.Flush()
}

// PrintServices prints the summary of all routed services.
func (c *Ctl) PrintServices() error {
	var services []restapi.Service
	if err := c.Client.GetJSON(c.Agent, restapi.RestURLServices, &services); err != nil {
		return err
	}

	w := c.tabWriter()
	fmt.Fprintf(w, "SERVICE\tKIND\tPOLICY\tAFFINITY\tELIGIBLE\tTOTAL\n")
	for _, svc := range services {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			svc.Service, svc.Kind, svc.TrafficPolicy, svc.SessionAffinity,
			svc.EligibleEndpoints, svc.TotalEndpoints)
	}
	return w.Flush()
}

// PrintBindings prints the external bindings.
func (c *Ctl) PrintBindings() error {
	var bindings []restapi.Binding
	if err := c.Client.GetJSON(c.Agent, restapi.RestURLBindings, &bindings); err != nil {
		return err
	}

	w := c.tabWriter()
	fmt.Fprintf(w, "SERVICE\tPHASE\tADDRESS\tATTEMPTS\tREASON\n")
	for _, binding := range bindings {
		phase := binding.Phase
		if binding.Deleting {
			phase += " (deleting)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			binding.Service, phase, orNone(binding.Address), binding.Attempts, binding.Reason)
	}
	return w.Flush()
}
