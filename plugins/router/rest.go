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

package router

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/unrolled/render"

	"github.com/contiv/svcroute/plugins/router/api"
	"github.com/contiv/svcroute/plugins/router/model"
	"github.com/contiv/svcroute/plugins/router/restapi"
	"github.com/contiv/svcroute/plugins/router/table"
)

// registerHandlers registers all supported REST APIs.
func (p *Plugin) registerHandlers() {
	if p.HTTPHandlers == nil {
		p.Log.Warn("No http handler provided, skipping registration of router REST handlers")
		return
	}
	p.HTTPHandlers.RegisterHTTPHandler(restapi.RestURLTable, p.tableGetHandler, "GET")
	p.HTTPHandlers.RegisterHTTPHandler(restapi.RestURLServices, p.servicesGetHandler, "GET")
	p.HTTPHandlers.RegisterHTTPHandler(restapi.RestURLBindings, p.bindingsGetHandler, "GET")
	p.HTTPHandlers.RegisterHTTPHandler(restapi.RestURLResolve, p.resolveGetHandler, "GET")
	p.HTTPHandlers.RegisterHTTPHandler(restapi.RestURLSelect, p.selectGetHandler, "GET")
	p.HTTPHandlers.RegisterHTTPHandler(restapi.RestURLReadiness, p.readinessPostHandler, "POST")
	p.Log.Infof("Router REST handlers registered under %s", restapi.RESTPrefix)
}

func (p *Plugin) tableGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		tbl := p.compiler.Current()
		reply := restapi.Table{Version: tbl.Version(), Entries: []restapi.TableEntry{}}
		for _, entry := range tbl.Entries() {
			reply.Entries = append(reply.Entries, tableEntryToREST(entry))
		}
		formatter.JSON(w, http.StatusOK, reply)
	}
}

func (p *Plugin) servicesGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reply := []restapi.Service{}
		for _, svc := range p.Services() {
			reply = append(reply, restapi.Service{
				Service:           svc.Service.String(),
				Kind:              svc.Kind,
				TrafficPolicy:     svc.TrafficPolicy,
				SessionAffinity:   svc.SessionAffinity,
				EligibleEndpoints: svc.EligibleEndpoints,
				TotalEndpoints:    svc.TotalEndpoints,
				Revision:          svc.Revision,
			})
		}
		formatter.JSON(w, http.StatusOK, reply)
	}
}

func (p *Plugin) bindingsGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reply := []restapi.Binding{}
		for _, binding := range p.Bindings() {
			reply = append(reply, restapi.Binding{
				Service:  binding.Service.String(),
				Phase:    binding.Phase.String(),
				Address:  ipToREST(binding.Address),
				Reason:   binding.Reason,
				Attempts: binding.Attempts,
				Deleting: binding.Deleting,
			})
		}
		formatter.JSON(w, http.StatusOK, reply)
	}
}

func (p *Plugin) resolveGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id, err := model.ParseID(req.URL.Query().Get(restapi.ServiceParam))
		if err != nil {
			formatter.JSON(w, http.StatusBadRequest, restapi.Error{Error: err.Error()})
			return
		}
		res, err := p.Resolve(id)
		if err != nil {
			formatter.JSON(w, errorStatus(err), restapi.Error{Error: err.Error()})
			return
		}
		reply := restapi.Resolution{
			Service:         res.Service.String(),
			Kind:            res.Kind.String(),
			StableAddress:   ipToREST(res.StableAddress),
			ExternalAddress: ipToREST(res.ExternalAddress),
			AliasTarget:     res.AliasTarget,
		}
		for _, ep := range res.Endpoints {
			reply.Endpoints = append(reply.Endpoints, endpointToREST(ep))
		}
		formatter.JSON(w, http.StatusOK, reply)
	}
}

func (p *Plugin) selectGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		query := req.URL.Query()
		id, err := model.ParseID(query.Get(restapi.ServiceParam))
		if err != nil {
			formatter.JSON(w, http.StatusBadRequest, restapi.Error{Error: err.Error()})
			return
		}
		ep, err := p.Select(api.SelectRequest{
			Service:   id,
			ClientKey: query.Get(restapi.ClientParam),
			Node:      query.Get(restapi.NodeParam),
			PortName:  query.Get(restapi.PortParam),
		})
		if err != nil {
			formatter.JSON(w, errorStatus(err), restapi.Error{Error: err.Error()})
			return
		}
		formatter.JSON(w, http.StatusOK, restapi.Selection{Service: id.String(), Endpoint: endpointToREST(ep)})
	}
}

func (p *Plugin) readinessPostHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var update restapi.ReadinessUpdate
		if err := json.NewDecoder(req.Body).Decode(&update); err != nil {
			formatter.JSON(w, http.StatusBadRequest, restapi.Error{Error: err.Error()})
			return
		}
		id, err := model.ParseID(update.Service)
		if err != nil {
			formatter.JSON(w, http.StatusBadRequest, restapi.Error{Error: err.Error()})
			return
		}
		addr := net.ParseIP(update.Address)
		if addr == nil {
			formatter.JSON(w, http.StatusBadRequest, restapi.Error{Error: "invalid endpoint address: " + strconv.Quote(update.Address)})
			return
		}
		key := model.EndpointKey{Address: addr.String(), Port: update.Port}
		if err := p.SetReadiness(id, key, update.Ready); err != nil {
			formatter.JSON(w, errorStatus(err), restapi.Error{Error: err.Error()})
			return
		}
		formatter.JSON(w, http.StatusOK, update)
	}
}

// errorStatus maps router errors onto HTTP status codes.
func errorStatus(err error) int {
	switch errors.Cause(err) {
	case api.ErrUnknownService:
		return http.StatusNotFound
	case api.ErrNoEligibleEndpoint, api.ErrNoLocalEndpoint:
		return http.StatusServiceUnavailable
	case api.ErrHeadlessService, api.ErrAliasService:
		return http.StatusBadRequest
	case api.ErrStaleEventDiscarded:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func tableEntryToREST(entry *table.Entry) restapi.TableEntry {
	restEntry := restapi.TableEntry{
		Service:         entry.Service.String(),
		Kind:            entry.Kind.String(),
		StableAddress:   ipToREST(entry.StableAddress),
		TrafficPolicy:   entry.TrafficPolicy.String(),
		SessionAffinity: entry.Affinity.String(),
		Endpoints:       []restapi.Endpoint{},
		NoEligible:      entry.NoEligible,
		TotalEndpoints:  entry.Total,
		Revision:        entry.Revision,
	}
	for _, port := range entry.Ports {
		restEntry.Ports = append(restEntry.Ports, port.String())
	}
	for _, ep := range entry.Endpoints {
		restEntry.Endpoints = append(restEntry.Endpoints, endpointToREST(ep))
	}
	return restEntry
}

func endpointToREST(ep model.Endpoint) restapi.Endpoint {
	return restapi.Endpoint{
		Address:  ipToREST(ep.Address),
		Port:     ep.Port,
		PortName: ep.PortName,
		Protocol: ep.Protocol.String(),
		Node:     ep.Node,
		Ready:    ep.Ready,
	}
}

func ipToREST(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
