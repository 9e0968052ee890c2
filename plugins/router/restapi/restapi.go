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

// Package restapi defines the REST API of the router plugin.
package restapi

const (
	// RESTPrefix is the prefix for REST urls of the router.
	RESTPrefix = "/router/"

	// RestURLTable is URL for the current forwarding table (GET).
	RestURLTable = RESTPrefix + "table"

	// RestURLServices is URL for the summary of all routed services (GET).
	RestURLServices = RESTPrefix + "services"

	// RestURLBindings is URL for the external bindings (GET).
	RestURLBindings = RESTPrefix + "bindings"

	// RestURLResolve is URL for address resolution of one service (GET).
	RestURLResolve = RESTPrefix + "resolve"

	// RestURLSelect is URL for a single endpoint selection (GET).
	RestURLSelect = RESTPrefix + "select"

	// RestURLReadiness is URL accepting readiness changes of endpoints (POST).
	RestURLReadiness = RESTPrefix + "readiness"
)

// Query parameters.
const (
	ServiceParam = "service" /* <namespace>/<name> */
	ClientParam  = "client"
	NodeParam    = "node"
	PortParam    = "port"
)

// Table is the forwarding table.
type Table struct {
	Version uint64       `json:"version"`
	Entries []TableEntry `json:"entries"`
}

// TableEntry is one entry of the forwarding table.
type TableEntry struct {
	Service         string     `json:"service"`
	Kind            string     `json:"kind"`
	StableAddress   string     `json:"stableAddress,omitempty"`
	Ports           []string   `json:"ports,omitempty"`
	TrafficPolicy   string     `json:"trafficPolicy"`
	SessionAffinity string     `json:"sessionAffinity"`
	Endpoints       []Endpoint `json:"endpoints"`
	NoEligible      bool       `json:"noEligible"`
	TotalEndpoints  int        `json:"totalEndpoints"`
	Revision        uint64     `json:"revision"`
}

// Endpoint is a backend of a service.
type Endpoint struct {
	Address  string `json:"address"`
	Port     uint16 `json:"port"`
	PortName string `json:"portName,omitempty"`
	Protocol string `json:"protocol"`
	Node     string `json:"node,omitempty"`
	Ready    bool   `json:"ready"`
}

// Service summarizes the routing state of one service.
type Service struct {
	Service           string `json:"service"`
	Kind              string `json:"kind"`
	TrafficPolicy     string `json:"trafficPolicy"`
	SessionAffinity   string `json:"sessionAffinity"`
	EligibleEndpoints int    `json:"eligibleEndpoints"`
	TotalEndpoints    int    `json:"totalEndpoints"`
	Revision          uint64 `json:"revision"`
}

// Binding is the external binding of an externally exposed service.
type Binding struct {
	Service  string `json:"service"`
	Phase    string `json:"phase"`
	Address  string `json:"address,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Attempts int    `json:"attempts"`
	Deleting bool   `json:"deleting,omitempty"`
}

// Resolution is the result of address resolution.
type Resolution struct {
	Service         string     `json:"service"`
	Kind            string     `json:"kind"`
	StableAddress   string     `json:"stableAddress,omitempty"`
	ExternalAddress string     `json:"externalAddress,omitempty"`
	AliasTarget     string     `json:"aliasTarget,omitempty"`
	Endpoints       []Endpoint `json:"endpoints,omitempty"`
}

// Selection is the result of endpoint selection.
type Selection struct {
	Service  string   `json:"service"`
	Endpoint Endpoint `json:"endpoint"`
}

// ReadinessUpdate changes readiness of one endpoint.
type ReadinessUpdate struct {
	Service string `json:"service"`
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Ready   bool   `json:"ready"`
}

// Error is returned with non-2xx status codes.
type Error struct {
	Error string `json:"error"`
}
