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

package model

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"
)

// EndpointKey identifies endpoint inside EndpointSet.
type EndpointKey struct {
	Address string
	Port    uint16
}

// String returns "<address>:<port>".
func (k EndpointKey) String() string {
	return net.JoinHostPort(k.Address, strconv.Itoa(int(k.Port)))
}

// Endpoint represents a single routable backend instance.
type Endpoint struct {
	Address        net.IP
	Port           uint16
	PortName       string /* name of the endpoint port, matched against service ports */
	Protocol       ProtocolType
	Node           string /* owning node identity */
	Ready          bool
	LastTransition time.Time
}

// Key returns the identity of the endpoint within its EndpointSet.
func (ep Endpoint) Key() EndpointKey {
	return EndpointKey{Address: ep.Address.String(), Port: ep.Port}
}

// String converts Endpoint into a human-readable string.
func (ep Endpoint) String() string {
	return fmt.Sprintf("<%s Node:%s Ready:%t>", ep.Key(), ep.Node, ep.Ready)
}

// EndpointSet is a set of endpoints of one virtual service keyed by (address, port).
type EndpointSet map[EndpointKey]Endpoint

// NewEndpointSet is a constructor for EndpointSet.
func NewEndpointSet(eps ...Endpoint) EndpointSet {
	set := make(EndpointSet, len(eps))
	for _, ep := range eps {
		set.Add(ep)
	}
	return set
}

// Add inserts or replaces endpoint in the set.
func (set EndpointSet) Add(ep Endpoint) {
	set[ep.Key()] = ep
}

// Has returns true if the set contains endpoint with the given key.
func (set EndpointSet) Has(key EndpointKey) bool {
	_, has := set[key]
	return has
}

// Copy creates a deep copy of the set.
func (set EndpointSet) Copy() EndpointSet {
	setCopy := make(EndpointSet, len(set))
	for key, ep := range set {
		setCopy[key] = ep
	}
	return setCopy
}

// List returns endpoints ordered by key. The order has no semantic meaning,
// it only makes outputs reproducible.
func (set EndpointSet) List() []Endpoint {
	list := make([]Endpoint, 0, len(set))
	for _, ep := range set {
		list = append(list, ep)
	}
	SortEndpoints(list)
	return list
}

// Equal returns true if both sets contain the same endpoints in the same state.
func (set EndpointSet) Equal(other EndpointSet) bool {
	if len(set) != len(other) {
		return false
	}
	for key, ep := range set {
		ep2, has := other[key]
		if !has || ep.Ready != ep2.Ready || ep.Node != ep2.Node ||
			ep.PortName != ep2.PortName || ep.Protocol != ep2.Protocol {
			return false
		}
	}
	return true
}

// SortEndpoints orders endpoints by address and port.
func SortEndpoints(eps []Endpoint) {
	sort.Slice(eps, func(i, j int) bool {
		ki, kj := eps[i].Key(), eps[j].Key()
		if ki.Address != kj.Address {
			return ki.Address < kj.Address
		}
		return ki.Port < kj.Port
	})
}
