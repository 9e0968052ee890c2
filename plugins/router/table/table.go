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

// Package table implements the immutable forwarding table.
//
// Every version of the table is a separate root of a persistent radix tree.
// Publishing a new version copies only the path of the changed entries,
// all other entries are shared between versions. Readers holding a reference
// to one version therefore observe a complete, consistent table for as long
// as they need, without any locking.
package table

import (
	"fmt"
	"net"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/contiv/svcroute/plugins/router/model"
)

// Entry is the compiled forwarding state of one virtual service.
// Entry is immutable once inserted into a table.
type Entry struct {
	Service       model.ID
	Kind          model.ServiceKind
	StableAddress net.IP
	Ports         []model.ServicePort

	// Endpoints eligible for traffic, ordered by (address, port).
	// For headless service, this is the complete answer of the resolution.
	Endpoints []model.Endpoint

	TrafficPolicy model.TrafficPolicyType
	Affinity      model.SessionAffinity

	// NoEligible is set if the service has endpoints but none is eligible.
	NoEligible bool

	// Total number of endpoints (eligible or not).
	Total int

	// Revision is the table version in which the entry was compiled.
	Revision uint64
}

// Headless returns true if the entry is never load-balanced.
func (e *Entry) Headless() bool {
	return e.Kind == model.Headless
}

// HasEndpoint returns true if the endpoint is among the eligible ones.
func (e *Entry) HasEndpoint(key model.EndpointKey) bool {
	for _, ep := range e.Endpoints {
		if ep.Key() == key {
			return true
		}
	}
	return false
}

// EndpointsForPort returns eligible endpoints serving the given service port.
// Empty port name matches all endpoints.
func (e *Entry) EndpointsForPort(portName string) []model.Endpoint {
	if portName == "" {
		return e.Endpoints
	}
	var eps []model.Endpoint
	for _, ep := range e.Endpoints {
		if ep.PortName == portName {
			eps = append(eps, ep)
		}
	}
	return eps
}

// String converts Entry into a human-readable string.
func (e *Entry) String() string {
	return fmt.Sprintf("<%s Kind:%s Addr:%v Eligible:%d/%d Policy:%s Affinity:%s Rev:%d>",
		e.Service, e.Kind, e.StableAddress, len(e.Endpoints), e.Total,
		e.TrafficPolicy, e.Affinity, e.Revision)
}

// ForwardingTable is one immutable version of the forwarding table.
type ForwardingTable struct {
	version uint64
	tree    *iradix.Tree
}

// Empty returns an empty table with version 0.
func Empty() *ForwardingTable {
	return &ForwardingTable{tree: iradix.New()}
}

// Version returns the version of the table.
func (t *ForwardingTable) Version() uint64 {
	return t.version
}

// Len returns the number of entries.
func (t *ForwardingTable) Len() int {
	return t.tree.Len()
}

// Get returns the entry of the given service.
func (t *ForwardingTable) Get(id model.ID) (entry *Entry, exists bool) {
	value, exists := t.tree.Get(key(id))
	if !exists {
		return nil, false
	}
	return value.(*Entry), true
}

// Walk calls cb for every entry ordered by service ID, until cb returns false.
func (t *ForwardingTable) Walk(cb func(entry *Entry) bool) {
	t.tree.Root().Walk(func(k []byte, v interface{}) bool {
		return !cb(v.(*Entry))
	})
}

// Entries returns all entries ordered by service ID.
func (t *ForwardingTable) Entries() []*Entry {
	entries := make([]*Entry, 0, t.Len())
	t.Walk(func(entry *Entry) bool {
		entries = append(entries, entry)
		return true
	})
	return entries
}

// Txn starts preparation of a new version derived from this one.
// The table itself is not affected.
func (t *ForwardingTable) Txn() *Txn {
	return &Txn{txn: t.tree.Txn()}
}

// Txn collects changes for the next table version.
// Txn is not safe for concurrent use.
type Txn struct {
	txn     *iradix.Txn
	changes int
}

// Put inserts or replaces the entry.
func (txn *Txn) Put(entry *Entry) {
	txn.txn.Insert(key(entry.Service), entry)
	txn.changes++
}

// Delete removes entry of the service, if there is any.
func (txn *Txn) Delete(id model.ID) {
	if _, deleted := txn.txn.Delete(key(id)); deleted {
		txn.changes++
	}
}

// Changes returns the number of applied Put/Delete operations.
func (txn *Txn) Changes() int {
	return txn.changes
}

// Commit returns the new table version.
func (txn *Txn) Commit(version uint64) *ForwardingTable {
	return &ForwardingTable{version: version, tree: txn.txn.Commit()}
}

func key(id model.ID) []byte {
	return []byte(id.String())
}
