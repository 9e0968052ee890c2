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

package table

import (
	"net"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/contiv/svcroute/plugins/router/model"
)

func TestVersionsAreIndependent(t *testing.T) {
	RegisterTestingT(t)

	web := model.ID{Namespace: "default", Name: "web"}
	db := model.ID{Namespace: "default", Name: "db"}

	v0 := Empty()
	Expect(v0.Version()).To(BeEquivalentTo(0))
	Expect(v0.Len()).To(Equal(0))

	txn := v0.Txn()
	txn.Put(&Entry{Service: web, Kind: model.Internal, Revision: 1})
	txn.Put(&Entry{Service: db, Kind: model.Headless, Revision: 1})
	v1 := txn.Commit(1)

	txn = v1.Txn()
	txn.Delete(web)
	txn.Delete(model.ID{Namespace: "default", Name: "unknown"})
	Expect(txn.Changes()).To(Equal(1))
	v2 := txn.Commit(2)

	Expect(v0.Len()).To(Equal(0))
	Expect(v1.Len()).To(Equal(2))
	Expect(v2.Len()).To(Equal(1))

	_, exists := v1.Get(web)
	Expect(exists).To(BeTrue())
	_, exists = v2.Get(web)
	Expect(exists).To(BeFalse())

	entry, exists := v2.Get(db)
	Expect(exists).To(BeTrue())
	Expect(entry.Headless()).To(BeTrue())

	// ordered by service ID
	entries := v1.Entries()
	Expect(entries).To(HaveLen(2))
	Expect(entries[0].Service).To(Equal(db))
	Expect(entries[1].Service).To(Equal(web))
}

func TestWalkStops(t *testing.T) {
	RegisterTestingT(t)

	txn := Empty().Txn()
	for _, name := range []string{"a", "b", "c"} {
		txn.Put(&Entry{Service: model.ID{Namespace: "ns", Name: name}})
	}
	tbl := txn.Commit(1)

	var visited int
	tbl.Walk(func(entry *Entry) bool {
		visited++
		return visited < 2
	})
	Expect(visited).To(Equal(2))
}

func TestEndpointsForPort(t *testing.T) {
	RegisterTestingT(t)

	entry := &Entry{
		Endpoints: []model.Endpoint{
			{Address: net.ParseIP("10.0.0.1"), Port: 80, PortName: "http"},
			{Address: net.ParseIP("10.0.0.1"), Port: 443, PortName: "https"},
		},
	}
	Expect(entry.EndpointsForPort("")).To(HaveLen(2))
	Expect(entry.EndpointsForPort("https")).To(HaveLen(1))
	Expect(entry.EndpointsForPort("grpc")).To(BeEmpty())
	Expect(entry.HasEndpoint(model.EndpointKey{Address: "10.0.0.1", Port: 443})).To(BeTrue())
	Expect(entry.HasEndpoint(model.EndpointKey{Address: "10.0.0.2", Port: 443})).To(BeFalse())
}
