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

package policy

import (
	"net"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/contiv/svcroute/plugins/router/api"
	"github.com/contiv/svcroute/plugins/router/model"
	"github.com/contiv/svcroute/plugins/router/table"
)

func testEntry(policy model.TrafficPolicyType) *table.Entry {
	return &table.Entry{
		Service:       model.ID{Namespace: "default", Name: "web"},
		TrafficPolicy: policy,
		Endpoints: []model.Endpoint{
			{Address: net.ParseIP("10.0.0.1"), Port: 80, PortName: "http", Node: "node1", Ready: true},
			{Address: net.ParseIP("10.0.0.2"), Port: 80, PortName: "http", Node: "node2", Ready: true},
			{Address: net.ParseIP("10.0.0.2"), Port: 443, PortName: "https", Node: "node2", Ready: true},
		},
		Total: 3,
	}
}

func TestClusterWide(t *testing.T) {
	RegisterTestingT(t)

	enforcer := &Enforcer{}
	candidates, err := enforcer.Candidates(testEntry(model.ClusterWide), "node3", "http")
	Expect(err).To(BeNil())
	Expect(candidates).To(HaveLen(2))
}

func TestNodeLocal(t *testing.T) {
	RegisterTestingT(t)

	enforcer := &Enforcer{}
	entry := testEntry(model.NodeLocal)

	candidates, err := enforcer.Candidates(entry, "node2", "")
	Expect(err).To(BeNil())
	Expect(candidates).To(HaveLen(2))
	for _, ep := range candidates {
		Expect(ep.Node).To(Equal("node2"))
	}

	// eligible endpoints exist elsewhere, but none on node3
	_, err = enforcer.Candidates(entry, "node3", "")
	Expect(api.IsNoLocalEndpoint(err)).To(BeTrue())
	Expect(api.IsNoEligibleEndpoint(err)).To(BeFalse())

	_, err = enforcer.Candidates(entry, "node1", "https")
	Expect(api.IsNoLocalEndpoint(err)).To(BeTrue())
}

func TestNoEligible(t *testing.T) {
	RegisterTestingT(t)

	enforcer := &Enforcer{}
	entry := &table.Entry{Service: model.ID{Name: "web"}, TrafficPolicy: model.NodeLocal, NoEligible: true, Total: 2}
	_, err := enforcer.Candidates(entry, "node1", "")
	Expect(api.IsNoEligibleEndpoint(err)).To(BeTrue())
	Expect(api.IsNoLocalEndpoint(err)).To(BeFalse())
}
