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

package selector

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ligato/cn-infra/logging/logrus"
	. "github.com/onsi/gomega"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/contiv/svcroute/plugins/router/api"
	"github.com/contiv/svcroute/plugins/router/model"
	"github.com/contiv/svcroute/plugins/router/table"
)

var web = model.ID{Namespace: "default", Name: "web"}

func endpoints(n int) []model.Endpoint {
	var eps []model.Endpoint
	for i := 1; i <= n; i++ {
		eps = append(eps, model.Endpoint{
			Address: net.ParseIP(fmt.Sprintf("10.0.0.%d", i)),
			Port:    80,
			Node:    fmt.Sprintf("node%d", i),
			Ready:   true,
		})
	}
	return eps
}

func singleEntryTable(version uint64, entry *table.Entry) *table.ForwardingTable {
	txn := table.Empty().Txn()
	txn.Put(entry)
	return txn.Commit(version)
}

func newTestSelector(t *testing.T) (*Selector, *clock.FakeClock) {
	RegisterTestingT(t)
	fakeClock := clock.NewFakeClock(time.Unix(0, 0))
	selector := NewSelector(Deps{Log: logrus.DefaultLogger(), Clock: fakeClock}, 8, 3*time.Hour)
	return selector, fakeClock
}

func TestUniformDistribution(t *testing.T) {
	selector, _ := newTestSelector(t)

	const n = 4
	const selections = 10000
	tbl := singleEntryTable(1, &table.Entry{Service: web, Kind: model.Internal, Endpoints: endpoints(n), Total: n})

	counts := make(map[model.EndpointKey]int)
	for i := 0; i < selections; i++ {
		ep, err := selector.Select(tbl, api.SelectRequest{Service: web, ClientKey: "10.10.10.10"})
		Expect(err).To(BeNil())
		counts[ep.Key()]++
	}
	Expect(counts).To(HaveLen(n))
	for _, count := range counts {
		// expected 2500, standard deviation ~43
		Expect(count).To(BeNumerically("~", selections/n, 300))
	}
	Expect(selector.Affinity().Len()).To(Equal(0))
}

func TestAffinityStickinessAndExpiry(t *testing.T) {
	selector, fakeClock := newTestSelector(t)

	timeout := 10 * time.Minute
	tbl := singleEntryTable(1, &table.Entry{
		Service:   web,
		Kind:      model.Internal,
		Endpoints: endpoints(5),
		Total:     5,
		Affinity:  model.SessionAffinity{Mode: model.ClientAddressAffinity, Timeout: timeout},
	})
	req := api.SelectRequest{Service: web, ClientKey: "192.168.1.1"}

	first, err := selector.Select(tbl, req)
	Expect(err).To(BeNil())
	for i := 0; i < 50; i++ {
		// every access refreshes the expiry
		fakeClock.Step(timeout - time.Second)
		ep, err := selector.Select(tbl, req)
		Expect(err).To(BeNil())
		Expect(ep.Key()).To(Equal(first.Key()))
	}

	// entry expires without access
	fakeClock.Step(timeout)
	_, hit := selector.Affinity().Lookup(web, "", req.ClientKey, func(model.EndpointKey) bool { return true }, timeout)
	Expect(hit).To(BeFalse())
	Expect(selector.Affinity().Len()).To(Equal(0))

	// next selection creates a new entry
	_, err = selector.Select(tbl, req)
	Expect(err).To(BeNil())
	Expect(selector.Affinity().Len()).To(Equal(1))
}

func TestAffinityPerServicePort(t *testing.T) {
	selector, _ := newTestSelector(t)

	var eps []model.Endpoint
	for i := 1; i <= 8; i++ {
		addr := net.ParseIP(fmt.Sprintf("10.0.0.%d", i))
		eps = append(eps,
			model.Endpoint{Address: addr, Port: 80, PortName: "http", Ready: true},
			model.Endpoint{Address: addr, Port: 9090, PortName: "metrics", Ready: true})
	}
	tbl := singleEntryTable(1, &table.Entry{
		Service:   web,
		Endpoints: eps,
		Total:     len(eps),
		Affinity:  model.SessionAffinity{Mode: model.ClientAddressAffinity, Timeout: time.Hour},
	})
	httpReq := api.SelectRequest{Service: web, ClientKey: "1.2.3.4", PortName: "http"}
	metricsReq := api.SelectRequest{Service: web, ClientKey: "1.2.3.4", PortName: "metrics"}

	httpEp, err := selector.Select(tbl, httpReq)
	Expect(err).To(BeNil())
	metricsEp, err := selector.Select(tbl, metricsReq)
	Expect(err).To(BeNil())
	Expect(httpEp.Port).To(BeEquivalentTo(80))
	Expect(metricsEp.Port).To(BeEquivalentTo(9090))

	// alternating ports does not break stickiness of either of them
	for i := 0; i < 20; i++ {
		ep, err := selector.Select(tbl, httpReq)
		Expect(err).To(BeNil())
		Expect(ep.Key()).To(Equal(httpEp.Key()))
		ep, err = selector.Select(tbl, metricsReq)
		Expect(err).To(BeNil())
		Expect(ep.Key()).To(Equal(metricsEp.Key()))
	}
	Expect(selector.Affinity().Len()).To(Equal(2))

	// removal of the http endpoint invalidates only the http entry
	var remaining []model.Endpoint
	for _, ep := range eps {
		if ep.Key() != httpEp.Key() {
			remaining = append(remaining, ep)
		}
	}
	newTable := singleEntryTable(2, &table.Entry{
		Service:   web,
		Endpoints: remaining,
		Total:     len(eps),
		Affinity:  model.SessionAffinity{Mode: model.ClientAddressAffinity, Timeout: time.Hour},
	})
	selector.OnTableSwap(tbl, newTable, []model.ID{web})
	Expect(selector.Affinity().Len()).To(Equal(1))
	ep, err := selector.Select(newTable, metricsReq)
	Expect(err).To(BeNil())
	Expect(ep.Key()).To(Equal(metricsEp.Key()))
}

func TestDefaultAffinityTimeout(t *testing.T) {
	selector, fakeClock := newTestSelector(t)

	tbl := singleEntryTable(1, &table.Entry{
		Service:   web,
		Endpoints: endpoints(3),
		Affinity:  model.SessionAffinity{Mode: model.ClientAddressAffinity},
	})
	_, err := selector.Select(tbl, api.SelectRequest{Service: web, ClientKey: "c1"})
	Expect(err).To(BeNil())

	fakeClock.Step(2 * time.Hour)
	selector.Sweep()
	Expect(selector.Affinity().Len()).To(Equal(1))

	fakeClock.Step(time.Hour)
	selector.Sweep()
	Expect(selector.Affinity().Len()).To(Equal(0))
}

func TestNotReadyEndpointInvalidatesAffinity(t *testing.T) {
	selector, _ := newTestSelector(t)

	affinity := model.SessionAffinity{Mode: model.ClientAddressAffinity, Timeout: time.Hour}
	all := endpoints(3)
	oldTable := singleEntryTable(1, &table.Entry{Service: web, Endpoints: all, Total: 3, Affinity: affinity})
	req := api.SelectRequest{Service: web, ClientKey: "192.168.1.1"}

	sticky, err := selector.Select(oldTable, req)
	Expect(err).To(BeNil())

	// the sticky endpoint becomes not-ready
	var remaining []model.Endpoint
	for _, ep := range all {
		if ep.Key() != sticky.Key() {
			remaining = append(remaining, ep)
		}
	}
	newTable := singleEntryTable(2, &table.Entry{Service: web, Endpoints: remaining, Total: 3, Affinity: affinity})
	selector.OnTableSwap(oldTable, newTable, []model.ID{web})
	Expect(selector.Affinity().Len()).To(Equal(0))

	next, err := selector.Select(newTable, req)
	Expect(err).To(BeNil())
	Expect(next.Key()).ToNot(Equal(sticky.Key()))

	// and stays with the new choice
	for i := 0; i < 20; i++ {
		ep, err := selector.Select(newTable, req)
		Expect(err).To(BeNil())
		Expect(ep.Key()).To(Equal(next.Key()))
	}
}

func TestStaleAffinityIsNeverReturned(t *testing.T) {
	selector, _ := newTestSelector(t)

	affinity := model.SessionAffinity{Mode: model.ClientAddressAffinity, Timeout: time.Hour}
	all := endpoints(2)
	oldTable := singleEntryTable(1, &table.Entry{Service: web, Endpoints: all, Affinity: affinity})
	req := api.SelectRequest{Service: web, ClientKey: "c"}
	sticky, _ := selector.Select(oldTable, req)

	// reader observes the new table before the swap hook ran
	var other model.Endpoint
	for _, ep := range all {
		if ep.Key() != sticky.Key() {
			other = ep
		}
	}
	newTable := singleEntryTable(2, &table.Entry{Service: web, Endpoints: []model.Endpoint{other}, Affinity: affinity})
	ep, err := selector.Select(newTable, req)
	Expect(err).To(BeNil())
	Expect(ep.Key()).To(Equal(other.Key()))
}

func TestServiceRemovalPurgesAffinity(t *testing.T) {
	selector, _ := newTestSelector(t)

	affinity := model.SessionAffinity{Mode: model.ClientAddressAffinity, Timeout: time.Hour}
	oldTable := singleEntryTable(1, &table.Entry{Service: web, Endpoints: endpoints(2), Affinity: affinity})
	for i := 0; i < 10; i++ {
		_, err := selector.Select(oldTable, api.SelectRequest{Service: web, ClientKey: fmt.Sprintf("client-%d", i)})
		Expect(err).To(BeNil())
	}
	Expect(selector.Affinity().Len()).To(Equal(10))

	selector.OnTableSwap(oldTable, table.Empty().Txn().Commit(2), []model.ID{web})
	Expect(selector.Affinity().Len()).To(Equal(0))
}

func TestSelectErrors(t *testing.T) {
	selector, _ := newTestSelector(t)

	headless := model.ID{Namespace: "default", Name: "db"}
	local := model.ID{Namespace: "default", Name: "local"}
	down := model.ID{Namespace: "default", Name: "down"}

	txn := table.Empty().Txn()
	txn.Put(&table.Entry{Service: headless, Kind: model.Headless, Endpoints: endpoints(2)})
	txn.Put(&table.Entry{Service: local, TrafficPolicy: model.NodeLocal, Endpoints: endpoints(2)})
	txn.Put(&table.Entry{Service: down, NoEligible: true, Total: 2})
	tbl := txn.Commit(1)

	_, err := selector.Select(tbl, api.SelectRequest{Service: model.ID{Namespace: "x", Name: "y"}})
	Expect(err).ToNot(BeNil())
	Expect(err.Error()).To(ContainSubstring(api.ErrUnknownService.Error()))

	_, err = selector.Select(tbl, api.SelectRequest{Service: headless})
	Expect(err).ToNot(BeNil())
	Expect(err.Error()).To(ContainSubstring(api.ErrHeadlessService.Error()))

	_, err = selector.Select(tbl, api.SelectRequest{Service: local, Node: "node7"})
	Expect(api.IsNoLocalEndpoint(err)).To(BeTrue())

	ep, err := selector.Select(tbl, api.SelectRequest{Service: local, Node: "node2"})
	Expect(err).To(BeNil())
	Expect(ep.Node).To(Equal("node2"))

	_, err = selector.Select(tbl, api.SelectRequest{Service: down})
	Expect(api.IsNoEligibleEndpoint(err)).To(BeTrue())
}

func TestConcurrentSelections(t *testing.T) {
	selector, _ := newTestSelector(t)

	tbl := singleEntryTable(1, &table.Entry{
		Service:   web,
		Endpoints: endpoints(3),
		Affinity:  model.SessionAffinity{Mode: model.ClientAddressAffinity, Timeout: time.Hour},
	})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			client := fmt.Sprintf("client-%d", g)
			first, err := selector.Select(tbl, api.SelectRequest{Service: web, ClientKey: client})
			if err != nil {
				t.Error(err)
				return
			}
			for i := 0; i < 500; i++ {
				ep, err := selector.Select(tbl, api.SelectRequest{Service: web, ClientKey: client})
				if err != nil || ep.Key() != first.Key() {
					t.Errorf("client %s: unexpected selection %v (%v)", client, ep, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	Expect(selector.Affinity().Len()).To(Equal(8))
}
