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

package compiler

import (
	"net"
	"testing"
	"time"

	"github.com/ligato/cn-infra/logging"
	"github.com/ligato/cn-infra/logging/logrus"
	. "github.com/onsi/gomega"

	"github.com/contiv/svcroute/plugins/router/model"
	"github.com/contiv/svcroute/plugins/router/table"
	"github.com/contiv/svcroute/plugins/router/topology"
)

var (
	web      = model.ID{Namespace: "default", Name: "web"}
	headless = model.ID{Namespace: "default", Name: "db"}
	alias    = model.ID{Namespace: "default", Name: "ext"}
)

type swapRecord struct {
	oldVersion, newVersion uint64
	changed                []model.ID
}

func newTestCompiler(t *testing.T) (*Compiler, *topology.Cache, *[]swapRecord) {
	RegisterTestingT(t)

	logger := logrus.NewLogger("compiler-test")
	logger.SetLevel(logging.DebugLevel)

	allocator, err := topology.NewAddressAllocator("10.96.0.0/24")
	Expect(err).To(BeNil())
	cache := &topology.Cache{Deps: topology.Deps{Log: logger, Allocator: allocator}}
	cache.Init()

	compiler := NewCompiler(Deps{Log: logger, Topology: cache}, 3)
	swaps := &[]swapRecord{}
	compiler.RegisterSwapHook(func(oldTable, newTable *table.ForwardingTable, changed []model.ID) {
		*swaps = append(*swaps, swapRecord{oldTable.Version(), newTable.Version(), changed})
	})
	return compiler, cache, swaps
}

func ep(addr, node string, ready bool) model.Endpoint {
	return model.Endpoint{Address: net.ParseIP(addr), Port: 8080, Node: node, Ready: ready}
}

func apply(cache *topology.Cache, events ...model.Event) {
	for _, event := range events {
		Expect(cache.Apply(event)).To(Succeed())
	}
}

func TestIncrementalCompile(t *testing.T) {
	compiler, cache, swaps := newTestCompiler(t)
	Expect(compiler.Current().Version()).To(BeEquivalentTo(0))

	apply(cache,
		&model.ServiceUpserted{Service: &model.VirtualService{ID: web, Kind: model.Internal}, Version: 1},
		&model.EndpointsUpserted{
			ID:        web,
			Endpoints: model.NewEndpointSet(ep("10.1.0.2", "n1", true), ep("10.1.0.1", "n2", true), ep("10.1.0.3", "n2", false)),
			Version:   1,
		})
	Expect(compiler.Sync(web)).To(Succeed())

	v1 := compiler.Current()
	Expect(v1.Version()).To(BeEquivalentTo(1))
	entry, exists := v1.Get(web)
	Expect(exists).To(BeTrue())
	Expect(entry.Endpoints).To(HaveLen(2))
	Expect(entry.Endpoints[0].Address.String()).To(Equal("10.1.0.1"))
	Expect(entry.Total).To(Equal(3))
	Expect(entry.NoEligible).To(BeFalse())
	Expect(entry.StableAddress).ToNot(BeNil())
	Expect(entry.Revision).To(BeEquivalentTo(1))
	Expect(*swaps).To(Equal([]swapRecord{{0, 1, []model.ID{web}}}))

	// all endpoints unready -> fail closed
	apply(cache, &model.EndpointsUpserted{
		ID:        web,
		Endpoints: model.NewEndpointSet(ep("10.1.0.1", "n2", false)),
		Version:   2,
	})
	Expect(compiler.Sync(web)).To(Succeed())
	entry, _ = compiler.Current().Get(web)
	Expect(entry.NoEligible).To(BeTrue())
	Expect(entry.Endpoints).To(BeEmpty())

	// older version is untouched
	entry, _ = v1.Get(web)
	Expect(entry.Endpoints).To(HaveLen(2))

	// removal
	apply(cache, &model.ServiceDeleted{ID: web, Version: 3})
	Expect(compiler.Sync(web)).To(Succeed())
	Expect(compiler.Current().Len()).To(Equal(0))
	Expect(compiler.Current().Version()).To(BeEquivalentTo(3))

	// nothing to delete -> no new version
	Expect(compiler.Sync(web)).To(Succeed())
	Expect(compiler.Current().Version()).To(BeEquivalentTo(3))
	Expect(*swaps).To(HaveLen(3))
}

func TestAliasAndHeadless(t *testing.T) {
	compiler, cache, _ := newTestCompiler(t)

	apply(cache,
		&model.ServiceUpserted{Service: &model.VirtualService{ID: alias, Kind: model.AliasOnly, AliasTarget: "example.com"}, Version: 1},
		&model.ServiceUpserted{Service: &model.VirtualService{
			ID:              headless,
			Kind:            model.Headless,
			SessionAffinity: model.SessionAffinity{Mode: model.ClientAddressAffinity},
		}, Version: 1},
		&model.EndpointsUpserted{
			ID:        headless,
			Endpoints: model.NewEndpointSet(ep("10.2.0.1", "n1", true), ep("10.2.0.2", "n2", true)),
			Version:   1,
		})
	Expect(compiler.Sync(alias)).To(Succeed())
	Expect(compiler.Sync(headless)).To(Succeed())

	_, exists := compiler.Current().Get(alias)
	Expect(exists).To(BeFalse())

	entry, exists := compiler.Current().Get(headless)
	Expect(exists).To(BeTrue())
	Expect(entry.Headless()).To(BeTrue())
	Expect(entry.StableAddress).To(BeNil())
	Expect(entry.Affinity.Mode).To(Equal(model.NoAffinity))
	Expect(entry.Endpoints).To(HaveLen(2))
}

func TestRebuildPublishesSingleVersion(t *testing.T) {
	compiler, cache, swaps := newTestCompiler(t)

	var events []model.Event
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		id := model.ID{Namespace: "ns", Name: name}
		events = append(events,
			&model.ServiceUpserted{Service: &model.VirtualService{ID: id, Kind: model.Internal}, Version: 1},
			&model.EndpointsUpserted{ID: id, Endpoints: model.NewEndpointSet(ep("10.3.0.1", "n1", true)), Version: 1})
	}
	apply(cache, events...)
	Expect(compiler.Rebuild()).To(Succeed())
	Expect(compiler.Current().Version()).To(BeEquivalentTo(1))
	Expect(compiler.Current().Len()).To(Equal(5))

	// services missing in the topology are removed by the rebuild
	Expect(cache.Resync(events[:4])).To(Succeed())
	Expect(compiler.Rebuild()).To(Succeed())
	Expect(compiler.Current().Version()).To(BeEquivalentTo(2))
	Expect(compiler.Current().Len()).To(Equal(2))
	Expect(*swaps).To(HaveLen(2))
	Expect((*swaps)[1].changed).To(ConsistOf(
		model.ID{Namespace: "ns", Name: "a"},
		model.ID{Namespace: "ns", Name: "b"},
		model.ID{Namespace: "ns", Name: "c"},
		model.ID{Namespace: "ns", Name: "d"},
		model.ID{Namespace: "ns", Name: "e"},
	))
}

func TestWorkersFollowTopology(t *testing.T) {
	compiler, cache, _ := newTestCompiler(t)
	cache.RegisterWatcher(compiler)

	stopCh := make(chan struct{})
	defer close(stopCh)
	go compiler.Run(stopCh)

	apply(cache,
		&model.ServiceUpserted{Service: &model.VirtualService{ID: web, Kind: model.Internal}, Version: 1},
		&model.EndpointsUpserted{ID: web, Endpoints: model.NewEndpointSet(ep("10.1.0.1", "n1", true)), Version: 1},
		&model.ReadinessChanged{ID: web, Endpoint: model.EndpointKey{Address: "10.1.0.1", Port: 8080}, Ready: false})

	Eventually(func() bool {
		entry, exists := compiler.Current().Get(web)
		return exists && entry.NoEligible
	}, time.Second).Should(BeTrue())
}
