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

// Package compiler turns the topology into versions of the forwarding table.
//
// Every TopologyChanged notification recompiles the entry of one virtual
// service only. Entries of distinct services are compiled concurrently
// by a pool of workers fed from a work queue; the queue guarantees that one
// service is never compiled by two workers at the same time. Compiled
// entries are published as a new immutable table version, swapped in
// atomically. Registered swap hooks run synchronously with each swap.
package compiler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/workqueue"

	"github.com/contiv/svcroute/plugins/router/model"
	"github.com/contiv/svcroute/plugins/router/readiness"
	"github.com/contiv/svcroute/plugins/router/table"
)

// TopologyReader is the read-only view of the topology cache used by the compiler.
type TopologyReader interface {
	// Lookup returns service definition and its endpoints.
	Lookup(id model.ID) (*model.VirtualService, model.EndpointSet)

	// ListServices returns IDs of all services.
	ListServices() []model.ID
}

// SwapHook is called after every table swap, from within the publishing
// critical section. Hooks must not block.
// <changed> lists services whose entry was added, changed or removed.
type SwapHook func(oldTable, newTable *table.ForwardingTable, changed []model.ID)

// Deps lists dependencies of the compiler.
type Deps struct {
	Log       logging.Logger
	Topology  TopologyReader
	Readiness *readiness.Filter
}

// Compiler compiles and publishes the forwarding table.
type Compiler struct {
	Deps

	workers int
	queue   workqueue.Interface
	current atomic.Value // *table.ForwardingTable

	publishLock sync.Mutex
	hooks       []SwapHook
}

// NewCompiler is a constructor for Compiler. Until the first publish
// the compiler serves an empty table with version 0.
func NewCompiler(deps Deps, workers int) *Compiler {
	if deps.Readiness == nil {
		deps.Readiness = &readiness.Filter{}
	}
	if workers < 1 {
		workers = 1
	}
	c := &Compiler{
		Deps:    deps,
		workers: workers,
		queue:   workqueue.NewNamed("router-compiler"),
	}
	c.current.Store(table.Empty())
	return c
}

// RegisterSwapHook adds hook called after every table swap.
// Must be called before the compiler is started.
func (c *Compiler) RegisterSwapHook(hook SwapHook) {
	c.hooks = append(c.hooks, hook)
}

// Current returns the currently published table.
func (c *Compiler) Current() *table.ForwardingTable {
	return c.current.Load().(*table.ForwardingTable)
}

// TopologyChanged schedules recompilation of the given service.
func (c *Compiler) TopologyChanged(change model.TopologyChanged) {
	c.queue.Add(change.ID)
}

// TopologyResynced rebuilds the whole table.
func (c *Compiler) TopologyResynced(changes []model.TopologyChanged) {
	if err := c.Rebuild(); err != nil {
		c.Log.Errorf("Table rebuild failed: %v", err)
	}
	// Entries compiled by workers concurrently with the rebuild may predate it.
	for _, change := range changes {
		c.queue.Add(change.ID)
	}
}

// Run starts workers and blocks until stopCh is closed.
func (c *Compiler) Run(stopCh <-chan struct{}) {
	defer utilruntime.HandleCrash()
	defer c.queue.ShutDown()

	c.Log.Infof("Starting %d compiler workers", c.workers)
	for i := 0; i < c.workers; i++ {
		go wait.Until(c.runWorker, time.Second, stopCh)
	}
	<-stopCh
	c.Log.Info("Compiler stopped")
}

func (c *Compiler) runWorker() {
	for c.processNextItem() {
	}
}

func (c *Compiler) processNextItem() bool {
	item, quit := c.queue.Get()
	if quit {
		return false
	}
	defer c.queue.Done(item)

	if err := c.Sync(item.(model.ID)); err != nil {
		c.Log.WithField("service", item).Errorf("Failed to compile service: %v", err)
	}
	return true
}

// Sync recompiles the entry of a single service and publishes it.
func (c *Compiler) Sync(id model.ID) error {
	entry, err := c.compile(id)
	if err != nil {
		return err
	}
	c.publish(map[model.ID]*table.Entry{id: entry}, false)
	return nil
}

// Rebuild compiles all services in parallel and publishes the result
// as a single table version.
func (c *Compiler) Rebuild() error {
	ids := c.Topology.ListServices()
	entries := make([]*table.Entry, len(ids))

	var wg errgroup.Group
	for w := 0; w < c.workers; w++ {
		w := w
		wg.Go(func() error {
			for i := w; i < len(ids); i += c.workers {
				entry, err := c.compile(ids[i])
				if err != nil {
					return errors.Wrapf(err, "service %s", ids[i])
				}
				entries[i] = entry
			}
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return err
	}

	compiled := make(map[model.ID]*table.Entry, len(ids))
	for i, id := range ids {
		compiled[id] = entries[i]
	}
	c.publish(compiled, true)
	return nil
}

// compile returns the table entry for the service's current topology, or nil
// if the service should have no entry.
func (c *Compiler) compile(id model.ID) (*table.Entry, error) {
	svc, eps := c.Topology.Lookup(id)
	if svc == nil {
		return nil, nil
	}

	switch svc.Kind {
	case model.AliasOnly:
		// resolved to the alias target, bypasses the table
		return nil, nil
	case model.Internal, model.NodeExposed, model.ExternallyExposed, model.Headless:
	default:
		return nil, errors.Errorf("unhandled service kind %v", svc.Kind)
	}

	res := c.Readiness.Eligible(eps)
	entry := &table.Entry{
		Service:       id,
		Kind:          svc.Kind,
		StableAddress: svc.StableAddress,
		Ports:         svc.Ports,
		Endpoints:     res.Eligible,
		TrafficPolicy: svc.TrafficPolicy,
		Affinity:      svc.SessionAffinity,
		NoEligible:    res.NoEligible,
		Total:         res.Total,
	}
	if svc.Kind == model.Headless {
		// never load-balanced
		entry.StableAddress = nil
		entry.Affinity = model.SessionAffinity{}
	}
	return entry, nil
}

// publish swaps in a new table version with the given entries (nil = delete).
// With <full>, entries of services not included are removed.
func (c *Compiler) publish(entries map[model.ID]*table.Entry, full bool) {
	c.publishLock.Lock()
	defer c.publishLock.Unlock()

	oldTable := c.Current()
	version := oldTable.Version() + 1
	txn := oldTable.Txn()

	var changed []model.ID
	if full {
		oldTable.Walk(func(entry *table.Entry) bool {
			if _, keep := entries[entry.Service]; !keep {
				txn.Delete(entry.Service)
				changed = append(changed, entry.Service)
			}
			return true
		})
	}
	for id, entry := range entries {
		if entry == nil {
			if _, exists := oldTable.Get(id); exists {
				txn.Delete(id)
				changed = append(changed, id)
			}
			continue
		}
		entry.Revision = version
		txn.Put(entry)
		changed = append(changed, id)
	}
	if txn.Changes() == 0 {
		return
	}

	newTable := txn.Commit(version)
	c.current.Store(newTable)
	c.Log.WithFields(logging.Fields{
		"version": version,
		"changed": len(changed),
	}).Debug("Published forwarding table")

	for _, hook := range c.hooks {
		hook(oldTable, newTable, changed)
	}
}
