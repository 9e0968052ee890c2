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

package topology

import (
	"net"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/contiv/svcroute/plugins/router/api"
	"github.com/contiv/svcroute/plugins/router/model"
)

// Watcher is notified about every mutation of the topology cache.
// Notifications are delivered synchronously, in the order in which the events
// were applied, from the goroutine calling Apply/Resync.
type Watcher interface {
	// TopologyChanged is called after a single event has changed the state
	// of one virtual service.
	TopologyChanged(change model.TopologyChanged)

	// TopologyResynced is called after the cache content was replaced
	// with a complete snapshot. The list contains every service whose state
	// differs from before the resync.
	TopologyResynced(changes []model.TopologyChanged)
}

// Deps lists dependencies of the topology cache.
type Deps struct {
	Log logging.Logger

	// Allocator assigns stable addresses to services which do not have one
	// dictated by the source. Can be nil.
	Allocator *AddressAllocator

	// Clock used to timestamp readiness transitions. Defaults to the real clock.
	Clock clock.Clock
}

// Cache is an in-memory, eventually-consistent mirror of virtual services
// and their endpoint sets, as reported by the topology source.
//
// Stored services and endpoint sets are never mutated in place, a change
// always replaces the stored value. Values returned by the getters are therefore
// safe to read without holding any lock, but must not be modified.
type Cache struct {
	Deps

	lock          sync.RWMutex
	services      map[model.ID]*serviceRecord
	endpoints     map[model.ID]*endpointsRecord
	svcTombstones map[model.ID]uint64 // version at which the service was deleted
	epTombstones  map[model.ID]uint64 // version at which the endpoints were deleted

	watchers    []Watcher
	staleEvents uint64
}

type serviceRecord struct {
	svc     *model.VirtualService
	version uint64
}

type endpointsRecord struct {
	set     model.EndpointSet
	version uint64
}

// Init initializes the internal maps of the cache.
func (c *Cache) Init() {
	c.services = make(map[model.ID]*serviceRecord)
	c.endpoints = make(map[model.ID]*endpointsRecord)
	c.svcTombstones = make(map[model.ID]uint64)
	c.epTombstones = make(map[model.ID]uint64)
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
}

// RegisterWatcher adds watcher to be notified about changes.
// Must be called before the first event is applied.
func (c *Cache) RegisterWatcher(watcher Watcher) {
	c.watchers = append(c.watchers, watcher)
}

// Apply applies a single event from the topology source.
// Event with stale version is discarded with no state change and
// ErrStaleEventDiscarded is returned.
func (c *Cache) Apply(event model.Event) error {
	c.lock.Lock()
	changes, err := c.apply(event)
	c.lock.Unlock()

	if err != nil {
		if api.IsStaleEvent(err) {
			atomic.AddUint64(&c.staleEvents, 1)
			c.Log.WithField("event", event.String()).Debugf("Discarded: %v", err)
		}
		return err
	}
	for _, change := range changes {
		for _, watcher := range c.watchers {
			watcher.TopologyChanged(change)
		}
	}
	return nil
}

// StaleEvents returns the number of events discarded so far as stale.
func (c *Cache) StaleEvents() uint64 {
	return atomic.LoadUint64(&c.staleEvents)
}

func (c *Cache) apply(event model.Event) ([]model.TopologyChanged, error) {
	switch ev := event.(type) {
	case *model.ServiceUpserted:
		return c.upsertService(ev)
	case *model.ServiceDeleted:
		return c.deleteService(ev)
	case *model.EndpointsUpserted:
		return c.upsertEndpoints(ev)
	case *model.EndpointsDeleted:
		return c.deleteEndpoints(ev)
	case *model.ReadinessChanged:
		return c.changeReadiness(ev)
	}
	return nil, errors.Errorf("unsupported topology event %T", event)
}

func (c *Cache) upsertService(ev *model.ServiceUpserted) ([]model.TopologyChanged, error) {
	if ev.Service == nil {
		return nil, errors.New("service upsert without service")
	}
	id := ev.Service.ID
	old, exists := c.services[id]
	if exists && ev.Version <= old.version {
		return nil, errors.Wrapf(api.ErrStaleEventDiscarded, "service %s v%d <= v%d", id, ev.Version, old.version)
	}
	if tombstone, deleted := c.svcTombstones[id]; !exists && deleted && ev.Version <= tombstone {
		return nil, errors.Wrapf(api.ErrStaleEventDiscarded, "service %s v%d deleted at v%d", id, ev.Version, tombstone)
	}

	svc := ev.Service.Copy()
	if err := svc.Validate(); err != nil {
		c.Log.WithField("service", id).Warnf("Rejected invalid service: %v", err)
		return nil, err
	}
	c.assignStableAddress(svc, old)
	delete(c.svcTombstones, id)
	c.services[id] = &serviceRecord{svc: svc, version: ev.Version}

	if exists && reflect.DeepEqual(old.svc, svc) {
		return nil, nil
	}
	return []model.TopologyChanged{{ID: id, Change: model.ServiceChanged}}, nil
}

// assignStableAddress keeps the address once allocated, allocates a new one
// when needed and releases the address for kinds without stable address.
func (c *Cache) assignStableAddress(svc *model.VirtualService, old *serviceRecord) {
	var oldAddr = svcAddress(old)
	if !svc.Kind.HasStableAddress() {
		svc.StableAddress = nil
		if oldAddr != nil && c.Allocator != nil {
			c.Allocator.Release(oldAddr, svc.ID.String())
		}
		return
	}
	if oldAddr != nil {
		if svc.StableAddress != nil && !svc.StableAddress.Equal(oldAddr) {
			c.Log.WithFields(logging.Fields{
				"service":   svc.ID,
				"assigned":  oldAddr,
				"requested": svc.StableAddress,
			}).Warn("Ignoring change of the stable address")
		}
		svc.StableAddress = oldAddr
		return
	}
	if svc.StableAddress != nil {
		if c.Allocator == nil {
			return
		}
		err := c.Allocator.Reserve(svc.StableAddress, svc.ID.String())
		if err == nil {
			return
		}
		c.Log.WithFields(logging.Fields{
			"service":   svc.ID,
			"requested": svc.StableAddress,
		}).Warnf("Rejected stable address already in use: %v", err)
		svc.StableAddress = nil
	}
	if c.Allocator == nil {
		c.Log.WithField("service", svc.ID).Warn("Service without stable address and no allocator")
		return
	}
	addr, err := c.Allocator.Allocate(svc.ID.String())
	if err != nil {
		c.Log.WithField("service", svc.ID).Errorf("Failed to allocate stable address: %v", err)
		return
	}
	svc.StableAddress = addr
}

func (c *Cache) deleteService(ev *model.ServiceDeleted) ([]model.TopologyChanged, error) {
	old, exists := c.services[ev.ID]
	if exists && ev.Version <= old.version {
		return nil, errors.Wrapf(api.ErrStaleEventDiscarded, "service %s delete v%d <= v%d", ev.ID, ev.Version, old.version)
	}
	if !exists {
		if tombstone, deleted := c.svcTombstones[ev.ID]; deleted && ev.Version <= tombstone {
			return nil, errors.Wrapf(api.ErrStaleEventDiscarded, "service %s already deleted", ev.ID)
		}
		c.svcTombstones[ev.ID] = ev.Version
		return nil, nil
	}

	if addr := svcAddress(old); addr != nil && c.Allocator != nil {
		c.Allocator.Release(addr, ev.ID.String())
	}
	delete(c.services, ev.ID)
	c.svcTombstones[ev.ID] = ev.Version

	// endpoint set lives and dies with its service
	if eps, has := c.endpoints[ev.ID]; has {
		c.epTombstones[ev.ID] = eps.version
		delete(c.endpoints, ev.ID)
	}
	return []model.TopologyChanged{{ID: ev.ID, Change: model.ServiceRemoved}}, nil
}

func (c *Cache) upsertEndpoints(ev *model.EndpointsUpserted) ([]model.TopologyChanged, error) {
	old, exists := c.endpoints[ev.ID]
	if exists && ev.Version <= old.version {
		return nil, errors.Wrapf(api.ErrStaleEventDiscarded, "endpoints %s v%d <= v%d", ev.ID, ev.Version, old.version)
	}
	if tombstone, deleted := c.epTombstones[ev.ID]; !exists && deleted && ev.Version <= tombstone {
		return nil, errors.Wrapf(api.ErrStaleEventDiscarded, "endpoints %s v%d deleted at v%d", ev.ID, ev.Version, tombstone)
	}

	var prev model.EndpointSet
	if exists {
		prev = old.set
	}
	set := c.buildEndpointSet(ev.Endpoints, prev)
	delete(c.epTombstones, ev.ID)
	c.endpoints[ev.ID] = &endpointsRecord{set: set, version: ev.Version}

	if exists && old.set.Equal(set) {
		return nil, nil
	}
	return []model.TopologyChanged{{ID: ev.ID, Change: model.EndpointsChanged}}, nil
}

// buildEndpointSet copies the reported endpoints and stamps readiness transitions.
func (c *Cache) buildEndpointSet(reported, prev model.EndpointSet) model.EndpointSet {
	now := c.Clock.Now()
	set := make(model.EndpointSet, len(reported))
	for _, ep := range reported {
		if ep.LastTransition.IsZero() {
			ep.LastTransition = now
			if prevEp, has := prev[ep.Key()]; has && prevEp.Ready == ep.Ready {
				ep.LastTransition = prevEp.LastTransition
			}
		}
		set.Add(ep)
	}
	return set
}

func (c *Cache) deleteEndpoints(ev *model.EndpointsDeleted) ([]model.TopologyChanged, error) {
	old, exists := c.endpoints[ev.ID]
	if exists && ev.Version <= old.version {
		return nil, errors.Wrapf(api.ErrStaleEventDiscarded, "endpoints %s delete v%d <= v%d", ev.ID, ev.Version, old.version)
	}
	if !exists {
		if tombstone, deleted := c.epTombstones[ev.ID]; deleted && ev.Version <= tombstone {
			return nil, errors.Wrapf(api.ErrStaleEventDiscarded, "endpoints %s already deleted", ev.ID)
		}
		c.epTombstones[ev.ID] = ev.Version
		return nil, nil
	}
	delete(c.endpoints, ev.ID)
	c.epTombstones[ev.ID] = ev.Version
	return []model.TopologyChanged{{ID: ev.ID, Change: model.EndpointsChanged}}, nil
}

func (c *Cache) changeReadiness(ev *model.ReadinessChanged) ([]model.TopologyChanged, error) {
	rec, exists := c.endpoints[ev.ID]
	if !exists {
		return nil, errors.Wrapf(api.ErrStaleEventDiscarded, "readiness for unknown endpoints %s", ev.ID)
	}
	ep, has := rec.set[ev.Endpoint]
	if !has {
		return nil, errors.Wrapf(api.ErrStaleEventDiscarded, "readiness for unknown endpoint %s of %s", ev.Endpoint, ev.ID)
	}
	if !ev.Timestamp.IsZero() && ev.Timestamp.Before(ep.LastTransition) {
		return nil, errors.Wrapf(api.ErrStaleEventDiscarded, "readiness of %s older than last transition", ev.Endpoint)
	}
	if ep.Ready == ev.Ready {
		return nil, nil
	}

	ep.Ready = ev.Ready
	ep.LastTransition = ev.Timestamp
	if ep.LastTransition.IsZero() {
		ep.LastTransition = c.Clock.Now()
	}
	set := rec.set.Copy()
	set[ev.Endpoint] = ep
	c.endpoints[ev.ID] = &endpointsRecord{set: set, version: rec.version}
	return []model.TopologyChanged{{ID: ev.ID, Change: model.EndpointsChanged}}, nil
}

// Resync replaces the cache content with a complete snapshot of the topology.
// The snapshot consists of ServiceUpserted and EndpointsUpserted events,
// other event types are ignored. Stable addresses of services present both
// before and after the resync are retained.
func (c *Cache) Resync(snapshot []model.Event) error {
	c.lock.Lock()

	// release addresses of services that disappeared, before any new reservation
	present := make(map[model.ID]struct{})
	for _, event := range snapshot {
		if ev, isSvc := event.(*model.ServiceUpserted); isSvc && ev.Service != nil {
			present[ev.Service.ID] = struct{}{}
		}
	}
	for id, rec := range c.services {
		if _, has := present[id]; !has {
			if addr := svcAddress(rec); addr != nil && c.Allocator != nil {
				c.Allocator.Release(addr, id.String())
			}
		}
	}

	services := make(map[model.ID]*serviceRecord)
	endpoints := make(map[model.ID]*endpointsRecord)
	for _, event := range snapshot {
		switch ev := event.(type) {
		case *model.ServiceUpserted:
			if ev.Service == nil {
				continue
			}
			svc := ev.Service.Copy()
			if err := svc.Validate(); err != nil {
				c.Log.WithField("service", svc.ID).Warnf("Resync: rejected invalid service: %v", err)
				continue
			}
			c.assignStableAddress(svc, c.services[svc.ID])
			services[svc.ID] = &serviceRecord{svc: svc, version: ev.Version}
		case *model.EndpointsUpserted:
			var prev model.EndpointSet
			if old, exists := c.endpoints[ev.ID]; exists {
				prev = old.set
			}
			endpoints[ev.ID] = &endpointsRecord{set: c.buildEndpointSet(ev.Endpoints, prev), version: ev.Version}
		default:
			c.Log.Warnf("Resync: ignoring event %s", event)
		}
	}

	changes := c.diff(services, endpoints)
	c.services = services
	c.endpoints = endpoints
	c.svcTombstones = make(map[model.ID]uint64)
	c.epTombstones = make(map[model.ID]uint64)
	c.lock.Unlock()

	for _, watcher := range c.watchers {
		watcher.TopologyResynced(changes)
	}
	return nil
}

// diff lists changes between the current and the given content.
func (c *Cache) diff(services map[model.ID]*serviceRecord,
	endpoints map[model.ID]*endpointsRecord) (changes []model.TopologyChanged) {

	ids := make(map[model.ID]struct{})
	for _, m := range []map[model.ID]*serviceRecord{c.services, services} {
		for id := range m {
			ids[id] = struct{}{}
		}
	}
	for _, m := range []map[model.ID]*endpointsRecord{c.endpoints, endpoints} {
		for id := range m {
			ids[id] = struct{}{}
		}
	}
	for id := range ids {
		oldSvc, hadSvc := c.services[id]
		newSvc, hasSvc := services[id]
		switch {
		case hadSvc && !hasSvc:
			changes = append(changes, model.TopologyChanged{ID: id, Change: model.ServiceRemoved})
			continue
		case hasSvc && (!hadSvc || !reflect.DeepEqual(oldSvc.svc, newSvc.svc)):
			changes = append(changes, model.TopologyChanged{ID: id, Change: model.ServiceChanged})
			continue
		}
		oldEps, hadEps := c.endpoints[id]
		newEps, hasEps := endpoints[id]
		if hadEps != hasEps || (hasEps && !oldEps.set.Equal(newEps.set)) {
			changes = append(changes, model.TopologyChanged{ID: id, Change: model.EndpointsChanged})
		}
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].ID.String() < changes[j].ID.String()
	})
	return changes
}

// Lookup returns a consistent view of the service definition and its endpoints.
// Returned values must not be modified.
func (c *Cache) Lookup(id model.ID) (svc *model.VirtualService, eps model.EndpointSet) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if rec, has := c.services[id]; has {
		svc = rec.svc
	}
	if rec, has := c.endpoints[id]; has {
		eps = rec.set
	}
	return svc, eps
}

// GetService returns the service definition and its version.
// Returned value must not be modified.
func (c *Cache) GetService(id model.ID) (svc *model.VirtualService, version uint64, exists bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	rec, exists := c.services[id]
	if !exists {
		return nil, 0, false
	}
	return rec.svc, rec.version, true
}

// GetEndpoints returns the endpoint set of the service and its version.
// Returned value must not be modified.
func (c *Cache) GetEndpoints(id model.ID) (eps model.EndpointSet, version uint64, exists bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	rec, exists := c.endpoints[id]
	if !exists {
		return nil, 0, false
	}
	return rec.set, rec.version, true
}

// ListServices returns IDs of all cached services, sorted.
func (c *Cache) ListServices() []model.ID {
	c.lock.RLock()
	defer c.lock.RUnlock()
	ids := make([]model.ID, 0, len(c.services))
	for id := range c.services {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}

func svcAddress(rec *serviceRecord) net.IP {
	if rec == nil || !rec.svc.Kind.HasStableAddress() {
		return nil
	}
	return rec.svc.StableAddress
}
