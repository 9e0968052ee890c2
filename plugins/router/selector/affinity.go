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
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/contiv/svcroute/plugins/router/model"
)

// AffinityStore remembers which endpoint was chosen for a client of a service
// port. Clients are remembered separately for each port name of the service,
// since each port is served by a different endpoint set. The store is split into shards selected by hash of the client key,
// each shard guarded by its own lock.
type AffinityStore struct {
	shards []*affinityShard
	clock  clock.Clock
}

type affinityShard struct {
	sync.Mutex
	services map[model.ID]map[affinityClient]affinityEntry
}

// affinityClient is a client of one service port; empty port stands for
// selections not restricted to a port.
type affinityClient struct {
	port   string
	client string
}

type affinityEntry struct {
	endpoint model.EndpointKey
	expires  time.Time
}

// NewAffinityStore is a constructor for AffinityStore.
func NewAffinityStore(shards int, clk clock.Clock) *AffinityStore {
	if shards < 1 {
		shards = 1
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	store := &AffinityStore{clock: clk}
	for i := 0; i < shards; i++ {
		store.shards = append(store.shards, &affinityShard{
			services: make(map[model.ID]map[affinityClient]affinityEntry),
		})
	}
	return store
}

func (s *AffinityStore) shard(client string) *affinityShard {
	return s.shards[xxhash.Sum64String(client)%uint64(len(s.shards))]
}

// Lookup returns the endpoint remembered for the client, if the entry
// is not expired and the endpoint is still usable. Expired and unusable
// entries are deleted. A hit refreshes the expiry to now+timeout.
func (s *AffinityStore) Lookup(service model.ID, port, client string, usable func(model.EndpointKey) bool,
	timeout time.Duration) (endpoint model.EndpointKey, found bool) {

	shard := s.shard(client)
	shard.Lock()
	defer shard.Unlock()

	key := affinityClient{port: port, client: client}
	clients := shard.services[service]
	entry, found := clients[key]
	if !found {
		return endpoint, false
	}
	now := s.clock.Now()
	if !now.Before(entry.expires) || !usable(entry.endpoint) {
		shard.remove(service, key)
		return endpoint, false
	}
	entry.expires = now.Add(timeout)
	clients[key] = entry
	return entry.endpoint, true
}

// Store records the chosen endpoint for the client of the service port.
func (s *AffinityStore) Store(service model.ID, port, client string, endpoint model.EndpointKey, timeout time.Duration) {
	shard := s.shard(client)
	shard.Lock()
	defer shard.Unlock()

	clients, exists := shard.services[service]
	if !exists {
		clients = make(map[affinityClient]affinityEntry)
		shard.services[service] = clients
	}
	clients[affinityClient{port: port, client: client}] = affinityEntry{endpoint: endpoint, expires: s.clock.Now().Add(timeout)}
}

// PurgeEndpoints removes entries of the service pointing to endpoints for which
// keep returns false. Returns the number of removed entries.
func (s *AffinityStore) PurgeEndpoints(service model.ID, keep func(model.EndpointKey) bool) (purged int) {
	for _, shard := range s.shards {
		shard.Lock()
		for client, entry := range shard.services[service] {
			if !keep(entry.endpoint) {
				shard.remove(service, client)
				purged++
			}
		}
		shard.Unlock()
	}
	return purged
}

// PurgeService removes all entries of the service.
func (s *AffinityStore) PurgeService(service model.ID) (purged int) {
	for _, shard := range s.shards {
		shard.Lock()
		purged += len(shard.services[service])
		delete(shard.services, service)
		shard.Unlock()
	}
	return purged
}

// Sweep removes all expired entries.
func (s *AffinityStore) Sweep() (purged int) {
	now := s.clock.Now()
	for _, shard := range s.shards {
		shard.Lock()
		for service, clients := range shard.services {
			for client, entry := range clients {
				if !now.Before(entry.expires) {
					shard.remove(service, client)
					purged++
				}
			}
		}
		shard.Unlock()
	}
	return purged
}

// Len returns the number of stored entries (including not yet swept expired ones).
func (s *AffinityStore) Len() (count int) {
	for _, shard := range s.shards {
		shard.Lock()
		for _, clients := range shard.services {
			count += len(clients)
		}
		shard.Unlock()
	}
	return count
}

func (shard *affinityShard) remove(service model.ID, client affinityClient) {
	clients := shard.services[service]
	delete(clients, client)
	if len(clients) == 0 {
		delete(shard.services, service)
	}
}
