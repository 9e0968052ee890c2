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

// Package selector chooses one endpoint per connection/request.
package selector

import (
	"math/rand"
	"sync"
	"time"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/contiv/svcroute/plugins/router/api"
	"github.com/contiv/svcroute/plugins/router/model"
	"github.com/contiv/svcroute/plugins/router/policy"
	"github.com/contiv/svcroute/plugins/router/table"
)

// Deps lists dependencies of the selector.
type Deps struct {
	Log      logging.Logger
	Enforcer *policy.Enforcer
	Clock    clock.Clock /* optional */
}

// Selector implements random load-balancing with optional client-address
// session affinity. Selection never blocks on I/O.
type Selector struct {
	Deps

	affinity       *AffinityStore
	defaultTimeout time.Duration
	rnd            *rand.Rand
}

// NewSelector is a constructor for Selector.
// <defaultTimeout> applies to services with affinity but without timeout.
func NewSelector(deps Deps, shards int, defaultTimeout time.Duration) *Selector {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Enforcer == nil {
		deps.Enforcer = &policy.Enforcer{}
	}
	return &Selector{
		Deps:           deps,
		affinity:       NewAffinityStore(shards, deps.Clock),
		defaultTimeout: defaultTimeout,
		rnd:            rand.New(newLockedSource()),
	}
}

// Affinity returns the affinity store of the selector.
func (s *Selector) Affinity() *AffinityStore {
	return s.affinity
}

// Select chooses an endpoint for the request from the given table version.
// <req.Node> must be already resolved to the requesting node.
func (s *Selector) Select(tbl *table.ForwardingTable, req api.SelectRequest) (model.Endpoint, error) {
	entry, exists := tbl.Get(req.Service)
	if !exists {
		return model.Endpoint{}, errors.Wrapf(api.ErrUnknownService, "service %s", req.Service)
	}
	if entry.Headless() {
		return model.Endpoint{}, errors.Wrapf(api.ErrHeadlessService, "service %s", req.Service)
	}
	candidates, err := s.Enforcer.Candidates(entry, req.Node, req.PortName)
	if err != nil {
		return model.Endpoint{}, err
	}

	if entry.Affinity.Mode != model.ClientAddressAffinity || req.ClientKey == "" {
		return s.random(candidates), nil
	}

	timeout := entry.Affinity.Timeout
	if timeout == 0 {
		timeout = s.defaultTimeout
	}
	usable := func(key model.EndpointKey) bool {
		_, found := findEndpoint(candidates, key)
		return found
	}
	if key, hit := s.affinity.Lookup(req.Service, req.PortName, req.ClientKey, usable, timeout); hit {
		ep, _ := findEndpoint(candidates, key)
		return ep, nil
	}
	ep := s.random(candidates)
	s.affinity.Store(req.Service, req.PortName, req.ClientKey, ep.Key(), timeout)
	return ep, nil
}

// OnTableSwap invalidates affinity entries whose endpoint is no longer
// eligible in the new table. Registered as swap hook of the compiler.
func (s *Selector) OnTableSwap(oldTable, newTable *table.ForwardingTable, changed []model.ID) {
	for _, id := range changed {
		var purged int
		entry, exists := newTable.Get(id)
		if !exists || entry.Headless() || entry.Affinity.Mode != model.ClientAddressAffinity {
			purged = s.affinity.PurgeService(id)
		} else {
			purged = s.affinity.PurgeEndpoints(id, entry.HasEndpoint)
		}
		if purged > 0 {
			s.Log.WithFields(logging.Fields{
				"service": id,
				"purged":  purged,
				"table":   newTable.Version(),
			}).Debug("Invalidated affinity entries")
		}
	}
}

// Sweep removes expired affinity entries.
func (s *Selector) Sweep() {
	if purged := s.affinity.Sweep(); purged > 0 {
		s.Log.Debugf("Swept %d expired affinity entries", purged)
	}
}

func (s *Selector) random(candidates []model.Endpoint) model.Endpoint {
	return candidates[s.rnd.Intn(len(candidates))]
}

func findEndpoint(eps []model.Endpoint, key model.EndpointKey) (model.Endpoint, bool) {
	for _, ep := range eps {
		if ep.Key() == key {
			return ep, true
		}
	}
	return model.Endpoint{}, false
}

// lockedSource makes the random source safe for concurrent selections.
type lockedSource struct {
	mu sync.Mutex
	r  rand.Source
}

func newLockedSource() *lockedSource {
	return &lockedSource{r: rand.NewSource(time.Now().UnixNano())}
}

func (s *lockedSource) Int63() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Int63()
}

func (s *lockedSource) Seed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.r.Seed(seed)
}
