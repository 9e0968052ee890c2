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

// Package ippool implements provisioner handing out external addresses from
// a configured pool. It is meant for bare-metal deployments, where external
// addresses are routed to the nodes by other means (e.g. BGP or static routes).
package ippool

import (
	"context"
	"io/ioutil"
	"net"
	"os"
	"sync"

	"github.com/ghodss/yaml"
	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"

	"github.com/contiv/svcroute/plugins/router/api"
	"github.com/contiv/svcroute/plugins/router/model"
	"github.com/contiv/svcroute/plugins/router/topology"
)

// Deps lists dependencies of the provisioner.
type Deps struct {
	Log logging.Logger
}

// Provisioner allocates external addresses from an address pool.
// Repeated Create of the same binding returns the already allocated address.
type Provisioner struct {
	Deps

	sync.Mutex
	pool      *topology.AddressAllocator
	bindings  map[api.BindingID]net.IP
	stateFile string
}

// state is the persisted content of the state file.
type state struct {
	Bindings map[api.BindingID]string `json:"bindings"`
}

// NewProvisioner is a constructor for Provisioner.
// If <stateFile> is not empty, allocations are persisted in the file and
// restored from it on startup.
func NewProvisioner(deps Deps, poolCIDR, stateFile string) (*Provisioner, error) {
	pool, err := topology.NewAddressAllocator(poolCIDR)
	if err != nil {
		return nil, errors.Wrap(err, "invalid external address pool")
	}
	p := &Provisioner{
		Deps:      deps,
		pool:      pool,
		bindings:  make(map[api.BindingID]net.IP),
		stateFile: stateFile,
	}
	if err := p.loadState(); err != nil {
		return nil, err
	}
	return p, nil
}

// Create allocates an external address for the binding.
func (p *Provisioner) Create(ctx context.Context, id api.BindingID, spec *model.VirtualService) (net.IP, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.Lock()
	defer p.Unlock()

	if addr, exists := p.bindings[id]; exists {
		return addr, nil
	}
	addr, err := p.pool.Allocate(string(id))
	if err != nil {
		return nil, err
	}
	p.bindings[id] = addr
	if err := p.saveState(); err != nil {
		delete(p.bindings, id)
		p.pool.Release(addr, string(id))
		return nil, err
	}
	p.Log.WithFields(logging.Fields{"binding": id, "address": addr}).Debug("Allocated external address")
	return addr, nil
}

// Delete returns the address of the binding back to the pool.
func (p *Provisioner) Delete(ctx context.Context, id api.BindingID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Lock()
	defer p.Unlock()

	addr, exists := p.bindings[id]
	if !exists {
		return nil
	}
	delete(p.bindings, id)
	if err := p.saveState(); err != nil {
		p.bindings[id] = addr
		return err
	}
	p.pool.Release(addr, string(id))
	p.Log.WithFields(logging.Fields{"binding": id, "address": addr}).Debug("Released external address")
	return nil
}

// Allocated returns the number of allocated addresses.
func (p *Provisioner) Allocated() int {
	p.Lock()
	defer p.Unlock()
	return len(p.bindings)
}

func (p *Provisioner) loadState() error {
	if p.stateFile == "" {
		return nil
	}
	content, err := ioutil.ReadFile(p.stateFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read provisioner state")
	}
	var st state
	if err := yaml.Unmarshal(content, &st); err != nil {
		return errors.Wrapf(err, "failed to parse provisioner state %s", p.stateFile)
	}
	for id, addrStr := range st.Bindings {
		addr := net.ParseIP(addrStr)
		if addr == nil {
			p.Log.Warnf("Ignoring invalid address %q of binding %s in the state file", addrStr, id)
			continue
		}
		if err := p.pool.Reserve(addr, string(id)); err != nil {
			p.Log.Warnf("Ignoring binding %s from the state file: %v", id, err)
			continue
		}
		p.bindings[id] = addr
	}
	p.Log.Infof("Restored %d external address allocations", len(p.bindings))
	return nil
}

// saveState writes the allocations into the state file. Must be called with
// the lock held.
func (p *Provisioner) saveState() error {
	if p.stateFile == "" {
		return nil
	}
	st := state{Bindings: make(map[api.BindingID]string, len(p.bindings))}
	for id, addr := range p.bindings {
		st.Bindings[id] = addr.String()
	}
	content, err := yaml.Marshal(st)
	if err != nil {
		return err
	}
	tmpFile := p.stateFile + ".tmp"
	if err := ioutil.WriteFile(tmpFile, content, 0644); err != nil {
		return errors.Wrap(err, "failed to write provisioner state")
	}
	return os.Rename(tmpFile, p.stateFile)
}
