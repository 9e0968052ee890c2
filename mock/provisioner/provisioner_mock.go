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

package provisioner

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/contiv/svcroute/plugins/router/api"
	"github.com/contiv/svcroute/plugins/router/model"
)

// Result is a scripted outcome of one Create call.
type Result struct {
	Address net.IP
	Err     error
}

// MockProvisioner is a mock for api.Provisioner.
// Create results can be scripted, otherwise addresses from 203.0.113.0/24
// are handed out. Create can be made to block until its context is cancelled.
type MockProvisioner struct {
	sync.Mutex

	createResults []Result
	deleteErrors  []error
	block         bool
	lastAddr      byte

	creates []api.BindingID
	deletes []api.BindingID
	bound   map[api.BindingID]net.IP
}

// NewMockProvisioner is a constructor for MockProvisioner.
func NewMockProvisioner() *MockProvisioner {
	return &MockProvisioner{bound: make(map[api.BindingID]net.IP)}
}

// ScriptCreate appends results returned by the next Create calls.
func (mp *MockProvisioner) ScriptCreate(results ...Result) {
	mp.Lock()
	defer mp.Unlock()
	mp.createResults = append(mp.createResults, results...)
}

// ScriptDelete appends errors returned by the next Delete calls.
func (mp *MockProvisioner) ScriptDelete(errs ...error) {
	mp.Lock()
	defer mp.Unlock()
	mp.deleteErrors = append(mp.deleteErrors, errs...)
}

// BlockCreate makes Create calls block until their context is done.
func (mp *MockProvisioner) BlockCreate(block bool) {
	mp.Lock()
	defer mp.Unlock()
	mp.block = block
}

// Create records the call and returns scripted (or generated) result.
func (mp *MockProvisioner) Create(ctx context.Context, id api.BindingID, spec *model.VirtualService) (net.IP, error) {
	mp.Lock()
	mp.creates = append(mp.creates, id)
	block := mp.block
	mp.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	mp.Lock()
	defer mp.Unlock()
	var result Result
	if len(mp.createResults) > 0 {
		result = mp.createResults[0]
		mp.createResults = mp.createResults[1:]
	} else {
		mp.lastAddr++
		result.Address = net.ParseIP(fmt.Sprintf("203.0.113.%d", mp.lastAddr))
	}
	if result.Err == nil {
		mp.bound[id] = result.Address
	}
	return result.Address, result.Err
}

// Delete records the call and returns scripted error (nil by default).
func (mp *MockProvisioner) Delete(ctx context.Context, id api.BindingID) error {
	mp.Lock()
	defer mp.Unlock()
	mp.deletes = append(mp.deletes, id)
	if len(mp.deleteErrors) > 0 {
		err := mp.deleteErrors[0]
		mp.deleteErrors = mp.deleteErrors[1:]
		if err != nil {
			return err
		}
	}
	delete(mp.bound, id)
	return nil
}

// Creates returns IDs of all Create calls so far.
func (mp *MockProvisioner) Creates() []api.BindingID {
	mp.Lock()
	defer mp.Unlock()
	return append([]api.BindingID{}, mp.creates...)
}

// Deletes returns IDs of all Delete calls so far.
func (mp *MockProvisioner) Deletes() []api.BindingID {
	mp.Lock()
	defer mp.Unlock()
	return append([]api.BindingID{}, mp.deletes...)
}

// Bound returns address currently provisioned for the binding.
func (mp *MockProvisioner) Bound(id api.BindingID) (addr net.IP, bound bool) {
	mp.Lock()
	defer mp.Unlock()
	addr, bound = mp.bound[id]
	return addr, bound
}
