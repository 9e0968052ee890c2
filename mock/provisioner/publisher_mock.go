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
	"net"
	"sync"

	"github.com/contiv/svcroute/plugins/router/model"
)

// MockPublisher is a mock for api.Publisher remembering published addresses.
type MockPublisher struct {
	sync.Mutex
	published map[model.ID]net.IP
}

// NewMockPublisher is a constructor for MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{published: make(map[model.ID]net.IP)}
}

// PublishExternalAddress remembers the address.
func (mp *MockPublisher) PublishExternalAddress(id model.ID, address net.IP) error {
	mp.Lock()
	defer mp.Unlock()
	mp.published[id] = address
	return nil
}

// ClearExternalAddress forgets the address.
func (mp *MockPublisher) ClearExternalAddress(id model.ID) error {
	mp.Lock()
	defer mp.Unlock()
	delete(mp.published, id)
	return nil
}

// Published returns the address published for the service.
func (mp *MockPublisher) Published(id model.ID) net.IP {
	mp.Lock()
	defer mp.Unlock()
	return mp.published[id]
}
