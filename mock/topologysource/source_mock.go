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

package topologysource

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/contiv/svcroute/plugins/router/model"
	"github.com/contiv/svcroute/plugins/router/topology"
)

// MockSource is a topology source driven by the test.
// Every Watch delivers the current snapshot and then the events pushed
// by Push, until Disconnect is called or the context is cancelled.
type MockSource struct {
	sync.Mutex
	snapshot    []model.Event
	events      chan model.Event
	disconnect  chan error
	connections int
	refuse      error
}

// NewMockSource is a constructor for MockSource.
func NewMockSource(snapshot ...model.Event) *MockSource {
	return &MockSource{
		snapshot:   snapshot,
		events:     make(chan model.Event, 100),
		disconnect: make(chan error, 1),
	}
}

// String returns the name of the mock source.
func (ms *MockSource) String() string {
	return "mock-source"
}

// SetSnapshot changes the snapshot delivered on the next connection.
func (ms *MockSource) SetSnapshot(snapshot ...model.Event) {
	ms.Lock()
	defer ms.Unlock()
	ms.snapshot = snapshot
}

// Refuse makes the following connection attempts fail with the given
// error. Nil error allows the connection again.
func (ms *MockSource) Refuse(err error) {
	ms.Lock()
	defer ms.Unlock()
	ms.refuse = err
}

// Push queues event to be delivered over the current connection.
func (ms *MockSource) Push(events ...model.Event) {
	for _, event := range events {
		ms.events <- event
	}
}

// Disconnect breaks the current connection.
func (ms *MockSource) Disconnect() {
	ms.disconnect <- errors.New("connection reset by peer")
}

// Connections returns how many times the source was successfully connected.
func (ms *MockSource) Connections() int {
	ms.Lock()
	defer ms.Unlock()
	return ms.connections
}

// Watch delivers the snapshot and the pushed events.
func (ms *MockSource) Watch(ctx context.Context, handler topology.EventHandler) error {
	ms.Lock()
	if ms.refuse != nil {
		err := ms.refuse
		ms.Unlock()
		return err
	}
	snapshot := ms.snapshot
	ms.Unlock()

	if err := handler.Resync(snapshot); err != nil {
		return err
	}
	ms.Lock()
	ms.connections++
	ms.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-ms.disconnect:
			return err
		case event := <-ms.events:
			// stale and invalid events are the concern of the handler
			_ = handler.Apply(event)
		}
	}
}
