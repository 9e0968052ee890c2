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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ligato/cn-infra/logging/logrus"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/contiv/svcroute/plugins/router/api"
	"github.com/contiv/svcroute/plugins/router/model"
)

// flakySource fails the first <failures> connections right after the snapshot.
type flakySource struct {
	sync.Mutex
	failures    int
	connections int
}

func (s *flakySource) String() string {
	return "flaky-source"
}

func (s *flakySource) Watch(ctx context.Context, handler EventHandler) error {
	s.Lock()
	s.connections++
	fail := s.connections <= s.failures
	s.Unlock()

	snapshot := []model.Event{&model.ServiceUpserted{Service: internalService(svcID), Version: 1}}
	if err := handler.Resync(snapshot); err != nil {
		return err
	}
	if fail {
		return errors.New("connection reset")
	}
	if err := handler.Apply(&model.ServiceUpserted{Service: internalService(svcID2), Version: 1}); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (s *flakySource) getConnections() int {
	s.Lock()
	defer s.Unlock()
	return s.connections
}

type statusRecorder struct {
	sync.Mutex
	statuses []bool
	lastErr  error
}

func (r *statusRecorder) onStatus(connected bool, err error) {
	r.Lock()
	defer r.Unlock()
	r.statuses = append(r.statuses, connected)
	if err != nil {
		r.lastErr = err
	}
}

func (r *statusRecorder) get() ([]bool, error) {
	r.Lock()
	defer r.Unlock()
	return append([]bool{}, r.statuses...), r.lastErr
}

func TestSubscriberReconnects(t *testing.T) {
	cache, _, _ := newTestCache(t)
	source := &flakySource{failures: 2}
	recorder := &statusRecorder{}

	subscriber := NewSubscriber(SubscriberDeps{
		Log:      logrus.DefaultLogger(),
		Source:   source,
		Handler:  cache,
		OnStatus: recorder.onStatus,
	}, time.Millisecond, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		subscriber.Run(ctx)
		close(done)
	}()

	Eventually(source.getConnections, time.Second).Should(Equal(3))
	Eventually(subscriber.Connected, time.Second).Should(BeTrue())
	Eventually(cache.ListServices, time.Second).Should(Equal([]model.ID{svcID2, svcID}))

	statuses, lastErr := recorder.get()
	Expect(statuses).To(Equal([]bool{true, false, true, false, true}))
	Expect(errors.Cause(lastErr)).To(Equal(api.ErrTopologySourceDisconnected))

	cancel()
	Eventually(done, time.Second).Should(BeClosed())
}

func TestSubscriberKeepsStateWhileDisconnected(t *testing.T) {
	cache, _, _ := newTestCache(t)
	source := &flakySource{failures: 1000}

	subscriber := NewSubscriber(SubscriberDeps{
		Log:     logrus.DefaultLogger(),
		Source:  source,
		Handler: cache,
	}, time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go subscriber.Run(ctx)

	Eventually(source.getConnections, time.Second).Should(BeNumerically(">", 3))
	Expect(cache.ListServices()).To(Equal([]model.ID{svcID}))
}
