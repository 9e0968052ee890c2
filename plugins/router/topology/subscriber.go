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
	"sync/atomic"
	"time"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/clock"
	"k8s.io/client-go/util/workqueue"

	"github.com/contiv/svcroute/plugins/router/api"
	"github.com/contiv/svcroute/plugins/router/model"
)

// EventHandler consumes events delivered by a topology source.
// Cache implements EventHandler.
type EventHandler interface {
	// Apply applies a single incremental change.
	Apply(event model.Event) error

	// Resync replaces the entire state with a complete snapshot.
	Resync(snapshot []model.Event) error
}

// Source is a topology source - a change stream of virtual services and their
// endpoints.
type Source interface {
	// String returns a human-readable name of the source.
	String() string

	// Watch connects to the source and delivers events into the handler until
	// ctx is cancelled or the connection breaks. After every (re)connection
	// the source must first deliver the complete state via handler.Resync,
	// followed by incremental events via handler.Apply, in order.
	// Returns nil only if ctx was cancelled.
	Watch(ctx context.Context, handler EventHandler) error
}

// StatusCallback is called by the subscriber whenever the connection state
// of the topology source changes.
type StatusCallback func(connected bool, err error)

// SubscriberDeps lists dependencies of the subscriber.
type SubscriberDeps struct {
	Log      logging.Logger
	Source   Source
	Handler  EventHandler
	OnStatus StatusCallback /* optional */
	Clock    clock.Clock    /* optional */
}

// Subscriber keeps the handler subscribed to the topology source, reconnecting
// with exponential backoff (capped at the maximum delay) indefinitely.
// While disconnected, the handler keeps its last state.
type Subscriber struct {
	SubscriberDeps

	backoff   workqueue.RateLimiter
	connected uint32
}

// NewSubscriber is a constructor for Subscriber.
func NewSubscriber(deps SubscriberDeps, baseDelay, maxDelay time.Duration) *Subscriber {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	return &Subscriber{
		SubscriberDeps: deps,
		backoff:        workqueue.NewItemExponentialFailureRateLimiter(baseDelay, maxDelay),
	}
}

// Run keeps the subscription alive until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) {
	sourceName := s.Source.String()
	handler := &connectionHandler{subscriber: s}

	for {
		err := s.Source.Watch(ctx, handler)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("watch stream closed")
		}
		err = errors.Wrapf(api.ErrTopologySourceDisconnected, "%s: %v", sourceName, err)
		s.setConnected(false, err)

		delay := s.backoff.When(sourceName)
		s.Log.WithFields(logging.Fields{
			"source":   sourceName,
			"attempts": s.backoff.NumRequeues(sourceName),
			"delay":    delay,
		}).Warnf("Topology source disconnected: %v", err)

		select {
		case <-ctx.Done():
			return
		case <-s.Clock.After(delay):
		}
	}
}

// Connected returns true if the topology source is currently connected
// and the initial snapshot was received.
func (s *Subscriber) Connected() bool {
	return atomic.LoadUint32(&s.connected) == 1
}

func (s *Subscriber) setConnected(connected bool, err error) {
	var newVal uint32
	if connected {
		newVal = 1
	}
	if atomic.SwapUint32(&s.connected, newVal) == newVal {
		return
	}
	if connected {
		s.Log.Infof("Topology source %s connected", s.Source)
	}
	if s.OnStatus != nil {
		s.OnStatus(connected, err)
	}
}

// connectionHandler marks the source as connected once the snapshot is in.
type connectionHandler struct {
	subscriber *Subscriber
}

func (h *connectionHandler) Apply(event model.Event) error {
	return h.subscriber.Handler.Apply(event)
}

func (h *connectionHandler) Resync(snapshot []model.Event) error {
	err := h.subscriber.Handler.Resync(snapshot)
	if err != nil {
		return err
	}
	h.subscriber.backoff.Forget(h.subscriber.Source.String())
	h.subscriber.setConnected(true, nil)
	return nil
}
