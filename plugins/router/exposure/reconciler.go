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

// Package exposure implements the reconciliation loop of externally exposed
// services. The state of each binding moves Pending -> Provisioning ->
// Bound(address), or Provisioning -> Failed(reason) -> Provisioning with
// exponential backoff. Deletion of the service cancels an in-flight Create
// and issues Delete to the provisioner.
package exposure

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/workqueue"

	"github.com/contiv/svcroute/plugins/router/api"
	"github.com/contiv/svcroute/plugins/router/config"
	"github.com/contiv/svcroute/plugins/router/model"
)

// ServiceReader is the read-only view of the topology cache used by the reconciler.
type ServiceReader interface {
	Lookup(id model.ID) (*model.VirtualService, model.EndpointSet)
}

var errNoAddress = errors.New("provisioner returned no address")

// Deps lists dependencies of the reconciler.
type Deps struct {
	Log         logging.Logger
	Topology    ServiceReader
	Provisioner api.Provisioner
	Publisher   api.Publisher /* optional */
}

// Reconciler drives the provisioner to obtain external addresses for services
// of the ExternallyExposed kind.
type Reconciler struct {
	Deps

	workers          int
	provisionTimeout time.Duration
	maxDeleteRetries int

	queue workqueue.RateLimitingInterface

	mu       sync.Mutex
	bindings map[model.ID]*binding
}

type binding struct {
	phase    api.BindingPhase
	address  net.IP
	reason   string
	attempts int

	// set once Create was called; only then the provisioner needs Delete
	provisioned    bool
	deleting       bool
	deleteAttempts int

	// cancels the in-flight Create
	cancel context.CancelFunc
}

// NewReconciler is a constructor for Reconciler.
func NewReconciler(deps Deps, cfg *config.Config) *Reconciler {
	workers := cfg.ExposureWorkers
	if workers < 1 {
		workers = 1
	}
	// per-service exponential backoff combined with the overall call rate limit
	rateLimiter := workqueue.NewMaxOfRateLimiter(
		workqueue.NewItemExponentialFailureRateLimiter(cfg.ProvisionRetryBaseDelay, cfg.ProvisionRetryMaxDelay),
		&workqueue.BucketRateLimiter{Limiter: rate.NewLimiter(rate.Limit(cfg.ProvisionQPS), cfg.ProvisionBurst)},
	)
	return &Reconciler{
		Deps:             deps,
		workers:          workers,
		provisionTimeout: cfg.ProvisionTimeout,
		maxDeleteRetries: cfg.MaxDeleteRetries,
		queue:            workqueue.NewNamedRateLimitingQueue(rateLimiter, "router-exposure"),
		bindings:         make(map[model.ID]*binding),
	}
}

// TopologyChanged schedules reconciliation of the service.
// If the service no longer needs an external address, an in-flight
// provisioning is cancelled right away.
func (r *Reconciler) TopologyChanged(change model.TopologyChanged) {
	if change.Change == model.EndpointsChanged {
		return
	}
	r.refresh(change.ID)
	r.queue.Add(change.ID)
}

// TopologyResynced schedules reconciliation of resynced services and of all
// existing bindings.
func (r *Reconciler) TopologyResynced(changes []model.TopologyChanged) {
	ids := make(map[model.ID]struct{})
	for _, change := range changes {
		ids[change.ID] = struct{}{}
	}
	r.mu.Lock()
	for id := range r.bindings {
		ids[id] = struct{}{}
	}
	r.mu.Unlock()

	for id := range ids {
		r.refresh(id)
		r.queue.Add(id)
	}
}

// refresh creates Pending binding for a newly exposed service, or marks
// the binding of a no longer exposed service for deletion.
func (r *Reconciler) refresh(id model.ID) {
	exposed := r.exposedService(id) != nil

	r.mu.Lock()
	defer r.mu.Unlock()
	b, exists := r.bindings[id]
	switch {
	case exposed && !exists:
		r.bindings[id] = &binding{phase: api.Pending}
	case !exposed && exists:
		b.deleting = true
		if b.cancel != nil {
			b.cancel()
		}
	}
}

// Run starts workers and blocks until stopCh is closed.
// In-flight provisioning calls are cancelled on stop.
func (r *Reconciler) Run(stopCh <-chan struct{}) {
	defer utilruntime.HandleCrash()
	defer r.queue.ShutDown()

	r.Log.Infof("Starting %d exposure workers", r.workers)
	for i := 0; i < r.workers; i++ {
		go wait.Until(r.runWorker, time.Second, stopCh)
	}
	<-stopCh

	r.mu.Lock()
	for _, b := range r.bindings {
		if b.cancel != nil {
			b.cancel()
		}
	}
	r.mu.Unlock()
	r.Log.Info("Exposure reconciler stopped")
}

func (r *Reconciler) runWorker() {
	for r.processNextItem() {
	}
}

func (r *Reconciler) processNextItem() bool {
	item, quit := r.queue.Get()
	if quit {
		return false
	}
	defer r.queue.Done(item)

	id := item.(model.ID)
	if err := r.reconcile(id); err != nil {
		r.Log.WithFields(logging.Fields{
			"service":  id,
			"requeues": r.queue.NumRequeues(item),
		}).Warnf("Reconciliation failed (will retry): %v", err)
		r.queue.AddRateLimited(item)
		return true
	}
	r.queue.Forget(item)
	return true
}

// Bindings returns a snapshot of all bindings ordered by service ID.
func (r *Reconciler) Bindings() []api.Binding {
	r.mu.Lock()
	defer r.mu.Unlock()

	bindings := make([]api.Binding, 0, len(r.bindings))
	for id, b := range r.bindings {
		bindings = append(bindings, b.snapshot(id))
	}
	sort.Slice(bindings, func(i, j int) bool {
		return bindings[i].Service.String() < bindings[j].Service.String()
	})
	return bindings
}

// GetBinding returns snapshot of the binding of one service.
func (r *Reconciler) GetBinding(id model.ID) (binding api.Binding, exists bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, exists := r.bindings[id]
	if !exists {
		return binding, false
	}
	return b.snapshot(id), true
}

func (b *binding) snapshot(id model.ID) api.Binding {
	return api.Binding{
		Service:  id,
		Phase:    b.phase,
		Address:  b.address,
		Reason:   b.reason,
		Attempts: b.attempts,
		Deleting: b.deleting,
	}
}

// exposedService returns the service if it needs an external address.
func (r *Reconciler) exposedService(id model.ID) *model.VirtualService {
	svc, _ := r.Topology.Lookup(id)
	if svc == nil || svc.Kind != model.ExternallyExposed {
		return nil
	}
	return svc
}

// reconcile moves the binding of the service towards the desired state.
func (r *Reconciler) reconcile(id model.ID) error {
	svc := r.exposedService(id)

	r.mu.Lock()
	b, exists := r.bindings[id]
	if svc == nil {
		if !exists {
			r.mu.Unlock()
			return nil
		}
		b.deleting = true
		r.mu.Unlock()
		return r.removeBinding(id, b)
	}

	if !exists {
		b = &binding{phase: api.Pending}
		r.bindings[id] = b
	}
	if b.deleting {
		// re-created while the old binding was being deleted
		r.mu.Unlock()
		if err := r.removeBinding(id, b); err != nil {
			return err
		}
		return r.reconcile(id)
	}
	if b.phase == api.Bound || b.phase == api.Provisioning {
		r.mu.Unlock()
		return nil
	}
	return r.provision(id, b, svc)
}

// provision calls Create of the provisioner. Must be called with r.mu locked.
func (r *Reconciler) provision(id model.ID, b *binding, svc *model.VirtualService) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.provisionTimeout)
	b.phase = api.Provisioning
	b.attempts++
	b.provisioned = true
	b.cancel = cancel
	attempt := b.attempts
	r.mu.Unlock()

	r.Log.WithFields(logging.Fields{"service": id, "attempt": attempt}).Info("Provisioning external address")
	addr, err := r.Provisioner.Create(ctx, api.BindingIDFor(id), svc)
	cancel()

	r.mu.Lock()
	b.cancel = nil
	if b.deleting {
		r.mu.Unlock()
		return r.reconcile(id)
	}
	if err == nil && addr == nil {
		err = errNoAddress
	}
	if err != nil {
		b.phase = api.Failed
		b.reason = err.Error()
		b.address = nil
		r.mu.Unlock()
		return api.NewProvisioningFailedError(err)
	}
	b.phase = api.Bound
	b.address = addr
	b.reason = ""
	r.mu.Unlock()

	r.Log.WithFields(logging.Fields{"service": id, "address": addr}).Info("External address bound")
	if r.Publisher != nil {
		if err := r.Publisher.PublishExternalAddress(id, addr); err != nil {
			r.Log.WithField("service", id).Warnf("Failed to publish external address: %v", err)
		}
	}
	return nil
}

// removeBinding deletes whatever was provisioned for the binding and forgets it.
// After maxDeleteRetries failed attempts the binding is dropped anyway,
// leaving a residual cleanup obligation in the log.
func (r *Reconciler) removeBinding(id model.ID, b *binding) error {
	r.mu.Lock()
	provisioned := b.provisioned
	wasBound := b.phase == api.Bound
	r.mu.Unlock()

	if provisioned {
		ctx, cancel := context.WithTimeout(context.Background(), r.provisionTimeout)
		err := r.Provisioner.Delete(ctx, api.BindingIDFor(id))
		cancel()

		if err != nil {
			r.mu.Lock()
			b.deleteAttempts++
			attempts := b.deleteAttempts
			r.mu.Unlock()
			if attempts < r.maxDeleteRetries {
				return err
			}
			r.Log.WithFields(logging.Fields{
				"service":  id,
				"binding":  api.BindingIDFor(id),
				"attempts": attempts,
				"error":    err,
			}).Error("Giving up on deletion of external binding, resources may need manual cleanup")
		}
	}

	r.mu.Lock()
	if r.bindings[id] == b {
		delete(r.bindings, id)
	}
	r.mu.Unlock()
	r.Log.WithField("service", id).Info("External binding removed")

	if wasBound && r.Publisher != nil {
		if err := r.Publisher.ClearExternalAddress(id); err != nil {
			r.Log.WithField("service", id).Warnf("Failed to clear external address: %v", err)
		}
	}
	return nil
}
