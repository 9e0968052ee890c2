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

// Package k8s implements topology source reflecting K8s Services and
// Endpoints into virtual services. The plugin also implements the publisher
// of external addresses, which writes them into the status of LoadBalancer
// services.
package k8s

import (
	"context"
	"sync"
	"time"

	"github.com/ligato/cn-infra/config"
	"github.com/ligato/cn-infra/infra"
	"github.com/ligato/cn-infra/logging"
	"github.com/pkg/errors"
	coreV1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/contiv/svcroute/plugins/router/api"
	"github.com/contiv/svcroute/plugins/router/model"
	"github.com/contiv/svcroute/plugins/router/topology"
)

const (
	// how long to wait for the initial list of services and endpoints
	defaultSyncTimeout = time.Minute

	// how often the connection to the API server is verified
	defaultProbeInterval = 10 * time.Second
)

// Plugin watches K8s services and endpoints and delivers them as topology
// events to the router.
type Plugin struct {
	Deps

	clientLock sync.Mutex
	client     kubernetes.Interface

	syncTimeout   time.Duration
	probeInterval time.Duration
	probe         func(client kubernetes.Interface) error
}

// Deps defines dependencies of the K8s topology source.
type Deps struct {
	infra.PluginDeps

	// Kubeconfig with k8s cluster address and access credentials to use.
	KubeConfig config.PluginConfig

	// Client is built from KubeConfig if not injected.
	Client kubernetes.Interface
}

// Init only prepares the plugin, the connection to K8s is established
// by Watch, which is retried by the router until it succeeds.
func (p *Plugin) Init() error {
	if p.syncTimeout == 0 {
		p.syncTimeout = defaultSyncTimeout
	}
	if p.probeInterval == 0 {
		p.probeInterval = defaultProbeInterval
	}
	if p.probe == nil {
		p.probe = probeServerVersion
	}
	return nil
}

// Close does nothing, watches are stopped by cancelling their context.
func (p *Plugin) Close() error {
	return nil
}

// getClient returns the K8s client, building it on the first call.
func (p *Plugin) getClient() (kubernetes.Interface, error) {
	p.clientLock.Lock()
	defer p.clientLock.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	if p.Deps.Client != nil {
		p.client = p.Deps.Client
		return p.client, nil
	}

	kubeconfig := p.KubeConfig.GetConfigName()
	p.Log.WithField("kubeconfig", kubeconfig).Info("Loading kubernetes client config")
	clientConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build kubernetes client config")
	}
	client, err := kubernetes.NewForConfig(clientConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build kubernetes client")
	}
	p.client = client
	return client, nil
}

// Watch reflects K8s services and endpoints into the handler.
// A complete snapshot is delivered once both caches are synced with
// the API server, followed by incremental changes. The watch is broken
// when the API server stops responding.
func (p *Plugin) Watch(ctx context.Context, handler topology.EventHandler) error {
	client, err := p.getClient()
	if err != nil {
		return err
	}

	w := &watcher{log: p.Log, handler: handler}
	var svcController, epController cache.Controller
	w.services, svcController = cache.NewInformer(servicesListWatch(client), &coreV1.Service{}, 0,
		cache.ResourceEventHandlerFuncs{
			AddFunc:    w.onServiceUpdate,
			UpdateFunc: func(oldObj, newObj interface{}) { w.onServiceUpdate(newObj) },
			DeleteFunc: w.onServiceDelete,
		})
	w.endpoints, epController = cache.NewInformer(endpointsListWatch(client), &coreV1.Endpoints{}, 0,
		cache.ResourceEventHandlerFuncs{
			AddFunc:    w.onEndpointsUpdate,
			UpdateFunc: func(oldObj, newObj interface{}) { w.onEndpointsUpdate(newObj) },
			DeleteFunc: w.onEndpointsDelete,
		})

	stopCh := make(chan struct{})
	defer w.stop()
	defer close(stopCh)
	go svcController.Run(stopCh)
	go epController.Run(stopCh)

	syncCtx, cancel := context.WithTimeout(ctx, p.syncTimeout)
	synced := cache.WaitForCacheSync(syncCtx.Done(), svcController.HasSynced, epController.HasSynced)
	cancel()
	if ctx.Err() != nil {
		return nil
	}
	if !synced {
		return errors.New("timeout waiting for K8s caches to sync")
	}
	if err := w.resync(); err != nil {
		return err
	}
	p.Log.Info("K8s services and endpoints synced")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.probeInterval):
			if err := p.probe(client); err != nil {
				return errors.Wrap(err, "K8s API server is not responding")
			}
		}
	}
}

func probeServerVersion(client kubernetes.Interface) error {
	_, err := client.Discovery().ServerVersion()
	return err
}

func servicesListWatch(client kubernetes.Interface) *cache.ListWatch {
	return &cache.ListWatch{
		ListFunc: func(options metav1.ListOptions) (runtime.Object, error) {
			return client.CoreV1().Services(metav1.NamespaceAll).List(options)
		},
		WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
			return client.CoreV1().Services(metav1.NamespaceAll).Watch(options)
		},
	}
}

func endpointsListWatch(client kubernetes.Interface) *cache.ListWatch {
	return &cache.ListWatch{
		ListFunc: func(options metav1.ListOptions) (runtime.Object, error) {
			return client.CoreV1().Endpoints(metav1.NamespaceAll).List(options)
		},
		WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
			return client.CoreV1().Endpoints(metav1.NamespaceAll).Watch(options)
		},
	}
}

// watcher converts informer notifications of a single Watch call into
// topology events. Notifications received before the initial snapshot was
// delivered, or after the watch was stopped, are dropped.
type watcher struct {
	log       logging.Logger
	handler   topology.EventHandler
	services  cache.Store
	endpoints cache.Store

	sync.Mutex
	synced  bool
	stopped bool
}

// resync delivers the content of both caches as a snapshot.
func (w *watcher) resync() error {
	w.Lock()
	defer w.Unlock()

	var snapshot []model.Event
	for _, obj := range w.services.List() {
		if svc, ok := obj.(*coreV1.Service); ok {
			if event := w.serviceUpserted(svc); event != nil {
				snapshot = append(snapshot, event)
			}
		}
	}
	for _, obj := range w.endpoints.List() {
		if eps, ok := obj.(*coreV1.Endpoints); ok {
			if event := w.endpointsUpserted(eps); event != nil {
				snapshot = append(snapshot, event)
			}
		}
	}
	if err := w.handler.Resync(snapshot); err != nil {
		return err
	}
	w.synced = true
	return nil
}

func (w *watcher) stop() {
	w.Lock()
	defer w.Unlock()
	w.stopped = true
}

func (w *watcher) deliver(event model.Event) {
	if event == nil {
		return
	}
	w.Lock()
	defer w.Unlock()
	if !w.synced || w.stopped {
		return
	}
	if err := w.handler.Apply(event); err != nil && !api.IsStaleEvent(err) {
		w.log.Warnf("Failed to apply %s: %v", event, err)
	}
}

func (w *watcher) onServiceUpdate(obj interface{}) {
	svc, ok := obj.(*coreV1.Service)
	if !ok {
		w.log.Warn("Failed to cast service object")
		return
	}
	w.deliver(w.serviceUpserted(svc))
}

func (w *watcher) onServiceDelete(obj interface{}) {
	svc, ok := deletedObject(obj).(*coreV1.Service)
	if !ok {
		w.log.Warn("Failed to cast removed service object")
		return
	}
	version, ok := w.version(svc.ObjectMeta)
	if !ok {
		return
	}
	// the deletion itself happened at a later revision than the last known state
	w.deliver(&model.ServiceDeleted{ID: serviceID(svc.GetName(), svc.GetNamespace()), Version: version + 1})
}

func (w *watcher) onEndpointsUpdate(obj interface{}) {
	eps, ok := obj.(*coreV1.Endpoints)
	if !ok {
		w.log.Warn("Failed to cast endpoints object")
		return
	}
	w.deliver(w.endpointsUpserted(eps))
}

func (w *watcher) onEndpointsDelete(obj interface{}) {
	eps, ok := deletedObject(obj).(*coreV1.Endpoints)
	if !ok {
		w.log.Warn("Failed to cast removed endpoints object")
		return
	}
	version, ok := w.version(eps.ObjectMeta)
	if !ok {
		return
	}
	w.deliver(&model.EndpointsDeleted{ID: serviceID(eps.GetName(), eps.GetNamespace()), Version: version + 1})
}

func (w *watcher) serviceUpserted(svc *coreV1.Service) model.Event {
	version, ok := w.version(svc.ObjectMeta)
	if !ok {
		return nil
	}
	return &model.ServiceUpserted{Service: serviceToModel(svc), Version: version}
}

func (w *watcher) endpointsUpserted(eps *coreV1.Endpoints) model.Event {
	version, ok := w.version(eps.ObjectMeta)
	if !ok {
		return nil
	}
	return &model.EndpointsUpserted{
		ID:        serviceID(eps.GetName(), eps.GetNamespace()),
		Endpoints: endpointsToModel(eps, w.log),
		Version:   version,
	}
}

func (w *watcher) version(meta metav1.ObjectMeta) (uint64, bool) {
	version, ok := resourceVersion(meta.ResourceVersion)
	if !ok {
		w.log.WithFields(logging.Fields{
			"namespace":       meta.Namespace,
			"name":            meta.Name,
			"resourceVersion": meta.ResourceVersion,
		}).Warn("Ignoring object with invalid resource version")
	}
	return version, ok
}

// deletedObject unwraps the object from the tombstone delivered when
// the deletion was missed by the informer.
func deletedObject(obj interface{}) interface{} {
	if tombstone, isTombstone := obj.(cache.DeletedFinalStateUnknown); isTombstone {
		return tombstone.Obj
	}
	return obj
}
