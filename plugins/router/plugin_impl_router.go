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

package router

import (
	"context"
	"sync"

	"github.com/ligato/cn-infra/health/statuscheck"
	"github.com/ligato/cn-infra/infra"
	prometheusplugin "github.com/ligato/cn-infra/rpc/prometheus"
	"github.com/ligato/cn-infra/rpc/rest"
	"github.com/ligato/cn-infra/servicelabel"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/clock"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/contiv/svcroute/plugins/provisioner/ippool"
	"github.com/contiv/svcroute/plugins/router/api"
	"github.com/contiv/svcroute/plugins/router/compiler"
	"github.com/contiv/svcroute/plugins/router/config"
	"github.com/contiv/svcroute/plugins/router/exposure"
	"github.com/contiv/svcroute/plugins/router/model"
	"github.com/contiv/svcroute/plugins/router/policy"
	"github.com/contiv/svcroute/plugins/router/readiness"
	"github.com/contiv/svcroute/plugins/router/selector"
	"github.com/contiv/svcroute/plugins/router/topology"
	"github.com/contiv/svcroute/plugins/topologysource/file"
)

// Plugin implements the service routing control plane.
type Plugin struct {
	Deps

	config *config.Config

	cache      *topology.Cache
	subscriber *topology.Subscriber
	compiler   *compiler.Compiler
	selector   *selector.Selector
	reconciler *exposure.Reconciler /* nil without provisioner */
	stats      *statsCollector

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Deps defines dependencies of the router plugin.
type Deps struct {
	infra.PluginDeps
	ServiceLabel servicelabel.ReaderAPI
	HTTPHandlers rest.HTTPHandlers              /* optional */
	Prometheus   prometheusplugin.API           /* optional */
	StatusCheck  statuscheck.PluginStatusWriter /* optional */

	// Sources lists topology sources by name, the one to use is selected
	// by the topologySource option. The file source is created from
	// the configuration unless given here.
	Sources map[string]topology.Source

	// Provisioner of external addresses. If nil, the ippool provisioner is used
	// if externalPool is configured.
	Provisioner api.Provisioner

	// Publisher of external addresses. If nil, the selected topology source
	// is used if it implements api.Publisher.
	Publisher api.Publisher

	// ReadinessPolicy is FailClosed unless changed from code.
	ReadinessPolicy readiness.Policy

	Clock clock.Clock /* optional */
}

// Init loads the configuration and builds all layers of the router.
func (p *Plugin) Init() (err error) {
	p.config = config.DefaultConfig()
	if p.Cfg != nil {
		if _, err = p.Cfg.LoadValue(p.config); err != nil {
			return err
		}
	}
	p.Log.Infof("Router configuration: %+v", *p.config)

	if err = p.initLayers(); err != nil {
		return err
	}
	return p.stats.init()
}

// initLayers builds the pipeline topology -> compiler -> selector
// (+ exposure) according to p.config.
func (p *Plugin) initLayers() error {
	if p.Clock == nil {
		p.Clock = clock.RealClock{}
	}
	allocator, err := topology.NewAddressAllocator(p.config.ServiceCIDR)
	if err != nil {
		return err
	}

	p.cache = &topology.Cache{Deps: topology.Deps{
		Log:       p.Log.NewLogger("-topology"),
		Allocator: allocator,
		Clock:     p.Clock,
	}}
	p.cache.Init()

	p.compiler = compiler.NewCompiler(compiler.Deps{
		Log:       p.Log.NewLogger("-compiler"),
		Topology:  p.cache,
		Readiness: &readiness.Filter{Policy: p.ReadinessPolicy},
	}, p.config.CompilerWorkers)
	if p.ReadinessPolicy != readiness.FailClosed {
		p.Log.Warnf("Readiness policy %s is in effect, not-ready endpoints may receive traffic", p.ReadinessPolicy)
	}

	p.selector = selector.NewSelector(selector.Deps{
		Log:      p.Log.NewLogger("-selector"),
		Enforcer: &policy.Enforcer{},
		Clock:    p.Clock,
	}, p.config.AffinityShards, p.config.DefaultAffinityTimeout)
	p.compiler.RegisterSwapHook(p.selector.OnTableSwap)
	p.cache.RegisterWatcher(p.compiler)

	source, err := p.selectSource()
	if err != nil {
		return err
	}

	provisioner, err := p.selectProvisioner()
	if err != nil {
		return err
	}
	if provisioner != nil {
		publisher := p.Publisher
		if publisher == nil {
			publisher, _ = source.(api.Publisher)
		}
		p.reconciler = exposure.NewReconciler(exposure.Deps{
			Log:         p.Log.NewLogger("-exposure"),
			Topology:    p.cache,
			Provisioner: provisioner,
			Publisher:   publisher,
		}, p.config)
		p.cache.RegisterWatcher(p.reconciler)
	} else {
		p.Log.Warn("No provisioner available, externally exposed services will not get external address")
	}

	p.subscriber = topology.NewSubscriber(topology.SubscriberDeps{
		Log:      p.Log.NewLogger("-subscriber"),
		Source:   source,
		Handler:  p.cache,
		OnStatus: p.onSourceStatus,
		Clock:    p.Clock,
	}, p.config.ReconnectBaseDelay, p.config.ReconnectMaxDelay)

	var node string
	if p.ServiceLabel != nil {
		node = p.ServiceLabel.GetAgentLabel()
	}
	p.stats = newStatsCollector(p.Log.NewLogger("-stats"), p.Prometheus, p, node)

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.stopCh = make(chan struct{})
	return nil
}

func (p *Plugin) selectSource() (topology.Source, error) {
	if source, exists := p.Sources[p.config.TopologySource]; exists && source != nil {
		return source, nil
	}
	if p.config.TopologySource == config.FileSource {
		if p.config.TopologyFile == "" {
			return nil, errors.New("topology file is not configured")
		}
		return file.NewSource(file.Deps{Log: p.Log.NewLogger("-file"), Clock: p.Clock},
			p.config.TopologyFile, p.config.TopologyReloadInterval), nil
	}
	return nil, errors.Errorf("topology source %q is not available", p.config.TopologySource)
}

func (p *Plugin) selectProvisioner() (api.Provisioner, error) {
	if p.Provisioner != nil {
		return p.Provisioner, nil
	}
	if p.config.ExternalPool == "" {
		return nil, nil
	}
	provisioner, err := ippool.NewProvisioner(ippool.Deps{Log: p.Log.NewLogger("-ippool")},
		p.config.ExternalPool, p.config.ExternalPoolStateFile)
	if err != nil {
		return nil, err
	}
	return provisioner, nil
}

// AfterInit registers REST handlers and starts all loops of the router.
func (p *Plugin) AfterInit() error {
	if p.StatusCheck != nil {
		p.StatusCheck.Register(p.PluginName, nil)
	}
	p.registerHandlers()

	p.wg.Add(4)
	go func() {
		defer p.wg.Done()
		p.compiler.Run(p.stopCh)
	}()
	go func() {
		defer p.wg.Done()
		p.subscriber.Run(p.ctx)
	}()
	go func() {
		defer p.wg.Done()
		wait.Until(p.selector.Sweep, p.config.AffinitySweepInterval, p.stopCh)
	}()
	go func() {
		defer p.wg.Done()
		p.stats.run(p.stopCh)
	}()
	if p.reconciler != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.reconciler.Run(p.stopCh)
		}()
	}
	return nil
}

// Close stops all loops of the router.
func (p *Plugin) Close() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	close(p.stopCh)
	p.wg.Wait()
	return nil
}

// onSourceStatus propagates the connection state of the topology source
// into the plugin status.
func (p *Plugin) onSourceStatus(connected bool, err error) {
	if connected {
		p.Log.Info("Topology source connected")
	}
	if p.StatusCheck == nil {
		return
	}
	if connected {
		p.StatusCheck.ReportStateChange(p.PluginName, statuscheck.OK, nil)
	} else {
		p.StatusCheck.ReportStateChange(p.PluginName, statuscheck.Error, err)
	}
}

// Select chooses one eligible endpoint for a connection/request.
func (p *Plugin) Select(req api.SelectRequest) (model.Endpoint, error) {
	if req.Node == "" && p.ServiceLabel != nil {
		req.Node = p.ServiceLabel.GetAgentLabel()
	}
	ep, err := p.selector.Select(p.compiler.Current(), req)
	if err != nil && errors.Cause(err) == api.ErrUnknownService {
		// alias-only services are not compiled into the table
		if svc, _ := p.cache.Lookup(req.Service); svc != nil && svc.Kind == model.AliasOnly {
			err = errors.Wrapf(api.ErrAliasService, "service %s", req.Service)
		}
	}
	p.stats.countSelection(err)
	if err != nil {
		p.Log.WithField("service", req.Service).Debugf("Selection failed: %v", err)
	}
	return ep, err
}

// Resolve returns the address(es) under which the service is reachable.
func (p *Plugin) Resolve(id model.ID) (*api.Resolution, error) {
	if svc, _ := p.cache.Lookup(id); svc != nil && svc.Kind == model.AliasOnly {
		return &api.Resolution{Service: id, Kind: svc.Kind, AliasTarget: svc.AliasFQDN()}, nil
	}
	entry, exists := p.compiler.Current().Get(id)
	if !exists {
		return nil, errors.Wrapf(api.ErrUnknownService, "service %s", id)
	}

	res := &api.Resolution{Service: id, Kind: entry.Kind}
	if entry.Headless() {
		res.Endpoints = append([]model.Endpoint(nil), entry.Endpoints...)
		return res, nil
	}
	res.StableAddress = entry.StableAddress
	if entry.Kind == model.ExternallyExposed && p.reconciler != nil {
		if binding, exists := p.reconciler.GetBinding(id); exists && binding.Phase == api.Bound {
			res.ExternalAddress = binding.Address
		}
	}
	return res, nil
}

// TableVersion returns the version of the currently published forwarding table.
func (p *Plugin) TableVersion() uint64 {
	return p.compiler.Current().Version()
}

// Services returns a snapshot of all services in the forwarding table.
func (p *Plugin) Services() []api.ServiceSummary {
	var services []api.ServiceSummary
	for _, entry := range p.compiler.Current().Entries() {
		services = append(services, api.ServiceSummary{
			Service:           entry.Service,
			Kind:              entry.Kind.String(),
			TrafficPolicy:     entry.TrafficPolicy.String(),
			SessionAffinity:   entry.Affinity.String(),
			EligibleEndpoints: len(entry.Endpoints),
			TotalEndpoints:    entry.Total,
			Revision:          entry.Revision,
		})
	}
	return services
}

// Bindings returns a snapshot of all external bindings.
func (p *Plugin) Bindings() []api.Binding {
	if p.reconciler == nil {
		return nil
	}
	return p.reconciler.Bindings()
}

// SetReadiness changes readiness of a single endpoint, as reported
// by an external health checker.
func (p *Plugin) SetReadiness(id model.ID, endpoint model.EndpointKey, ready bool) error {
	return p.cache.Apply(&model.ReadinessChanged{
		ID:        id,
		Endpoint:  endpoint,
		Ready:     ready,
		Timestamp: p.Clock.Now(),
	})
}

// SourceConnected returns true if the topology source is connected.
func (p *Plugin) SourceConnected() bool {
	return p.subscriber.Connected()
}
