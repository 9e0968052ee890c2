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
	"time"

	"github.com/ligato/cn-infra/logging"
	prometheusplugin "github.com/ligato/cn-infra/rpc/prometheus"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/contiv/svcroute/plugins/router/api"
)

const (
	prometheusStatsPath = "/stats"
	updateInterval      = 10 * time.Second

	nodeLabel    = "node"
	serviceLabel = "service"
	stateLabel   = "state"
	resultLabel  = "result"

	tableVersionMetric      = "table_version"
	eligibleEndpointsMetric = "eligible_endpoints"
	externalBindingsMetric  = "external_bindings"
	sourceConnectedMetric   = "topology_source_connected"
	staleEventsMetric       = "stale_events"
	selectionsMetric        = "selections"

	// values of the result label
	selectionOK         = "ok"
	selectionNoEligible = "no-eligible-endpoint"
	selectionNoLocal    = "no-local-endpoint"
	selectionRejected   = "rejected"
)

// statsCollector exports the state of the router to Prometheus.
type statsCollector struct {
	Log        logging.Logger
	Prometheus prometheusplugin.API /* optional */
	router     *Plugin

	tableVersion      prometheus.Gauge
	eligibleEndpoints *prometheus.GaugeVec
	externalBindings  *prometheus.GaugeVec
	sourceConnected   prometheus.Gauge
	staleEvents       prometheus.CounterFunc
	selections        *prometheus.CounterVec
}

func newStatsCollector(log logging.Logger, prom prometheusplugin.API, router *Plugin, node string) *statsCollector {
	constLabels := prometheus.Labels{nodeLabel: node}
	return &statsCollector{
		Log:        log,
		Prometheus: prom,
		router:     router,
		tableVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        tableVersionMetric,
			Help:        "Version of the published forwarding table",
			ConstLabels: constLabels,
		}),
		eligibleEndpoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        eligibleEndpointsMetric,
			Help:        "Number of endpoints eligible for traffic",
			ConstLabels: constLabels,
		}, []string{serviceLabel}),
		externalBindings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        externalBindingsMetric,
			Help:        "Number of external bindings by provisioning state",
			ConstLabels: constLabels,
		}, []string{stateLabel}),
		sourceConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        sourceConnectedMetric,
			Help:        "1 if the topology source is connected, 0 otherwise",
			ConstLabels: constLabels,
		}),
		staleEvents: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        staleEventsMetric,
			Help:        "Number of topology events discarded as stale",
			ConstLabels: constLabels,
		}, func() float64 {
			return float64(router.cache.StaleEvents())
		}),
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        selectionsMetric,
			Help:        "Number of endpoint selections by result",
			ConstLabels: constLabels,
		}, []string{resultLabel}),
	}
}

// init registers all metrics with the Prometheus plugin.
func (sc *statsCollector) init() error {
	if sc.Prometheus == nil {
		sc.Log.Warn("No Prometheus plugin provided, router statistics will not be exported")
		return nil
	}
	err := sc.Prometheus.NewRegistry(prometheusStatsPath,
		promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError, ErrorLog: sc.Log})
	if err != nil {
		sc.Log.Errorf("failed to create Prometheus registry for path '%s', error %s", prometheusStatsPath, err)
		return err
	}
	collectors := []prometheus.Collector{
		sc.tableVersion, sc.eligibleEndpoints, sc.externalBindings,
		sc.sourceConnected, sc.staleEvents, sc.selections,
	}
	for _, collector := range collectors {
		if err := sc.Prometheus.Register(prometheusStatsPath, collector); err != nil {
			return errors.Wrap(err, "failed to register router metric")
		}
	}
	return nil
}

// run periodically updates the gauges until closeCh is closed.
func (sc *statsCollector) run(closeCh <-chan struct{}) {
	for {
		sc.update()
		select {
		case <-closeCh:
			return
		case <-time.After(updateInterval):
		}
	}
}

// update refreshes the gauges from the current state of the router.
func (sc *statsCollector) update() {
	router := sc.router
	tbl := router.compiler.Current()
	sc.tableVersion.Set(float64(tbl.Version()))

	sc.eligibleEndpoints.Reset()
	for _, entry := range tbl.Entries() {
		sc.eligibleEndpoints.WithLabelValues(entry.Service.String()).Set(float64(len(entry.Endpoints)))
	}

	counts := make(map[api.BindingPhase]int)
	for _, binding := range router.Bindings() {
		counts[binding.Phase]++
	}
	for _, phase := range []api.BindingPhase{api.Pending, api.Provisioning, api.Bound, api.Failed} {
		sc.externalBindings.WithLabelValues(phase.String()).Set(float64(counts[phase]))
	}

	if router.subscriber.Connected() {
		sc.sourceConnected.Set(1)
	} else {
		sc.sourceConnected.Set(0)
	}
}

// countSelection counts the result of one selection.
func (sc *statsCollector) countSelection(err error) {
	result := selectionOK
	switch {
	case err == nil:
	case api.IsNoEligibleEndpoint(err):
		result = selectionNoEligible
	case api.IsNoLocalEndpoint(err):
		result = selectionNoLocal
	default:
		result = selectionRejected
	}
	sc.selections.WithLabelValues(result).Inc()
}
