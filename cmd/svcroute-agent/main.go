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

package main

import (
	"github.com/ligato/cn-infra/agent"
	"github.com/ligato/cn-infra/health/probe"
	"github.com/ligato/cn-infra/logging/logrus"
	"github.com/ligato/cn-infra/rpc/prometheus"
	"github.com/ligato/cn-infra/servicelabel"

	"github.com/contiv/svcroute/plugins/router"
	"github.com/contiv/svcroute/plugins/router/config"
	"github.com/contiv/svcroute/plugins/router/topology"
	"github.com/contiv/svcroute/plugins/topologysource/k8s"
)

// SvcRouteAgent routes service traffic of one node.
type SvcRouteAgent struct {
	ServiceLabel servicelabel.ReaderAPI
	HealthProbe  *probe.Plugin
	Prometheus   *prometheus.Plugin
	K8sTopology  *k8s.Plugin
	Router       *router.Plugin
}

func (s *SvcRouteAgent) String() string {
	return "SvcRouteAgent"
}

// Init is called at startup phase. Method added in order to implement Plugin interface.
func (s *SvcRouteAgent) Init() error {
	return nil
}

// Close is called at cleanup phase. Method added in order to implement Plugin interface.
func (s *SvcRouteAgent) Close() error {
	return nil
}

func main() {
	k8sTopology := &k8s.DefaultPlugin

	router.DefaultPlugin.Sources = map[string]topology.Source{
		config.K8sSource: k8sTopology,
	}

	svcRouteAgent := &SvcRouteAgent{
		ServiceLabel: &servicelabel.DefaultPlugin,
		HealthProbe:  &probe.DefaultPlugin,
		Prometheus:   &prometheus.DefaultPlugin,
		K8sTopology:  k8sTopology,
		Router:       &router.DefaultPlugin,
	}

	a := agent.NewAgent(agent.AllPlugins(svcRouteAgent))
	if err := a.Run(); err != nil {
		logrus.DefaultLogger().Fatal(err)
	}
}
