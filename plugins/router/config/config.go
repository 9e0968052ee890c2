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

package config

import (
	"time"
)

const (
	// pool of stable internal addresses used when the source does not assign one
	defaultServiceCIDR = "10.96.0.0/12"

	// matches the default client-IP session affinity timeout of K8s
	defaultAffinityTimeout = 3 * time.Hour

	defaultAffinityShards        = 32
	defaultAffinitySweepInterval = time.Minute

	defaultCompilerWorkers = 4

	// watch reconnect backoff grows exponentially up to the maximum
	defaultReconnectBaseDelay = 500 * time.Millisecond
	defaultReconnectMaxDelay  = 30 * time.Second

	defaultTopologyReloadInterval = 5 * time.Second

	defaultExposureWorkers         = 2
	defaultProvisionTimeout        = 30 * time.Second
	defaultProvisionRetryBaseDelay = time.Second
	defaultProvisionRetryMaxDelay  = 5 * time.Minute
	defaultMaxDeleteRetries        = 5
	defaultProvisionQPS            = 10
	defaultProvisionBurst          = 100

	// K8sSource selects the Kubernetes topology source.
	K8sSource = "k8s"

	// FileSource selects the YAML file topology source.
	FileSource = "file"
)

// Config holds the router configuration.
type Config struct {
	// pool for stable internal addresses
	ServiceCIDR string `json:"serviceCIDR"`

	// session affinity
	DefaultAffinityTimeout time.Duration `json:"defaultAffinityTimeout"`
	AffinityShards         int           `json:"affinityShards"`
	AffinitySweepInterval  time.Duration `json:"affinitySweepInterval"`

	// rule compiler
	CompilerWorkers int `json:"compilerWorkers"`

	// topology source
	TopologySource         string        `json:"topologySource"`
	TopologyFile           string        `json:"topologyFile"`
	TopologyReloadInterval time.Duration `json:"topologyReloadInterval"`
	ReconnectBaseDelay     time.Duration `json:"reconnectBaseDelay"`
	ReconnectMaxDelay      time.Duration `json:"reconnectMaxDelay"`

	// external exposure
	ExposureWorkers         int           `json:"exposureWorkers"`
	ProvisionTimeout        time.Duration `json:"provisionTimeout"`
	ProvisionRetryBaseDelay time.Duration `json:"provisionRetryBaseDelay"`
	ProvisionRetryMaxDelay  time.Duration `json:"provisionRetryMaxDelay"`
	MaxDeleteRetries        int           `json:"maxDeleteRetries"`
	ProvisionQPS            float64       `json:"provisionQPS"`
	ProvisionBurst          int           `json:"provisionBurst"`

	// CIDR from which the built-in provisioner hands out external addresses
	ExternalPool string `json:"externalPool"`

	// file where the built-in provisioner persists its allocations (optional)
	ExternalPoolStateFile string `json:"externalPoolStateFile"`
}

// DefaultConfig returns configuration for the router plugin with default values.
func DefaultConfig() *Config {
	return &Config{
		ServiceCIDR:             defaultServiceCIDR,
		DefaultAffinityTimeout:  defaultAffinityTimeout,
		AffinityShards:          defaultAffinityShards,
		AffinitySweepInterval:   defaultAffinitySweepInterval,
		CompilerWorkers:         defaultCompilerWorkers,
		TopologySource:          K8sSource,
		TopologyReloadInterval:  defaultTopologyReloadInterval,
		ReconnectBaseDelay:      defaultReconnectBaseDelay,
		ReconnectMaxDelay:       defaultReconnectMaxDelay,
		ExposureWorkers:         defaultExposureWorkers,
		ProvisionTimeout:        defaultProvisionTimeout,
		ProvisionRetryBaseDelay: defaultProvisionRetryBaseDelay,
		ProvisionRetryMaxDelay:  defaultProvisionRetryMaxDelay,
		MaxDeleteRetries:        defaultMaxDeleteRetries,
		ProvisionQPS:            defaultProvisionQPS,
		ProvisionBurst:          defaultProvisionBurst,
	}
}
