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

// Package readiness decides which endpoints are eligible for traffic.
package readiness

import (
	"github.com/contiv/svcroute/plugins/router/model"
)

// Policy decides what happens when a service has endpoints, but none of them
// is ready.
type Policy int

const (
	// FailClosed reports the service as having no eligible endpoint.
	// Traffic is refused rather than routed to not-ready backends.
	FailClosed Policy = iota

	// FailOpen treats all endpoints as eligible if none of them is ready.
	// Intended only for test harnesses; it is not exposed through
	// the plugin configuration.
	FailOpen
)

// String converts Policy into a human-readable string.
func (p Policy) String() string {
	switch p {
	case FailClosed:
		return "fail-closed"
	case FailOpen:
		return "fail-open"
	}
	return "INVALID"
}

// Result of the readiness filtering.
type Result struct {
	// Eligible endpoints ordered by (address, port).
	Eligible []model.Endpoint

	// NoEligible is set when the set is non-empty but no endpoint is eligible.
	NoEligible bool

	// Total number of endpoints in the input set.
	Total int
}

// Filter derives eligibility of endpoints. Zero value is a fail-closed filter.
type Filter struct {
	Policy Policy
}

// Eligible returns the endpoints eligible for traffic.
func (f *Filter) Eligible(set model.EndpointSet) Result {
	res := Result{Total: len(set)}
	for _, ep := range set {
		if ep.Ready {
			res.Eligible = append(res.Eligible, ep)
		}
	}
	if len(res.Eligible) == 0 && len(set) > 0 {
		if f.Policy == FailOpen {
			return Result{Eligible: set.List(), Total: len(set)}
		}
		res.NoEligible = true
	}
	model.SortEndpoints(res.Eligible)
	return res
}
