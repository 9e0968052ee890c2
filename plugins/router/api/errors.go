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

package api

import (
	"github.com/pkg/errors"
)

/****************************** Routing decisions *****************************/

var (
	// ErrNoEligibleEndpoint is returned when the service has no endpoint
	// eligible for traffic. Callers should handle it as service-unavailable.
	ErrNoEligibleEndpoint = errors.New("no eligible endpoint")

	// ErrNoLocalEndpoint is returned for node-local traffic policy when
	// the requesting node has no co-located eligible endpoint. Eligible endpoints
	// may still exist on other nodes.
	ErrNoLocalEndpoint = errors.New("no local endpoint")

	// ErrUnknownService is returned for a service missing in the forwarding table.
	ErrUnknownService = errors.New("unknown service")

	// ErrHeadlessService is returned by Select for headless services, which are
	// never load-balanced.
	ErrHeadlessService = errors.New("headless service is not load-balanced")

	// ErrAliasService is returned by Select for alias-only services, which are
	// resolved to their alias target instead.
	ErrAliasService = errors.New("alias-only service is not load-balanced")
)

// IsNoEligibleEndpoint returns true if the (possibly wrapped) error is
// ErrNoEligibleEndpoint.
func IsNoEligibleEndpoint(err error) bool {
	return errors.Cause(err) == ErrNoEligibleEndpoint
}

// IsNoLocalEndpoint returns true if the (possibly wrapped) error is
// ErrNoLocalEndpoint.
func IsNoLocalEndpoint(err error) bool {
	return errors.Cause(err) == ErrNoLocalEndpoint
}

/********************************** Topology **********************************/

var (
	// ErrStaleEventDiscarded is returned by the topology cache for an event
	// carrying a version not newer than what is already applied.
	ErrStaleEventDiscarded = errors.New("stale event discarded")

	// ErrTopologySourceDisconnected is reported while the topology source
	// is unreachable. The last known-good forwarding table keeps serving.
	ErrTopologySourceDisconnected = errors.New("topology source disconnected")
)

// IsStaleEvent returns true if the (possibly wrapped) error is ErrStaleEventDiscarded.
func IsStaleEvent(err error) bool {
	return errors.Cause(err) == ErrStaleEventDiscarded
}

/******************************** Provisioning ********************************/

// ProvisioningFailedError wraps the reason why the provisioner failed to
// create an external address. The failure is recoverable, creation is retried
// with backoff.
type ProvisioningFailedError struct {
	Reason string
}

// NewProvisioningFailedError is the constructor for ProvisioningFailedError.
func NewProvisioningFailedError(origErr error) error {
	return &ProvisioningFailedError{Reason: origErr.Error()}
}

// Error returns the failure reason.
func (e *ProvisioningFailedError) Error() string {
	return "provisioning failed: " + e.Reason
}
