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
	"context"
	"net"

	"github.com/contiv/svcroute/plugins/router/model"
)

// RouterAPI is the API exposed by the router plugin to components that forward
// packets/requests (Select), to name resolution (Resolve) and to monitoring.
type RouterAPI interface {
	// Select chooses one eligible endpoint for a connection/request.
	// Returns ErrNoEligibleEndpoint, ErrNoLocalEndpoint, ErrUnknownService,
	// ErrHeadlessService or ErrAliasService if no endpoint can be selected.
	// Select never blocks on external I/O.
	Select(req SelectRequest) (model.Endpoint, error)

	// Resolve returns the address(es) under which the service is reachable,
	// depending on its kind.
	Resolve(id model.ID) (*Resolution, error)

	// TableVersion returns the version of the currently published forwarding table.
	TableVersion() uint64

	// Services returns a snapshot of all services in the forwarding table.
	Services() []ServiceSummary

	// Bindings returns a snapshot of all external bindings.
	Bindings() []Binding
}

// SelectRequest describes a single traffic decision.
type SelectRequest struct {
	// Service to select endpoint for.
	Service model.ID

	// ClientKey identifies the client for session affinity (typically its address).
	ClientKey string

	// Node is the identity of the requesting node. Empty means this node.
	Node string

	// PortName optionally restricts selection to endpoints serving the given
	// service port.
	PortName string
}

// Resolution is the result of address resolution. Which fields are set
// depends on Kind:
//  - Internal, NodeExposed: StableAddress
//  - ExternallyExposed: StableAddress + ExternalAddress (once bound)
//  - Headless: Endpoints (the full eligible set, unfiltered by load balancing)
//  - AliasOnly: AliasTarget
type Resolution struct {
	Service         model.ID
	Kind            model.ServiceKind
	StableAddress   net.IP
	ExternalAddress net.IP
	AliasTarget     string
	Endpoints       []model.Endpoint
}

// ServiceSummary is an observability snapshot of one forwarding table entry.
type ServiceSummary struct {
	Service           model.ID
	Kind              string
	TrafficPolicy     string
	SessionAffinity   string
	EligibleEndpoints int
	TotalEndpoints    int
	Revision          uint64 /* table version in which the entry was last compiled */
}

/******************************* External binding *****************************/

// BindingPhase is the provisioning state of an external binding.
type BindingPhase int

const (
	// Pending binding awaits the first provisioning attempt.
	Pending BindingPhase = iota

	// Provisioning means the provisioner's create operation is in progress.
	Provisioning

	// Bound binding has an external address.
	Bound

	// Failed binding will be re-attempted after backoff.
	Failed
)

// String converts BindingPhase into a human-readable string.
func (p BindingPhase) String() string {
	switch p {
	case Pending:
		return "Pending"
	case Provisioning:
		return "Provisioning"
	case Bound:
		return "Bound"
	case Failed:
		return "Failed"
	}
	return "INVALID"
}

// Binding is a snapshot of the external binding of one service.
type Binding struct {
	Service  model.ID
	Phase    BindingPhase
	Address  net.IP /* set for Bound */
	Reason   string /* set for Failed */
	Attempts int
	Deleting bool
}

// BindingID identifies the binding towards the provisioner. It is derived
// from the service identity and therefore known before Create returns.
type BindingID string

// BindingIDFor returns the binding ID of the given service.
func BindingIDFor(id model.ID) BindingID {
	return BindingID(id.String())
}

// Provisioner obtains externally reachable addresses for virtual services.
// Any cloud-specific behaviour is an implementation detail of the provisioner.
// Both operations may block on external I/O and must honour ctx cancellation.
type Provisioner interface {
	// Create provisions an external address for the service.
	// Deletion of a binding being provisioned cancels ctx and then waits
	// for Create to return, so the implementation must give up promptly
	// once ctx is done.
	Create(ctx context.Context, id BindingID, spec *model.VirtualService) (net.IP, error)

	// Delete releases whatever was (or was being) provisioned for the binding.
	// Deleting unknown binding is not an error.
	Delete(ctx context.Context, id BindingID) error
}

// Publisher makes the external identity of a service discoverable outside
// of the router (e.g. in the status of the K8s service).
type Publisher interface {
	// PublishExternalAddress is called once the binding becomes Bound.
	PublishExternalAddress(id model.ID, address net.IP) error

	// ClearExternalAddress is called once the binding is removed.
	ClearExternalAddress(id model.ID) error
}
