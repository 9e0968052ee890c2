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

package model

import (
	"fmt"
	"time"
)

// Event is a change delivered by the topology source.
// Every event except ReadinessChanged carries a monotonically increasing
// version of the resource it refers to.
type Event interface {
	// ServiceID returns the identity of the virtual service the event refers to.
	ServiceID() ID

	// String
	String() string
}

// ServiceUpserted is delivered when a virtual service is created or changed.
type ServiceUpserted struct {
	Service *VirtualService
	Version uint64
}

// ServiceID returns ID of the upserted service.
func (ev *ServiceUpserted) ServiceID() ID {
	return ev.Service.ID
}

// String describes the event.
func (ev *ServiceUpserted) String() string {
	return fmt.Sprintf("ServiceUpserted %s (v%d)", ev.Service.ID, ev.Version)
}

// ServiceDeleted is delivered when a virtual service is removed.
type ServiceDeleted struct {
	ID      ID
	Version uint64
}

// ServiceID returns ID of the deleted service.
func (ev *ServiceDeleted) ServiceID() ID {
	return ev.ID
}

// String describes the event.
func (ev *ServiceDeleted) String() string {
	return fmt.Sprintf("ServiceDeleted %s (v%d)", ev.ID, ev.Version)
}

// EndpointsUpserted carries the complete endpoint set of one service.
type EndpointsUpserted struct {
	ID        ID
	Endpoints EndpointSet
	Version   uint64
}

// ServiceID returns ID of the service owning the endpoints.
func (ev *EndpointsUpserted) ServiceID() ID {
	return ev.ID
}

// String describes the event.
func (ev *EndpointsUpserted) String() string {
	return fmt.Sprintf("EndpointsUpserted %s (v%d, %d endpoints)", ev.ID, ev.Version, len(ev.Endpoints))
}

// EndpointsDeleted is delivered when the endpoints object of a service is removed.
type EndpointsDeleted struct {
	ID      ID
	Version uint64
}

// ServiceID returns ID of the service owning the endpoints.
func (ev *EndpointsDeleted) ServiceID() ID {
	return ev.ID
}

// String describes the event.
func (ev *EndpointsDeleted) String() string {
	return fmt.Sprintf("EndpointsDeleted %s (v%d)", ev.ID, ev.Version)
}

// ReadinessChanged flips the ready flag of a single endpoint.
// It is produced by an external health checker; Timestamp orders the updates
// of the same endpoint.
type ReadinessChanged struct {
	ID        ID
	Endpoint  EndpointKey
	Ready     bool
	Timestamp time.Time
}

// ServiceID returns ID of the service owning the endpoint.
func (ev *ReadinessChanged) ServiceID() ID {
	return ev.ID
}

// String describes the event.
func (ev *ReadinessChanged) String() string {
	return fmt.Sprintf("ReadinessChanged %s %s ready=%t", ev.ID, ev.Endpoint, ev.Ready)
}

// ChangeType classifies TopologyChanged notifications.
type ChangeType int

const (
	// ServiceChanged means the service definition was added or changed.
	ServiceChanged ChangeType = iota

	// ServiceRemoved means the service no longer exists.
	ServiceRemoved

	// EndpointsChanged means the endpoint set or readiness of some endpoint changed.
	EndpointsChanged
)

// String converts ChangeType into a human-readable string.
func (ct ChangeType) String() string {
	switch ct {
	case ServiceChanged:
		return "service-changed"
	case ServiceRemoved:
		return "service-removed"
	case EndpointsChanged:
		return "endpoints-changed"
	}
	return "INVALID"
}

// TopologyChanged is emitted by the topology cache on every mutation.
type TopologyChanged struct {
	ID     ID
	Change ChangeType
}

// String describes the notification.
func (tc TopologyChanged) String() string {
	return fmt.Sprintf("TopologyChanged %s (%s)", tc.ID, tc.Change)
}
