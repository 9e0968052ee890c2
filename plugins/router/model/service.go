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
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// ServiceKind determines how a virtual service is compiled and resolved.
type ServiceKind int

const (
	// Internal service is reachable on its stable address inside the cluster.
	Internal ServiceKind = iota

	// NodeExposed service is additionally reachable on every node's port.
	NodeExposed

	// ExternallyExposed service requests an externally reachable address
	// from the provisioner.
	ExternallyExposed

	// Headless service has no stable address and is never load-balanced,
	// consumers receive the raw list of eligible endpoints.
	Headless

	// AliasOnly service is a pure name redirection to an external DNS name.
	AliasOnly
)

// String converts ServiceKind into a human-readable string.
func (k ServiceKind) String() string {
	switch k {
	case Internal:
		return "internal"
	case NodeExposed:
		return "node-exposed"
	case ExternallyExposed:
		return "externally-exposed"
	case Headless:
		return "headless"
	case AliasOnly:
		return "alias-only"
	}
	return "INVALID"
}

// ParseServiceKind is the inverse of ServiceKind.String().
func ParseServiceKind(str string) (ServiceKind, error) {
	for _, kind := range []ServiceKind{Internal, NodeExposed, ExternallyExposed, Headless, AliasOnly} {
		if strings.EqualFold(kind.String(), str) {
			return kind, nil
		}
	}
	return Internal, errors.Errorf("unknown service kind: %q", str)
}

// HasStableAddress returns true for kinds that get a stable internal address.
func (k ServiceKind) HasStableAddress() bool {
	switch k {
	case Internal, NodeExposed, ExternallyExposed:
		return true
	case Headless, AliasOnly:
		return false
	}
	return false
}

// ProtocolType is either TCP, UDP or SCTP.
type ProtocolType int

const (
	// TCP protocol.
	TCP ProtocolType = 6

	// UDP protocol.
	UDP ProtocolType = 17

	// SCTP protocol.
	SCTP ProtocolType = 132
)

// String converts ProtocolType into a human-readable string.
func (pt ProtocolType) String() string {
	switch pt {
	case TCP:
		return "TCP"
	case UDP:
		return "UDP"
	case SCTP:
		return "SCTP"
	}
	return "INVALID"
}

// ParseProtocol converts protocol name into ProtocolType, empty string is TCP.
func ParseProtocol(str string) (ProtocolType, error) {
	switch strings.ToUpper(str) {
	case "", "TCP":
		return TCP, nil
	case "UDP":
		return UDP, nil
	case "SCTP":
		return SCTP, nil
	}
	return TCP, errors.Errorf("unknown protocol: %q", str)
}

// ServicePort contains information on service's port.
type ServicePort struct {
	Name           string
	Protocol       ProtocolType
	ExposedPort    uint16 /* port exposed on the stable address */
	TargetPort     uint16 /* backend port, 0 if referenced by name */
	TargetPortName string /* backend port name, used when TargetPort is 0 */
	NodePort       uint16 /* port exposed on every node (NodeExposed, ExternallyExposed) */
}

// String converts ServicePort into a human-readable string.
func (sp ServicePort) String() string {
	target := sp.TargetPortName
	if sp.TargetPort != 0 {
		target = fmt.Sprintf("%d", sp.TargetPort)
	}
	if sp.NodePort == 0 {
		return fmt.Sprintf("%s:%d->%s/%s", sp.Name, sp.ExposedPort, target, sp.Protocol)
	}
	return fmt.Sprintf("%s:%d:%d->%s/%s", sp.Name, sp.ExposedPort, sp.NodePort, target, sp.Protocol)
}

// AffinityMode is either None or ClientAddress.
type AffinityMode int

const (
	// NoAffinity selects a random endpoint for every decision.
	NoAffinity AffinityMode = iota

	// ClientAddressAffinity sticks a client to the same endpoint for the timeout.
	ClientAddressAffinity
)

// String converts AffinityMode into a human-readable string.
func (m AffinityMode) String() string {
	switch m {
	case NoAffinity:
		return "none"
	case ClientAddressAffinity:
		return "client-address"
	}
	return "INVALID"
}

// SessionAffinity of a virtual service.
// Zero Timeout with ClientAddressAffinity means the configured default.
type SessionAffinity struct {
	Mode    AffinityMode
	Timeout time.Duration
}

// String converts SessionAffinity into a human-readable string.
func (sa SessionAffinity) String() string {
	if sa.Mode == ClientAddressAffinity {
		return fmt.Sprintf("%s(%s)", sa.Mode, sa.Timeout)
	}
	return sa.Mode.String()
}

// TrafficPolicyType is either Cluster-wide routing or Node-local only routing.
type TrafficPolicyType int

const (
	// ClusterWide allows to load-balance traffic across all backends.
	ClusterWide TrafficPolicyType = iota

	// NodeLocal allows to load-balance traffic only across node-local backends.
	NodeLocal
)

// String converts TrafficPolicyType into a human-readable string.
func (tpt TrafficPolicyType) String() string {
	switch tpt {
	case ClusterWide:
		return "cluster-wide"
	case NodeLocal:
		return "node-local"
	}
	return "INVALID"
}

// VirtualService is a named, namespaced routing intent.
type VirtualService struct {
	ID              ID
	Kind            ServiceKind
	Ports           []ServicePort
	Selector        map[string]string /* opaque, used only by the topology source */
	SessionAffinity SessionAffinity
	TrafficPolicy   TrafficPolicyType

	// StableAddress is assigned by the topology cache (or dictated by the source)
	// for kinds with stable address. Once assigned, it never changes.
	StableAddress net.IP

	// AliasTarget is the DNS name that AliasOnly service redirects to.
	AliasTarget string
}

// Validate checks the service definition for consistency.
func (vs *VirtualService) Validate() error {
	if vs.ID.Name == "" {
		return errors.New("service without name")
	}
	switch vs.Kind {
	case AliasOnly:
		if _, ok := dns.IsDomainName(vs.AliasTarget); !ok || vs.AliasTarget == "" {
			return errors.Errorf("service %s: invalid alias target %q", vs.ID, vs.AliasTarget)
		}
		if len(vs.Ports) > 0 {
			return errors.Errorf("service %s: alias-only service cannot declare ports", vs.ID)
		}
	case Internal, NodeExposed, ExternallyExposed, Headless:
		names := make(map[string]struct{})
		for _, port := range vs.Ports {
			if _, duplicate := names[port.Name]; duplicate {
				return errors.Errorf("service %s: duplicate port name %q", vs.ID, port.Name)
			}
			names[port.Name] = struct{}{}
		}
	default:
		return errors.Errorf("service %s: invalid kind %d", vs.ID, vs.Kind)
	}
	return nil
}

// AliasFQDN returns the alias target in the fully qualified form.
func (vs *VirtualService) AliasFQDN() string {
	if vs.AliasTarget == "" {
		return ""
	}
	return dns.Fqdn(vs.AliasTarget)
}

// Copy creates a deep copy of the service.
func (vs *VirtualService) Copy() *VirtualService {
	if vs == nil {
		return nil
	}
	vsCopy := *vs
	vsCopy.Ports = append([]ServicePort(nil), vs.Ports...)
	if vs.Selector != nil {
		vsCopy.Selector = make(map[string]string, len(vs.Selector))
		for k, v := range vs.Selector {
			vsCopy.Selector[k] = v
		}
	}
	if vs.StableAddress != nil {
		vsCopy.StableAddress = append(net.IP(nil), vs.StableAddress...)
	}
	return &vsCopy
}

// String converts VirtualService into a human-readable string.
func (vs VirtualService) String() string {
	ports := make([]string, 0, len(vs.Ports))
	for _, port := range vs.Ports {
		ports = append(ports, port.String())
	}
	if vs.Kind == AliasOnly {
		return fmt.Sprintf("VirtualService %s <Kind:%s Alias:%s>", vs.ID, vs.Kind, vs.AliasTarget)
	}
	return fmt.Sprintf("VirtualService %s <Kind:%s Address:%s Ports:[%s] Affinity:%s Traffic-Policy:%s>",
		vs.ID, vs.Kind, vs.StableAddress, strings.Join(ports, ", "), vs.SessionAffinity, vs.TrafficPolicy)
}
