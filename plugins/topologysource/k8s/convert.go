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

package k8s

import (
	"net"
	"strconv"
	"time"

	"github.com/ligato/cn-infra/logging"
	coreV1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/contiv/svcroute/plugins/router/model"
)

// serviceID returns ID of the virtual service corresponding to the K8s object.
func serviceID(name, namespace string) model.ID {
	return model.ID{Name: name, Namespace: namespace}
}

// resourceVersion converts K8s resource version into event version.
// K8s resource versions are etcd revisions, i.e. monotonically increasing
// integers, even though their format is officially opaque.
func resourceVersion(rv string) (uint64, bool) {
	version, err := strconv.ParseUint(rv, 10, 64)
	return version, err == nil
}

// serviceToModel converts K8s service into virtual service.
func serviceToModel(svc *coreV1.Service) *model.VirtualService {
	vs := &model.VirtualService{
		ID: serviceID(svc.GetName(), svc.GetNamespace()),
	}

	switch {
	case svc.Spec.Type == coreV1.ServiceTypeExternalName:
		vs.Kind = model.AliasOnly
		vs.AliasTarget = svc.Spec.ExternalName
		// ports of ExternalName services have no meaning for the routing
		return vs
	case svc.Spec.ClusterIP == coreV1.ClusterIPNone:
		vs.Kind = model.Headless
	case svc.Spec.Type == coreV1.ServiceTypeLoadBalancer:
		vs.Kind = model.ExternallyExposed
	case svc.Spec.Type == coreV1.ServiceTypeNodePort:
		vs.Kind = model.NodeExposed
	default:
		vs.Kind = model.Internal
	}

	if vs.Kind != model.Headless && svc.Spec.ClusterIP != "" {
		vs.StableAddress = net.ParseIP(svc.Spec.ClusterIP)
	}

	for _, port := range svc.Spec.Ports {
		sp := model.ServicePort{
			Name:        port.Name,
			Protocol:    protocolToModel(port.Protocol),
			ExposedPort: uint16(port.Port),
			NodePort:    uint16(port.NodePort),
		}
		switch port.TargetPort.Type {
		case intstr.Int:
			sp.TargetPort = uint16(port.TargetPort.IntVal)
		case intstr.String:
			sp.TargetPortName = port.TargetPort.StrVal
		}
		if sp.TargetPort == 0 && sp.TargetPortName == "" {
			// K8s defaults the target port to the service port
			sp.TargetPort = sp.ExposedPort
		}
		vs.Ports = append(vs.Ports, sp)
	}

	if len(svc.Spec.Selector) > 0 {
		vs.Selector = make(map[string]string, len(svc.Spec.Selector))
		for k, v := range svc.Spec.Selector {
			vs.Selector[k] = v
		}
	}

	if svc.Spec.SessionAffinity == coreV1.ServiceAffinityClientIP {
		vs.SessionAffinity.Mode = model.ClientAddressAffinity
		if cfg := svc.Spec.SessionAffinityConfig; cfg != nil && cfg.ClientIP != nil && cfg.ClientIP.TimeoutSeconds != nil {
			vs.SessionAffinity.Timeout = time.Duration(*cfg.ClientIP.TimeoutSeconds) * time.Second
		}
	}

	if svc.Spec.ExternalTrafficPolicy == coreV1.ServiceExternalTrafficPolicyTypeLocal {
		vs.TrafficPolicy = model.NodeLocal
	}
	return vs
}

// endpointsToModel converts K8s endpoints into endpoint set.
// Endpoints are keyed by address and port, ports differing only in protocol
// collapse into one endpoint (the last one wins).
func endpointsToModel(eps *coreV1.Endpoints, log logging.Logger) model.EndpointSet {
	set := model.NewEndpointSet()
	add := func(ep model.Endpoint) {
		if existing, has := set[ep.Key()]; has && existing.Protocol != ep.Protocol {
			log.WithFields(logging.Fields{
				"service":  serviceID(eps.GetName(), eps.GetNamespace()),
				"endpoint": ep.Key(),
				"replaced": existing.Protocol,
				"protocol": ep.Protocol,
			}).Warn("Endpoint port used with multiple protocols, only one is kept")
		}
		set.Add(ep)
	}
	for _, subset := range eps.Subsets {
		for _, port := range subset.Ports {
			for _, addr := range subset.Addresses {
				if ep, ok := endpointToModel(addr, port, true); ok {
					add(ep)
				}
			}
			for _, addr := range subset.NotReadyAddresses {
				if ep, ok := endpointToModel(addr, port, false); ok {
					add(ep)
				}
			}
		}
	}
	return set
}

func endpointToModel(addr coreV1.EndpointAddress, port coreV1.EndpointPort, ready bool) (model.Endpoint, bool) {
	ip := net.ParseIP(addr.IP)
	if ip == nil {
		return model.Endpoint{}, false
	}
	ep := model.Endpoint{
		Address:  ip,
		Port:     uint16(port.Port),
		PortName: port.Name,
		Protocol: protocolToModel(port.Protocol),
		Ready:    ready,
	}
	if addr.NodeName != nil {
		ep.Node = *addr.NodeName
	}
	return ep, true
}

func protocolToModel(protocol coreV1.Protocol) model.ProtocolType {
	switch protocol {
	case coreV1.ProtocolUDP:
		return model.UDP
	case coreV1.ProtocolSCTP:
		return model.SCTP
	}
	return model.TCP
}
