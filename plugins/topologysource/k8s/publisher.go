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

	"github.com/pkg/errors"
	coreV1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/contiv/svcroute/plugins/router/model"
)

// PublishExternalAddress writes the external address into the load-balancer
// status of the service.
func (p *Plugin) PublishExternalAddress(id model.ID, address net.IP) error {
	ingress := []coreV1.LoadBalancerIngress{{IP: address.String()}}
	return p.updateIngress(id, ingress)
}

// ClearExternalAddress removes the external address from the load-balancer
// status of the service. Service that no longer exists is not an error.
func (p *Plugin) ClearExternalAddress(id model.ID) error {
	err := p.updateIngress(id, nil)
	if k8serrors.IsNotFound(errors.Cause(err)) {
		return nil
	}
	return err
}

func (p *Plugin) updateIngress(id model.ID, ingress []coreV1.LoadBalancerIngress) error {
	client, err := p.getClient()
	if err != nil {
		return err
	}
	services := client.CoreV1().Services(id.Namespace)
	svc, err := services.Get(id.Name, metav1.GetOptions{})
	if err != nil {
		return errors.Wrapf(err, "failed to get service %s", id)
	}
	if ingressEqual(svc.Status.LoadBalancer.Ingress, ingress) {
		return nil
	}
	svc.Status.LoadBalancer.Ingress = ingress
	if _, err := services.UpdateStatus(svc); err != nil {
		return errors.Wrapf(err, "failed to update status of service %s", id)
	}
	p.Log.WithField("service", id).Debugf("Updated load-balancer ingress: %v", ingress)
	return nil
}

func ingressEqual(a, b []coreV1.LoadBalancerIngress) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
