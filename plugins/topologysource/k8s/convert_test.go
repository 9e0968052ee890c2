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
	"testing"
	"time"

	"github.com/ligato/cn-infra/logging/logrus"
	. "github.com/onsi/gomega"
	sirupsen "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	coreV1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/contiv/svcroute/plugins/router/model"
)

func TestServiceToModel(t *testing.T) {
	RegisterTestingT(t)

	timeout := int32(600)
	svc := &coreV1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "default", ResourceVersion: "42"},
		Spec: coreV1.ServiceSpec{
			Type:      coreV1.ServiceTypeLoadBalancer,
			ClusterIP: "10.96.0.10",
			Ports: []coreV1.ServicePort{
				{Name: "http", Protocol: coreV1.ProtocolTCP, Port: 80, TargetPort: intstr.FromInt(8080), NodePort: 30080},
				{Name: "dns", Protocol: coreV1.ProtocolUDP, Port: 53, TargetPort: intstr.FromString("dns")},
				{Name: "raw", Protocol: coreV1.ProtocolSCTP, Port: 9000},
			},
			Selector:              map[string]string{"app": "web"},
			SessionAffinity:       coreV1.ServiceAffinityClientIP,
			SessionAffinityConfig: &coreV1.SessionAffinityConfig{ClientIP: &coreV1.ClientIPConfig{TimeoutSeconds: &timeout}},
			ExternalTrafficPolicy: coreV1.ServiceExternalTrafficPolicyTypeLocal,
		},
	}

	vs := serviceToModel(svc)
	Expect(vs.ID).To(Equal(model.ID{Namespace: "default", Name: "web"}))
	Expect(vs.Kind).To(Equal(model.ExternallyExposed))
	Expect(vs.StableAddress.String()).To(Equal("10.96.0.10"))
	Expect(vs.Ports).To(Equal([]model.ServicePort{
		{Name: "http", Protocol: model.TCP, ExposedPort: 80, TargetPort: 8080, NodePort: 30080},
		{Name: "dns", Protocol: model.UDP, ExposedPort: 53, TargetPortName: "dns"},
		{Name: "raw", Protocol: model.SCTP, ExposedPort: 9000, TargetPort: 9000},
	}))
	Expect(vs.Selector).To(HaveKeyWithValue("app", "web"))
	Expect(vs.SessionAffinity).To(Equal(model.SessionAffinity{Mode: model.ClientAddressAffinity, Timeout: 10 * time.Minute}))
	Expect(vs.TrafficPolicy).To(Equal(model.NodeLocal))
	Expect(vs.Validate()).To(Succeed())
}

func TestServiceKinds(t *testing.T) {
	RegisterTestingT(t)

	kindOf := func(spec coreV1.ServiceSpec) model.ServiceKind {
		return serviceToModel(&coreV1.Service{ObjectMeta: metav1.ObjectMeta{Name: "s"}, Spec: spec}).Kind
	}
	Expect(kindOf(coreV1.ServiceSpec{Type: coreV1.ServiceTypeClusterIP, ClusterIP: "10.96.0.1"})).To(Equal(model.Internal))
	Expect(kindOf(coreV1.ServiceSpec{Type: coreV1.ServiceTypeNodePort, ClusterIP: "10.96.0.1"})).To(Equal(model.NodeExposed))
	Expect(kindOf(coreV1.ServiceSpec{Type: coreV1.ServiceTypeClusterIP, ClusterIP: coreV1.ClusterIPNone})).To(Equal(model.Headless))
	Expect(kindOf(coreV1.ServiceSpec{Type: coreV1.ServiceTypeExternalName, ExternalName: "db.example.com"})).To(Equal(model.AliasOnly))

	headless := serviceToModel(&coreV1.Service{Spec: coreV1.ServiceSpec{ClusterIP: coreV1.ClusterIPNone}})
	Expect(headless.StableAddress).To(BeNil())

	alias := serviceToModel(&coreV1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: "db", Namespace: "default"},
		Spec: coreV1.ServiceSpec{
			Type:         coreV1.ServiceTypeExternalName,
			ExternalName: "db.example.com",
			Ports:        []coreV1.ServicePort{{Name: "sql", Port: 5432}},
		},
	})
	Expect(alias.AliasTarget).To(Equal("db.example.com"))
	Expect(alias.Ports).To(BeEmpty())
	Expect(alias.Validate()).To(Succeed())
}

func TestEndpointsToModel(t *testing.T) {
	RegisterTestingT(t)

	node1, node2 := "node1", "node2"
	eps := &coreV1.Endpoints{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "default"},
		Subsets: []coreV1.EndpointSubset{
			{
				Addresses:         []coreV1.EndpointAddress{{IP: "10.0.0.1", NodeName: &node1}},
				NotReadyAddresses: []coreV1.EndpointAddress{{IP: "10.0.0.2", NodeName: &node2}, {IP: "invalid"}},
				Ports:             []coreV1.EndpointPort{{Name: "http", Port: 8080, Protocol: coreV1.ProtocolTCP}},
			},
		},
	}

	set := endpointsToModel(eps, logrus.NewLogger("k8s-test"))
	Expect(set).To(HaveLen(2))
	list := set.List()
	Expect(list[0].Address.String()).To(Equal("10.0.0.1"))
	Expect(list[0].Port).To(BeEquivalentTo(8080))
	Expect(list[0].PortName).To(Equal("http"))
	Expect(list[0].Node).To(Equal("node1"))
	Expect(list[0].Ready).To(BeTrue())
	Expect(list[1].Node).To(Equal("node2"))
	Expect(list[1].Ready).To(BeFalse())
}

func TestEndpointsProtocolCollision(t *testing.T) {
	RegisterTestingT(t)

	logger := logrus.NewLogger("k8s-test")
	hook := &logtest.Hook{}
	logger.AddHook(hook)

	eps := &coreV1.Endpoints{
		ObjectMeta: metav1.ObjectMeta{Name: "dns", Namespace: "kube-system"},
		Subsets: []coreV1.EndpointSubset{
			{
				Addresses: []coreV1.EndpointAddress{{IP: "10.0.0.10"}},
				Ports: []coreV1.EndpointPort{
					{Name: "dns-tcp", Port: 53, Protocol: coreV1.ProtocolTCP},
					{Name: "dns", Port: 53, Protocol: coreV1.ProtocolUDP},
					{Name: "metrics", Port: 9153, Protocol: coreV1.ProtocolTCP},
				},
			},
		},
	}

	set := endpointsToModel(eps, logger)
	Expect(set).To(HaveLen(2))
	Expect(set[model.EndpointKey{Address: "10.0.0.10", Port: 53}].Protocol).To(Equal(model.UDP))

	var warnings int
	for _, entry := range hook.AllEntries() {
		if entry.Level == sirupsen.WarnLevel {
			warnings++
			Expect(entry.Data).To(HaveKeyWithValue("endpoint", model.EndpointKey{Address: "10.0.0.10", Port: 53}))
		}
	}
	Expect(warnings).To(Equal(1))
}

func TestResourceVersion(t *testing.T) {
	RegisterTestingT(t)

	version, ok := resourceVersion("1234")
	Expect(ok).To(BeTrue())
	Expect(version).To(BeEquivalentTo(1234))

	_, ok = resourceVersion("")
	Expect(ok).To(BeFalse())
}
