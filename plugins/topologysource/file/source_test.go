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

package file

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ligato/cn-infra/logging/logrus"
	. "github.com/onsi/gomega"

	"github.com/contiv/svcroute/plugins/router/model"
)

const topologyV1 = `
services:
  - name: web
    kind: internal
    address: 10.96.0.10
    sessionAffinity: client-address
    affinityTimeout: 10m
    ports:
      - name: http
        port: 80
        targetPort: 8080
    endpoints:
      - address: 10.0.0.1
        port: 8080
        portName: http
        node: node1
      - address: 10.0.0.2
        port: 8080
        portName: http
        node: node2
        ready: false
  - namespace: ext
    name: db
    kind: alias-only
    aliasTarget: db.example.com
`

const topologyV2 = `
services:
  - name: web
    kind: node-exposed
    trafficPolicy: node-local
    ports:
      - name: http
        protocol: tcp
        port: 80
        targetPort: 8080
        nodePort: 30080
`

type recordingHandler struct {
	sync.Mutex
	resyncs [][]model.Event
}

func (h *recordingHandler) Apply(event model.Event) error {
	return nil
}

func (h *recordingHandler) Resync(snapshot []model.Event) error {
	h.Lock()
	defer h.Unlock()
	h.resyncs = append(h.resyncs, snapshot)
	return nil
}

func (h *recordingHandler) count() int {
	h.Lock()
	defer h.Unlock()
	return len(h.resyncs)
}

func (h *recordingHandler) last() []model.Event {
	h.Lock()
	defer h.Unlock()
	return h.resyncs[len(h.resyncs)-1]
}

func writeFile(t *testing.T, path, content string) {
	if err := ioutil.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFileSource(t *testing.T) {
	RegisterTestingT(t)

	dir, err := ioutil.TempDir("", "topology")
	Expect(err).To(BeNil())
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "topology.yaml")
	writeFile(t, path, topologyV1)

	source := NewSource(Deps{Log: logrus.DefaultLogger()}, path, 10*time.Millisecond)
	Expect(source.String()).To(Equal("file:" + path))

	handler := &recordingHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	watchErr := make(chan error, 1)
	go func() { watchErr <- source.Watch(ctx, handler) }()

	Eventually(handler.count, time.Second).Should(Equal(1))
	events := handler.last()
	Expect(events).To(HaveLen(3))

	svcEv := events[0].(*model.ServiceUpserted)
	Expect(svcEv.Version).To(BeEquivalentTo(1))
	Expect(svcEv.Service.ID).To(Equal(model.ID{Namespace: "default", Name: "web"}))
	Expect(svcEv.Service.Kind).To(Equal(model.Internal))
	Expect(svcEv.Service.StableAddress.String()).To(Equal("10.96.0.10"))
	Expect(svcEv.Service.SessionAffinity.Mode).To(Equal(model.ClientAddressAffinity))
	Expect(svcEv.Service.SessionAffinity.Timeout).To(Equal(10 * time.Minute))
	Expect(svcEv.Service.Ports).To(Equal([]model.ServicePort{
		{Name: "http", Protocol: model.TCP, ExposedPort: 80, TargetPort: 8080},
	}))

	epsEv := events[1].(*model.EndpointsUpserted)
	Expect(epsEv.Endpoints).To(HaveLen(2))
	eps := epsEv.Endpoints.List()
	Expect(eps[0].Ready).To(BeTrue())
	Expect(eps[0].Node).To(Equal("node1"))
	Expect(eps[1].Ready).To(BeFalse())

	aliasEv := events[2].(*model.ServiceUpserted)
	Expect(aliasEv.Service.ID).To(Equal(model.ID{Namespace: "ext", Name: "db"}))
	Expect(aliasEv.Service.Kind).To(Equal(model.AliasOnly))

	// unchanged content is not resynced again
	Consistently(handler.count, 50*time.Millisecond).Should(Equal(1))

	writeFile(t, path, topologyV2)
	Eventually(handler.count, time.Second).Should(Equal(2))
	events = handler.last()
	Expect(events).To(HaveLen(2))
	svcEv = events[0].(*model.ServiceUpserted)
	Expect(svcEv.Version).To(BeEquivalentTo(2))
	Expect(svcEv.Service.Kind).To(Equal(model.NodeExposed))
	Expect(svcEv.Service.TrafficPolicy).To(Equal(model.NodeLocal))
	Expect(svcEv.Service.Ports[0].NodePort).To(BeEquivalentTo(30080))

	cancel()
	Eventually(watchErr, time.Second).Should(Receive(BeNil()))
}

func TestInvalidFileBreaksWatch(t *testing.T) {
	RegisterTestingT(t)

	dir, err := ioutil.TempDir("", "topology")
	Expect(err).To(BeNil())
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "topology.yaml")

	source := NewSource(Deps{Log: logrus.DefaultLogger()}, path, 10*time.Millisecond)
	handler := &recordingHandler{}

	// missing file
	Expect(source.Watch(context.Background(), handler)).ToNot(Succeed())

	writeFile(t, path, "services:\n  - name: web\n    kind: bogus\n")
	err = source.Watch(context.Background(), handler)
	Expect(err).ToNot(BeNil())
	Expect(err.Error()).To(ContainSubstring("unknown service kind"))

	writeFile(t, path, "services:\n  - name: web\n  - name: web\n")
	err = source.Watch(context.Background(), handler)
	Expect(err).ToNot(BeNil())
	Expect(err.Error()).To(ContainSubstring("duplicate service"))
	Expect(handler.count()).To(Equal(0))
}
