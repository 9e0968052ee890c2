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

package cmdimpl

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/contiv/svcroute/plugins/netctl/remote"
	"github.com/contiv/svcroute/plugins/router/restapi"
)

func newTestCtl(t *testing.T, handler http.HandlerFunc) (*Ctl, *bytes.Buffer, func()) {
	RegisterTestingT(t)
	server := httptest.NewServer(handler)
	client, err := remote.CreateHTTPClient("")
	Expect(err).To(BeNil())
	out := &bytes.Buffer{}
	ctl := &Ctl{Client: client, Agent: strings.TrimPrefix(server.URL, "http://"), Out: out}
	return ctl, out, server.Close
}

func replyJSON(w http.ResponseWriter, status int, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(obj)
}

func TestPrintTable(t *testing.T) {
	ctl, out, stop := newTestCtl(t, func(w http.ResponseWriter, req *http.Request) {
		Expect(req.URL.Path).To(Equal(restapi.RestURLTable))
		replyJSON(w, http.StatusOK, restapi.Table{Version: 7, Entries: []restapi.TableEntry{
			{Service: "default/web", Kind: "Internal", StableAddress: "10.96.0.1", Ports: []string{"http:80->8080/TCP"},
				Endpoints: []restapi.Endpoint{{Address: "10.1.1.1", Port: 8080}}, Revision: 7},
			{Service: "default/down", Kind: "Internal", NoEligible: true, TotalEndpoints: 2, Revision: 3},
		}})
	})
	defer stop()

	Expect(ctl.PrintTable()).To(Succeed())
	Expect(out.String()).To(ContainSubstring("Forwarding table version: 7"))
	Expect(out.String()).To(ContainSubstring("10.1.1.1:8080"))
	Expect(out.String()).To(ContainSubstring("<none eligible of 2>"))
}

func TestSelectQuery(t *testing.T) {
	ctl, out, stop := newTestCtl(t, func(w http.ResponseWriter, req *http.Request) {
		query := req.URL.Query()
		Expect(query.Get(restapi.ServiceParam)).To(Equal("default/web"))
		Expect(query.Get(restapi.ClientParam)).To(Equal("1.2.3.4"))
		Expect(query).ToNot(HaveKey(restapi.NodeParam))
		replyJSON(w, http.StatusOK, restapi.Selection{
			Service:  "default/web",
			Endpoint: restapi.Endpoint{Address: "10.1.1.2", Port: 8080, Node: "node2"},
		})
	})
	defer stop()

	Expect(ctl.Select("default/web", "1.2.3.4", "", "")).To(Succeed())
	Expect(out.String()).To(Equal("10.1.1.2:8080 (node node2)\n"))
}

func TestAgentErrorIsReturned(t *testing.T) {
	ctl, _, stop := newTestCtl(t, func(w http.ResponseWriter, req *http.Request) {
		replyJSON(w, http.StatusServiceUnavailable, restapi.Error{Error: "no eligible endpoint"})
	})
	defer stop()

	err := ctl.Resolve("default/web")
	Expect(err).ToNot(BeNil())
	Expect(err.Error()).To(Equal("no eligible endpoint (HTTP 503)"))
}

func TestSetReadiness(t *testing.T) {
	var received restapi.ReadinessUpdate
	ctl, _, stop := newTestCtl(t, func(w http.ResponseWriter, req *http.Request) {
		Expect(req.Method).To(Equal("POST"))
		Expect(json.NewDecoder(req.Body).Decode(&received)).To(Succeed())
		replyJSON(w, http.StatusOK, received)
	})
	defer stop()

	Expect(ctl.SetReadiness("default/web", "10.1.1.1", 8080, false)).To(Succeed())
	Expect(received).To(Equal(restapi.ReadinessUpdate{Service: "default/web", Address: "10.1.1.1", Port: 8080}))
}
