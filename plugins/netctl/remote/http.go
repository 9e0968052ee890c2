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

package remote

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ligato/cn-infra/config"
	"github.com/pkg/errors"
)

const defaultPort = "9191"

// HTTPClient wraps http.Client with configured authorization and url base
type HTTPClient struct {
	// Config for this client
	Config *HTTPClientConfig

	http *http.Client
}

// HTTPClientConfig is configuration for http client
type HTTPClientConfig struct {
	// Port on what agents are listening on
	Port string `json:"port"`
	// Basic authorization for client
	BasicAuth string `json:"basic-auth"`
	// If https or http should be used
	UseHTTPS bool `json:"use-https"`
	// Timeout of a single request
	Timeout time.Duration `json:"timeout"`
}

// CreateHTTPClient uses environment variable HTTP_CLIENT_CONFIG or HTTP config file to establish connection
func CreateHTTPClient(configFile string) (*HTTPClient, error) {
	if configFile == "" {
		configFile = os.Getenv("HTTP_CLIENT_CONFIG")
	}

	cfg := &HTTPClientConfig{Port: defaultPort, Timeout: 10 * time.Second}
	if configFile != "" {
		if err := config.ParseConfigFromYamlFile(configFile, cfg); err != nil {
			return nil, err
		}
	}

	return &HTTPClient{
		Config: cfg,
		http:   &http.Client{Transport: &http.Transport{}, Timeout: cfg.Timeout},
	}, nil
}

// Helper function to create url from config
func (client *HTTPClient) createURL(base string, cmd string) string {
	url := "http://"
	if client.Config.UseHTTPS {
		url = "https://"
	}
	if !strings.Contains(base, ":") {
		base = base + ":" + client.Config.Port
	}
	return url + base + "/" + strings.TrimPrefix(cmd, "/")
}

func (client *HTTPClient) do(req *http.Request) (*http.Response, error) {
	if len(client.Config.BasicAuth) > 0 {
		fields := strings.Split(client.Config.BasicAuth, ":")
		if len(fields) != 2 {
			return nil, errors.Errorf("invalid format of basic auth entry '%v' expected 'user:pass'", client.Config.BasicAuth)
		}
		req.SetBasicAuth(fields[0], fields[1])
	}
	return client.http.Do(req)
}

// Get creates http get request prefixing cmd with base and using correct authentication
func (client *HTTPClient) Get(base string, cmd string) (*http.Response, error) {
	req, err := http.NewRequest("GET", client.createURL(base, cmd), nil)
	if err != nil {
		return nil, err
	}
	return client.do(req)
}

// Post creates http post request prefixing cmd with base and using correct authentication
func (client *HTTPClient) Post(base string, cmd string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest("POST", client.createURL(base, cmd), bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return client.do(req)
}

// GetJSON sends GET request and decodes the JSON reply into <reply>.
func (client *HTTPClient) GetJSON(base string, cmd string, reply interface{}) error {
	resp, err := client.Get(base, cmd)
	if err != nil {
		return err
	}
	return decodeReply(resp, reply)
}

// PostJSON sends <request> encoded as JSON and decodes the JSON reply into <reply>.
func (client *HTTPClient) PostJSON(base string, cmd string, request, reply interface{}) error {
	body, err := json.Marshal(request)
	if err != nil {
		return err
	}
	resp, err := client.Post(base, cmd, body)
	if err != nil {
		return err
	}
	return decodeReply(resp, reply)
}

// decodeReply turns non-2xx replies into errors carrying the error message
// returned by the agent.
func decodeReply(resp *http.Response, reply interface{}) error {
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var agentErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &agentErr) == nil && agentErr.Error != "" {
			return errors.Errorf("%s (HTTP %d)", agentErr.Error, resp.StatusCode)
		}
		return errors.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if reply == nil {
		return nil
	}
	return json.Unmarshal(b, reply)
}
