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

package servicelabel

import (
	"sync"
)

// allAgentsPrefix is the key prefix common to all agents.
const allAgentsPrefix = "/svcroute/"

// MockServiceLabel implements servicelabel.ReaderAPI with the agent label
// (node identity) settable from tests.
type MockServiceLabel struct {
	sync.RWMutex
	agentLabel string
}

// NewMockServiceLabel is a constructor for MockServiceLabel.
func NewMockServiceLabel(agentLabel string) *MockServiceLabel {
	return &MockServiceLabel{agentLabel: agentLabel}
}

// SetAgentLabel changes the label returned by GetAgentLabel.
func (msl *MockServiceLabel) SetAgentLabel(label string) {
	msl.Lock()
	defer msl.Unlock()
	msl.agentLabel = label
}

// GetAgentLabel returns the label of this agent.
func (msl *MockServiceLabel) GetAgentLabel() string {
	msl.RLock()
	defer msl.RUnlock()
	return msl.agentLabel
}

// GetAgentPrefix returns the key prefix of this agent.
func (msl *MockServiceLabel) GetAgentPrefix() string {
	return msl.GetDifferentAgentPrefix(msl.GetAgentLabel())
}

// GetDifferentAgentPrefix returns the key prefix of the agent with the given label.
func (msl *MockServiceLabel) GetDifferentAgentPrefix(microserviceLabel string) string {
	return allAgentsPrefix + microserviceLabel + "/"
}

// GetAllAgentsPrefix returns the key prefix common to all agents.
func (msl *MockServiceLabel) GetAllAgentsPrefix() string {
	return allAgentsPrefix
}
