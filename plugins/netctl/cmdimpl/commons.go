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

// Package cmdimpl implements the commands of svcroute-ctl on top of the REST
// API of the router agent.
package cmdimpl

import (
	"io"
	"text/tabwriter"

	"github.com/contiv/svcroute/plugins/netctl/remote"
)

// Ctl executes commands against one router agent.
type Ctl struct {
	Client *remote.HTTPClient
	Agent  string /* host or host:port of the agent */
	Out    io.Writer
}

func (c *Ctl) tabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(c.Out, 0, 8, 2, ' ', 0)
}

func orNone(str string) string {
	if str == "" {
		return "<none>"
	}
	return str
}
