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

// Package router implements the service routing control plane.
//
// The plugin is split into layers, each implemented in its own sub-package:
//
//   topology source --> topology.Cache --> compiler.Compiler --> table.ForwardingTable
//                             |                    |                     |
//                             |               swap hooks                 v
//                             |                    +------------> selector.Selector
//                             v
//                    exposure.Reconciler --> api.Provisioner
//
// The topology cache mirrors virtual services and their endpoints as reported
// by the topology source (K8s or a YAML file). Every change is pushed to the
// compiler, which recompiles the forwarding table entry of the changed service,
// with endpoints filtered by the readiness filter, and publishes a new immutable
// version of the table. Selection of an endpoint for a connection/request reads
// the current table version only and never blocks on I/O; the traffic policy
// of the service is applied by the policy enforcer, session affinity is kept
// in a sharded affinity store invalidated synchronously with every table swap.
//
// Services of the ExternallyExposed kind are also followed by the exposure
// reconciler, which obtains an external address through the provisioner
// in a separate, slower loop.
//
// The plugin exposes the decision API (Select, Resolve) for Go callers and over
// REST, together with read-only snapshots of the forwarding table and external
// bindings, Prometheus metrics and plugin status for the health check.
package router
