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

package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/contiv/svcroute/plugins/netctl/cmdimpl"
	"github.com/contiv/svcroute/plugins/netctl/remote"
)

var (
	agentAddr  string
	httpConfig string

	selectClient string
	selectNode   string
	selectPort   string
)

var cmdTable = &cobra.Command{
	Use:   "table",
	Short: "Shows the forwarding table of the agent",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ctl().PrintTable()
	},
}

var cmdServices = &cobra.Command{
	Use:   "services",
	Short: "Shows routed services with the number of eligible endpoints",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ctl().PrintServices()
	},
}

var cmdBindings = &cobra.Command{
	Use:   "bindings",
	Short: "Shows external bindings of externally exposed services",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ctl().PrintBindings()
	},
}

var cmdResolve = &cobra.Command{
	Use:   "resolve namespace/name",
	Short: "Resolves the address(es) of a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ctl().Resolve(args[0])
	},
}

var cmdSelect = &cobra.Command{
	Use:   "select namespace/name",
	Short: "Selects one endpoint of a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ctl().Select(args[0], selectClient, selectNode, selectPort)
	},
}

var cmdReady = &cobra.Command{
	Use:   "ready namespace/name address port",
	Short: "Marks an endpoint as ready",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setReadiness(args, true)
	},
}

var cmdNotReady = &cobra.Command{
	Use:   "notready namespace/name address port",
	Short: "Marks an endpoint as not ready",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setReadiness(args, false)
	},
}

func setReadiness(args []string, ready bool) error {
	port, err := strconv.ParseUint(args[2], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid port %q", args[2])
	}
	return ctl().SetReadiness(args[0], args[1], uint16(port), ready)
}

func ctl() *cmdimpl.Ctl {
	client, err := remote.CreateHTTPClient(httpConfig)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return &cmdimpl.Ctl{Client: client, Agent: agentAddr, Out: os.Stdout}
}

// Execute will execute the command svcroute-ctl
func Execute() {
	var rootCmd = &cobra.Command{Use: "svcroute-ctl", SilenceUsage: true}
	rootCmd.PersistentFlags().StringVarP(&agentAddr, "agent", "a", "localhost", "host[:port] of the router agent")
	rootCmd.PersistentFlags().StringVar(&httpConfig, "http-config", "", "HTTP client configuration file")

	cmdSelect.Flags().StringVar(&selectClient, "client", "", "client key for session affinity")
	cmdSelect.Flags().StringVar(&selectNode, "node", "", "requesting node (default: the agent's node)")
	cmdSelect.Flags().StringVar(&selectPort, "port", "", "name of the service port")

	rootCmd.AddCommand(cmdTable)
	rootCmd.AddCommand(cmdServices)
	rootCmd.AddCommand(cmdBindings)
	rootCmd.AddCommand(cmdResolve)
	rootCmd.AddCommand(cmdSelect)
	rootCmd.AddCommand(cmdReady)
	rootCmd.AddCommand(cmdNotReady)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
