// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kentronics/otamgr/internal/device"
	"github.com/kentronics/otamgr/pkg/netcheck"
)

func init() {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the device configuration and network readiness",
		Run:   doStatus,
		Args:  cobra.NoArgs,
	}
	rootCmd.AddCommand(cmd)
}

func doStatus(cmd *cobra.Command, args []string) {
	h := device.CollectHealth()
	oracle := netcheck.New()

	fmt.Printf("Hostname:       %s\n", config.Hostname())
	if id := config.HardwareID(); id != "" {
		fmt.Printf("Hardware ID:    %s\n", id)
	}
	fmt.Printf("Update port:    %d\n", config.Port())
	fmt.Printf("Authentication: %v\n", config.Password() != "")
	fmt.Printf("Network ready:  %v\n", oracle.Check())
	if h.Address != "" {
		fmt.Printf("Address:        %s\n", h.Address)
	}
	fmt.Printf("Uptime:         %s\n", h.Uptime.Round(time.Second))
	fmt.Printf("Journal:        %s\n", config.JournalPath())
}
