// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"github.com/spf13/cobra"

	"github.com/kentronics/otamgr/internal/device"
	"github.com/kentronics/otamgr/internal/journal"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reboot",
		Short: "Journal a restart request and reboot the device",
		Run:   doReboot,
		Args:  cobra.NoArgs,
	}
	rootCmd.AddCommand(cmd)
}

func doReboot(cmd *cobra.Command, args []string) {
	if jrnl, err := journal.Open(config.JournalPath()); err == nil {
		_ = jrnl.Record(journal.NewSessionID(), journal.DeviceRestart, "operator request")
		_ = jrnl.Close()
	}
	device.SystemRestarter{}.Restart("operator request")
}
