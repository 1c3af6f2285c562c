// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kentronics/otamgr/internal/journal"
)

func init() {
	var clear bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List journaled update events",
		Run: func(cmd *cobra.Command, args []string) {
			doEvents(clear)
		},
		Args: cobra.NoArgs,
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "Delete the listed events after printing them.")
	rootCmd.AddCommand(cmd)
}

func doEvents(clear bool) {
	jrnl, err := journal.Open(config.JournalPath())
	DieNotNil(err, "Failed to open update journal")
	defer func() {
		_ = jrnl.Close()
	}()

	events, maxID, err := jrnl.List()
	DieNotNil(err, "Failed to read update journal")

	session := ""
	for _, ev := range events {
		if ev.SessionID != session {
			session = ev.SessionID
			fmt.Printf("Session %s\n", session)
		}
		line := fmt.Sprintf("  %s  %s", ev.DeviceTime, ev.Type)
		if ev.Detail != "" {
			line += "  " + ev.Detail
		}
		fmt.Println(line)
	}

	if clear && maxID >= 0 {
		DieNotNil(jrnl.Delete(maxID), "Failed to clear update journal")
	}
}
