// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package device wraps the host-level operations the daemon needs: the
// reboot primitive and the health snapshot reported by the monitoring
// task.
package device

import (
	"log/slog"
	"os/exec"

	"golang.org/x/sys/unix"
)

// SystemRestarter reboots the host. Restart does not return on success.
type SystemRestarter struct{}

func (SystemRestarter) Restart(reason string) {
	slog.Warn("restarting device", "reason", reason)
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		// Typically EPERM when running unprivileged; let init do it.
		slog.Error("direct reboot failed, falling back to reboot(8)", "error", err)
		if err := exec.Command("reboot").Run(); err != nil {
			slog.Error("reboot command failed", "error", err)
		}
	}
}
