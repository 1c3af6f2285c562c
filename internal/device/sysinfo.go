// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package device

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/kentronics/otamgr/pkg/netcheck"
)

// Health is the periodic snapshot the monitoring task logs and the status
// command prints.
type Health struct {
	Hostname   string        `json:"hostname"`
	Address    string        `json:"address,omitempty"`
	Uptime     time.Duration `json:"uptime"`
	HeapBytes  uint64        `json:"heapBytes"`
	SysBytes   uint64        `json:"sysBytes"`
	Goroutines int           `json:"goroutines"`
}

// CollectHealth gathers the snapshot. Fields that cannot be determined
// are left at their zero value rather than failing the report.
func CollectHealth() Health {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	host, _ := os.Hostname()
	return Health{
		Hostname:   host,
		Address:    netcheck.LocalAddr(),
		Uptime:     uptime(),
		HeapBytes:  mem.HeapAlloc,
		SysBytes:   mem.Sys,
		Goroutines: runtime.NumGoroutine(),
	}
}

func uptime() time.Duration {
	b, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
