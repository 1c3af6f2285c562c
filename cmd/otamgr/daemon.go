// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kentronics/otamgr/internal/console"
	"github.com/kentronics/otamgr/internal/device"
	"github.com/kentronics/otamgr/internal/journal"
	"github.com/kentronics/otamgr/internal/sensor"
	"github.com/kentronics/otamgr/internal/transport/push"
	"github.com/kentronics/otamgr/pkg/update"
	"github.com/kentronics/otamgr/pkg/watchdog"
)

type daemonOptions struct {
	noConsole bool
}

func init() {
	opts := daemonOptions{}
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the device agent: update receiver, watchdog and sensor tasks",
		Run: func(cmd *cobra.Command, args []string) {
			doDaemon(cmd, &opts)
		},
		Args: cobra.NoArgs,
	}
	cmd.Flags().BoolVar(&opts.noConsole, "no-console", false, "Do not read operator commands from stdin.")
	rootCmd.AddCommand(cmd)
}

// journalist ties journal events of one update attempt together under a
// session id and spaces the progress records out to 25% milestones.
type journalist struct {
	jrnl *journal.Journal

	mu        sync.Mutex
	session   string
	milestone int
}

func (j *journalist) record(eventType journal.EventType, detail string) {
	j.mu.Lock()
	session := j.session
	j.mu.Unlock()
	if err := j.jrnl.Record(session, eventType, detail); err != nil {
		slog.Error("failed to journal update event", "type", eventType, "error", err)
	}
}

func (j *journalist) start() {
	j.mu.Lock()
	j.session = journal.NewSessionID()
	j.milestone = 0
	j.mu.Unlock()
	j.record(journal.UpdateStarted, "")
}

func (j *journalist) progress(transferred, total uint64) {
	if total == 0 {
		return
	}
	percent := int(transferred * 100 / total)
	j.mu.Lock()
	milestone := percent / 25
	passed := milestone > j.milestone
	if passed {
		j.milestone = milestone
	}
	j.mu.Unlock()
	if passed {
		slog.Info("update progress", "percent", milestone*25)
		j.record(journal.UpdateProgress, fmt.Sprintf("%d%%", milestone*25))
	}
}

func doDaemon(cmd *cobra.Command, opts *daemonOptions) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	restarter := device.SystemRestarter{}

	jrnl, err := journal.Open(config.JournalPath())
	DieNotNil(err, "Failed to open update journal")
	defer func() {
		_ = jrnl.Close()
	}()

	receiver := push.New(config.StorageDir())
	defer func() {
		_ = receiver.Close()
	}()

	registry := watchdog.NewRegistry(restarter,
		watchdog.WithStatsInterval(config.WatchdogStatsInterval()))

	coordinator := update.NewCoordinator(receiver, restarter,
		update.WithGraceDelay(config.RestartGrace()),
		update.WithLogIntervals(config.StatusLogInterval(), config.ErrorLogInterval()),
		update.WithFeed(func() { registry.Feed("update") }))

	DieNotNil(coordinator.Initialize(config.Hostname(), config.Password(), config.Port(), nil),
		"Failed to initialize update subsystem")

	sampler := sensor.New()
	journo := &journalist{jrnl: jrnl}

	// Lifecycle wiring: transfers suspend sampling, failures resume it,
	// success journals and restarts into the new image.
	DieNotNil(coordinator.SetStartHook(func() {
		sampler.Suspend()
		journo.start()
	}))
	DieNotNil(coordinator.SetProgressHook(journo.progress))
	DieNotNil(coordinator.SetErrorHook(func(kind update.ErrorKind) {
		journo.record(journal.UpdateFailed, kind.String())
		sampler.Resume()
	}))
	grace := config.RestartGrace()
	DieNotNil(coordinator.SetEndHook(func() {
		journo.record(journal.UpdateCompleted, "")
		journo.record(journal.DeviceRestart, "update applied")
		slog.Info("update complete, restarting device", "grace", grace)
		time.Sleep(grace)
		restarter.Restart("update applied")
		// Reached only when the restart could not be performed.
		stop()
	}))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return registry.Run(ctx)
	})
	g.Go(func() error {
		return registry.RunSupervised(ctx, watchdog.Task{
			Name:     "update",
			Period:   config.CheckInterval(),
			Timeout:  config.WatchdogTimeout(),
			Critical: true,
			Work:     coordinator.HandleUpdates,
		})
	})
	g.Go(func() error {
		return registry.RunSupervised(ctx, watchdog.Task{
			Name:    "sensor",
			Period:  config.SensorInterval(),
			Timeout: config.WatchdogTimeout(),
			Work: func(context.Context) error {
				return sampler.Sample()
			},
		})
	})
	g.Go(func() error {
		return registry.RunSupervised(ctx, watchdog.Task{
			Name:       "monitor",
			Period:     config.MonitorInterval(),
			Timeout:    4 * config.MonitorInterval(),
			StartDelay: config.MonitorInterval(),
			Work: func(context.Context) error {
				logHealth(coordinator, sampler)
				return nil
			},
		})
	})
	if !opts.noConsole {
		g.Go(func() error {
			return runConsole(ctx, stop, coordinator, sampler, restarter, journo)
		})
	}

	slog.Info("device agent running",
		"hostname", config.Hostname(),
		"port", config.Port(),
		"check_interval", config.CheckInterval())
	DieNotNil(g.Wait(), "Device agent failed")
	slog.Info("device agent stopped")
}

func logHealth(coordinator *update.Coordinator, sampler *sensor.Sampler) {
	h := device.CollectHealth()
	st := coordinator.CurrentStatus()
	reading, samples := sampler.Last()
	slog.Info("device health",
		"addr", h.Address,
		"uptime", h.Uptime.Round(time.Second),
		"heap_bytes", h.HeapBytes,
		"goroutines", h.Goroutines,
		"update_in_progress", st.InProgress,
		"sensor_samples", samples,
		"temperature", reading.Temperature)
}

func runConsole(ctx context.Context, stop context.CancelFunc,
	coordinator *update.Coordinator, sampler *sensor.Sampler,
	restarter device.SystemRestarter, journo *journalist) error {
	cons := console.New(os.Stdin, os.Stdout)
	cons.Register("status", "print device and update status", func(_ context.Context, w io.Writer) error {
		h := device.CollectHealth()
		st := coordinator.CurrentStatus()
		reading, samples := sampler.Last()
		fmt.Fprintf(w, "host:       %s (%s)\n", h.Hostname, h.Address)
		fmt.Fprintf(w, "uptime:     %s\n", h.Uptime.Round(time.Second))
		fmt.Fprintf(w, "update:     initialized=%v in_progress=%v port=%d\n", st.Initialized, st.InProgress, st.Port)
		fmt.Fprintf(w, "sensors:    suspended=%v samples=%d temp=%.1f hum=%.1f\n",
			sampler.Suspended(), samples, reading.Temperature, reading.Humidity)
		fmt.Fprintf(w, "heap:       %d bytes, %d goroutines\n", h.HeapBytes, h.Goroutines)
		return nil
	})
	cons.Register("shutdown", "stop the daemon", func(_ context.Context, w io.Writer) error {
		fmt.Fprintln(w, "shutting down")
		stop()
		return nil
	})
	cons.Register("reboot", "restart the device", func(_ context.Context, w io.Writer) error {
		journo.record(journal.DeviceRestart, "operator request")
		fmt.Fprintln(w, "rebooting")
		restarter.Restart("operator request")
		return nil
	})
	return cons.Run(ctx)
}
