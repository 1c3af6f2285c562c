// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package console runs the line-based operator console on the daemon's
// standard input, the replacement for the serial shell of the embedded
// build.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

type Handler func(ctx context.Context, w io.Writer) error

type command struct {
	name    string
	summary string
	run     Handler
}

type Console struct {
	in  io.Reader
	out io.Writer

	mu       sync.Mutex
	commands map[string]command
}

func New(in io.Reader, out io.Writer) *Console {
	c := &Console{
		in:       in,
		out:      out,
		commands: map[string]command{},
	}
	c.Register("help", "list available commands", c.help)
	return c
}

// Register adds a command. Re-registering a name replaces it.
func (c *Console) Register(name, summary string, run Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands[strings.ToLower(name)] = command{name: name, summary: summary, run: run}
}

// Run reads commands until input ends or ctx is canceled. Unknown input
// gets a pointer to help rather than an error return; the console must
// never take the daemon down.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				slog.Debug("console input closed")
				return nil
			}
			c.dispatch(ctx, strings.TrimSpace(line))
		}
	}
}

func (c *Console) dispatch(ctx context.Context, line string) {
	if line == "" {
		return
	}
	name := strings.ToLower(strings.Fields(line)[0])

	c.mu.Lock()
	cmd, ok := c.commands[name]
	c.mu.Unlock()
	if !ok {
		fmt.Fprintf(c.out, "unknown command %q, try \"help\"\n", name)
		return
	}
	if err := cmd.run(ctx, c.out); err != nil {
		fmt.Fprintf(c.out, "%s: %v\n", cmd.name, err)
	}
}

func (c *Console) help(_ context.Context, w io.Writer) error {
	c.mu.Lock()
	commands := make([]command, 0, len(c.commands))
	for _, cmd := range c.commands {
		commands = append(commands, cmd)
	}
	c.mu.Unlock()

	sort.Slice(commands, func(i, j int) bool { return commands[i].name < commands[j].name })
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", cmd.name, cmd.summary)
	}
	return nil
}
