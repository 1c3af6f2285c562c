// Copyright (c) Kentronics Systems, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJournal_RecordAndList(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer func() {
		require.NoError(t, j.Close())
	}()

	events, maxID, err := j.List()
	require.NoError(t, err)
	require.Empty(t, events)
	require.Equal(t, int64(-1), maxID)

	session := NewSessionID()
	require.NoError(t, j.Record(session, UpdateStarted, ""))
	require.NoError(t, j.Record(session, UpdateProgress, "50%"))
	require.NoError(t, j.Record(session, UpdateCompleted, ""))

	events, maxID, err = j.List()
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Greater(t, maxID, int64(0))

	require.Equal(t, UpdateStarted, events[0].Type)
	require.Equal(t, UpdateProgress, events[1].Type)
	require.Equal(t, "50%", events[1].Detail)
	require.Equal(t, UpdateCompleted, events[2].Type)
	for _, ev := range events {
		require.Equal(t, session, ev.SessionID)
		require.NotEmpty(t, ev.ID)
		require.NotEmpty(t, ev.DeviceTime)
	}
}

func TestJournal_SessionsAreSortable(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	require.NotEqual(t, a, b)
	require.LessOrEqual(t, a, b)
}

func TestJournal_Delete(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer func() {
		require.NoError(t, j.Close())
	}()

	session := NewSessionID()
	require.NoError(t, j.Record(session, UpdateStarted, ""))
	require.NoError(t, j.Record(session, UpdateFailed, "receive failed"))

	_, maxID, err := j.List()
	require.NoError(t, err)

	// A record landing after the read must survive the delete.
	require.NoError(t, j.Record(NewSessionID(), DeviceRestart, ""))
	require.NoError(t, j.Delete(maxID))

	events, _, err := j.List()
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, DeviceRestart, events[0].Type)
}

func TestJournal_ReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(NewSessionID(), UpdateStarted, ""))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, j.Close())
	}()
	events, _, err := j.List()
	require.NoError(t, err)
	require.Len(t, events, 1)
}
