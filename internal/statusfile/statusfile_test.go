package statusfile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteThenReadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "status.json")

	want := Snapshot{
		TickID:           "tick-42",
		StartedAt:        time.Now().UTC().Truncate(time.Second),
		CompletedAt:      time.Now().UTC().Truncate(time.Second),
		CoursesProcessed: 12,
		OpenedCount:      2,
		ClosedCount:      1,
		ErrorCount:       0,
		NextIntervalMS:   5000,
		PID:              1234,
	}

	require.NoError(t, Write(path, want))

	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, want.TickID, got.TickID)
	require.Equal(t, want.CoursesProcessed, got.CoursesProcessed)
	require.Equal(t, want.OpenedCount, got.OpenedCount)
	require.True(t, want.StartedAt.Equal(got.StartedAt))
}

func TestReadMissingFileReturnsZeroValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, Snapshot{}, got)
}

func TestWriteOverwritesExistingFileAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")

	require.NoError(t, Write(path, Snapshot{TickID: "first"}))
	require.NoError(t, Write(path, Snapshot{TickID: "second"}))

	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, "second", got.TickID)
}
