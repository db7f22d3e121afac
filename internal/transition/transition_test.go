package transition

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/reapergt/poller/internal/model"
)

func baseRecord() *model.CrnRecord {
	return &model.CrnRecord{
		CRN:                    "12345",
		CourseName:             "Intro to Computing",
		CourseID:               "CS 1301",
		CourseSection:          "A",
		IsOpen:                 false,
		SeatsRemaining:         0,
		TotalSeats:             30,
		TrackingUsers:          map[string]struct{}{"u1": {}},
		ConsecutiveClosedCheck: 7,
	}
}

func TestDetectFetchErrorDoesNotFlipIsOpen(t *testing.T) {
	prev := baseRecord()
	prev.IsOpen = false
	res := Detect(prev, nil, errors.New("boom"), time.Now())

	require.Equal(t, Failed, res.Kind)
	require.False(t, res.Record.IsOpen)
	require.Equal(t, 8, res.Record.ConsecutiveClosedCheck)
}

func TestDetectOpenedResetsConsecutiveClosedChecks(t *testing.T) {
	prev := baseRecord()
	now := time.Now()

	res := Detect(prev, &model.Observation{
		CourseName: "Intro to Computing", CourseID: "CS 1301", CourseSection: "A",
		IsOpen: true, SeatsRemaining: 1, TotalSeats: 30, ObservedAt: now,
	}, nil, now)

	require.Equal(t, Opened, res.Kind)
	require.True(t, res.Record.IsOpen)
	require.Equal(t, 0, res.Record.ConsecutiveClosedCheck)
	require.NotNil(t, res.Record.LastStatusChange)
	require.Contains(t, res.Record.TrackingUsers, "u1")
}

func TestDetectClosedSetsConsecutiveClosedChecksToOne(t *testing.T) {
	prev := baseRecord()
	prev.IsOpen = true
	prev.SeatsRemaining = 2
	prev.ConsecutiveClosedCheck = 0
	now := time.Now()

	res := Detect(prev, &model.Observation{
		CourseName: "Intro to Computing", CourseID: "CS 1301", CourseSection: "A",
		IsOpen: false, SeatsRemaining: 0, TotalSeats: 30, ObservedAt: now,
	}, nil, now)

	require.Equal(t, Closed, res.Kind)
	require.False(t, res.Record.IsOpen)
	require.Equal(t, 1, res.Record.ConsecutiveClosedCheck)
	require.NotNil(t, res.Record.LastStatusChange)
}

func TestDetectUnchangedWhenNothingDiffers(t *testing.T) {
	prev := baseRecord()
	now := time.Now()

	res := Detect(prev, &model.Observation{
		CourseName: prev.CourseName, CourseID: prev.CourseID, CourseSection: prev.CourseSection,
		IsOpen: false, SeatsRemaining: 0, TotalSeats: prev.TotalSeats, ObservedAt: now,
	}, nil, now)

	require.Equal(t, Unchanged, res.Kind)
	require.Equal(t, 8, res.Record.ConsecutiveClosedCheck)
}

func TestDetectMetadataWhenSameOpenFlagButFieldsDiffer(t *testing.T) {
	prev := baseRecord()
	now := time.Now()

	res := Detect(prev, &model.Observation{
		CourseName: "Intro to Computing (renamed)", CourseID: prev.CourseID, CourseSection: prev.CourseSection,
		IsOpen: false, SeatsRemaining: 0, TotalSeats: prev.TotalSeats, ObservedAt: now,
	}, nil, now)

	require.Equal(t, Metadata, res.Kind)
	require.Equal(t, "Intro to Computing (renamed)", res.Record.CourseName)
}

func TestDetectConsecutiveClosedChecksZeroWhenOpenTwiceInARow(t *testing.T) {
	prev := baseRecord()
	prev.IsOpen = true
	prev.ConsecutiveClosedCheck = 0
	now := time.Now()

	res := Detect(prev, &model.Observation{
		CourseName: prev.CourseName, CourseID: prev.CourseID, CourseSection: prev.CourseSection,
		IsOpen: true, SeatsRemaining: 3, TotalSeats: prev.TotalSeats, ObservedAt: now,
	}, nil, now)

	require.Equal(t, Metadata, res.Kind) // seats_remaining moved 0->3, so this is a metadata refresh not UNCHANGED
	require.Equal(t, 0, res.Record.ConsecutiveClosedCheck)
}

// TestScenarioFirstTimeOpening is literal scenario 1 from spec.md §8 (the
// detection half; notification dispatch is exercised in internal/notify).
func TestScenarioFirstTimeOpening(t *testing.T) {
	prev := &model.CrnRecord{
		CRN: "12345", IsOpen: false, SeatsRemaining: 0, TotalSeats: 30,
		ConsecutiveClosedCheck: 7, TrackingUsers: map[string]struct{}{"u1": {}},
	}
	now := time.Now()

	res := Detect(prev, &model.Observation{
		IsOpen: true, SeatsRemaining: 1, TotalSeats: 30, ObservedAt: now,
	}, nil, now)

	require.Equal(t, Opened, res.Kind)
	require.Equal(t, 0, res.Record.ConsecutiveClosedCheck)
	require.NotNil(t, res.Record.LastStatusChange)
}

// TestScenarioReopeningAfterClose is literal scenario 3.
func TestScenarioReopeningAfterClose(t *testing.T) {
	prev := &model.CrnRecord{
		CRN: "12345", IsOpen: true, SeatsRemaining: 1, TotalSeats: 30,
		TrackingUsers: map[string]struct{}{"u1": {}},
	}
	now := time.Now()

	closed := Detect(prev, &model.Observation{IsOpen: false, SeatsRemaining: 0, TotalSeats: 30, ObservedAt: now}, nil, now)
	require.Equal(t, Closed, closed.Kind)

	reopened := Detect(closed.Record, &model.Observation{IsOpen: true, SeatsRemaining: 2, TotalSeats: 30, ObservedAt: now}, nil, now)
	require.Equal(t, Opened, reopened.Kind)
}

// TestScenarioFetchErrorDoesNotFlipState is literal scenario 5.
func TestScenarioFetchErrorDoesNotFlipState(t *testing.T) {
	prev := &model.CrnRecord{CRN: "33333", IsOpen: false, ConsecutiveClosedCheck: 3}
	res := Detect(prev, nil, errors.New("503"), time.Now())

	require.Equal(t, Failed, res.Kind)
	require.False(t, res.Record.IsOpen)
	require.Equal(t, 4, res.Record.ConsecutiveClosedCheck)
}

// TestDetectIsPureAndDeterministic pins down that Detect has no hidden
// state: calling it twice with byte-identical inputs must produce
// structurally identical results.
func TestDetectIsPureAndDeterministic(t *testing.T) {
	prev := baseRecord()
	now := time.Now()
	obs := &model.Observation{
		CourseName: "Intro to Computing", CourseID: "CS 1301", CourseSection: "A",
		IsOpen: true, SeatsRemaining: 1, TotalSeats: 30, ObservedAt: now,
	}

	first := Detect(prev, obs, nil, now)
	second := Detect(prev, obs, nil, now)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Detect is not deterministic (-first +second):\n%s", diff)
	}
}

func TestDetectPreservesTrackingUsers(t *testing.T) {
	prev := baseRecord()
	now := time.Now()
	res := Detect(prev, &model.Observation{
		CourseName: prev.CourseName, CourseID: prev.CourseID, CourseSection: prev.CourseSection,
		IsOpen: false, SeatsRemaining: 0, TotalSeats: prev.TotalSeats, ObservedAt: now,
	}, nil, now)
	require.Equal(t, prev.TrackingUsers, res.Record.TrackingUsers)
}
