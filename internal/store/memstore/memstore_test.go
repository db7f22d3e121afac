package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reapergt/poller/internal/model"
	"github.com/reapergt/poller/internal/store"
)

func TestAddUserToCRNMaintainsBidirectionalIndex(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.AddUserToCRN(ctx, "12345", "u1"))

	rec, err := s.GetCRN(ctx, "12345")
	require.NoError(t, err)
	require.Contains(t, rec.TrackingUsers, "u1")

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Contains(t, u.TrackedCRNs, "12345")
}

func TestRemoveUserFromCRNDeletesEmptyRecord(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.AddUserToCRN(ctx, "12345", "u1"))

	require.NoError(t, s.RemoveUserFromCRN(ctx, "12345", "u1"))

	_, err := s.GetCRN(ctx, "12345")
	require.ErrorIs(t, err, store.ErrNotFound)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotContains(t, u.TrackedCRNs, "12345")
}

func TestRemoveUserFromCRNKeepsRecordForOtherTrackers(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.AddUserToCRN(ctx, "12345", "u1"))
	require.NoError(t, s.AddUserToCRN(ctx, "12345", "u2"))

	require.NoError(t, s.RemoveUserFromCRN(ctx, "12345", "u1"))

	rec, err := s.GetCRN(ctx, "12345")
	require.NoError(t, err)
	require.NotContains(t, rec.TrackingUsers, "u1")
	require.Contains(t, rec.TrackingUsers, "u2")
}

// TestPutCRNPreservesTrackingUsers verifies the read-modify-write merge
// described in spec.md §5/§9: a scheduler-style full-record PutCRN must not
// clobber TrackingUsers set by a concurrent AddUserToCRN call.
func TestPutCRNPreservesTrackingUsers(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.AddUserToCRN(ctx, "12345", "u1"))

	// Simulate the scheduler writing a fresh observation without knowing
	// about TrackingUsers (it read the record before u1 was added, or it
	// simply constructs the record from the Observation + prior record).
	require.NoError(t, s.PutCRN(ctx, &model.CrnRecord{
		CRN:            "12345",
		IsOpen:         true,
		SeatsRemaining: 3,
		TotalSeats:     30,
	}))

	rec, err := s.GetCRN(ctx, "12345")
	require.NoError(t, err)
	require.True(t, rec.IsOpen)
	require.Contains(t, rec.TrackingUsers, "u1")
}

func TestScanActiveCRNsOnlyReturnsLiveRecords(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.AddUserToCRN(ctx, "11111", "u1"))
	require.NoError(t, s.AddUserToCRN(ctx, "22222", "u1"))
	require.NoError(t, s.RemoveUserFromCRN(ctx, "22222", "u1"))

	active, err := s.ScanActiveCRNs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "11111", active[0].CRN)
}

func TestGetUserReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.PutUser(ctx, &model.User{ID: "u1", PhoneNumber: "+14045550101"}))

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	u.PhoneNumber = "+14045550199"

	u2, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "+14045550101", u2.PhoneNumber, "GetUser must not return a live reference")
}

func TestGetCRNMissing(t *testing.T) {
	s := New()
	_, err := s.GetCRN(context.Background(), "99999")
	require.ErrorIs(t, err, store.ErrNotFound)
}
