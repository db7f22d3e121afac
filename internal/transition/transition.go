// Package transition classifies a fresh registrar observation against the
// previously stored CrnRecord and produces the record to persist. It is a
// pure function: no I/O, no clock reads beyond what the caller supplies,
// grounded on the teacher's session.Activity classification
// (mrf-agent-racer/backend/internal/session/state.go) but rebuilt entirely
// around the five-way CRN transition kind spec.md §4.3 defines.
package transition

import (
	"time"

	"github.com/reapergt/poller/internal/model"
	"github.com/reapergt/poller/internal/registrar"
)

// Kind is one of the five outcomes the Detector can emit.
type Kind string

const (
	Unchanged Kind = "UNCHANGED"
	Opened    Kind = "OPENED"
	Closed    Kind = "CLOSED"
	Metadata  Kind = "METADATA"
	Failed    Kind = "FAILED"
)

// Result is the Detector's output: the classification plus the full
// CrnRecord to persist (tracking_users is always carried over unchanged;
// the caller is responsible for the store's read-modify-write semantics).
type Result struct {
	Kind   Kind
	Record *model.CrnRecord
}

// Detect classifies obs (or fetchErr, mutually exclusive) against prev.
// prev must be non-nil; the caller creates the initial CrnRecord on first
// add before ever calling Detect.
func Detect(prev *model.CrnRecord, obs *model.Observation, fetchErr error, now time.Time) Result {
	next := prev.Clone()
	next.LastUpdated = now

	if fetchErr != nil {
		next.ConsecutiveClosedCheck++
		return Result{Kind: Failed, Record: next}
	}

	metadataChanged := next.CourseName != obs.CourseName ||
		next.CourseID != obs.CourseID ||
		next.CourseSection != obs.CourseSection ||
		next.TotalSeats != obs.TotalSeats ||
		next.SeatsRemaining != obs.SeatsRemaining

	next.CourseName = obs.CourseName
	next.CourseID = obs.CourseID
	next.CourseSection = obs.CourseSection
	next.TotalSeats = obs.TotalSeats
	next.SeatsRemaining = obs.SeatsRemaining

	wasOpen := prev.IsOpen
	isOpen := obs.IsOpen
	next.IsOpen = isOpen

	switch {
	case !wasOpen && isOpen:
		t := now
		next.LastStatusChange = &t
		next.ConsecutiveClosedCheck = 0
		return Result{Kind: Opened, Record: next}

	case wasOpen && !isOpen:
		t := now
		next.LastStatusChange = &t
		next.ConsecutiveClosedCheck = 1
		return Result{Kind: Closed, Record: next}

	default:
		if isOpen {
			next.ConsecutiveClosedCheck = 0
		} else {
			next.ConsecutiveClosedCheck = prev.ConsecutiveClosedCheck + 1
		}
		if metadataChanged {
			return Result{Kind: Metadata, Record: next}
		}
		return Result{Kind: Unchanged, Record: next}
	}
}

// IsTransportOrStatus reports whether err originated from the registrar
// transport/status path rather than a not_found classification — useful
// for callers deciding whether a FAILED result should retry sooner.
func IsTransportOrStatus(err error) bool {
	return err != nil && !registrar.IsNotFound(err)
}
