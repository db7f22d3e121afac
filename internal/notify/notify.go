// Package notify implements the Notification Dispatcher: on an OPENED
// transition it resolves tracking users, fans out SMS (and, best-effort,
// web-push) per spec.md §4.4, and maintains the episode-scoped dedup set.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/reapergt/poller/internal/metrics"
	"github.com/reapergt/poller/internal/model"
	"github.com/reapergt/poller/internal/store"
)

// SMSGateway sends a single SMS. Implementations must apply their own
// timeout (spec.md §6: 10s).
type SMSGateway interface {
	Send(ctx context.Context, phoneE164, body string) error
}

// PushGateway delivers a best-effort web-push notification. A nil or
// no-op implementation is valid: spec.md §6 says the push path is
// silently skipped if unavailable, SMS is the primary channel.
type PushGateway interface {
	Send(ctx context.Context, sub *model.PushSubscription, title, body string) error
}

// Dispatcher fans out notifications for OPENED transitions.
type Dispatcher struct {
	store  store.Gateway
	sms    SMSGateway
	push   PushGateway
	logger zerolog.Logger
}

// New constructs a Dispatcher. push may be a NoopPushGateway.
func New(s store.Gateway, sms SMSGateway, push PushGateway, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{store: s, sms: sms, push: push, logger: logger}
}

func messageBody(rec *model.CrnRecord) string {
	return fmt.Sprintf(
		"⚠️ COURSE OPEN ⚠️\n%s - (CRN %s)\nSeats open: %d\nRegister in OSCAR and update your courses in the Reaper app",
		rec.CourseName, rec.CRN, rec.SeatsRemaining,
	)
}

// DispatchOpened fans out to every user tracking rec, per spec.md §4.4.
// Fanout is concurrent across users; each user's send/persist is isolated
// so one failure never blocks or corrupts another's dedup state.
func (d *Dispatcher) DispatchOpened(ctx context.Context, rec *model.CrnRecord) {
	body := messageBody(rec)

	var wg sync.WaitGroup
	for userID := range rec.TrackingUsers {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			d.dispatchOne(ctx, rec, userID, body)
		}(userID)
	}
	wg.Wait()
}

func (d *Dispatcher) dispatchOne(ctx context.Context, rec *model.CrnRecord, userID, body string) {
	u, err := d.store.GetUser(ctx, userID)
	if err != nil {
		d.logger.Warn().Err(err).Str("crn", rec.CRN).Str("user", userID).Msg("load user for dispatch failed")
		return
	}

	if !u.TracksCRN(rec.CRN) {
		// Bidirectional invariant violated transiently; skip defensively
		// rather than notify a user who already unsubscribed.
		return
	}
	if u.HasNotified(rec.CRN) {
		return
	}

	sent := false
	if u.PhoneNumber != "" {
		if err := d.sms.Send(ctx, u.PhoneNumber, body); err != nil {
			d.logger.Warn().Err(err).Str("crn", rec.CRN).Str("user", userID).Msg("sms dispatch failed, will retry next OPENED")
			metrics.RecordNotification("sms", "failed")
		} else {
			sent = true
			metrics.RecordNotification("sms", "sent")
		}
	} else {
		metrics.RecordNotification("sms", "skipped")
	}

	if d.push != nil && u.PushSubscription != nil {
		if err := d.push.Send(ctx, u.PushSubscription, "Course open", body); err != nil {
			d.logger.Debug().Err(err).Str("crn", rec.CRN).Str("user", userID).Msg("push dispatch failed")
			metrics.RecordNotification("push", "failed")
		} else {
			metrics.RecordNotification("push", "sent")
		}
	} else {
		metrics.RecordNotification("push", "skipped")
	}

	if !sent {
		return
	}

	u.MarkNotified(rec.CRN)
	if err := d.store.PutUser(ctx, u); err != nil {
		d.logger.Warn().Err(err).Str("crn", rec.CRN).Str("user", userID).Msg("persisting notified_crns failed")
	}
}

// ClearDedupOnClose removes crn from every tracking user's notified_crns,
// re-arming notification for the next open episode. Called by the
// scheduler on a CLOSED transition (spec.md §9, "dedup reset on close").
func (d *Dispatcher) ClearDedupOnClose(ctx context.Context, rec *model.CrnRecord) {
	for userID := range rec.TrackingUsers {
		u, err := d.store.GetUser(ctx, userID)
		if err != nil {
			d.logger.Warn().Err(err).Str("crn", rec.CRN).Str("user", userID).Msg("load user for dedup reset failed")
			continue
		}
		if !u.HasNotified(rec.CRN) {
			continue
		}
		u.ClearNotified(rec.CRN)
		if err := d.store.PutUser(ctx, u); err != nil {
			d.logger.Warn().Err(err).Str("crn", rec.CRN).Str("user", userID).Msg("persisting dedup reset failed")
		}
	}
}
