package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTickUpdatesGaugesAndHistogram(t *testing.T) {
	tickCoursesProcessed.Set(0)

	RecordTick(250*time.Millisecond, 42)

	if got := testutil.ToFloat64(tickCoursesProcessed); got != 42 {
		t.Errorf("tickCoursesProcessed = %v, want 42", got)
	}
	if count := testutil.CollectAndCount(tickDuration); count == 0 {
		t.Error("expected tickDuration to have observations, got 0")
	}
}

func TestRecordFetchIncrementsByOutcome(t *testing.T) {
	fetchTotal.Reset()

	RecordFetch(10*time.Millisecond, "ok")
	RecordFetch(10*time.Millisecond, "not_found")

	if got := testutil.ToFloat64(fetchTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("fetchTotal{ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(fetchTotal.WithLabelValues("not_found")); got != 1 {
		t.Errorf("fetchTotal{not_found} = %v, want 1", got)
	}
}

func TestRecordTransitionIncrementsByKind(t *testing.T) {
	transitionsTotal.Reset()

	RecordTransition("opened")
	RecordTransition("opened")
	RecordTransition("closed")

	if got := testutil.ToFloat64(transitionsTotal.WithLabelValues("opened")); got != 2 {
		t.Errorf("transitionsTotal{opened} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(transitionsTotal.WithLabelValues("closed")); got != 1 {
		t.Errorf("transitionsTotal{closed} = %v, want 1", got)
	}
}

func TestRecordNotificationIncrementsByChannelAndOutcome(t *testing.T) {
	notificationsTotal.Reset()

	RecordNotification("sms", "sent")
	RecordNotification("push", "failed")

	if got := testutil.ToFloat64(notificationsTotal.WithLabelValues("sms", "sent")); got != 1 {
		t.Errorf("notificationsTotal{sms,sent} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(notificationsTotal.WithLabelValues("push", "failed")); got != 1 {
		t.Errorf("notificationsTotal{push,failed} = %v, want 1", got)
	}
}

func TestSetTrackedCRNs(t *testing.T) {
	SetTrackedCRNs(17)
	if got := testutil.ToFloat64(trackedCRNs); got != 17 {
		t.Errorf("trackedCRNs = %v, want 17", got)
	}
}

func TestRecordProcessSample(t *testing.T) {
	RecordProcessSample(104857600, 12.5)

	if got := testutil.ToFloat64(processRSSBytes); got != 104857600 {
		t.Errorf("processRSSBytes = %v, want 104857600", got)
	}
	if got := testutil.ToFloat64(processCPUPercent); got != 12.5 {
		t.Errorf("processCPUPercent = %v, want 12.5", got)
	}
}
