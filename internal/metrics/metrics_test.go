package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)

	// Vec metrics are not exported until first use; exercise each helper
	// before gathering.
	RecordIssuePublished()
	RecordIdempotentReplay()
	RecordDelivery("delivered", 25*time.Millisecond)
	RecordDelivery("skipped", 0)
	RecordRetry("timeout")
	RecordDeadLettered()
	UpdatePendingTasks(3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather after record: %v", err)
	}

	want := map[string]bool{
		"inkwire_issues_published_total":   false,
		"inkwire_idempotent_replays_total": false,
		"inkwire_deliveries_total":         false,
		"inkwire_delivery_retries_total":   false,
		"inkwire_dead_lettered_total":      false,
		"inkwire_send_latency_seconds":     false,
		"inkwire_pending_tasks":            false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric %s not exported after use", name)
		}
	}
}

func TestMustRegisterDuplicatePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)

	defer func() {
		if r := recover(); r == nil {
			t.Error("second MustRegister on same registry did not panic")
		}
	}()
	MustRegister(reg)
}
