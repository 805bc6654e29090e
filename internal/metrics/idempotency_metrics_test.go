package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestIdempotencyMetrics(t *testing.T) {
	m := NewIdempotencyMetrics(prometheus.NewRegistry())

	m.Request("executed")
	m.Request("replayed")
	m.Request("replayed")
	if got := counterValue(t, m.requests.WithLabelValues("replayed")); got != 2 {
		t.Fatalf("expected 2 replayed requests, got %f", got)
	}

	m.Deleted(3)
	m.Deleted(0)
	m.CleanupRun(true, 3)
	m.CleanupRun(false, 0)
	if got := counterValue(t, m.deleted); got != 3 {
		t.Fatalf("expected 3 deleted records, got %f", got)
	}
	if got := gaugeValue(t, m.lastDeleted); got != 3 {
		t.Fatalf("expected last run to delete 3, got %f", got)
	}
	if got := counterValue(t, m.runs.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed run, got %f", got)
	}

	var disabled *IdempotencyMetrics
	disabled.Request("executed")
	disabled.CleanupRun(true, 1)
	disabled.Deleted(1)
}
