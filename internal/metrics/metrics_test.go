package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func Test_Pass_RecordsIntoRegistry(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewPass(reg)

	m.ObservePass(OutcomeOK, 2*time.Second)
	m.AddItems(ResultAssigned, 3)
	m.AddItems(ResultMissing, 1)
	m.AddItems(ResultMissing, 0)
	m.AddClusters(2, 1)
	m.AddSummaryFailures(1)
	m.SetBacklog(7)

	if got := testutil.ToFloat64(m.passesTotal.WithLabelValues(OutcomeOK)); got != 1 {
		t.Errorf("passes ok: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.itemsTotal.WithLabelValues(ResultAssigned)); got != 3 {
		t.Errorf("items assigned: want 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.itemsTotal.WithLabelValues(ResultMissing)); got != 1 {
		t.Errorf("items missing: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.clustersTotal.WithLabelValues("new")); got != 2 {
		t.Errorf("clusters new: want 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.summaryFailuresTotal); got != 1 {
		t.Errorf("summary failures: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.backlog); got != 7 {
		t.Errorf("backlog: want 7, got %v", got)
	}

	n, err := testutil.GatherAndCount(reg, "triage_pass_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 1 {
		t.Errorf("duration series: want 1, got %d", n)
	}
}

func Test_Pass_NilIsNoop(t *testing.T) {
	t.Parallel()
	var m *Pass
	m.ObservePass(OutcomeError, time.Second)
	m.AddItems(ResultAssigned, 1)
	m.AddClusters(1, 1)
	m.AddSummaryFailures(1)
	m.SetBacklog(1)
}
