package pipeline

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewMetrics(reg)
	second := NewMetrics(reg)

	first.ObserveRun(StatusSucceeded, time.Second)
	second.ObserveRun(StatusFailed, time.Second)

	if got := testutil.CollectAndCount(reg, "deployer_pipeline_runs_total"); got == 0 {
		t.Fatalf("expected run counter to be collectable, got %d series", got)
	}
}

func TestMetricsRecordsStageOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveStage("build-image", StatusSucceeded, 3*time.Second)
	m.ObserveStage("push", StatusFailed, time.Second)

	if got := testutil.CollectAndCount(reg, "deployer_pipeline_stage_duration_seconds"); got != 2 {
		t.Fatalf("expected 2 stage series, got %d", got)
	}
}
