package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fundflow/circuit"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Namespace != "fundflow" {
		t.Errorf("expected namespace 'fundflow', got '%s'", cfg.Namespace)
	}
	if cfg.Subsystem != "" {
		t.Errorf("expected empty subsystem, got '%s'", cfg.Subsystem)
	}
	if cfg.Registry != prometheus.DefaultRegisterer {
		t.Error("expected default registry")
	}
}

func TestPrometheusMetrics_WorkflowStarted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Namespace: "test", Registry: reg})

	m.WorkflowStarted("topup")
	m.WorkflowStarted("topup")
	m.WorkflowStarted("withdraw")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() == "test_workflow_started_total" {
			found = true
			metrics := mf.GetMetric()
			if len(metrics) != 2 {
				t.Errorf("expected 2 metric series, got %d", len(metrics))
			}
			// Check that topup has count of 2
			for _, metric := range metrics {
				for _, label := range metric.GetLabel() {
					if label.GetName() == "kind" && label.GetValue() == "topup" {
						if metric.GetCounter().GetValue() != 2 {
							t.Errorf("expected topup count 2, got %f", metric.GetCounter().GetValue())
						}
					}
				}
			}
		}
	}
	if !found {
		t.Error("workflow_started_total metric not found")
	}
}

func TestPrometheusMetrics_WorkflowCompleted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Namespace: "test", Registry: reg})

	m.WorkflowCompleted("topup", "FINALIZED", 100*time.Millisecond)
	m.WorkflowCompleted("topup", "FINALIZATION_FAILED", 200*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	foundCounter := false
	foundHistogram := false
	for _, mf := range mfs {
		switch mf.GetName() {
		case "test_workflow_completed_total":
			foundCounter = true
			metrics := mf.GetMetric()
			if len(metrics) != 2 {
				t.Errorf("expected 2 metric series (different statuses), got %d", len(metrics))
			}
		case "test_workflow_duration_seconds":
			foundHistogram = true
		}
	}
	if !foundCounter {
		t.Error("workflow_completed_total metric not found")
	}
	if !foundHistogram {
		t.Error("workflow_duration_seconds metric not found")
	}
}

func TestPrometheusMetrics_ActivityMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Namespace: "test", Registry: reg})

	m.ActivityStarted("initiate_transfer")
	m.ActivityCompleted("initiate_transfer", 2, 50*time.Millisecond)
	m.ActivityFailed("finalize_transfer", "INFRA")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	expectedMetrics := map[string]bool{
		"test_activity_started_total":    false,
		"test_activity_completed_total":  false,
		"test_activity_failed_total":     false,
		"test_activity_attempts":         false,
		"test_activity_duration_seconds": false,
	}

	for _, mf := range mfs {
		if _, ok := expectedMetrics[mf.GetName()]; ok {
			expectedMetrics[mf.GetName()] = true
		}
	}

	for name, found := range expectedMetrics {
		if !found {
			t.Errorf("metric %s not found", name)
		}
	}
}

func TestPrometheusMetrics_SignalMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Namespace: "test", Registry: reg})

	m.SignalDelivered("topup", 3*time.Second)
	m.SignalTimeout("topup")
	m.SignalRejected("withdraw")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	expectedMetrics := map[string]bool{
		"test_signal_delivered_total":       false,
		"test_signal_timeout_total":         false,
		"test_signal_rejected_total":        false,
		"test_signal_wait_duration_seconds": false,
	}

	for _, mf := range mfs {
		if _, ok := expectedMetrics[mf.GetName()]; ok {
			expectedMetrics[mf.GetName()] = true
		}
	}

	for name, found := range expectedMetrics {
		if !found {
			t.Errorf("metric %s not found", name)
		}
	}
}

func TestPrometheusMetrics_CompensationCompleted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Namespace: "test", Registry: reg})

	m.CompensationCompleted("topup")
	m.CompensationCompleted("topup")
	m.CompensationCompleted("withdraw")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() == "test_compensation_completed_total" {
			found = true
			metrics := mf.GetMetric()
			if len(metrics) != 2 {
				t.Errorf("expected 2 metric series, got %d", len(metrics))
			}
			// Check that topup has count of 2
			for _, metric := range metrics {
				for _, label := range metric.GetLabel() {
					if label.GetName() == "kind" && label.GetValue() == "topup" {
						if metric.GetCounter().GetValue() != 2 {
							t.Errorf("expected topup count 2, got %f", metric.GetCounter().GetValue())
						}
					}
				}
			}
		}
	}
	if !found {
		t.Error("compensation_completed_total metric not found")
	}
}

func TestPrometheusMetrics_CompensationFailed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Namespace: "test", Registry: reg})

	m.CompensationFailed("topup")
	m.CompensationFailed("withdraw")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() == "test_compensation_failed_total" {
			found = true
			metrics := mf.GetMetric()
			if len(metrics) != 2 {
				t.Errorf("expected 2 metric series, got %d", len(metrics))
			}
		}
	}
	if !found {
		t.Error("compensation_failed_total metric not found")
	}
}

func TestPrometheusMetrics_CircuitStateChanged(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Namespace: "test", Registry: reg})

	m.CircuitStateChanged("bank", circuit.StateClosed)
	m.CircuitStateChanged("bank", circuit.StateOpen)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() == "test_circuit_breaker_state" {
			found = true
			metrics := mf.GetMetric()
			if len(metrics) != 1 {
				t.Errorf("expected 1 metric series, got %d", len(metrics))
			}
			// Should be StateOpen (1)
			if metrics[0].GetGauge().GetValue() != float64(circuit.StateOpen) {
				t.Errorf("expected state %d, got %f", circuit.StateOpen, metrics[0].GetGauge().GetValue())
			}
		}
	}
	if !found {
		t.Error("circuit_breaker_state metric not found")
	}
}

func TestPrometheusMetrics_ReconcileMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Namespace: "test", Registry: reg})

	m.ReconcileScanned(5)
	m.ReconcileProcessed("resumed")
	m.ReconcileProcessed("deferred")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	foundScanned := false
	foundProcessed := false
	for _, mf := range mfs {
		switch mf.GetName() {
		case "test_reconcile_scanned_total":
			foundScanned = true
			if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 5 {
				t.Errorf("expected scanned count 5, got %f", got)
			}
		case "test_reconcile_processed_total":
			foundProcessed = true
			metrics := mf.GetMetric()
			if len(metrics) != 2 {
				t.Errorf("expected 2 metric series (different resolutions), got %d", len(metrics))
			}
		}
	}
	if !foundScanned {
		t.Error("reconcile_scanned_total metric not found")
	}
	if !foundProcessed {
		t.Error("reconcile_processed_total metric not found")
	}
}

func TestPrometheusMetrics_LockMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Namespace: "test", Registry: reg})

	m.LockAcquired(10 * time.Millisecond)
	m.LockDenied()
	m.LockExtended()
	m.LockExtendFailed()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	expectedMetrics := map[string]bool{
		"test_lock_acquired_total":           false,
		"test_lock_denied_total":             false,
		"test_lock_extended_total":           false,
		"test_lock_extend_failed_total":      false,
		"test_lock_acquire_duration_seconds": false,
	}

	for _, mf := range mfs {
		if _, ok := expectedMetrics[mf.GetName()]; ok {
			expectedMetrics[mf.GetName()] = true
		}
	}

	for name, found := range expectedMetrics {
		if !found {
			t.Errorf("metric %s not found", name)
		}
	}
}
