package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m.EventsIngestedTotal == nil {
		t.Fatal("EventsIngestedTotal should not be nil")
	}
	if m.JobsEnqueuedTotal == nil {
		t.Fatal("JobsEnqueuedTotal should not be nil")
	}
	if m.DeliveriesTotal == nil {
		t.Fatal("DeliveriesTotal should not be nil")
	}
	if m.DeliveryLatency == nil {
		t.Fatal("DeliveryLatency should not be nil")
	}
	if m.TerminalFailuresTotal == nil {
		t.Fatal("TerminalFailuresTotal should not be nil")
	}
	if m.PendingJobs == nil {
		t.Fatal("PendingJobs should not be nil")
	}
}

func TestNewMetrics_NilRegisterer(t *testing.T) {
	m := NewMetrics(nil)
	m.EventsIngestedTotal.Inc()
	m.RecordDelivery("success", 0.1)
}

func TestRecordDelivery(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordDelivery("success", 0.5)
	m.RecordDelivery("success", 1.2)
	m.RecordDelivery("failed", 0.3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := false
	for _, f := range families {
		switch f.GetName() {
		case "hookrelay_deliveries_total":
			found = true
			if len(f.GetMetric()) != 2 { // success + failed
				t.Fatalf("expected 2 label combinations, got %d", len(f.GetMetric()))
			}
		case "hookrelay_delivery_latency_seconds":
			if n := f.GetMetric()[0].GetHistogram().GetSampleCount(); n != 3 {
				t.Fatalf("expected 3 latency samples, got %d", n)
			}
		}
	}
	if !found {
		t.Fatal("hookrelay_deliveries_total metric not found")
	}
}

func TestEventsIngestedTotal(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.EventsIngestedTotal.Inc()
	m.EventsIngestedTotal.Inc()
	m.EventsIngestedTotal.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	for _, f := range families {
		if f.GetName() == "hookrelay_events_ingested_total" {
			val := f.GetMetric()[0].GetCounter().GetValue()
			if val != 3 {
				t.Fatalf("expected count 3, got %f", val)
			}
			return
		}
	}
	t.Fatal("hookrelay_events_ingested_total metric not found")
}

func TestPendingJobsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.PendingJobs.Set(42)
	m.PendingJobs.Dec()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	for _, f := range families {
		if f.GetName() == "hookrelay_pending_jobs" {
			if val := f.GetMetric()[0].GetGauge().GetValue(); val != 41 {
				t.Fatalf("expected 41, got %f", val)
			}
			return
		}
	}
	t.Fatal("hookrelay_pending_jobs metric not found")
}
