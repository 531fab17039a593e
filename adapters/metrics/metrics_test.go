package metrics_test

import (
	"testing"
	"time"

	"github.com/artpar/docbase/adapters/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	// Use a new registry to avoid conflicts with other tests
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}

	// Verify all metrics are initialized
	if m.CallsTotal == nil {
		t.Error("CallsTotal is nil")
	}
	if m.CallDuration == nil {
		t.Error("CallDuration is nil")
	}
	if m.CallsInFlight == nil {
		t.Error("CallsInFlight is nil")
	}
	if m.CacheHits == nil {
		t.Error("CacheHits is nil")
	}
	if m.CacheMisses == nil {
		t.Error("CacheMisses is nil")
	}
}

func TestCallLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.CallStarted("user", "read")
	m.CallStarted("user", "create")
	m.CallFinished("user", "read", 200, 5*time.Millisecond)
	m.CallFinished("user", "create", 403, 2*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	foundTotal := false
	foundDuration := false
	for _, f := range families {
		if f.GetName() == "docbase_calls_total" {
			foundTotal = true
			if len(f.GetMetric()) != 2 {
				t.Errorf("expected 2 metric series, got %d", len(f.GetMetric()))
			}
		}
		if f.GetName() == "docbase_call_duration_seconds" {
			foundDuration = true
		}
		if f.GetName() == "docbase_calls_in_flight" {
			// 2 started - 2 finished
			val := f.GetMetric()[0].GetGauge().GetValue()
			if val != 0 {
				t.Errorf("calls in flight = %f, want 0", val)
			}
		}
	}
	if !foundTotal {
		t.Error("docbase_calls_total metric not found")
	}
	if !foundDuration {
		t.Error("docbase_call_duration_seconds metric not found")
	}
}

func TestStatusClass(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.CallFinished("user", "read", 200, time.Millisecond)
	m.CallFinished("user", "read", 201, time.Millisecond)
	m.CallFinished("user", "read", 404, time.Millisecond)
	m.CallFinished("user", "read", 500, time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	for _, f := range families {
		if f.GetName() != "docbase_calls_total" {
			continue
		}
		// 200 and 201 share the 2xx series
		if len(f.GetMetric()) != 3 {
			t.Errorf("expected 3 metric series, got %d", len(f.GetMetric()))
		}
	}
}

func TestCacheCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.CacheMiss("setting")
	m.CacheHit("setting")
	m.CacheHit("setting")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	foundHits := false
	foundMisses := false
	for _, f := range families {
		if f.GetName() == "docbase_cache_hits_total" {
			foundHits = true
			val := f.GetMetric()[0].GetCounter().GetValue()
			if val != 2 {
				t.Errorf("cache hits = %f, want 2", val)
			}
		}
		if f.GetName() == "docbase_cache_misses_total" {
			foundMisses = true
		}
	}
	if !foundHits {
		t.Error("docbase_cache_hits_total metric not found")
	}
	if !foundMisses {
		t.Error("docbase_cache_misses_total metric not found")
	}
}
