package orchestrator

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMustNewMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.IncRegistered(3)
	m.IncActive()
	m.IncFailure("web_search", "timeout")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	for _, want := range []string{
		"maestro_orchestrator_tasks_registered_total",
		"maestro_orchestrator_tasks_active",
		"maestro_orchestrator_task_failures_total",
	} {
		if !names[want] {
			t.Fatalf("metric %s not registered, got %v", want, names)
		}
	}
}

func TestMustNewMetricsReusesExistingCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustNewMetrics(reg)
	// A second construction against the same registry must not panic.
	m := MustNewMetrics(reg)
	m.IncRegistered(1)
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.IncRegistered(1)
	m.IncActive()
	m.DecActive()
	m.IncFailure("x", "y")
}
