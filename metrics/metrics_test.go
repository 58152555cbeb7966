package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadcore/dhtengine/metrics"
)

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if labelsMatch(m.GetLabel(), labels) {
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want prometheus.Labels) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if want[p.GetName()] != p.GetValue() {
			return false
		}
	}
	return true
}

func TestTaskRecorderReportsCountersAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	rec := c.ForTask("1", "find_node")

	rec.IncSent()
	rec.IncSent()
	rec.IncRecv()
	rec.IncFailed()
	rec.SetOutstandingTotal(3)
	rec.SetOutstandingActive(2)
	rec.SetTodoCount(5)

	labels := prometheus.Labels{"task_id": "1", "kind": "find_node"}
	assert.Equal(t, float64(3), gaugeValue(t, reg, "dht_task_outstanding_total", labels))
	assert.Equal(t, float64(2), gaugeValue(t, reg, "dht_task_outstanding_active", labels))
	assert.Equal(t, float64(5), gaugeValue(t, reg, "dht_task_todo_count", labels))
}

func TestForgetRemovesLabelSet(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	rec := c.ForTask("7", "ping")
	rec.SetTodoCount(1)

	rec.Forget()

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "dht_task_todo_count" {
			continue
		}
		for _, m := range f.GetMetric() {
			assert.NotEqual(t, "7", labelValue(m.GetLabel(), "task_id"), "forgotten task's series must not linger")
		}
	}
}

func labelValue(pairs []*dto.LabelPair, name string) string {
	for _, p := range pairs {
		if p.GetName() == name {
			return p.GetValue()
		}
	}
	return ""
}

func TestHandlerIsNotNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	assert.NotNil(t, c.Handler())
}
