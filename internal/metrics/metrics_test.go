package metrics

import (
	"testing"
	"time"

	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) []*dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func labelsOf(m *dto.Metric) map[string]string {
	out := map[string]string{}
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

// TestCounters_IncrementWithLabels は各カウンタがラベル別に増加することを検証する。
func TestCounters_IncrementWithLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveInbound("text", "queued")
	c.ObserveInbound("text", "queued")
	c.ObserveInbound("text", "duplicate")
	c.ObserveIntent(model.IntentLogSale, model.SourceFastPath)
	c.ObserveTask("log_sale", true)
	c.ObserveTask("log_sale", false)
	c.RecordHTTPStatus(200)

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"chatbooks_inbound_events_total", map[string]string{"type": "text", "verdict": "queued"}, 2},
		{"chatbooks_inbound_events_total", map[string]string{"type": "text", "verdict": "duplicate"}, 1},
		{"chatbooks_intent_classifications_total", map[string]string{"intent": "log-sale", "source": "fast_path"}, 1},
		{"chatbooks_task_results_total", map[string]string{"op": "log_sale", "result": "success"}, 1},
		{"chatbooks_task_results_total", map[string]string{"op": "log_sale", "result": "failure"}, 1},
		{"chatbooks_http_status_total", map[string]string{"status_code": "200"}, 1},
	}
	for _, tt := range tests {
		found := false
		for _, m := range gather(t, reg, tt.name) {
			labels := labelsOf(m)
			match := true
			for k, v := range tt.labels {
				if labels[k] != v {
					match = false
				}
			}
			if match {
				found = true
				if got := m.GetCounter().GetValue(); got != tt.want {
					t.Errorf("%s%v = %v, want %v", tt.name, tt.labels, got, tt.want)
				}
			}
		}
		if !found {
			t.Errorf("%s%v not recorded", tt.name, tt.labels)
		}
	}
}

// TestObserveTurn_ObservesHistogram は処理時間のヒストグラムが記録されることを検証する。
func TestObserveTurn_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveTurn(300*time.Millisecond, false)
	c.ObserveTurn(2*time.Second, true)

	for _, m := range gather(t, reg, "chatbooks_turn_duration_seconds") {
		if got := m.GetHistogram().GetSampleCount(); got != 1 {
			t.Errorf("sample count for %v = %d, want 1", labelsOf(m), got)
		}
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はインターフェースの実装を検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	var _ MetricsCollector = NewCollector(prometheus.NewRegistry())
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立して動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	_ = NewCollector(reg2)

	c1.ObservePayment("duplicate")

	families, err := reg2.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() == "chatbooks_payment_events_total" && len(mf.GetMetric()) != 0 {
			t.Error("second registry should have no payment samples")
		}
	}
}
