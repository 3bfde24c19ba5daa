// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/chatbooks/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 受信処理、会話エンジン、タスク実行層、決済処理から利用する。
type MetricsCollector interface {
	ObserveInbound(eventType, verdict string)
	ObserveIntent(intent model.Intent, source model.IntentSource)
	ObserveTask(op string, success bool)
	ObservePayment(outcome string)
	ObserveTurn(d time.Duration, failed bool)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	inbound     *prometheus.CounterVec
	intents     *prometheus.CounterVec
	tasks       *prometheus.CounterVec
	payments    *prometheus.CounterVec
	turnLatency *prometheus.HistogramVec
	httpStatus  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbooks_inbound_events_total",
			Help: "受信イベント数（種別・判定別）",
		}, []string{"type", "verdict"}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbooks_intent_classifications_total",
			Help: "インテント分類数（インテント・分類経路別）",
		}, []string{"intent", "source"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbooks_task_results_total",
			Help: "タスク実行結果数（操作・結果別）",
		}, []string{"op", "result"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbooks_payment_events_total",
			Help: "決済イベントの処理結果数",
		}, []string{"outcome"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatbooks_turn_duration_seconds",
			Help:    "1イベントの処理時間（秒）",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40},
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbooks_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.inbound,
		c.intents,
		c.tasks,
		c.payments,
		c.turnLatency,
		c.httpStatus,
	)

	return c
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// ObserveInbound は受信イベントの判定を記録する。
func (c *Collector) ObserveInbound(eventType, verdict string) {
	c.inbound.WithLabelValues(eventType, verdict).Inc()
}

// ObserveIntent は分類結果を記録する。
func (c *Collector) ObserveIntent(intent model.Intent, source model.IntentSource) {
	c.intents.WithLabelValues(string(intent), string(source)).Inc()
}

// ObserveTask はタスク実行結果を記録する。
func (c *Collector) ObserveTask(op string, success bool) {
	c.tasks.WithLabelValues(op, result(success)).Inc()
}

// ObservePayment は決済イベントの処理結果を記録する。
func (c *Collector) ObservePayment(outcome string) {
	c.payments.WithLabelValues(outcome).Inc()
}

// ObserveTurn はイベント1件の処理時間を記録する。
func (c *Collector) ObserveTurn(d time.Duration, failed bool) {
	c.turnLatency.WithLabelValues(result(!failed)).Observe(d.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
