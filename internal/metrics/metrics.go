// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 投票台帳、スナップショット、ライブ配信、AI生成、HTTP層から利用する。
type MetricsCollector interface {
	RecordVote(outcome string)
	RecordIntegrityViolation()
	RecordSnapshotCaptured(rows int)
	RecordSnapshotFailure()
	RecordSnapshotLatency(duration time.Duration)
	LiveSubscriberAdded()
	LiveSubscriberRemoved()
	RecordAIRequest(status string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	votes               *prometheus.CounterVec
	integrityViolations prometheus.Counter
	snapshotsCaptured   prometheus.Counter
	snapshotRows        prometheus.Counter
	snapshotFailures    prometheus.Counter
	snapshotLatency     prometheus.Histogram
	liveSubscribers     prometheus.Gauge
	aiRequests          *prometheus.CounterVec
	httpStatus          *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankinge_votes_total",
			Help: "投票操作の結果別の件数",
		}, []string{"outcome"}),
		integrityViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankinge_vote_integrity_violations_total",
			Help: "vote_countが負になる操作を検出した回数",
		}),
		snapshotsCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankinge_snapshots_captured_total",
			Help: "保存したランキングスナップショットの数",
		}),
		snapshotRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankinge_snapshot_rows_total",
			Help: "保存したスナップショット行の合計数",
		}),
		snapshotFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankinge_snapshot_failures_total",
			Help: "スナップショット取得に失敗した回数",
		}),
		snapshotLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rankinge_snapshot_latency_seconds",
			Help:    "スナップショット取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		liveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rankinge_live_subscribers",
			Help: "接続中のライブランキング購読者数",
		}),
		aiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankinge_ai_requests_total",
			Help: "AI生成リクエストの結果別の件数",
		}, []string{"status"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rankinge_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.votes,
		c.integrityViolations,
		c.snapshotsCaptured,
		c.snapshotRows,
		c.snapshotFailures,
		c.snapshotLatency,
		c.liveSubscribers,
		c.aiRequests,
		c.httpStatus,
	)

	return c
}

// RecordVote は投票操作の結果を記録する。
func (c *Collector) RecordVote(outcome string) {
	c.votes.WithLabelValues(outcome).Inc()
}

// RecordIntegrityViolation は投票数の整合性違反を記録する。
func (c *Collector) RecordIntegrityViolation() {
	c.integrityViolations.Inc()
}

// RecordSnapshotCaptured はスナップショットの保存を記録する。
func (c *Collector) RecordSnapshotCaptured(rows int) {
	c.snapshotsCaptured.Inc()
	c.snapshotRows.Add(float64(rows))
}

func (c *Collector) RecordSnapshotFailure() {
	c.snapshotFailures.Inc()
}

func (c *Collector) RecordSnapshotLatency(duration time.Duration) {
	c.snapshotLatency.Observe(duration.Seconds())
}

func (c *Collector) LiveSubscriberAdded() {
	c.liveSubscribers.Inc()
}

func (c *Collector) LiveSubscriberRemoved() {
	c.liveSubscribers.Dec()
}

// RecordAIRequest はAI生成リクエストの結果（ok, rate_limited, quota_exhausted, failed, disabled）を記録する。
func (c *Collector) RecordAIRequest(status string) {
	c.aiRequests.WithLabelValues(status).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。メトリクスを使わない構成とテストで使う。
type Nop struct{}

func (Nop) RecordVote(string)                   {}
func (Nop) RecordIntegrityViolation()           {}
func (Nop) RecordSnapshotCaptured(int)          {}
func (Nop) RecordSnapshotFailure()              {}
func (Nop) RecordSnapshotLatency(time.Duration) {}
func (Nop) LiveSubscriberAdded()                {}
func (Nop) LiveSubscriberRemoved()              {}
func (Nop) RecordAIRequest(string)              {}
func (Nop) RecordHTTPStatus(int)                {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
