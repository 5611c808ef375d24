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
// バックエンドクライアントやセッション層から利用する。
type MetricsCollector interface {
	RecordBackendRequest(endpoint string, statusCode int, duration time.Duration)
	RecordBackendError(endpoint string)
	RecordValidation(result string)
	RecordPageFetched(pageName string)
	RecordProfileUpdate(result string)
	RecordGateState(state string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	backendRequests *prometheus.CounterVec
	backendErrors   *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
	validations     *prometheus.CounterVec
	pagesFetched    *prometheus.CounterVec
	profileUpdates  *prometheus.CounterVec
	gateState       *prometheus.GaugeVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chirp_backend_requests_total",
			Help: "バックエンドAPIへのリクエスト数（エンドポイント・ステータス別）",
		}, []string{"endpoint", "status_code"}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chirp_backend_errors_total",
			Help: "レスポンスを受け取れなかったバックエンドAPIリクエスト数",
		}, []string{"endpoint"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chirp_backend_latency_seconds",
			Help:    "バックエンドAPIのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chirp_token_validations_total",
			Help: "トークン検証の結果別件数",
		}, []string{"result"}),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chirp_tweet_pages_fetched_total",
			Help: "取得したツイートページ数",
		}, []string{"page_name"}),
		profileUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chirp_profile_updates_total",
			Help: "プロフィール更新の結果別件数",
		}, []string{"result"}),
		gateState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chirp_gate_state",
			Help: "現在のルートゲート状態（該当状態のみ1）",
		}, []string{"state"}),
	}

	reg.MustRegister(
		c.backendRequests,
		c.backendErrors,
		c.backendLatency,
		c.validations,
		c.pagesFetched,
		c.profileUpdates,
		c.gateState,
	)

	return c
}

// RecordBackendRequest はレスポンスを受け取ったバックエンドリクエストを記録する。
func (c *Collector) RecordBackendRequest(endpoint string, statusCode int, duration time.Duration) {
	c.backendRequests.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	c.backendLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordBackendError は通信エラーで終わったバックエンドリクエストを記録する。
func (c *Collector) RecordBackendError(endpoint string) {
	c.backendErrors.WithLabelValues(endpoint).Inc()
}

// RecordValidation はトークン検証の結果（verified, rejected, failed）を記録する。
func (c *Collector) RecordValidation(result string) {
	c.validations.WithLabelValues(result).Inc()
}

// RecordPageFetched はツイートページの取得を記録する。
func (c *Collector) RecordPageFetched(pageName string) {
	c.pagesFetched.WithLabelValues(pageName).Inc()
}

// RecordProfileUpdate はプロフィール更新の結果（ok, invalid, failed）を記録する。
func (c *Collector) RecordProfileUpdate(result string) {
	c.profileUpdates.WithLabelValues(result).Inc()
}

// RecordGateState は現在のゲート状態を記録する。他の状態は0にリセットする。
func (c *Collector) RecordGateState(state string) {
	c.gateState.Reset()
	c.gateState.WithLabelValues(state).Set(1)
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordBackendRequest(string, int, time.Duration) {}
func (Nop) RecordBackendError(string)                       {}
func (Nop) RecordValidation(string)                         {}
func (Nop) RecordPageFetched(string)                        {}
func (Nop) RecordProfileUpdate(string)                      {}
func (Nop) RecordGateState(string)                          {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
