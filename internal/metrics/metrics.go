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
// サービス層やワーカーから利用する。
type MetricsCollector interface {
	IncLoginBegun()
	IncLoginSucceeded()
	IncLoginFailed(reason string)
	IncSessionCreated()
	IncSessionRevoked()
	RecordExpiredPurged(sessions, pendings int)
	ObserveHTTPRequest(method, path string, status int, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginBegun     prometheus.Counter
	loginSucceeded prometheus.Counter
	loginFailed    *prometheus.CounterVec
	sessionCreated prometheus.Counter
	sessionRevoked prometheus.Counter
	expiredPurged  *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpLatency    prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginBegun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "venus_login_begun_total",
			Help: "ログイン開始（一時トークン発行）の合計数",
		}),
		loginSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "venus_login_succeeded_total",
			Help: "ログイン成功の合計数",
		}),
		loginFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venus_login_failed_total",
			Help: "ログイン失敗の理由別合計数",
		}, []string{"reason"}),
		sessionCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "venus_sessions_created_total",
			Help: "発行されたセッションの合計数",
		}),
		sessionRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "venus_sessions_revoked_total",
			Help: "ログアウトで破棄されたセッションの合計数",
		}),
		expiredPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venus_expired_purged_total",
			Help: "クリーンアップで削除された期限切れレコードの種別ごと合計数",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venus_http_requests_total",
			Help: "HTTPリクエストのメソッド・パス・ステータス別合計数",
		}, []string{"method", "path", "status"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "venus_http_request_duration_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.loginBegun,
		c.loginSucceeded,
		c.loginFailed,
		c.sessionCreated,
		c.sessionRevoked,
		c.expiredPurged,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

// IncLoginBegun はログイン開始を記録する。
func (c *Collector) IncLoginBegun() {
	c.loginBegun.Inc()
}

// IncLoginSucceeded はログイン成功を記録する。
func (c *Collector) IncLoginSucceeded() {
	c.loginSucceeded.Inc()
}

// IncLoginFailed はログイン失敗を理由付きで記録する。
func (c *Collector) IncLoginFailed(reason string) {
	c.loginFailed.WithLabelValues(reason).Inc()
}

// IncSessionCreated はセッション発行を記録する。
func (c *Collector) IncSessionCreated() {
	c.sessionCreated.Inc()
}

// IncSessionRevoked はセッション破棄を記録する。
func (c *Collector) IncSessionRevoked() {
	c.sessionRevoked.Inc()
}

// RecordExpiredPurged はクリーンアップで削除された期限切れレコード数を記録する。
func (c *Collector) RecordExpiredPurged(sessions, pendings int) {
	c.expiredPurged.WithLabelValues("session").Add(float64(sessions))
	c.expiredPurged.WithLabelValues("pending_login").Add(float64(pendings))
}

// ObserveHTTPRequest はHTTPリクエストの結果とレイテンシを記録する。
func (c *Collector) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpLatency.Observe(duration.Seconds())
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
