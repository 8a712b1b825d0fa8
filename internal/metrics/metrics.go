// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AuthMetrics は認証まわりのメトリクス収集インターフェース。
// サービス層、ハンドラー、ミドルウェアから利用する。
type AuthMetrics interface {
	// RecordLogin はコールバックの結果を記録する（success, invalid_state 等）。
	RecordLogin(result string)
	RecordTokenExchangeLatency(duration time.Duration)
	// RecordProfileReconcile はプロフィール同期の結果を記録する（created, updated, failed）。
	RecordProfileReconcile(result string)
	// RecordGuardDenial はルートガードによる拒否を理由別に記録する。
	RecordGuardDenial(reason string)
	// RecordAuthEvent は認証状態の遷移を記録する。
	RecordAuthEvent(kind string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	exchangeLatency prometheus.Histogram
	profileResults  *prometheus.CounterVec
	guardDenials    *prometheus.CounterVec
	authEvents      *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botdir_auth_logins_total",
			Help: "OAuthコールバックの結果別件数",
		}, []string{"result"}),
		exchangeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "botdir_auth_token_exchange_duration_seconds",
			Help:    "認可コード交換とユーザー情報取得にかかった時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		profileResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botdir_profile_reconcile_total",
			Help: "プロフィール同期の結果別件数",
		}, []string{"result"}),
		guardDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botdir_route_guard_denials_total",
			Help: "ルートガードでサインインへ戻したリクエスト数",
		}, []string{"reason"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botdir_auth_events_total",
			Help: "認証状態の遷移件数",
		}, []string{"kind"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botdir_http_requests_total",
			Help: "HTTPメソッドとステータスコード別のレスポンス数",
		}, []string{"method", "status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.exchangeLatency,
		c.profileResults,
		c.guardDenials,
		c.authEvents,
		c.httpStatus,
	)

	return c
}

// RecordLogin はコールバックの結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordTokenExchangeLatency は認可コード交換のレイテンシを記録する。
func (c *Collector) RecordTokenExchangeLatency(duration time.Duration) {
	c.exchangeLatency.Observe(duration.Seconds())
}

// RecordProfileReconcile はプロフィール同期の結果を記録する。
func (c *Collector) RecordProfileReconcile(result string) {
	c.profileResults.WithLabelValues(result).Inc()
}

// RecordGuardDenial はルートガードによる拒否を記録する。
func (c *Collector) RecordGuardDenial(reason string) {
	c.guardDenials.WithLabelValues(reason).Inc()
}

// RecordAuthEvent は認証状態の遷移を記録する。
func (c *Collector) RecordAuthEvent(kind string) {
	c.authEvents.WithLabelValues(kind).Inc()
}

// RecordHTTPStatus はHTTPレスポンスを記録する。
func (c *Collector) RecordHTTPStatus(method string, statusCode int) {
	c.httpStatus.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
}

// NopAuthMetrics は何も記録しないAuthMetrics。
type NopAuthMetrics struct{}

func (NopAuthMetrics) RecordLogin(string)                       {}
func (NopAuthMetrics) RecordTokenExchangeLatency(time.Duration) {}
func (NopAuthMetrics) RecordProfileReconcile(string)            {}
func (NopAuthMetrics) RecordGuardDenial(string)                 {}
func (NopAuthMetrics) RecordAuthEvent(string)                   {}

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

// compile-time interface check
var (
	_ AuthMetrics = (*Collector)(nil)
	_ AuthMetrics = NopAuthMetrics{}
)
