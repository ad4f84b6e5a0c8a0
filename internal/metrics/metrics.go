// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値。
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultInvalid = "invalid"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスやミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(result string)
	RecordCodeRedemption(result string)
	RecordBearerResolution(result string)
	RecordTokenRotation()
	RecordHTTPStatus(statusCode int)
	RecordRequestDuration(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins            *prometheus.CounterVec
	codeRedemptions   *prometheus.CounterVec
	bearerResolutions *prometheus.CounterVec
	tokenRotations    prometheus.Counter
	httpStatus        *prometheus.CounterVec
	requestDuration   prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hourglass_logins_total",
			Help: "プロバイダーログインの結果別件数",
		}, []string{"result"}),
		codeRedemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hourglass_code_redemptions_total",
			Help: "交換コード引き換えの結果別件数",
		}, []string{"result"}),
		bearerResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hourglass_bearer_resolutions_total",
			Help: "Bearerトークン解決の結果別件数",
		}, []string{"result"}),
		tokenRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hourglass_token_rotations_total",
			Help: "既存トークンを置き換えた回数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hourglass_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hourglass_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.codeRedemptions,
		c.bearerResolutions,
		c.tokenRotations,
		c.httpStatus,
		c.requestDuration,
	)

	return c
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordCodeRedemption は交換コード引き換え結果を記録する。
func (c *Collector) RecordCodeRedemption(result string) {
	c.codeRedemptions.WithLabelValues(result).Inc()
}

// RecordBearerResolution はBearerトークン解決結果を記録する。
func (c *Collector) RecordBearerResolution(result string) {
	c.bearerResolutions.WithLabelValues(result).Inc()
}

// RecordTokenRotation はトークンのローテーションを記録する。
func (c *Collector) RecordTokenRotation() {
	c.tokenRotations.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestDuration はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestDuration(duration time.Duration) {
	c.requestDuration.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストや未設定時に使う。
type Nop struct{}

func (Nop) RecordLogin(string)                  {}
func (Nop) RecordCodeRedemption(string)         {}
func (Nop) RecordBearerResolution(string)       {}
func (Nop) RecordTokenRotation()                {}
func (Nop) RecordHTTPStatus(int)                {}
func (Nop) RecordRequestDuration(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
