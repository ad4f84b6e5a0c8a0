package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/hourglass/internal/model"
	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // 認証済みAPI全般のレート（req/sec、ユーザー単位）
	GeneralBurst    int           // API全般のバーストサイズ
	ExchangeRate    rate.Limit    // コード交換のレート（req/sec、IP単位）
	ExchangeBurst   int           // コード交換のバーストサイズ
	NewsletterRate  rate.Limit    // ニュースレター登録のレート（req/sec、IP単位）
	NewsletterBurst int           // ニュースレター登録のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// API全般 120 req/min/user、コード交換 20 req/min/IP、ニュースレター 2 req/min/IP。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 20, 2)
}

// NewRateLimiterConfig は1分あたりのリクエスト数から設定を組み立てる。
// バーストサイズは1分あたりの上限と同じ値にする。
func NewRateLimiterConfig(generalPerMin, exchangePerMin, newsletterPerMin int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     perMinute(generalPerMin),
		GeneralBurst:    generalPerMin,
		ExchangeRate:    perMinute(exchangePerMin),
		ExchangeBurst:   exchangePerMin,
		NewsletterRate:  perMinute(newsletterPerMin),
		NewsletterBurst: newsletterPerMin,
		CleanupInterval: 5 * time.Minute,
	}
}

func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// keyedLimiter はキー（ユーザーIDまたはIP）ごとのレートリミッターとアクセス時刻を保持する。
type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet は同じレート設定を共有するキー単位のリミッター集合。
type limiterSet struct {
	name  string
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*keyedLimiter
}

func newLimiterSet(name string, r rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		name:     name,
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*keyedLimiter),
	}
}

// get はキーのリミッターを取得または作成する。
func (s *limiterSet) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kl, ok := s.limiters[key]; ok {
		kl.lastAccess = now
		return kl.limiter
	}

	limiter := rate.NewLimiter(s.rate, s.burst)
	s.limiters[key] = &keyedLimiter{limiter: limiter, lastAccess: now}
	return limiter
}

func (s *limiterSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// sweep は最終アクセスからttlを超えたエントリを削除する。
func (s *limiterSet) sweep(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, kl := range s.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(s.limiters, key)
		}
	}
}

// RateLimiter はユーザー単位・IP単位のレート制限を管理する。
// API全般、コード交換、ニュースレター登録の3種類を提供する。
type RateLimiter struct {
	config RateLimiterConfig

	general    *limiterSet
	exchange   *limiterSet
	newsletter *limiterSet

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:     config,
		general:    newLimiterSet("general", config.GeneralRate, config.GeneralBurst),
		exchange:   newLimiterSet("exchange", config.ExchangeRate, config.ExchangeBurst),
		newsletter: newLimiterSet("newsletter", config.NewsletterRate, config.NewsletterBurst),
		stopCh:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware は認証済みAPI全般のレート制限ミドルウェアを返す。
// Bearer認証ミドルウェアの後に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general, func(r *http.Request) (string, bool) {
		userID, err := UserIDFromContext(r.Context())
		return userID, err == nil
	})
}

// ExchangeMiddleware はコード交換エンドポイントのIP単位レート制限ミドルウェアを返す。
func (rl *RateLimiter) ExchangeMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.exchange, clientIP)
}

// NewsletterMiddleware はニュースレター登録のIP単位レート制限ミドルウェアを返す。
func (rl *RateLimiter) NewsletterMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.newsletter, clientIP)
}

func (rl *RateLimiter) middleware(set *limiterSet, keyFn func(*http.Request) (string, bool)) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := keyFn(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError("Authentication required"))
				return
			}

			if !set.get(key, time.Now()).Allow() {
				slog.Warn("rate limit exceeded",
					slog.String("key", key),
					slog.String("limit_type", set.name),
				)
				writeRateLimitResponse(w, set.rate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.count()
}

// clientIP はリクエスト元IPを返す。
// chiのRealIPミドルウェアを前段に置くとX-Forwarded-For等が反映される。
func clientIP(r *http.Request) (string, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host, host != ""
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2
	now := time.Now()

	rl.general.sweep(now, ttl)
	rl.exchange.sweep(now, ttl)
	rl.newsletter.sweep(now, ttl)
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests,
		model.NewRateLimitedError("Too many requests. Please try again later."))
}
