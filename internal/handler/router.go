package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/hourglass/internal/metrics"
	"github.com/hitoshi/hourglass/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	BearerResolver    middleware.BearerResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           middleware.HTTPMetrics
	MetricsGatherer   prometheus.Gatherer // nilの場合は/metricsを公開しない

	// ヘルスチェック
	HealthChecker Pinger

	// 認証
	AuthService  AuthServiceInterface
	CodeRedeemer CodeRedeemer
	TokenRevoker TokenRevoker
	AuthConfig   AuthHandlerConfig

	// ニュースレター
	NewsletterService NewsletterServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → Metrics → SecurityHeaders → CORS
//
// Bearer認証が必要なルートではさらに BearerAuth → RateLimit(General) を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.CodeRedeemer, deps.TokenRevoker, deps.AuthConfig)
	userHandler := NewUserHandler()
	newsletterHandler := NewNewsletterHandler(deps.NewsletterService)
	healthHandler := NewHealthHandler(deps.HealthChecker)
	bearerAuth := middleware.NewBearerAuthMiddleware(deps.BearerResolver)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler.Health)
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	r.Route("/auth", func(r chi.Router) {
		r.Get("/google", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.With(deps.RateLimiter.ExchangeMiddleware()).Post("/token", authHandler.Token)
		r.With(bearerAuth).Post("/logout", authHandler.Logout)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthcheck", healthHandler.Healthcheck)
		r.With(deps.RateLimiter.NewsletterMiddleware()).Post("/newsletter", newsletterHandler.Subscribe)

		// --- Bearer認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(bearerAuth)
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/users/me", userHandler.Me)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, notFoundError())
	})

	return r
}
