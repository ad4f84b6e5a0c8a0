package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/hitoshi/hourglass/internal/auth"
	"github.com/hitoshi/hourglass/internal/avatar"
	"github.com/hitoshi/hourglass/internal/cache"
	"github.com/hitoshi/hourglass/internal/config"
	"github.com/hitoshi/hourglass/internal/database"
	"github.com/hitoshi/hourglass/internal/handler"
	"github.com/hitoshi/hourglass/internal/logger"
	"github.com/hitoshi/hourglass/internal/metrics"
	"github.com/hitoshi/hourglass/internal/middleware"
	"github.com/hitoshi/hourglass/internal/newsletter"
	"github.com/hitoshi/hourglass/internal/repository"
	"github.com/hitoshi/hourglass/internal/security"
	"github.com/hitoshi/hourglass/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINT/SIGTERMでコンテキストをキャンセルする。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// components はserveで組み立てる依存関係。
type components struct {
	router      http.Handler
	rateLimiter *middleware.RateLimiter
	closers     []io.Closer
}

func (c *components) Close() {
	c.rateLimiter.Stop()
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			slog.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
}

// buildComponents は全依存関係をワイヤリングしてルーターを構築する。
func buildComponents(ctx context.Context, cfg *config.Config, db *sql.DB) (*components, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	tokenRepo := repository.NewPostgresTokenRepo(db)
	subscriberRepo := repository.NewPostgresSubscriberRepo(db)
	transactor := repository.NewPostgresTransactor(db)

	// 3. トークンキャッシュ（TOKEN_CACHE=noneの場合はnil）
	tokenCache, err := cache.New(ctx, cache.Config{
		Driver:   cfg.TokenCache,
		TTL:      cfg.TokenCacheTTL,
		RedisURL: cfg.RedisURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token cache: %w", err)
	}

	var closers []io.Closer
	storeCfg := auth.TokenStoreConfig{TTL: cfg.TokenTTL, Metrics: collector}
	if tokenCache != nil {
		storeCfg.Cache = tokenCache
		if c, ok := tokenCache.(io.Closer); ok {
			closers = append(closers, c)
		}
	}

	// 4. 認証コア
	directory := auth.NewDirectory(userRepo, security.NewProfileSanitizer())
	issuer := auth.NewCodeIssuer(userRepo, cfg.ExchangeCodeTTL)
	store := auth.NewTokenStore(transactor, tokenRepo, storeCfg)
	exchange := auth.NewExchangeService(transactor, store, collector)
	resolver := auth.NewBearerResolver(store, directory, collector)

	// 5. ログイン調停
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	avatars := avatar.NewResolver(avatar.Config{
		Guard:   security.NewSSRFGuard(),
		Timeout: cfg.AvatarCheckTimeout,
	})
	authService := auth.NewService(oauthProvider, avatars, directory, issuer, collector)

	// 6. ニュースレター
	newsletterService := newsletter.NewService(subscriberRepo, nil)

	// 7. ルーター
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(
		cfg.RateLimitGeneral, cfg.RateLimitExchange, cfg.RateLimitNewsletter,
	))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		BearerResolver:    resolver,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		Metrics:           collector,
		MetricsGatherer:   registry,
		HealthChecker:     db,
		AuthService:       authService,
		CodeRedeemer:      exchange,
		TokenRevoker:      store,
		AuthConfig: handler.AuthHandlerConfig{
			ClientRedirectURL: cfg.ClientRedirectURL,
			AuthFailureURL:    cfg.AuthFailureURL,
			CookieSecure:      cfg.CookieSecure,
		},
		NewsletterService: newsletterService,
	})

	return &components{router: router, rateLimiter: rl, closers: closers}, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting API server",
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("token_cache", cfg.TokenCache),
	)

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	comps, err := buildComponents(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer comps.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      comps.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はクリーンアップワーカーを起動する。
// ctxがキャンセルされるまでCLEANUP_INTERVALごとに期限切れの認証情報を削除する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewCleanupJob(
		repository.NewPostgresUserRepo(db),
		repository.NewPostgresTokenRepo(db),
		slog.Default(),
	)

	slog.Info("worker starting", slog.Duration("cleanup_interval", cfg.CleanupInterval))
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はすべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runMigrateDown はすべてのマイグレーションをロールバックする。
func runMigrateDown(cfg *config.Config) error {
	m, err := database.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer m.Close()

	slog.Warn("rolling back all database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration rollback failed: %w", err)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
