package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/botdir/internal/auth"
	"github.com/hitoshi/botdir/internal/config"
	"github.com/hitoshi/botdir/internal/database"
	"github.com/hitoshi/botdir/internal/handler"
	"github.com/hitoshi/botdir/internal/logger"
	"github.com/hitoshi/botdir/internal/metrics"
	"github.com/hitoshi/botdir/internal/middleware"
	"github.com/hitoshi/botdir/internal/profile"
	"github.com/hitoshi/botdir/internal/repository"
	"github.com/hitoshi/botdir/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level != slog.LevelInfo {
		logger.SetupDefault(w, level)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	if !cmd.NeedsConfig() {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("env", cfg.AppEnv),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.SessionStore),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return fmt.Errorf("unsupported command %q", cmd)
	}
}

// server はHTTPサーバーモードで組み立てた依存関係を保持する。
type server struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
	registry    *prometheus.Registry
}

// close はバックグラウンドで動いている依存を停止する。
func (s *server) close() {
	s.rateLimiter.Stop()
}

// newServer は全依存関係をワイヤリングしてHTTPハンドラーを構築する。
// DBへの接続は行わないため、接続確認は呼び出し側で済ませておくこと。
func newServer(cfg *config.Config, db *sql.DB, sessions repository.SessionRepository, checkers ...handler.HealthChecker) (*server, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. 認証状態の変化の購読
	events := auth.NewEventBus()
	events.Subscribe(func(e auth.Event) {
		collector.RecordAuthEvent(string(e.Kind))
	})
	events.Subscribe(func(e auth.Event) {
		slog.Info("auth state changed",
			slog.String("event", string(e.Kind)),
			slog.String("user_id", e.SubjectID),
			slog.Time("at", e.At),
		)
	})

	// 3. ドメインサービス
	profileService := profile.NewService(repository.NewPostgresProfileRepo(db))

	oauthProvider := auth.NewDiscordOAuthProvider(auth.DiscordOAuthConfig{
		ClientID:     cfg.DiscordClientID,
		ClientSecret: cfg.DiscordClientSecret,
		RedirectURL:  cfg.DiscordRedirectURL,
		AuthURL:      cfg.DiscordAuthURL,
		TokenURL:     cfg.DiscordTokenURL,
		APIBaseURL:   cfg.DiscordAPIBaseURL,
		Timeout:      cfg.TokenExchangeTimeout,
	})
	states := auth.NewStateCodec([]byte(cfg.SessionSecret), cfg.OAuthStateTTL)
	authService := auth.NewService(
		oauthProvider, states, sessions, profileService, events, collector,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	// 4. ガード対象ページ
	pages, err := handler.NewPageHandler(cfg.FrontendURL)
	if err != nil {
		return nil, fmt.Errorf("failed to configure pages: %w", err)
	}

	// 5. レート制限（configはreq/min単位なのでreq/secに変換する）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.AuthRate = rate.Limit(float64(cfg.RateLimitAuth) / 60.0)
	rateLimiterCfg.AuthBurst = cfg.RateLimitAuth
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)

	// 6. ルーター
	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		SessionFinder:     sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure:  cfg.CookieSecure,
			CookieDomain:  cfg.CookieDomain,
			TrustedOrigin: cfg.CORSAllowedOrigin,
		},
		RateLimiter: rateLimiter,
		GuardConfig: middleware.GuardConfig{Metrics: collector},
		HSTS:        cfg.IsProduction(),

		HTTPMetrics:    collector,
		MetricsHandler: metrics.Handler(registry),
		HealthCheckers: checkers,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:       cfg.CookieDomain,
			CookieSecure:       cfg.CookieSecure,
			DefaultLandingPath: cfg.DefaultLandingPath,
			Metrics:            collector,
		},

		ProfileService: profileService,
		Pages:          pages,
	}

	return &server{
		handler:     handler.NewRouter(deps),
		rateLimiter: rateLimiter,
		registry:    registry,
	}, nil
}

// openSessionStore はSESSION_STOREに応じたセッションリポジトリを返す。
// Redisを使う場合はそのヘルスチェックとクローズ処理も返す。
func openSessionStore(ctx context.Context, cfg *config.Config, db *sql.DB) (repository.SessionRepository, []handler.HealthChecker, func(), error) {
	if cfg.SessionStore != config.SessionStoreRedis {
		return repository.NewPostgresSessionRepo(db), nil, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))

	closer := func() {
		if err := client.Close(); err != nil {
			slog.Error("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	return repository.NewRedisSessionRepo(client), []handler.HealthChecker{redisPinger{client}}, closer, nil
}

// redisPinger はRedisクライアントをHealthCheckerに適合させる。
type redisPinger struct {
	client redis.UniversalClient
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. セッションストア
	sessions, storeCheckers, closeStore, err := openSessionStore(context.Background(), cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. ワイヤリング
	checkers := append([]handler.HealthChecker{db}, storeCheckers...)
	srv, err := newServer(cfg, db, sessions, checkers...)
	if err != nil {
		return err
	}
	defer srv.close()

	// 4. HTTPサーバーの起動
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除ジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewSessionCleanupJob(db, slog.Default())
	cleanupJob.Retention = cfg.SessionRetention

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
		slog.Duration("retention", cfg.SessionRetention),
	)
	if cfg.SessionStore == config.SessionStoreRedis {
		slog.Info("redis sessions expire by TTL; cleaning leftover postgres sessions only")
	}

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("applied", status.Applied),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
