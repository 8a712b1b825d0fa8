package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/botdir/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionFinder     middleware.SessionFinder
	Clock             middleware.Clock
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	GuardConfig       middleware.GuardConfig
	HSTS              bool

	// メトリクス
	HTTPMetrics    middleware.HTTPStatusRecorder
	MetricsHandler http.Handler

	// ヘルスチェック
	HealthCheckers []HealthChecker

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// プロフィール
	ProfileService ProfileServiceInterface

	// ガード対象ページ
	Pages http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → RequestID → Logging → HTTPMetrics → Recovery → SecurityHeaders → CORS → RouteGuard
//
// /api 配下はさらに Session → RateLimit(General) → CSRF を通る。
// /auth 配下のログイン開始とコールバックはクライアントIP単位のレート制限を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPMetrics != nil {
		r.Use(middleware.NewHTTPMetricsMiddleware(deps.HTTPMetrics))
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// ルートガードは最上位に置き、保護対象のパス接頭辞だけを判定する
	guardConfig := deps.GuardConfig
	if guardConfig.Now == nil {
		guardConfig.Now = deps.Clock
	}
	r.Use(middleware.NewRouteGuard(deps.SessionFinder, guardConfig))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	sessionHandler := NewSessionHandler()
	profileHandler := NewProfileHandler(deps.ProfileService)

	// --- 認証不要のルート ---

	r.Get("/health", HealthHandler(deps.HealthCheckers...))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.With(deps.RateLimiter.AuthMiddleware()).Get("/login", authHandler.Login)
		// コールバックは常にリダイレクトで終える。JSONの429は返さない
		r.Get("/callback", authHandler.Callback)
		r.Get("/error", authHandler.ErrorPage)
		r.With(middleware.NewCSRFMiddleware(deps.CSRFConfig)).Post("/logout", authHandler.Logout)
	})

	// --- 認証が必要なAPI ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, deps.Clock))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/api/auth/session", sessionHandler.Get)

		r.Route("/api/profile", func(r chi.Router) {
			r.Get("/", profileHandler.Get)
			r.Patch("/", profileHandler.Update)
			r.Post("/ensure", profileHandler.Ensure)
		})
	})

	// --- ガード対象のページ ---
	if deps.Pages != nil {
		prefixes := guardConfig.Prefixes
		if prefixes == nil {
			prefixes = middleware.DefaultProtectedPrefixes
		}
		for _, p := range prefixes {
			r.Handle(p, deps.Pages)
			r.Handle(p+"/*", deps.Pages)
		}
	}

	return r
}
