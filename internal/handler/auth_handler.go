// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/botdir/internal/auth"
	"github.com/hitoshi/botdir/internal/middleware"
	"github.com/hitoshi/botdir/internal/model"
)

const (
	oauthStateCookie = "oauth_state"

	// maxErrorTextLength はエラー画面に渡すプロバイダーのエラー文の最大長。
	maxErrorTextLength = 256
)

// ログイン結果のメトリクスラベル
const (
	loginResultSuccess       = "success"
	loginResultProviderError = "provider_error"
	loginResultMissingCode   = "missing_code"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	IssueState(next string) (state string, cookieValue string, err error)
	VerifyState(cookieValue, state string) (next string, err error)
	StateTTL() time.Duration
	ExchangeCode(ctx context.Context, code string) (*model.OAuthGrant, error)
	CreateSession(ctx context.Context, grant *model.OAuthGrant) (*model.Session, error)
	ReconcileProfile(ctx context.Context, identity model.Identity) error
	Logout(ctx context.Context, sessionID string) error
}

// LoginRecorder はコールバックの結果を記録するインターフェース。
type LoginRecorder interface {
	RecordLogin(result string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain       string
	CookieSecure       bool
	SignInPath         string // 既定: /auth/login
	ErrorPath          string // 既定: /auth/error
	DefaultLandingPath string // 既定: /dashboard
	Metrics            LoginRecorder
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	if config.SignInPath == "" {
		config.SignInPath = "/auth/login"
	}
	if config.ErrorPath == "" {
		config.ErrorPath = "/auth/error"
	}
	if config.DefaultLandingPath == "" {
		config.DefaultLandingPath = "/dashboard"
	}
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// Login はDiscord OAuthフローを開始する。
// GET /auth/login?next=/settings
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	next := requestedNext(r.URL.Query())

	state, cookieValue, err := h.service.IssueState(next)
	if err != nil {
		slog.Error("failed to issue oauth state", slog.String("error", err.Error()))
		h.redirectToError(w, r, string(model.AuthErrorUnknown), model.AuthErrorUnknown.DefaultMessage())
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    cookieValue,
		Path:     "/",
		MaxAge:   int(h.service.StateTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/callback?code=xxx&state=yyy
//
// 処理順序:
//  1. プロバイダーのエラー → エラー画面
//  2. codeなし → サインイン画面
//  3. state検証失敗 → invalid_state
//  4. コード交換失敗 → server_error（再試行しない）
//  5. セッション保存失敗 → unknown
//  6. プロフィール照合（失敗してもログインは継続）
//  7. 遷移先へリダイレクト
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in oauth callback",
				slog.Any("panic", rec),
				slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			)
			h.fail(w, r, &auth.CallbackError{Kind: model.AuthErrorUnknown, Err: fmt.Errorf("panic: %v", rec)})
		}
	}()

	q := r.URL.Query()

	// 1. プロバイダーが返したエラー
	if providerErr := q.Get("error"); providerErr != "" {
		h.clearStateCookie(w)
		h.recordLogin(loginResultProviderError)
		slog.Warn("oauth provider returned an error",
			slog.String("error", providerErr),
		)
		message := q.Get("error_description")
		if message == "" {
			message = model.AuthErrorUnknown.DefaultMessage()
		}
		h.redirectToError(w, r, truncate(providerErr), truncate(message))
		return
	}

	// 2. 認可コードの取得
	code := q.Get("code")
	if code == "" {
		h.recordLogin(loginResultMissingCode)
		http.Redirect(w, r, h.config.SignInPath, http.StatusFound)
		return
	}

	// 3. stateの検証（CSRF対策）。結果に関わらずstateクッキーは削除する
	var stateCookieValue string
	if c, err := r.Cookie(oauthStateCookie); err == nil {
		stateCookieValue = c.Value
	}
	h.clearStateCookie(w)

	next, err := h.service.VerifyState(stateCookieValue, q.Get("state"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// 4. 認可コードの交換
	grant, err := h.service.ExchangeCode(r.Context(), code)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// 5. セッションの確立
	session, err := h.service.CreateSession(r.Context(), grant)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.setSessionCookie(w, session)

	// 6. プロフィール照合。失敗はサービス側でログとメトリクスに記録済みで、
	// サインイン自体は成功させるためエラーは意図的に捨てる
	_ = h.service.ReconcileProfile(r.Context(), grant.Identity)

	h.recordLogin(loginResultSuccess)

	// 7. 遷移先へリダイレクト
	http.Redirect(w, r, h.landingPath(next, q), http.StatusFound)
}

// ErrorPage はサインイン失敗時のエラー内容を返す。
// GET /auth/error?error=invalid_state&message=...
func (h *AuthHandler) ErrorPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := truncate(q.Get("error"))
	if code == "" {
		code = string(model.AuthErrorUnknown)
	}
	message := truncate(q.Get("message"))
	if message == "" {
		message = model.AuthErrorKind(code).DefaultMessage()
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"error":      code,
		"message":    message,
		"signin_url": h.config.SignInPath,
	})
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	// セッションCookieの取得
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		// セッションをストアから削除
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	// セッションCookieをクリア
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// fail はコールバックの失敗をエラー画面へのリダイレクトに変換する。
func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := auth.KindOf(err)
	h.recordLogin(string(kind))

	attrs := []any{
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	}
	if kind == model.AuthErrorInvalidState {
		// stateの不一致はセキュリティ上の拒否として警告で残す
		slog.Warn("oauth callback rejected", attrs...)
	} else {
		slog.Error("oauth callback failed", attrs...)
	}

	h.redirectToError(w, r, string(kind), kind.DefaultMessage())
}

func (h *AuthHandler) redirectToError(w http.ResponseWriter, r *http.Request, code, message string) {
	target := h.config.ErrorPath + "?" + url.Values{
		"error":   {code},
		"message": {message},
	}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, session *model.Session) {
	maxAge := int(session.ExpiresAt.Sub(session.CreatedAt).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// landingPath はログイン後の遷移先を決める。
// 優先順位: ログイン開始時のnext → コールバックのnext → 既定の遷移先
func (h *AuthHandler) landingPath(fromState string, q url.Values) string {
	if p, ok := auth.SafeRedirectPath(fromState); ok {
		return p
	}
	if p := requestedNext(q); p != "" {
		return p
	}
	return h.config.DefaultLandingPath
}

func (h *AuthHandler) recordLogin(result string) {
	if h.config.Metrics != nil {
		h.config.Metrics.RecordLogin(result)
	}
}

// requestedNext はクエリのnext（別名redirectedFrom）を検証して返す。不正な場合は空文字。
func requestedNext(q url.Values) string {
	for _, key := range []string{"next", "redirectedFrom"} {
		if p, ok := auth.SafeRedirectPath(q.Get(key)); ok {
			return p
		}
	}
	return ""
}

func truncate(s string) string {
	if len(s) > maxErrorTextLength {
		s = s[:maxErrorTextLength]
	}
	return strings.ToValidUTF8(s, "")
}
