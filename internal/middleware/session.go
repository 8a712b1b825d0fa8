// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/botdir/internal/model"
)

// SessionCookieName はセッションIDを保持するCookie名。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
var sessionContextKey = contextKey("session")

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// Clock は現在時刻を返す関数。テストで差し替える。
type Clock func() time.Time

// lookupResult はセッション解決の結果分類。
type lookupResult string

const (
	lookupOK      lookupResult = "ok"
	lookupMissing lookupResult = "missing"
	lookupExpired lookupResult = "expired"
	lookupError   lookupResult = "error"
)

// resolveSession はCookieからセッションを解決し、リクエスト時刻で有効期限を判定する。
func resolveSession(r *http.Request, finder SessionFinder, now Clock) (*model.Session, lookupResult) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, lookupMissing
	}

	session, err := finder.FindByID(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("failed to find session",
			slog.String("error", err.Error()),
		)
		return nil, lookupError
	}
	if session == nil {
		return nil, lookupMissing
	}
	if !session.ActiveAt(now()) {
		return nil, lookupExpired
	}
	return session, lookupOK
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 有効なセッションをリクエストコンテキストに注入する。
// 未認証リクエストには401 AUTH_REQUIREDを返す。
func NewSessionMiddleware(finder SessionFinder, now Clock) func(next http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, result := resolveSession(r, finder, now)
			if result != lookupOK {
				WriteAuthRequired(w)
				return
			}

			SetLogUserID(r.Context(), session.SubjectID)
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(*model.Session)
	return session, ok && session != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアまたはルートガードを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	session, ok := SessionFromContext(ctx)
	if !ok || session.SubjectID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return session.SubjectID, nil
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}
