package middleware

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultProtectedPrefixes はサインインが必要なページのパス接頭辞。
var DefaultProtectedPrefixes = []string{
	"/dashboard",
	"/profile",
	"/settings",
	"/favorites",
	"/developers/add-bot",
	"/developers/dashboard",
}

// GuardMetrics はルートガードの拒否を記録するインターフェース。
type GuardMetrics interface {
	RecordGuardDenial(reason string)
}

// GuardConfig はルートガードの設定。
type GuardConfig struct {
	Prefixes   []string
	SignInPath string
	Now        Clock
	Metrics    GuardMetrics
}

// NewRouteGuard は保護対象パスへのリクエストに有効なセッションを要求するミドルウェアを返す。
// 未認証の場合はサインインページへ302でリダイレクトし、元のパスとクエリをnextに付ける。
// 保護対象外のパスはそのまま通す。セッションやCookieは変更しない。
func NewRouteGuard(finder SessionFinder, config GuardConfig) func(next http.Handler) http.Handler {
	if config.Prefixes == nil {
		config.Prefixes = DefaultProtectedPrefixes
	}
	if config.SignInPath == "" {
		config.SignInPath = "/auth/login"
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsProtectedPath(r.URL.Path, config.Prefixes) {
				next.ServeHTTP(w, r)
				return
			}

			session, result := resolveSession(r, finder, config.Now)
			if result != lookupOK {
				if config.Metrics != nil {
					config.Metrics.RecordGuardDenial(string(result))
				}
				http.Redirect(w, r, signInURL(config.SignInPath, r), http.StatusFound)
				return
			}

			SetLogUserID(r.Context(), session.SubjectID)
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

// IsProtectedPath はpathがいずれかの接頭辞と完全一致するか、接頭辞+"/"で始まるかを判定する。
func IsProtectedPath(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func signInURL(signInPath string, r *http.Request) string {
	original := r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		original += "?" + r.URL.RawQuery
	}
	return signInPath + "?" + url.Values{"next": {original}}.Encode()
}
