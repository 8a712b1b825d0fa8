package middleware

import (
	"net/http"
	"strings"
)

var corsHeaders = map[string]string{
	"Access-Control-Allow-Methods":     "GET, POST, PUT, PATCH, DELETE, OPTIONS",
	"Access-Control-Allow-Headers":     "Content-Type, X-CSRF-Token, X-Request-ID",
	"Access-Control-Allow-Credentials": "true",
	"Access-Control-Expose-Headers":    RequestIDHeader,
	"Access-Control-Max-Age":           "86400",
}

// NewCORSMiddleware はallowedOriginだけにCookie付きのクロスオリジンアクセスを許可する。
// credentialsを許可するためワイルドカードは使わない。
// 別オリジンからのリクエストにはCORSヘッダーを付けず、ブラウザ側で遮断させる。
// OPTIONSプリフライトには常に204で応答する。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			if origin == "" || strings.EqualFold(origin, allowedOrigin) {
				w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
				for k, v := range corsHeaders {
					w.Header().Set(k, v)
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
