package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/hitoshi/botdir/internal/middleware"
	"github.com/hitoshi/botdir/internal/model"
)

// PageHandler はルートガードを通過したページリクエストを処理する。
// フロントエンドのURLが設定されていればリバースプロキシし、
// なければサインイン中のユーザー概要をJSONで返す。
type PageHandler struct {
	proxy *httputil.ReverseProxy
}

// NewPageHandler はPageHandlerを生成する。frontendURLは空でもよい。
func NewPageHandler(frontendURL string) (*PageHandler, error) {
	if frontendURL == "" {
		return &PageHandler{}, nil
	}

	target, err := url.Parse(frontendURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid frontend URL: %q", frontendURL)
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			// ガードが確認したユーザーをフロントエンドに伝える
			if session, ok := middleware.SessionFromContext(pr.In.Context()); ok {
				pr.Out.Header.Set("X-Botdir-User-ID", session.SubjectID)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("frontend proxy failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return &PageHandler{proxy: proxy}, nil
}

type pageSummary struct {
	Path        string `json:"path"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	ExpiresAt   int64  `json:"expires_at"`
}

// ServeHTTP はhttp.Handlerを実装する。
func (h *PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		middleware.WriteAuthRequired(w)
		return
	}

	if h.proxy != nil {
		r.Header.Del("X-Botdir-User-ID")
		h.proxy.ServeHTTP(w, r)
		return
	}

	writeJSON(w, http.StatusOK, pageSummary{
		Path:        r.URL.Path,
		UserID:      session.SubjectID,
		DisplayName: model.DisplayNameFor(session.Identity),
		AvatarURL:   session.Identity.AvatarURL,
		ExpiresAt:   session.ExpiresAtMillis(),
	})
}
