package handler

import (
	"net/http"

	"github.com/hitoshi/botdir/internal/middleware"
)

// SessionHandler はセッション照会のHTTPハンドラー。
type SessionHandler struct{}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler() *SessionHandler {
	return &SessionHandler{}
}

// Get は現在のセッションを返す。
// GET /api/auth/session
// セッションミドルウェアの後に配置するため、未認証・期限切れはここに到達しない。
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		middleware.WriteAuthRequired(w)
		return
	}

	writeJSON(w, http.StatusOK, session.View())
}
