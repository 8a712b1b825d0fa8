package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/botdir/internal/middleware"
	"github.com/hitoshi/botdir/internal/model"
)

// maxProfileBodySize は設定更新リクエストの最大サイズ。
const maxProfileBodySize = 8 << 10

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Ensure(ctx context.Context, identity model.Identity) (*model.Profile, bool, error)
	Get(ctx context.Context, id string) (*model.Profile, error)
	UpdateSettings(ctx context.Context, id string, settings model.ProfileSettings) (*model.Profile, error)
}

// ProfileHandler はプロフィール関連のHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{
		service: service,
	}
}

type ensureResponse struct {
	Created bool           `json:"created"`
	Profile *model.Profile `json:"profile"`
}

// Ensure は現在のセッションのIdentityに対応するプロフィールを作成または更新する。
// POST /api/profile/ensure
// 何度呼んでも同じプロフィールが1件だけ存在する状態になる。
func (h *ProfileHandler) Ensure(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		middleware.WriteAuthRequired(w)
		return
	}

	p, created, err := h.service.Ensure(r.Context(), session.Identity)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ensureResponse{Created: created, Profile: p})
}

// Get は現在のユーザーのプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAuthRequired(w)
		return
	}

	p, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// Update は表示名と自己紹介を更新する。
// PATCH /api/profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAuthRequired(w)
		return
	}

	var req model.ProfileSettings
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxProfileBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("body", "must be a JSON object with display_name and/or bio"))
		return
	}

	p, err := h.service.UpdateSettings(r.Context(), userID, req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}
