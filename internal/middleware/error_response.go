package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/botdir/internal/model"
)

// ErrorResponseBody はAPIエラーのJSON表現。
// request_id はRequestIDミドルウェアを通ったレスポンスにだけ付く。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteErrorResponse はAPIエラーをJSONで書き込む。
// セッションの有無で内容が変わるため、エラーはキャッシュさせない。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	body := ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		RequestID: w.Header().Get(RequestIDHeader),
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to write error response",
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
	}
}

// WriteAuthRequired は未サインインの401を書き込む。
func WriteAuthRequired(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
}

// WriteInternalServerError は500を書き込む。原因はログにだけ残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "Something went wrong on our side.",
		Category: "system",
		Action:   "Reload the page. If it keeps happening, sign in again.",
	})
}
