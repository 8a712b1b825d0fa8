// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, profile, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthRequired     = "AUTH_REQUIRED"
	ErrCodeProfileNotFound  = "PROFILE_NOT_FOUND"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeCSRFTokenInvalid = "CSRF_TOKEN_INVALID"
)

// AuthErrorKind はOAuthコールバックの失敗分類。
// エラー画面へのリダイレクトURLにそのまま載る。
type AuthErrorKind string

const (
	// AuthErrorInvalidState はstateの不一致・欠落・期限切れ。
	AuthErrorInvalidState AuthErrorKind = "invalid_state"
	// AuthErrorServerError は認可コード交換またはユーザー情報取得の失敗。
	AuthErrorServerError AuthErrorKind = "server_error"
	// AuthErrorUnknown はコールバック処理中の想定外の失敗。
	AuthErrorUnknown AuthErrorKind = "unknown"
)

// DefaultMessage はエラー画面に表示する既定のメッセージを返す。
func (k AuthErrorKind) DefaultMessage() string {
	switch k {
	case AuthErrorInvalidState:
		return "Your sign-in request could not be verified. Please try signing in again."
	case AuthErrorServerError:
		return "We could not complete sign-in with Discord. Please try again."
	default:
		return "An unexpected error occurred during sign-in."
	}
}

// NewAuthRequiredError は未認証エラーを生成する。
func NewAuthRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthRequired,
		Message:  "Not authenticated",
		Category: "auth",
		Action:   "Sign in with Discord to continue.",
	}
}

// NewProfileNotFoundError はプロフィールが見つからない場合のエラーを生成する。
func NewProfileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  "Profile not found.",
		Category: "profile",
		Action:   "Reload the page to create your profile.",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("%s %s", field, reason),
		Category: "validation",
		Action:   "Fix the highlighted field and submit again.",
	}
}
