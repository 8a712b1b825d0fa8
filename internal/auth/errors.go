package auth

import (
	"errors"
	"fmt"

	"github.com/hitoshi/botdir/internal/model"
)

// CallbackError はOAuthコールバック処理の失敗を分類付きで表す。
type CallbackError struct {
	Kind model.AuthErrorKind
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *CallbackError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *CallbackError) Unwrap() error {
	return e.Err
}

// KindOf はエラーの分類を返す。分類が付いていないエラーはunknownとする。
func KindOf(err error) model.AuthErrorKind {
	var cbErr *CallbackError
	if errors.As(err, &cbErr) {
		return cbErr.Kind
	}
	return model.AuthErrorUnknown
}
