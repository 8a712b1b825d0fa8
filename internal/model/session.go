package model

import "time"

// Session はブラウザ単位のログインセッションを表す。
// CookieにはセッションIDのみを保持し、本体はセッションストアに置く。
type Session struct {
	ID          string
	SubjectID   string
	Identity    Identity
	AccessToken string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// ActiveAt はnow時点でセッションが有効かどうかを返す。
// 有効期限がnowより厳密に後の場合のみtrue。
func (s *Session) ActiveAt(now time.Time) bool {
	return s != nil && s.ExpiresAt.After(now)
}

// ExpiresAtMillis は有効期限をエポックミリ秒で返す。
func (s *Session) ExpiresAtMillis() int64 {
	return s.ExpiresAt.UnixMilli()
}

// SessionView はセッション照会APIのレスポンス形式。
type SessionView struct {
	User        Identity `json:"user"`
	AccessToken string   `json:"access_token"`
	ExpiresAt   int64    `json:"expires_at"`
}

// View はセッションをAPIレスポンス形式に変換する。
func (s *Session) View() SessionView {
	return SessionView{
		User:        s.Identity,
		AccessToken: s.AccessToken,
		ExpiresAt:   s.ExpiresAtMillis(),
	}
}
