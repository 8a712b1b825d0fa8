// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// DefaultDiscriminator はプロバイダーがdiscriminatorを返さない場合の既定値。
const DefaultDiscriminator = "0000"

// fallbackName は名前の候補がすべて空の場合に使う表示名。
const fallbackName = "User"

// Identity はDiscordから取得した認証済みユーザーの情報を表す。
// このシステムからは再認証時以外に変更しない。
type Identity struct {
	SubjectID     string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	GlobalName    string `json:"global_name,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"verified"`
}

// OAuthGrant は認可コード交換の結果を表す。
type OAuthGrant struct {
	Identity    Identity
	AccessToken string
	TokenType   string
	Expiry      time.Time // プロバイダーがexpires_inを返さない場合はゼロ値
}

// DisplayNameFor は表示名を決定する。
// 優先順位: global_name → username → メールアドレスのローカル部 → "User"
func DisplayNameFor(id Identity) string {
	return firstNonEmpty(id.GlobalName, id.Username, emailLocalPart(id.Email))
}

// UsernameFor はプロフィールのユーザー名を決定する。
// 優先順位: username → global_name → メールアドレスのローカル部 → "User"
func UsernameFor(id Identity) string {
	return firstNonEmpty(id.Username, id.GlobalName, emailLocalPart(id.Email))
}

// DiscriminatorFor はdiscriminatorを返す。空の場合は既定値を返す。
func DiscriminatorFor(id Identity) string {
	if d := strings.TrimSpace(id.Discriminator); d != "" {
		return d
	}
	return DefaultDiscriminator
}

func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return fallbackName
}

// emailLocalPart はメールアドレスの@より前を返す。
func emailLocalPart(email string) string {
	local, _, found := strings.Cut(strings.TrimSpace(email), "@")
	if !found {
		return ""
	}
	return local
}
