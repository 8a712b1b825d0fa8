package model

import "time"

// Profile はアプリケーションが所有するユーザープロフィールを表す。
// IDはDiscordのユーザーIDと一致し、1 Identityにつき1行のみ存在する。
type Profile struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	Email         string    `json:"email,omitempty"`
	DisplayName   string    `json:"display_name"`
	Bio           string    `json:"bio"`
	IsVerified    bool      `json:"is_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewProfileFromIdentity はIdentityから初期プロフィールを生成する。
func NewProfileFromIdentity(id Identity, now time.Time) *Profile {
	return &Profile{
		ID:            id.SubjectID,
		Username:      UsernameFor(id),
		Discriminator: DiscriminatorFor(id),
		AvatarURL:     id.AvatarURL,
		Email:         id.Email,
		DisplayName:   DisplayNameFor(id),
		IsVerified:    id.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ApplyIdentity は最新のIdentityで可変フィールドのみを更新する。
// username と discriminator は初回作成時の値を維持する。
// アバターとメールはIdentity側が空なら保存済みの値を残す。
func (p *Profile) ApplyIdentity(id Identity, now time.Time) {
	p.DisplayName = DisplayNameFor(id)
	if id.AvatarURL != "" {
		p.AvatarURL = id.AvatarURL
	}
	if id.Email != "" {
		p.Email = id.Email
	}
	p.IsVerified = id.EmailVerified
	p.UpdatedAt = now
}

// ProfileSettings は設定画面から更新できる項目。
// nilのフィールドは変更しない。
type ProfileSettings struct {
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
}
