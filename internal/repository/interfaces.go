// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/botdir/internal/model"
)

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// Upsert はプロフィールを挿入する。同一IDの行が既に存在する場合は
	// display_name, avatar_url, email, is_verified, updated_at のみを更新する。
	// 新規作成された場合はcreatedにtrueを返す。
	Upsert(ctx context.Context, profile *model.Profile) (created bool, err error)

	// UpdateIdentityFields は既存プロフィールの可変フィールドを更新する。
	// 対象行が存在しない場合はfalseを返す。
	UpdateIdentityFields(ctx context.Context, profile *model.Profile) (bool, error)

	// UpdateSettings は設定画面から変更された表示名と自己紹介を更新する。
	// 更新後のプロフィールを返す。対象行が存在しない場合はnilを返す。
	UpdateSettings(ctx context.Context, id string, settings model.ProfileSettings) (*model.Profile, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	// 有効期限の判定は呼び出し側がリクエスト時刻で行う。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}
