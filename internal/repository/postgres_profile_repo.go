package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/botdir/internal/model"
)

const profileColumns = `id, username, discriminator, avatar_url, email, display_name, bio, is_verified, created_at, updated_at`

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`,
		id,
	)

	profile, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return profile, nil
}

// Upsert はプロフィールを挿入し、競合時は可変フィールドのみを更新する。
// username と discriminator は ON CONFLICT 側で更新しないため初回の値が残る。
// avatar_url と email はNULLで上書きしない。
// xmax = 0 の行は今回のINSERTで作成された行である。
func (r *PostgresProfileRepo) Upsert(ctx context.Context, profile *model.Profile) (bool, error) {
	var (
		created bool
		avatar  sql.NullString
		email   sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO profiles (id, username, discriminator, avatar_url, email, display_name, bio, is_verified, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		     display_name = EXCLUDED.display_name,
		     avatar_url   = COALESCE(EXCLUDED.avatar_url, profiles.avatar_url),
		     email        = COALESCE(EXCLUDED.email, profiles.email),
		     is_verified  = EXCLUDED.is_verified,
		     updated_at   = EXCLUDED.updated_at
		 RETURNING (xmax = 0), username, discriminator, avatar_url, email, bio, created_at`,
		profile.ID,
		profile.Username,
		profile.Discriminator,
		nullString(profile.AvatarURL),
		nullString(profile.Email),
		profile.DisplayName,
		profile.Bio,
		profile.IsVerified,
		profile.CreatedAt,
		profile.UpdatedAt,
	).Scan(&created, &profile.Username, &profile.Discriminator, &avatar, &email, &profile.Bio, &profile.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to upsert profile: %w", err)
	}
	profile.AvatarURL = avatar.String
	profile.Email = email.String
	return created, nil
}

// UpdateIdentityFields は既存プロフィールの可変フィールドを更新する。
func (r *PostgresProfileRepo) UpdateIdentityFields(ctx context.Context, profile *model.Profile) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles
		 SET display_name = $2,
		     avatar_url   = COALESCE($3, avatar_url),
		     email        = COALESCE($4, email),
		     is_verified  = $5,
		     updated_at   = $6
		 WHERE id = $1`,
		profile.ID,
		profile.DisplayName,
		nullString(profile.AvatarURL),
		nullString(profile.Email),
		profile.IsVerified,
		profile.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update profile: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}

// UpdateSettings は表示名と自己紹介を更新する。nilのフィールドは既存値を維持する。
func (r *PostgresProfileRepo) UpdateSettings(ctx context.Context, id string, settings model.ProfileSettings) (*model.Profile, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE profiles
		 SET display_name = COALESCE($2::text, display_name),
		     bio          = COALESCE($3::text, bio),
		     updated_at   = now()
		 WHERE id = $1
		 RETURNING `+profileColumns,
		id, settings.DisplayName, settings.Bio,
	)

	profile, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile settings: %w", err)
	}
	return profile, nil
}

func scanProfile(row *sql.Row) (*model.Profile, error) {
	var (
		p      model.Profile
		avatar sql.NullString
		email  sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.Username, &p.Discriminator, &avatar, &email,
		&p.DisplayName, &p.Bio, &p.IsVerified, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.AvatarURL = avatar.String
	p.Email = email.String
	return &p, nil
}

// nullString は空文字列をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
