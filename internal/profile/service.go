// Package profile はDiscordのIdentityとアプリ内プロフィールの照合を提供する。
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/botdir/internal/model"
	"github.com/hitoshi/botdir/internal/repository"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/singleflight"
)

const (
	// MaxDisplayNameLength は表示名の最大文字数。
	MaxDisplayNameLength = 32
	// MaxBioLength は自己紹介の最大文字数。
	MaxBioLength = 190
)

// Service はプロフィールのサービス層。
// サインイン時の照合と設定画面からの更新を扱う。
type Service struct {
	repo     repository.ProfileRepository
	policy   *bluemonday.Policy
	inflight singleflight.Group
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.ProfileRepository) *Service {
	return &Service{
		repo:   repo,
		policy: bluemonday.StrictPolicy(),
		now:    time.Now,
	}
}

// Reconcile はIdentityに対応するプロフィールを作成または更新する。
// 既存の場合は表示名、アバター、メール、認証状態のみを更新し、
// username と discriminator は作成時の値を維持する。
// 新規作成した場合はtrueを返す。
func (s *Service) Reconcile(ctx context.Context, identity model.Identity) (*model.Profile, bool, error) {
	if identity.SubjectID == "" {
		return nil, false, fmt.Errorf("identity has no subject id")
	}

	now := s.now()

	existing, err := s.repo.FindByID(ctx, identity.SubjectID)
	if err != nil {
		return nil, false, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}

	if existing != nil {
		existing.ApplyIdentity(identity, now)
		updated, err := s.repo.UpdateIdentityFields(ctx, existing)
		if err != nil {
			return nil, false, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
		}
		if updated {
			return existing, false, nil
		}
		// 取得後に削除された場合は作成し直す
	}

	p := model.NewProfileFromIdentity(identity, now)
	created, err := s.repo.Upsert(ctx, p)
	if err != nil {
		return nil, false, fmt.Errorf("プロフィールの作成に失敗しました: %w", err)
	}

	if created {
		slog.Info("プロフィールを作成しました",
			slog.String("user_id", p.ID),
		)
	}

	return p, created, nil
}

type ensureResult struct {
	profile *model.Profile
	created bool
}

// Ensure はReconcileと同じ処理を行う。
// 同一ユーザーに対する同時呼び出しは1回の書き込みにまとめられる。
func (s *Service) Ensure(ctx context.Context, identity model.Identity) (*model.Profile, bool, error) {
	v, err, _ := s.inflight.Do(identity.SubjectID, func() (interface{}, error) {
		p, created, err := s.Reconcile(ctx, identity)
		if err != nil {
			return nil, err
		}
		return ensureResult{profile: p, created: created}, nil
	})
	if err != nil {
		return nil, false, err
	}

	res := v.(ensureResult)
	// 共有結果を呼び出し側で書き換えられないようコピーを返す
	p := *res.profile
	return &p, res.created, nil
}

// Get は指定ユーザーのプロフィールを返す。
// 存在しない場合はPROFILE_NOT_FOUNDエラーを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Profile, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewProfileNotFoundError()
	}
	return p, nil
}

// UpdateSettings は表示名と自己紹介を検証して更新する。
// 入力はHTMLタグを除去し前後の空白を取り除いた上で文字数を検証する。
func (s *Service) UpdateSettings(ctx context.Context, id string, settings model.ProfileSettings) (*model.Profile, error) {
	clean, err := s.normalizeSettings(settings)
	if err != nil {
		return nil, err
	}

	p, err := s.repo.UpdateSettings(ctx, id, clean)
	if err != nil {
		return nil, fmt.Errorf("プロフィール設定の更新に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewProfileNotFoundError()
	}

	slog.Info("プロフィール設定を更新しました",
		slog.String("user_id", id),
	)
	return p, nil
}

func (s *Service) normalizeSettings(in model.ProfileSettings) (model.ProfileSettings, error) {
	var out model.ProfileSettings

	if in.DisplayName != nil {
		name := s.sanitize(*in.DisplayName)
		n := utf8.RuneCountInString(name)
		if n < 1 || n > MaxDisplayNameLength {
			return out, model.NewValidationError("display_name", fmt.Sprintf("must be 1-%d characters", MaxDisplayNameLength))
		}
		out.DisplayName = &name
	}

	if in.Bio != nil {
		bio := s.sanitize(*in.Bio)
		if utf8.RuneCountInString(bio) > MaxBioLength {
			return out, model.NewValidationError("bio", fmt.Sprintf("must be at most %d characters", MaxBioLength))
		}
		out.Bio = &bio
	}

	return out, nil
}

func (s *Service) sanitize(v string) string {
	return strings.TrimSpace(s.policy.Sanitize(v))
}
