// Package auth はDiscord OAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/botdir/internal/metrics"
	"github.com/hitoshi/botdir/internal/model"
	"github.com/hitoshi/botdir/internal/repository"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*model.OAuthGrant, error)
}

// ProfileReconciler はIdentityに対応するプロフィールを作成・更新する。
type ProfileReconciler interface {
	Reconcile(ctx context.Context, identity model.Identity) (*model.Profile, bool, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	states      *StateCodec
	sessionRepo repository.SessionRepository
	profiles    ProfileReconciler
	events      *EventBus
	metrics     metrics.AuthMetrics
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。eventsとmetricsはnilでもよい。
func NewService(
	oauth OAuthProvider,
	states *StateCodec,
	sessionRepo repository.SessionRepository,
	profiles ProfileReconciler,
	events *EventBus,
	m metrics.AuthMetrics,
	config ServiceConfig,
) *Service {
	if events == nil {
		events = NewEventBus()
	}
	if m == nil {
		m = metrics.NopAuthMetrics{}
	}
	return &Service{
		oauth:       oauth,
		states:      states,
		sessionRepo: sessionRepo,
		profiles:    profiles,
		events:      events,
		metrics:     m,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// IssueState はstate値とstate Cookieの値を発行する。
func (s *Service) IssueState(next string) (string, string, error) {
	return s.states.Issue(next)
}

// VerifyState はstate Cookieとコールバックのstateを照合し、ログイン開始時の遷移先を返す。
func (s *Service) VerifyState(cookieValue, state string) (string, error) {
	claims, err := s.states.Verify(cookieValue, state)
	if err != nil {
		return "", &CallbackError{Kind: model.AuthErrorInvalidState, Err: err}
	}
	return claims.Next, nil
}

// StateTTL はstate Cookieの有効期間を返す。
func (s *Service) StateTTL() time.Duration {
	return s.states.TTL()
}

// ExchangeCode は認可コードをトークンとIdentityに交換する。
// 失敗はすべてserver_errorとして分類し、再試行しない。
func (s *Service) ExchangeCode(ctx context.Context, code string) (*model.OAuthGrant, error) {
	start := time.Now()
	grant, err := s.oauth.ExchangeCode(ctx, code)
	s.metrics.RecordTokenExchangeLatency(time.Since(start))
	if err != nil {
		return nil, &CallbackError{
			Kind: model.AuthErrorServerError,
			Err:  fmt.Errorf("failed to exchange oauth code: %w", err),
		}
	}
	return grant, nil
}

// CreateSession は交換結果からセッションを作成し永続化する。
// 有効期限はSessionMaxAge後とし、アクセストークンの期限の方が早ければそちらに合わせる。
func (s *Service) CreateSession(ctx context.Context, grant *model.OAuthGrant) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, &CallbackError{Kind: model.AuthErrorUnknown, Err: fmt.Errorf("failed to generate session ID: %w", err)}
	}

	now := s.now()
	expiresAt := now.Add(time.Duration(s.config.SessionMaxAge) * time.Second)
	if !grant.Expiry.IsZero() && grant.Expiry.Before(expiresAt) {
		expiresAt = grant.Expiry
	}

	session := &model.Session{
		ID:          sessionID,
		SubjectID:   grant.Identity.SubjectID,
		Identity:    grant.Identity,
		AccessToken: grant.AccessToken,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, &CallbackError{Kind: model.AuthErrorUnknown, Err: fmt.Errorf("failed to save session: %w", err)}
	}

	slog.Info("user signed in",
		slog.String("user_id", session.SubjectID),
		slog.Time("expires_at", session.ExpiresAt),
	)

	s.events.Publish(Event{
		Kind:      EventSignedIn,
		SubjectID: session.SubjectID,
		SessionID: session.ID,
		At:        now,
	})

	return session, nil
}

// ReconcileProfile はIdentityに対応するプロフィールを作成・更新する。
// 失敗はログに残して呼び出し側に返すが、セッションには影響させない。
func (s *Service) ReconcileProfile(ctx context.Context, identity model.Identity) error {
	if s.profiles == nil {
		return nil
	}

	_, created, err := s.profiles.Reconcile(ctx, identity)
	if err != nil {
		s.metrics.RecordProfileReconcile("failed")
		slog.Warn("profile reconciliation failed",
			slog.String("user_id", identity.SubjectID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to reconcile profile: %w", err)
	}

	if created {
		s.metrics.RecordProfileReconcile("created")
		slog.Info("profile created", slog.String("user_id", identity.SubjectID))
	} else {
		s.metrics.RecordProfileReconcile("updated")
	}
	return nil
}

// Logout はセッションを破棄する。
// セッションが存在した場合のみsigned_outを通知する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if session != nil {
		slog.Info("user signed out", slog.String("user_id", session.SubjectID))
		s.events.Publish(Event{
			Kind:      EventSignedOut,
			SubjectID: session.SubjectID,
			SessionID: session.ID,
			At:        s.now(),
		})
	}
	return nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
