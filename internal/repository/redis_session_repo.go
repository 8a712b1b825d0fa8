package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/botdir/internal/model"
	"github.com/redis/go-redis/v9"
)

const redisSessionKeyPrefix = "session:"

// redisSessionRecord はRedisに保存するセッションのJSON表現。
type redisSessionRecord struct {
	ID          string         `json:"id"`
	SubjectID   string         `json:"subject_id"`
	Identity    model.Identity `json:"identity"`
	AccessToken string         `json:"access_token"`
	ExpiresAt   time.Time      `json:"expires_at"`
	CreatedAt   time.Time      `json:"created_at"`
}

// RedisSessionRepo はRedisを使用したセッションリポジトリ。
// キーのTTLはセッションの有効期限に合わせる。
type RedisSessionRepo struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisSessionRepo はRedisSessionRepoを生成する。
func NewRedisSessionRepo(client redis.UniversalClient) *RedisSessionRepo {
	return &RedisSessionRepo{client: client, now: time.Now}
}

// Create はセッションを作成する。
func (r *RedisSessionRepo) Create(ctx context.Context, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("failed to create session: already expired at %s", session.ExpiresAt.Format(time.RFC3339))
	}

	data, err := json.Marshal(redisSessionRecord{
		ID:          session.ID,
		SubjectID:   session.SubjectID,
		Identity:    session.Identity,
		AccessToken: session.AccessToken,
		ExpiresAt:   session.ExpiresAt,
		CreatedAt:   session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := r.client.Set(ctx, redisSessionKeyPrefix+session.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *RedisSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	data, err := r.client.Get(ctx, redisSessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var rec redisSessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	return &model.Session{
		ID:          rec.ID,
		SubjectID:   rec.SubjectID,
		Identity:    rec.Identity,
		AccessToken: rec.AccessToken,
		ExpiresAt:   rec.ExpiresAt,
		CreatedAt:   rec.CreatedAt,
	}, nil
}

// DeleteByID は指定IDのセッションを削除する。存在しない場合も成功とする。
func (r *RedisSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, redisSessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionRepo)(nil)
