package repository

import (
	"context"
	"testing"
	"time"

	"github.com/hitoshi/botdir/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(id, subjectID string, expiresAt time.Time) *model.Session {
	return &model.Session{
		ID:        id,
		SubjectID: subjectID,
		Identity: model.Identity{
			SubjectID: subjectID,
			Username:  "alice",
			Email:     "alice@example.com",
		},
		AccessToken: "access-" + id,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

// sessionRepoContract はSessionRepositoryの実装に共通する振る舞いを検証する。
func sessionRepoContract(t *testing.T, repo SessionRepository) {
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)

	t.Run("FindByID returns nil for unknown id", func(t *testing.T) {
		s, err := repo.FindByID(ctx, "unknown")
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("Create then FindByID round trips identity and token", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newTestSession("s-1", "u-1", expiresAt)))

		got, err := repo.FindByID(ctx, "s-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "u-1", got.SubjectID)
		assert.Equal(t, "alice", got.Identity.Username)
		assert.Equal(t, "access-s-1", got.AccessToken)
		assert.True(t, got.ExpiresAt.Equal(expiresAt))
	})

	t.Run("DeleteByID removes the session", func(t *testing.T) {
		require.NoError(t, repo.DeleteByID(ctx, "s-1"))

		got, err := repo.FindByID(ctx, "s-1")
		require.NoError(t, err)
		assert.Nil(t, got)

		// 存在しないIDの削除もエラーにならない
		require.NoError(t, repo.DeleteByID(ctx, "s-1"))
	})
}

func TestPostgresSessionRepo_Contract(t *testing.T) {
	sessionRepoContract(t, NewPostgresSessionRepo(setupTestDB(t)))
}

func TestPostgresSessionRepo_FindByID_ReturnsExpiredRows(t *testing.T) {
	repo := NewPostgresSessionRepo(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestSession("expired", "u-1", time.Now().Add(-time.Minute))))

	// 期限判定はリクエスト時刻で呼び出し側が行うため、行自体は返る
	got, err := repo.FindByID(ctx, "expired")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.ActiveAt(time.Now()))
}

func TestRedisSessionRepo_Contract(t *testing.T) {
	sessionRepoContract(t, NewRedisSessionRepo(setupTestRedis(t)))
}

func TestRedisSessionRepo_Create_SetsTTLToExpiry(t *testing.T) {
	client := setupTestRedis(t)
	repo := NewRedisSessionRepo(client)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestSession("ttl", "u-1", time.Now().Add(10*time.Minute))))

	ttl, err := client.TTL(ctx, redisSessionKeyPrefix+"ttl").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 9*time.Minute)
	assert.LessOrEqual(t, ttl, 10*time.Minute)
}

func TestRedisSessionRepo_Create_RejectsExpiredSession(t *testing.T) {
	repo := NewRedisSessionRepo(nil)

	err := repo.Create(context.Background(), newTestSession("old", "u-1", time.Now().Add(-time.Second)))
	assert.Error(t, err)
}

func TestRedisSessionRepo_Create_WritesOnlySessionKey(t *testing.T) {
	client := setupTestRedis(t)
	repo := NewRedisSessionRepo(client)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestSession("only", "u-9", time.Now().Add(time.Hour))))

	keys, err := client.Keys(ctx, "*").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{redisSessionKeyPrefix + "only"}, keys)

	require.NoError(t, repo.DeleteByID(ctx, "only"))
	n, err := client.Exists(ctx, redisSessionKeyPrefix+"only").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}
