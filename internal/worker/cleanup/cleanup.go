// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// Postgresのセッションストアのみが対象で、RedisはキーのTTLで自然に消える。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetention は有効期限切れ後もセッション行を残しておく期間。
const DefaultRetention = 24 * time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SessionCleanupJob は有効期限から保持期間を過ぎたセッションを削除するジョブ。
// 期限切れの判定はリクエスト時に行うため、削除が遅れても認証結果には影響しない。
type SessionCleanupJob struct {
	db        Executor
	logger    *slog.Logger
	Retention time.Duration
	now       func() time.Time
}

// NewSessionCleanupJob は新しいSessionCleanupJobを生成する。
// 保持期間の既定値は24時間。
func NewSessionCleanupJob(db Executor, logger *slog.Logger) *SessionCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionCleanupJob{
		db:        db,
		logger:    logger,
		Retention: DefaultRetention,
		now:       time.Now,
	}
}

// Run はexpires_atが現在時刻から保持期間以上前のセッションを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *SessionCleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().Add(-j.Retention)

	result, err := j.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, cutoff)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("retention", j.Retention),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。失敗はログに残して次の周期で再実行する。
func (j *SessionCleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("session cleanup will retry", slog.Duration("interval", interval))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
