// Package cleanup は期限切れ認証レコードの自動削除ジョブを提供する。
// 遅延失効で拾われなかった期限切れのセッションと保留ログインを
// 日次バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PurgeRecorder はクリーンアップ結果のメトリクス記録インターフェース。
type PurgeRecorder interface {
	RecordExpiredPurged(sessions, pendings int)
}

// CleanupJob は期限切れ認証レコードの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
// 期限切れレコードはアクセス時の遅延失効でも削除されるため、
// このジョブは一度もアクセスされなかったレコードの回収が目的。
type CleanupJob struct {
	db      Executor
	logger  *slog.Logger
	metrics PurgeRecorder
}

// NewCleanupJob は新しいCleanupJobを生成する。
// metricsはnilでもよい。
func NewCleanupJob(db Executor, logger *slog.Logger, metrics PurgeRecorder) *CleanupJob {
	return &CleanupJob{
		db:      db,
		logger:  logger,
		metrics: metrics,
	}
}

// Run は期限切れのセッションと保留ログインを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	expiredSessions, err := j.purge(ctx, "sessions")
	if err != nil {
		return err
	}

	expiredPendings, err := j.purge(ctx, "pending_logins")
	if err != nil {
		return err
	}

	if j.metrics != nil {
		j.metrics.RecordExpiredPurged(int(expiredSessions), int(expiredPendings))
	}

	duration := time.Since(start)
	j.logger.Info("期限切れレコードのクリーンアップが完了しました",
		slog.Int64("expired_sessions", expiredSessions),
		slog.Int64("expired_pending_logins", expiredPendings),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// purge は指定テーブルの期限切れレコードを削除し、削除件数を返す。
func (j *CleanupJob) purge(ctx context.Context, table string) (int64, error) {
	// table は本パッケージ内の固定値のみ
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= now()`, table)

	result, err := j.db.ExecContext(ctx, query)
	if err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sのクリーンアップに失敗: %w", table, err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	return deletedCount, nil
}
