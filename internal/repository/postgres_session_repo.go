package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/makkotwal/venus/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// isUniqueViolation はエラーが一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
// トークンはtokenカラムの主キー制約で一意性が強制され、
// 衝突時はErrTokenConflictを返す。上書きは起こらない。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		session.Token, session.UserID, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTokenConflict
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByToken は指定トークンのセッションを取得する。
// 期限切れの場合はレコードを削除した上でnilを返す（遅延失効）。
// 削除後の再検索も同様にnilとなる。
func (r *PostgresSessionRepo) FindByToken(ctx context.Context, tok string) (*model.Session, error) {
	session := &model.Session{}
	err := r.db.QueryRowContext(ctx,
		`SELECT token, user_id, expires_at, created_at
		 FROM sessions
		 WHERE token = $1`,
		tok,
	).Scan(&session.Token, &session.UserID, &session.ExpiresAt, &session.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	if session.Expired(time.Now()) {
		if err := r.DeleteByToken(ctx, tok); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return session, nil
}

// DeleteByToken は指定トークンのセッションを削除する（冪等）。
func (r *PostgresSessionRepo) DeleteByToken(ctx context.Context, tok string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE token = $1`,
		tok,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
