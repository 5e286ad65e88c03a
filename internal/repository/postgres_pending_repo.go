package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/makkotwal/venus/internal/model"
)

// PostgresPendingLoginRepo はPostgreSQLを使用した一時レコードリポジトリ。
type PostgresPendingLoginRepo struct {
	db *sql.DB
}

// NewPostgresPendingLoginRepo はPostgresPendingLoginRepoを生成する。
func NewPostgresPendingLoginRepo(db *sql.DB) *PostgresPendingLoginRepo {
	return &PostgresPendingLoginRepo{db: db}
}

// Create は一時レコードを作成する。
// トークン衝突時はErrTokenConflictを返す。
func (r *PostgresPendingLoginRepo) Create(ctx context.Context, pending *model.PendingLogin) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_logins (token, user_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		pending.Token, pending.UserID, pending.ExpiresAt, pending.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTokenConflict
		}
		return fmt.Errorf("failed to create pending login: %w", err)
	}
	return nil
}

// ConsumeByToken は指定トークンの一時レコードを原子的に削除して返す。
// DELETE ... RETURNINGの1文のため、同一トークンに対する並行呼び出しの
// うち1つだけがレコードを受け取り、残りはnilを受け取る。
// これにより一時トークンの「検証は1回限り」が保証される。
func (r *PostgresPendingLoginRepo) ConsumeByToken(ctx context.Context, tok string) (*model.PendingLogin, error) {
	pending := &model.PendingLogin{}
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM pending_logins
		 WHERE token = $1
		 RETURNING token, user_id, expires_at, created_at`,
		tok,
	).Scan(&pending.Token, &pending.UserID, &pending.ExpiresAt, &pending.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume pending login: %w", err)
	}

	return pending, nil
}

// DeleteByToken は指定トークンの一時レコードを削除する（冪等）。
func (r *PostgresPendingLoginRepo) DeleteByToken(ctx context.Context, tok string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_logins WHERE token = $1`,
		tok,
	)
	if err != nil {
		return fmt.Errorf("failed to delete pending login: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全一時レコードを削除する。
func (r *PostgresPendingLoginRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_logins WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user pending logins: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PendingLoginRepository = (*PostgresPendingLoginRepo)(nil)
