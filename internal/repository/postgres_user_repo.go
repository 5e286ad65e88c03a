package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/makkotwal/venus/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, name, role, picture, totp_secret, two_factor_enabled, created_at, updated_at`

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.Name, &user.Role, &user.Picture,
		&user.TOTPSecret, &user.TwoFactorEnabled, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, role, picture, totp_secret, two_factor_enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Email, user.Name, user.Role, user.Picture,
		user.TOTPSecret, user.TwoFactorEnabled, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateTOTPSecret はTOTPシークレットを差し替え、2FAを有効化する。
func (r *PostgresUserRepo) UpdateTOTPSecret(ctx context.Context, id, secret string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET totp_secret = $2, two_factor_enabled = TRUE, updated_at = now()
		 WHERE id = $1`,
		id, secret,
	)
	if err != nil {
		return fmt.Errorf("failed to update totp secret: %w", err)
	}
	return requireOneRow(result, "user", id)
}

// UpdateRole はユーザーのロールを更新する。
func (r *PostgresUserRepo) UpdateRole(ctx context.Context, id string, role model.Role) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET role = $2, updated_at = now() WHERE id = $1`,
		id, role,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	return requireOneRow(result, "user", id)
}

// UpdateAvatar はアバター画像データとMIMEタイプを更新する。
func (r *PostgresUserRepo) UpdateAvatar(ctx context.Context, id string, data []byte, mime string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET avatar_data = $2, avatar_mime = $3, updated_at = now() WHERE id = $1`,
		id, data, mime,
	)
	if err != nil {
		return fmt.Errorf("failed to update avatar: %w", err)
	}
	return requireOneRow(result, "user", id)
}

// FindAvatar は指定ユーザーのアバター画像を取得する。未設定の場合はnilデータを返す。
func (r *PostgresUserRepo) FindAvatar(ctx context.Context, id string) ([]byte, string, error) {
	var data []byte
	var mime sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT avatar_data, avatar_mime FROM users WHERE id = $1`,
		id,
	).Scan(&data, &mime)

	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to find avatar: %w", err)
	}

	return data, mime.String, nil
}

// List は全ユーザーを作成日時順で返す。
func (r *PostgresUserRepo) List(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user := &model.User{}
		if err := rows.Scan(
			&user.ID, &user.Email, &user.Name, &user.Role, &user.Picture,
			&user.TOTPSecret, &user.TwoFactorEnabled, &user.CreatedAt, &user.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するsessions、pending_loginsはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireOneRow(result, "user", id)
}

// requireOneRow は更新・削除が1行に作用したことを検証する。
func requireOneRow(result sql.Result, kind, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
