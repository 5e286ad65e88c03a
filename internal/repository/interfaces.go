// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/makkotwal/venus/internal/model"
)

// ErrTokenConflict はトークンの一意制約違反を表す。
// 生成されたトークンが既存レコードと衝突した場合に返され、
// 呼び出し側は新しいトークンで再試行する。既存レコードの上書きは行わない。
var ErrTokenConflict = errors.New("token already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。
	// emailは大文字小文字を区別する一意キー。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// UpdateTOTPSecret はTOTPシークレットを差し替え、2FAを有効化する。
	// 旧シークレットは上書きされ、過去の認証アプリ登録はすべて無効になる。
	UpdateTOTPSecret(ctx context.Context, id, secret string) error

	// UpdateRole はユーザーのロールを更新する。
	UpdateRole(ctx context.Context, id string, role model.Role) error

	// UpdateAvatar はアバター画像データとMIMEタイプを更新する。
	UpdateAvatar(ctx context.Context, id string, data []byte, mime string) error

	// FindAvatar は指定ユーザーのアバター画像を取得する。
	// 未設定の場合はnilデータを返す。
	FindAvatar(ctx context.Context, id string) ([]byte, string, error)

	// List は全ユーザーを作成日時順で返す。
	List(ctx context.Context) ([]*model.User, error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するsessions、pending_loginsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	// トークン衝突時はErrTokenConflictを返す。
	Create(ctx context.Context, session *model.Session) error

	// FindByToken は指定トークンのセッションを取得する。
	// 期限切れの場合はレコードを削除した上でnilを返す（遅延失効）。
	FindByToken(ctx context.Context, tok string) (*model.Session, error)

	// DeleteByToken は指定トークンのセッションを削除する。
	// レコードが存在しなくてもエラーにしない（冪等）。
	DeleteByToken(ctx context.Context, tok string) error

	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// PendingLoginRepository は2FA待ち一時レコードの永続化インターフェース。
type PendingLoginRepository interface {
	// Create は一時レコードを作成する。
	// トークン衝突時はErrTokenConflictを返す。
	Create(ctx context.Context, pending *model.PendingLogin) error

	// ConsumeByToken は指定トークンの一時レコードを原子的に削除して返す。
	// DELETE ... RETURNINGの1文で実行されるため、同一トークンに対する
	// 並行呼び出しのうち1つだけがレコードを受け取る。
	// レコードが存在しない場合はnilを返す。期限切れレコードも
	// 返却される（削除済み）ため、期限判定は呼び出し側が行う。
	ConsumeByToken(ctx context.Context, tok string) (*model.PendingLogin, error)

	// DeleteByToken は指定トークンの一時レコードを削除する（冪等）。
	DeleteByToken(ctx context.Context, tok string) error

	// DeleteByUserID は指定ユーザーの全一時レコードを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
