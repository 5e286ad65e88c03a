// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限ロールを表す。
type Role string

const (
	// RoleUser は一般ユーザーを表す。
	RoleUser Role = "user"
	// RoleAdmin は管理者を表す。
	RoleAdmin Role = "admin"
)

// IsValid はロールが定義済みの値かどうかを判定する。
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User はサービス利用ユーザーを表す。
// TOTPSecretはbase32エンコード済みの共有シークレットで、
// 登録時のプロビジョニングURI以外で外部に送信してはならない。
type User struct {
	ID               string
	Email            string
	Name             string
	Role             Role
	Picture          string
	TOTPSecret       string
	TwoFactorEnabled bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Session はユーザーのログインセッションを表す。
// トークンはURLセーフな不透明文字列で、sessionsテーブルの主キー。
// 発行後に更新されることはない（スライディング延長なし）。
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// PendingLogin は2段階ログインの第1段階と第2段階を紐付ける一時レコード。
// トークンはセッショントークンとは別の名前空間を持ち、
// CompleteLoginで1回だけ消費される。
type PendingLogin struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired は基準時刻に対してセッションが期限切れかどうかを判定する。
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// Expired は基準時刻に対して一時レコードが期限切れかどうかを判定する。
func (p *PendingLogin) Expired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}
