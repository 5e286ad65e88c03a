package repository

import (
	"testing"
	"time"

	"github.com/makkotwal/venus/internal/model"
)

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

// PostgresSessionRepoはSessionRepositoryインターフェースを満たすことを検証
func TestPostgresSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
}

// PostgresPendingLoginRepoはPendingLoginRepositoryインターフェースを満たすことを検証
func TestPostgresPendingLoginRepo_ImplementsInterface(t *testing.T) {
	var _ PendingLoginRepository = (*PostgresPendingLoginRepo)(nil)
}

// NewPostgresUserRepoが正しく初期化されることを検証
func TestNewPostgresUserRepo_Initializes(t *testing.T) {
	repo := NewPostgresUserRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// NewPostgresSessionRepoが正しく初期化されることを検証
func TestNewPostgresSessionRepo_Initializes(t *testing.T) {
	repo := NewPostgresSessionRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// NewPostgresPendingLoginRepoが正しく初期化されることを検証
func TestNewPostgresPendingLoginRepo_Initializes(t *testing.T) {
	repo := NewPostgresPendingLoginRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// ユニットテスト: セッションの期限判定
// （DB接続なしでロジックのみ検証）
func TestSession_Expired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"期限内", now.Add(1 * time.Hour), false},
		{"期限切れ", now.Add(-1 * time.Hour), true},
		{"ちょうど期限時刻は期限切れ", now, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &model.Session{Token: "st_x", UserID: "u", ExpiresAt: tt.expiresAt}
			if got := s.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ユニットテスト: 保留ログインの期限判定
func TestPendingLogin_Expired(t *testing.T) {
	now := time.Now()

	p := &model.PendingLogin{Token: "plt_x", UserID: "u", ExpiresAt: now.Add(10 * time.Minute)}
	if p.Expired(now) {
		t.Error("pending login within TTL should not be expired")
	}

	p.ExpiresAt = now.Add(-1 * time.Second)
	if !p.Expired(now) {
		t.Error("pending login past TTL should be expired")
	}
}
