// Package token は暗号的に安全な不透明トークンの生成を提供する。
// セッショントークンと一時トークンは別の名前空間プレフィックスを持ち、
// 互いに取り違えられることがない。
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// MinByteLength はトークンの最小エントロピー（バイト数）。256ビット。
	MinByteLength = 32

	// SessionPrefix はセッショントークンの名前空間プレフィックス。
	SessionPrefix = "st_"
	// PendingPrefix は一時（2FA待ち）トークンの名前空間プレフィックス。
	PendingPrefix = "plt_"
)

// New は指定バイト数のランダム値をURLセーフにエンコードした不透明トークンを生成する。
// byteLengthがMinByteLength未満の場合はMinByteLengthに引き上げる。
func New(byteLength int) (string, error) {
	if byteLength < MinByteLength {
		byteLength = MinByteLength
	}
	b := make([]byte, byteLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewSession はセッショントークンを生成する。
func NewSession() (string, error) {
	t, err := New(MinByteLength)
	if err != nil {
		return "", err
	}
	return SessionPrefix + t, nil
}

// NewPending は一時トークンを生成する。
func NewPending() (string, error) {
	t, err := New(MinByteLength)
	if err != nil {
		return "", err
	}
	return PendingPrefix + t, nil
}

// IsSession はトークンがセッション名前空間に属するかどうかを判定する。
func IsSession(token string) bool {
	return strings.HasPrefix(token, SessionPrefix)
}

// IsPending はトークンが一時トークン名前空間に属するかどうかを判定する。
func IsPending(token string) bool {
	return strings.HasPrefix(token, PendingPrefix)
}
