package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ProfileSanitizerService はプロフィール項目のサニタイズ機能のインターフェースを定義する。
// フェデレーテッドログインで外部から渡される表示名に対して使用される。
type ProfileSanitizerService interface {
	// SanitizeName は表示名からHTMLタグとスクリプトを除去する。
	// サニタイズ後の文字列はテキストとしてそのまま保存・返却できる。
	SanitizeName(name string) string
}

// profileSanitizer はProfileSanitizerServiceの実装。
// bluemondayのStrictPolicyを使用し、全てのHTML要素を除去する。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerServiceの新しいインスタンスを生成する。
// 表示名はHTMLとして解釈される余地を残さないため、タグを一切許可しない
// StrictPolicyを使用する。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeName は表示名からHTMLタグとスクリプトを除去する。
// 前後の空白も除去する。
func (s *profileSanitizer) SanitizeName(name string) string {
	return strings.TrimSpace(s.policy.Sanitize(name))
}

// compile-time interface check
var _ ProfileSanitizerService = (*profileSanitizer)(nil)
var _ AvatarGuardService = (*avatarGuard)(nil)
