// Package totp はTOTP（RFC 6238）によるワンタイムコードの
// シークレット発行・検証を提供する。
// アルゴリズムはpquerna/otpに委譲し、標準パラメータ
// （30秒ステップ・6桁・SHA1）に固定する。
package totp

import (
	"net/url"
	"strconv"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// period はTOTPのタイムステップ（秒）。
	period = 30
	// digits はコードの桁数。
	digits = 6
	// secretSize はシークレットの長さ（バイト）。160ビット。
	secretSize = 20
	// skewSteps は許容するクロックずれのステップ数（前後各1ステップ = ±30秒）。
	skewSteps = 1
)

// Engine はTOTPシークレットの発行とコード検証を提供する。
// 純粋な計算のみで、ネットワークI/Oや永続化は行わない。
type Engine struct {
	issuer string
}

// NewEngine はEngineを生成する。
// issuerは認証アプリに表示されるサービス名。
func NewEngine(issuer string) *Engine {
	return &Engine{issuer: issuer}
}

// GenerateSecret は新しいTOTPシークレットをbase32文字列で生成する。
// 再登録で呼ばれた場合、呼び出し側が旧シークレットを上書きすることで
// 既存の認証アプリ登録はすべて無効になる。
func (e *Engine) GenerateSecret(account string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: account,
		Period:      period,
		SecretSize:  secretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", err
	}
	return key.Secret(), nil
}

// ProvisioningURI は認証アプリ登録用のotpauth URIを決定的に構築する。
// I/Oは行わない。
func (e *Engine) ProvisioningURI(secret, account string) string {
	label := url.PathEscape(e.issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", e.issuer)
	v.Set("period", strconv.Itoa(period))
	v.Set("digits", strconv.Itoa(digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// CurrentCode は指定時刻のステップに対応する6桁コードを計算する。
// デモ表示専用であり、本番デプロイでは呼び出し側の設定で無効化される。
func (e *Engine) CurrentCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCode(secret, at)
}

// Verify は提出されたコードを検証する。
// 現在のステップと前後skewStepsステップ（±30秒）のコードを受理する。
// 比較はライブラリ内部で定数時間比較により行われる。
// シークレットが空、コードが不正形式の場合はfalseを返す（エラーにはしない）。
func (e *Engine) Verify(secret, code string, at time.Time) bool {
	if secret == "" || code == "" {
		return false
	}

	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    period,
		Skew:      skewSteps,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return ok
}
