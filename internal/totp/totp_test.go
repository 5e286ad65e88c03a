package totp

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	engine := NewEngine("Venus Test")
	secret, err := engine.GenerateSecret("user@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	return engine, secret
}

func TestGenerateSecret_ReturnsBase32Secret(t *testing.T) {
	_, secret := newTestEngine(t)

	if secret == "" {
		t.Fatal("expected non-empty secret")
	}
	// 20バイトのbase32エンコードは32文字
	if len(secret) != 32 {
		t.Errorf("secret length = %d, want 32", len(secret))
	}
}

func TestGenerateSecret_SecretsAreUnique(t *testing.T) {
	engine := NewEngine("Venus Test")

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		secret, err := engine.GenerateSecret("user@example.com")
		if err != nil {
			t.Fatalf("GenerateSecret() error = %v", err)
		}
		if seen[secret] {
			t.Fatalf("duplicate secret generated: %q", secret)
		}
		seen[secret] = true
	}
}

func TestVerify_AcceptsCodeWithinOneStepSkew(t *testing.T) {
	engine, secret := newTestEngine(t)

	base := time.Unix(1700000000, 0)
	code, err := engine.CurrentCode(secret, base)
	if err != nil {
		t.Fatalf("CurrentCode() error = %v", err)
	}

	tests := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"同一ステップ", 0, true},
		{"1ステップ後", 30 * time.Second, true},
		{"1ステップ前", -30 * time.Second, true},
		{"2ステップ後", 60 * time.Second, false},
		{"2ステップ前", -60 * time.Second, false},
		{"3ステップ後", 90 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.Verify(secret, code, base.Add(tt.offset)); got != tt.want {
				t.Errorf("Verify() at offset %v = %v, want %v", tt.offset, got, tt.want)
			}
		})
	}
}

func TestVerify_RejectsWrongCode(t *testing.T) {
	engine, secret := newTestEngine(t)

	base := time.Unix(1700000000, 0)
	code, err := engine.CurrentCode(secret, base)
	if err != nil {
		t.Fatalf("CurrentCode() error = %v", err)
	}

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	if engine.Verify(secret, wrong, base) {
		t.Error("Verify() should reject a wrong code")
	}
}

func TestVerify_EmptySecretOrCode_ReturnsFalse(t *testing.T) {
	engine, secret := newTestEngine(t)

	if engine.Verify("", "123456", time.Now()) {
		t.Error("Verify() with empty secret should return false")
	}
	if engine.Verify(secret, "", time.Now()) {
		t.Error("Verify() with empty code should return false")
	}
}

func TestCurrentCode_ReturnsSixDigits(t *testing.T) {
	engine, secret := newTestEngine(t)

	code, err := engine.CurrentCode(secret, time.Now())
	if err != nil {
		t.Fatalf("CurrentCode() error = %v", err)
	}

	if len(code) != 6 {
		t.Fatalf("code length = %d, want 6", len(code))
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			t.Fatalf("code %q contains non-digit %q", code, c)
		}
	}
}

func TestProvisioningURI_ContainsIssuerAccountAndSecret(t *testing.T) {
	engine, secret := newTestEngine(t)

	uri := engine.ProvisioningURI(secret, "user@example.com")

	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Fatalf("URI = %q, want otpauth://totp/ prefix", uri)
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		t.Fatalf("failed to parse URI: %v", err)
	}

	query := parsed.Query()
	if query.Get("secret") != secret {
		t.Errorf("secret param = %q, want %q", query.Get("secret"), secret)
	}
	if query.Get("issuer") != "Venus Test" {
		t.Errorf("issuer param = %q, want %q", query.Get("issuer"), "Venus Test")
	}
	if !strings.Contains(parsed.Path, "user@example.com") {
		t.Errorf("path %q should contain the account name", parsed.Path)
	}
}
