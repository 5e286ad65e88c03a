// Package identity はユーザーアカウント管理のドメインロジックを提供する。
package identity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// SafeFetcher はSSRF防止機能付きHTTPクライアントの提供元インターフェース。
type SafeFetcher interface {
	NewSafeClient(timeout time.Duration) *http.Client
	ValidateURL(rawURL string) error
}

// AvatarFetcherService はプロフィール画像取得のインターフェース。
type AvatarFetcherService interface {
	// FetchAvatar は指定URLからプロフィール画像を取得する。
	// 取得失敗時はnilデータと空MIMEを返す（エラーは返さない）。
	FetchAvatar(ctx context.Context, avatarURL string) (data []byte, mimeType string, err error)
}

// AvatarFetcher はプロフィール画像取得機能の実装。
// フェデレーテッドログインで渡されるpicture URLは外部入力であるため、
// 取得時は必ずSSRF検証を通す。
type AvatarFetcher struct {
	guard   SafeFetcher
	timeout time.Duration
	maxSize int64
}

// NewAvatarFetcher はAvatarFetcherの新しいインスタンスを生成する。
func NewAvatarFetcher(guard SafeFetcher, timeout time.Duration, maxSize int64) *AvatarFetcher {
	return &AvatarFetcher{
		guard:   guard,
		timeout: timeout,
		maxSize: maxSize,
	}
}

// FetchAvatar は指定URLからプロフィール画像を取得する。
// 取得失敗時はnilデータと空MIMEを返す（画像なしとして扱う）。
func (f *AvatarFetcher) FetchAvatar(ctx context.Context, avatarURL string) ([]byte, string, error) {
	if avatarURL == "" {
		return nil, "", nil
	}

	// SSRF検証
	if f.guard != nil {
		if err := f.guard.ValidateURL(avatarURL); err != nil {
			slog.Warn("アバター取得: SSRFブロック", "url", avatarURL, "error", err)
			return nil, "", nil
		}
	}

	client := f.getHTTPClient()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, avatarURL, nil)
	if err != nil {
		slog.Warn("アバター取得: リクエスト作成失敗", "url", avatarURL, "error", err)
		return nil, "", nil
	}
	req.Header.Set("User-Agent", "Venus/1.0 Property Listing")

	resp, err := client.Do(req)
	if err != nil {
		slog.Warn("アバター取得: HTTPリクエスト失敗", "url", avatarURL, "error", err)
		return nil, "", nil
	}
	defer resp.Body.Close()

	// 2xx以外は取得失敗として扱う
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("アバター取得: HTTPステータス異常", "url", avatarURL, "status", resp.StatusCode)
		return nil, "", nil
	}

	// レスポンスボディを読み込み（サイズ上限あり）
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		slog.Warn("アバター取得: レスポンス読み取り失敗", "url", avatarURL, "error", err)
		return nil, "", nil
	}

	// サイズ超過チェック
	if int64(len(body)) > f.maxSize {
		slog.Warn("アバター取得: サイズ超過", "url", avatarURL, "size", len(body))
		return nil, "", nil
	}

	contentType := resp.Header.Get("Content-Type")
	mimeType := extractMimeType(contentType)

	// 画像でない場合はnilを返す
	if !isImageMime(mimeType) {
		slog.Warn("アバター取得: 画像以外のContent-Type", "url", avatarURL, "contentType", contentType)
		return nil, "", nil
	}

	return body, mimeType, nil
}

// getHTTPClient はHTTPクライアントを取得する。
func (f *AvatarFetcher) getHTTPClient() *http.Client {
	if f.guard != nil {
		return f.guard.NewSafeClient(f.timeout)
	}
	return &http.Client{Timeout: f.timeout}
}

// extractMimeType はContent-Typeヘッダーからメディアタイプを抽出する。
func extractMimeType(contentType string) string {
	if contentType == "" {
		return ""
	}
	// セミコロンの前の部分（charset等を除去）
	parts := strings.SplitN(contentType, ";", 2)
	return strings.TrimSpace(strings.ToLower(parts[0]))
}

// isImageMime はMIMEタイプが画像かどうかを判定する。
func isImageMime(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// compile-time interface check
var _ AvatarFetcherService = (*AvatarFetcher)(nil)
