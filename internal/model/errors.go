// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotAuthenticated      = "NOT_AUTHENTICATED"
	ErrCodeInvalidOrExpiredToken = "INVALID_OR_EXPIRED_TOKEN"
	ErrCodeInvalidCode           = "INVALID_CODE"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeTokenConflict         = "TOKEN_CONFLICT"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
)

// NewNotAuthenticatedError は未認証エラーを生成する。
// セッションが存在しない、無効、または期限切れの場合に返す。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "認証されていません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidOrExpiredTokenError は一時トークンが無効または期限切れの場合のエラーを生成する。
func NewInvalidOrExpiredTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOrExpiredToken,
		Message:  "一時トークンが無効または期限切れです。",
		Category: "auth",
		Action:   "ログインを最初からやり直してください。",
	}
}

// NewInvalidCodeError は認証コード不一致エラーを生成する。
func NewInvalidCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCode,
		Message:  "認証コードが正しくありません。",
		Category: "auth",
		Action:   "ログインを最初からやり直し、認証アプリに表示されたコードを入力してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewInvalidRequestError はリクエスト形式エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}
