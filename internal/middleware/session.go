// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/makkotwal/venus/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "session_token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// roleContextKey はリクエストコンテキストにロールを格納するためのキー。
var roleContextKey = contextKey("role")

// IdentityResolver はセッショントークンからユーザーを解決するインターフェース。
// auth.Serviceの部分集合として定義する。
type IdentityResolver interface {
	ResolveCurrentIdentity(ctx context.Context, sessionToken string) (*model.User, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッショントークンを読み取り、
// 有効性を検証するミドルウェアを返す。
// 認証済みユーザーのIDとロールをリクエストコンテキストに注入する。
// 未認証リクエストには401と統一エラーフォーマットを返す。
func NewSessionMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Cookieからセッショントークンを取得
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
				return
			}

			// 2. セッションの有効性を検証（期限切れは検索時に遅延削除される）
			user, err := resolver.ResolveCurrentIdentity(r.Context(), cookie.Value)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
					return
				}
				slog.Error("failed to resolve session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			// 3. 認証済みユーザーIDとロールをコンテキストに注入
			ctx := context.WithValue(r.Context(), userIDContextKey, user.ID)
			ctx = context.WithValue(ctx, roleContextKey, user.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewAdminOnlyMiddleware は管理者ロールを要求するミドルウェアを返す。
// SessionMiddlewareの後に配置する必要がある。
func NewAdminOnlyMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, err := RoleFromContext(r.Context())
			if err != nil || role != model.RoleAdmin {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// RoleFromContext はリクエストコンテキストからロールを取得する。
func RoleFromContext(ctx context.Context) (model.Role, error) {
	role, ok := ctx.Value(roleContextKey).(model.Role)
	if !ok || role == "" {
		return "", fmt.Errorf("role not found in context")
	}
	return role, nil
}

// ContextWithIdentity はコンテキストにユーザーIDとロールを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, userID string, role model.Role) context.Context {
	ctx = context.WithValue(ctx, userIDContextKey, userID)
	return context.WithValue(ctx, roleContextKey, role)
}
