// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/makkotwal/venus/internal/auth"
	"github.com/makkotwal/venus/internal/middleware"
	"github.com/makkotwal/venus/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginLogin(ctx context.Context, email, name, picture string) (*auth.BeginLoginResult, error)
	CompleteLogin(ctx context.Context, pendingToken, code string) (*model.Session, *model.User, error)
	CreateFederatedSession(ctx context.Context, email, name, picture string) (*model.Session, *model.User, error)
	EndSession(ctx context.Context, sessionToken string) error
	ResolveCurrentIdentity(ctx context.Context, sessionToken string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler は二要素認証フローのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// initLoginRequest はログイン開始リクエストのボディ。
type initLoginRequest struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// initLoginResponse はログイン開始レスポンス。
// SecretとProvisioningURIはシークレット新規発行時のみ含まれる。
// DemoCodeはデモモード有効時のみ含まれる。
type initLoginResponse struct {
	PendingToken    string    `json:"pending_token"`
	ExpiresAt       time.Time `json:"expires_at"`
	Secret          string    `json:"secret,omitempty"`
	ProvisioningURI string    `json:"provisioning_uri,omitempty"`
	DemoCode        string    `json:"demo_code,omitempty"`
}

// verifyLoginRequest は認証コード検証リクエストのボディ。
type verifyLoginRequest struct {
	PendingToken string `json:"pending_token"`
	Code         string `json:"code"`
}

// federatedSessionRequest は外部認証セッション発行リクエストのボディ。
type federatedSessionRequest struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// InitLogin はログインの第1段階を処理し、一時トークンを発行する。
// POST /auth/init-2fa
func (h *AuthHandler) InitLogin(w http.ResponseWriter, r *http.Request) {
	var req initLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	result, err := h.service.BeginLogin(r.Context(), req.Email, req.Name, req.Picture)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := initLoginResponse{
		PendingToken: result.PendingToken,
		ExpiresAt:    result.ExpiresAt,
		DemoCode:     result.DemoCode,
	}
	if result.Enrollment != nil {
		resp.Secret = result.Enrollment.Secret
		resp.ProvisioningURI = result.Enrollment.ProvisioningURI
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// VerifyLogin はログインの第2段階を処理し、セッションを発行する。
// POST /auth/verify-2fa
func (h *AuthHandler) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req verifyLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	session, user, err := h.service.CompleteLogin(r.Context(), req.PendingToken, req.Code)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session.Token)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toUserResponse(user))
}

// CreateSession は外部認証済みユーザーに対して直接セッションを発行する。
// POST /auth/session
func (h *AuthHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req federatedSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	session, user, err := h.service.CreateFederatedSession(r.Context(), req.Email, req.Name, req.Picture)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session.Token)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toUserResponse(user))
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	user, err := h.service.ResolveCurrentIdentity(r.Context(), cookie.Value)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			writeAPIErrorResponse(w, http.StatusUnauthorized, apiErr)
			return
		}
		slog.Error("failed to resolve current user", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toUserResponse(user))
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.EndSession(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// setSessionCookie はセッションCookieを設定する。
// クロスサイトのフロントエンドからcredentials付きで送信されるため、
// Secure環境ではSameSite=Noneを使用する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: h.sameSiteMode(),
	})
}

// clearSessionCookie はセッションCookieを削除する。
func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: h.sameSiteMode(),
	})
}

// sameSiteMode はCookieのSameSite属性を返す。
// SameSite=NoneはSecure属性が必須のため、非Secure環境ではLaxにフォールバックする。
func (h *AuthHandler) sameSiteMode() http.SameSite {
	if h.config.CookieSecure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}
