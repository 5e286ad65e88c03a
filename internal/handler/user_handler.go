package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/makkotwal/venus/internal/middleware"
	"github.com/makkotwal/venus/internal/model"
)

// DirectoryServiceInterface はユーザー管理ハンドラーが必要とするサービスインターフェース。
type DirectoryServiceInterface interface {
	List(ctx context.Context) ([]*model.User, error)
	CreateByAdmin(ctx context.Context, email, name string, role model.Role) (*model.User, error)
	UpdateRole(ctx context.Context, userID string, role model.Role) (*model.User, error)
	Delete(ctx context.Context, userID string) error
	Avatar(ctx context.Context, userID string) ([]byte, string, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service DirectoryServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service DirectoryServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// createUserRequest はユーザー作成リクエストのボディ。
type createUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// updateRoleRequest はロール変更リクエストのボディ。
type updateRoleRequest struct {
	Role string `json:"role"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	Role             string    `json:"role"`
	Picture          string    `json:"picture"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
}

// toUserResponse はmodel.UserをAPIレスポンスに変換する。
// TOTPシークレットはレスポンスに含めない。
func toUserResponse(user *model.User) userResponse {
	return userResponse{
		ID:               user.ID,
		Email:            user.Email,
		Name:             user.Name,
		Role:             string(user.Role),
		Picture:          user.Picture,
		TwoFactorEnabled: user.TwoFactorEnabled,
		CreatedAt:        user.CreatedAt,
	}
}

// ListUsers は全ユーザーの一覧を返す。
// GET /api/users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// CreateUser はユーザーを新規作成する。
// POST /api/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	role := model.Role(req.Role)
	if req.Role == "" {
		role = model.RoleUser
	}

	user, err := h.service.CreateByAdmin(r.Context(), req.Email, req.Name, role)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toUserResponse(user))
}

// DeleteUser はユーザーを削除する。
// DELETE /api/users/{id}
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")

	// 自分自身の削除は管理者不在を招くため禁止する
	if currentID, err := middleware.UserIDFromContext(r.Context()); err == nil && currentID == targetID {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("自分自身は削除できません"))
		return
	}

	if err := h.service.Delete(r.Context(), targetID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdateRole はユーザーのロールを変更する。
// PATCH /api/users/{id}/role
func (h *UserHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")

	var req updateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	user, err := h.service.UpdateRole(r.Context(), targetID, model.Role(req.Role))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toUserResponse(user))
}

// GetAvatar は保存済みプロフィール画像を返す。
// GET /api/users/{id}/avatar
func (h *UserHandler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")

	data, mimeType, err := h.service.Avatar(r.Context(), targetID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if data == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "AVATAR_NOT_FOUND",
			Message:  "プロフィール画像が登録されていません。",
			Category: "validation",
			Action:   "ユーザーIDを確認してください。",
		})
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := w.Write(data); err != nil {
		slog.Error("failed to write avatar response", slog.String("error", err.Error()))
	}
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeNotAuthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidOrExpiredToken:
		return http.StatusBadRequest
	case model.ErrCodeInvalidCode:
		return http.StatusBadRequest
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
