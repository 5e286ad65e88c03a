package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/makkotwal/venus/internal/middleware"
	"github.com/makkotwal/venus/internal/model"
)

// --- モック定義 ---

type mockDirectoryService struct {
	listFn          func(ctx context.Context) ([]*model.User, error)
	createByAdminFn func(ctx context.Context, email, name string, role model.Role) (*model.User, error)
	updateRoleFn    func(ctx context.Context, userID string, role model.Role) (*model.User, error)
	deleteFn        func(ctx context.Context, userID string) error
	avatarFn        func(ctx context.Context, userID string) ([]byte, string, error)
}

func (m *mockDirectoryService) List(ctx context.Context) ([]*model.User, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockDirectoryService) CreateByAdmin(ctx context.Context, email, name string, role model.Role) (*model.User, error) {
	if m.createByAdminFn != nil {
		return m.createByAdminFn(ctx, email, name, role)
	}
	return nil, nil
}

func (m *mockDirectoryService) UpdateRole(ctx context.Context, userID string, role model.Role) (*model.User, error) {
	if m.updateRoleFn != nil {
		return m.updateRoleFn(ctx, userID, role)
	}
	return nil, nil
}

func (m *mockDirectoryService) Delete(ctx context.Context, userID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID)
	}
	return nil
}

func (m *mockDirectoryService) Avatar(ctx context.Context, userID string) ([]byte, string, error) {
	if m.avatarFn != nil {
		return m.avatarFn(ctx, userID)
	}
	return nil, "", nil
}

var _ DirectoryServiceInterface = (*mockDirectoryService)(nil)

// newUserTestRouter はURLパラメータ解決のためchiルーターにハンドラーをマウントする。
func newUserTestRouter(svc DirectoryServiceInterface) http.Handler {
	h := NewUserHandler(svc)
	r := chi.NewRouter()
	r.Get("/api/users", h.ListUsers)
	r.Post("/api/users", h.CreateUser)
	r.Delete("/api/users/{id}", h.DeleteUser)
	r.Patch("/api/users/{id}/role", h.UpdateRole)
	r.Get("/api/users/{id}/avatar", h.GetAvatar)
	return r
}

// --- テスト ---

func TestUserHandler_ListUsers_ReturnsUsersWithoutSecrets(t *testing.T) {
	svc := &mockDirectoryService{
		listFn: func(ctx context.Context) ([]*model.User, error) {
			return []*model.User{
				{ID: "u1", Email: "a@example.com", Role: model.RoleAdmin, TOTPSecret: "SECRET_A"},
				{ID: "u2", Email: "b@example.com", Role: model.RoleUser, TOTPSecret: "SECRET_B"},
			}, nil
		},
	}
	router := newUserTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var got []map[string]any
	if err := json.NewDecoder(w.Result().Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("users = %d, want 2", len(got))
	}
	for _, u := range got {
		if _, exists := u["totp_secret"]; exists {
			t.Error("response must not expose totp secrets")
		}
	}
}

func TestUserHandler_CreateUser_Returns201(t *testing.T) {
	svc := &mockDirectoryService{
		createByAdminFn: func(ctx context.Context, email, name string, role model.Role) (*model.User, error) {
			return &model.User{ID: "u3", Email: email, Name: name, Role: role}, nil
		},
	}
	router := newUserTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"email":"c@example.com","name":"C","role":"admin"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}

	var got map[string]any
	if err := json.NewDecoder(w.Result().Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got["role"] != "admin" {
		t.Errorf("role = %v, want admin", got["role"])
	}
}

func TestUserHandler_CreateUser_DuplicateEmail_Returns400(t *testing.T) {
	svc := &mockDirectoryService{
		createByAdminFn: func(ctx context.Context, email, name string, role model.Role) (*model.User, error) {
			return nil, model.NewInvalidRequestError("このメールアドレスは既に登録されています")
		},
	}
	router := newUserTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"email":"dup@example.com"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestUserHandler_DeleteUser_Returns204(t *testing.T) {
	var deletedID string
	svc := &mockDirectoryService{
		deleteFn: func(ctx context.Context, userID string) error {
			deletedID = userID
			return nil
		},
	}
	router := newUserTestRouter(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/users/u2", nil)
	req = req.WithContext(middleware.ContextWithIdentity(req.Context(), "admin-1", model.RoleAdmin))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if deletedID != "u2" {
		t.Errorf("deleted ID = %q, want u2", deletedID)
	}
}

func TestUserHandler_DeleteUser_Self_Returns400(t *testing.T) {
	svc := &mockDirectoryService{
		deleteFn: func(ctx context.Context, userID string) error {
			t.Error("Delete should not be called for self-deletion")
			return nil
		},
	}
	router := newUserTestRouter(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/users/admin-1", nil)
	req = req.WithContext(middleware.ContextWithIdentity(req.Context(), "admin-1", model.RoleAdmin))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestUserHandler_DeleteUser_NotFound_Returns404(t *testing.T) {
	svc := &mockDirectoryService{
		deleteFn: func(ctx context.Context, userID string) error {
			return model.NewUserNotFoundError()
		},
	}
	router := newUserTestRouter(svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/users/missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestUserHandler_UpdateRole_ReturnsUpdatedUser(t *testing.T) {
	svc := &mockDirectoryService{
		updateRoleFn: func(ctx context.Context, userID string, role model.Role) (*model.User, error) {
			return &model.User{ID: userID, Role: role}, nil
		},
	}
	router := newUserTestRouter(svc)

	req := httptest.NewRequest(http.MethodPatch, "/api/users/u2/role", strings.NewReader(`{"role":"admin"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var got map[string]any
	if err := json.NewDecoder(w.Result().Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got["id"] != "u2" || got["role"] != "admin" {
		t.Errorf("got id=%v role=%v, want u2/admin", got["id"], got["role"])
	}
}

func TestUserHandler_UpdateRole_InvalidRole_Returns400(t *testing.T) {
	svc := &mockDirectoryService{
		updateRoleFn: func(ctx context.Context, userID string, role model.Role) (*model.User, error) {
			return nil, model.NewInvalidRequestError("不正なロールが指定されました")
		},
	}
	router := newUserTestRouter(svc)

	req := httptest.NewRequest(http.MethodPatch, "/api/users/u2/role", strings.NewReader(`{"role":"superuser"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestUserHandler_GetAvatar_ReturnsImageWithMime(t *testing.T) {
	imageData := []byte{0x89, 'P', 'N', 'G'}
	svc := &mockDirectoryService{
		avatarFn: func(ctx context.Context, userID string) ([]byte, string, error) {
			return imageData, "image/png", nil
		},
	}
	router := newUserTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/users/u1/avatar", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if w.Body.Len() != len(imageData) {
		t.Errorf("body length = %d, want %d", w.Body.Len(), len(imageData))
	}
}

func TestUserHandler_GetAvatar_Missing_Returns404(t *testing.T) {
	svc := &mockDirectoryService{
		avatarFn: func(ctx context.Context, userID string) ([]byte, string, error) {
			return nil, "", nil
		},
	}
	router := newUserTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/users/u1/avatar", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
