package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/makkotwal/venus/internal/middleware"
	"github.com/makkotwal/venus/internal/model"
)

// --- モック定義 ---

type mockHealthChecker struct {
	pingFn func(ctx context.Context) error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

var _ HealthChecker = (*mockHealthChecker)(nil)

// newTestRouter は全ミドルウェアを組み込んだテスト用ルーターを構築する。
func newTestRouter(t *testing.T, authSvc *mockAuthService, dirSvc *mockDirectoryService, health HealthChecker) (http.Handler, func()) {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(120, 20))

	router := NewRouter(&RouterDeps{
		IdentityResolver:  authSvc,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		CSRFConfig:        middleware.CSRFConfig{},
		HealthChecker:     health,
		AuthService:       authSvc,
		AuthConfig:        testHandlerConfig(false),
		DirectoryService:  dirSvc,
	})

	return router, rl.Stop
}

func resolverFor(user *model.User, token string) *mockAuthService {
	return &mockAuthService{
		resolveFn: func(ctx context.Context, sessionToken string) (*model.User, error) {
			if sessionToken == token {
				return user, nil
			}
			return nil, model.NewNotAuthenticatedError()
		},
	}
}

func withSessionAndCSRF(req *http.Request, sessionToken string) {
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sessionToken})
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "csrf-test"})
	req.Header.Set("X-CSRF-Token", "csrf-test")
}

// --- ヘルスチェックのテスト ---

func TestRouter_Health_OK(t *testing.T) {
	router, stop := newTestRouter(t, &mockAuthService{}, &mockDirectoryService{}, &mockHealthChecker{})
	defer stop()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestRouter_Health_DatabaseDown_Returns503(t *testing.T) {
	health := &mockHealthChecker{
		pingFn: func(ctx context.Context) error {
			return errors.New("connection refused")
		},
	}
	router, stop := newTestRouter(t, &mockAuthService{}, &mockDirectoryService{}, health)
	defer stop()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// --- 認可境界のテスト ---

func TestRouter_UserList_WithoutSession_Returns401(t *testing.T) {
	router, stop := newTestRouter(t, &mockAuthService{}, &mockDirectoryService{}, nil)
	defer stop()

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRouter_UserList_AsRegularUser_Returns403(t *testing.T) {
	user := &model.User{ID: "user-1", Role: model.RoleUser}
	router, stop := newTestRouter(t, resolverFor(user, "st_user"), &mockDirectoryService{}, nil)
	defer stop()

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "st_user"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestRouter_UserList_AsAdmin_Returns200(t *testing.T) {
	admin := &model.User{ID: "admin-1", Role: model.RoleAdmin}
	dirSvc := &mockDirectoryService{
		listFn: func(ctx context.Context) ([]*model.User, error) {
			return []*model.User{admin}, nil
		},
	}
	router, stop := newTestRouter(t, resolverFor(admin, "st_admin"), dirSvc, nil)
	defer stop()

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "st_admin"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_CreateUser_WithoutCSRFToken_Returns403(t *testing.T) {
	admin := &model.User{ID: "admin-1", Role: model.RoleAdmin}
	router, stop := newTestRouter(t, resolverFor(admin, "st_admin"), &mockDirectoryService{}, nil)
	defer stop()

	// 状態変更メソッドはCSRFトークンがないと拒否される
	req := httptest.NewRequest(http.MethodPost, "/api/users", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "st_admin"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestRouter_DeleteUser_AsAdminWithCSRF_Returns204(t *testing.T) {
	admin := &model.User{ID: "admin-1", Role: model.RoleAdmin}
	dirSvc := &mockDirectoryService{
		deleteFn: func(ctx context.Context, userID string) error {
			if userID != "user-2" {
				t.Errorf("delete called with %q, want user-2", userID)
			}
			return nil
		},
	}
	router, stop := newTestRouter(t, resolverFor(admin, "st_admin"), dirSvc, nil)
	defer stop()

	req := httptest.NewRequest(http.MethodDelete, "/api/users/user-2", nil)
	withSessionAndCSRF(req, "st_admin")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestRouter_Avatar_AccessibleToRegularUser(t *testing.T) {
	user := &model.User{ID: "user-1", Role: model.RoleUser}
	dirSvc := &mockDirectoryService{
		avatarFn: func(ctx context.Context, userID string) ([]byte, string, error) {
			return []byte{0x89, 0x50}, "image/png", nil
		},
	}
	router, stop := newTestRouter(t, resolverFor(user, "st_user"), dirSvc, nil)
	defer stop()

	// プロフィール画像の参照は管理者権限を必要としない
	req := httptest.NewRequest(http.MethodGet, "/api/users/user-2/avatar", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "st_user"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
}

// --- 認証ルートのテスト ---

func TestRouter_AuthRoutes_ReachableWithoutSession(t *testing.T) {
	authSvc := &mockAuthService{
		endSessionFn: func(ctx context.Context, sessionToken string) error { return nil },
	}
	router, stop := newTestRouter(t, authSvc, &mockDirectoryService{}, nil)
	defer stop()

	// ログアウトはセッションなしでも204を返す（冪等）
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestRouter_CSRFTokenEndpoint_ReturnsToken(t *testing.T) {
	router, stop := newTestRouter(t, &mockAuthService{}, &mockDirectoryService{}, nil)
	defer stop()

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["token"] == "" {
		t.Error("expected non-empty CSRF token")
	}
}
