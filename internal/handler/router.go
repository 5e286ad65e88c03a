package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/makkotwal/venus/internal/middleware"
)

// HealthChecker はヘルスチェックでのDB疎通確認インターフェース。
// *sql.DB を受け付けることができる。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           middleware.HTTPMetricsRecorder
	IdentityResolver  middleware.IdentityResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// ヘルスチェック
	HealthChecker HealthChecker

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー管理
	DirectoryService DirectoryServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → (ルートごと) Session → CSRF → RateLimit
//
// 認証ルート（/auth/*）はセッションミドルウェアの外に配置し、
// IP単位のレート制限のみを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	// CORSミドルウェアを最上位に適用（全ルートに効く）
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.DirectoryService)

	// ヘルスチェック（DB疎通確認を含む）
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.PingContext(req.Context()); err != nil {
				slog.Error("health check: database unreachable", slog.String("error", err.Error()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// --- 認証不要のルート ---
	// 未認証段階のためIP単位のレート制限を適用する
	r.Route("/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())

		r.Post("/init-2fa", authHandler.InitLogin)
		r.Post("/verify-2fa", authHandler.VerifyLogin)
		r.Post("/session", authHandler.CreateSession)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// CSRFトークン取得（セッション確立後にフロントエンドが取得する）
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.IdentityResolver))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// プロフィール画像は認証済みユーザー全員が参照できる
		r.Get("/api/users/{id}/avatar", userHandler.GetAvatar)

		// ユーザー管理（管理者のみ）
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAdminOnlyMiddleware())

			r.Get("/api/users", userHandler.ListUsers)
			r.Post("/api/users", userHandler.CreateUser)
			r.Delete("/api/users/{id}", userHandler.DeleteUser)
			r.Patch("/api/users/{id}/role", userHandler.UpdateRole)
		})
	})

	return r
}
