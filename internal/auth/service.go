// Package auth は二要素ログインフロー、セッション管理を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/makkotwal/venus/internal/model"
	"github.com/makkotwal/venus/internal/repository"
	"github.com/makkotwal/venus/internal/token"
	"github.com/makkotwal/venus/internal/totp"
)

// tokenCreateAttempts はトークン衝突時の再試行回数の上限。
// 32バイト乱数トークンの衝突は実質的に起こらないため、
// 連続して衝突する場合は乱数源の異常とみなして失敗させる。
const tokenCreateAttempts = 3

// AccountProvisioner はログイン時のアカウント検索・作成インターフェース。
type AccountProvisioner interface {
	// FindOrCreate はメールアドレスでユーザーを検索し、存在しなければ作成する。
	FindOrCreate(ctx context.Context, email, name, picture string) (*model.User, bool, error)
}

// MetricsRecorder は認証イベントのメトリクス記録インターフェース。
type MetricsRecorder interface {
	IncLoginBegun()
	IncLoginSucceeded()
	IncLoginFailed(reason string)
	IncSessionCreated()
	IncSessionRevoked()
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	PendingMaxAge int // 一時トークン有効期間（秒）
	// DemoCodeEnabled が真の場合、ログイン開始レスポンスに現在の
	// 認証コードを含める。デモ環境専用。
	DemoCodeEnabled bool
}

// EnrollmentInfo は認証アプリの新規登録情報。
// シークレットが新規発行された場合のみログイン開始レスポンスに含まれる。
type EnrollmentInfo struct {
	Secret          string
	ProvisioningURI string
}

// BeginLoginResult はログイン開始の結果。
type BeginLoginResult struct {
	User         *model.User
	PendingToken string
	ExpiresAt    time.Time
	// Enrollment はシークレットが新規発行された場合のみ非nil。
	Enrollment *EnrollmentInfo
	// DemoCode はDemoCodeEnabledが真の場合のみ非空。
	DemoCode string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	accounts    AccountProvisioner
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	pendingRepo repository.PendingLoginRepository
	totp        *totp.Engine
	metrics     MetricsRecorder
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	accounts AccountProvisioner,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	pendingRepo repository.PendingLoginRepository,
	totpEngine *totp.Engine,
	metrics MetricsRecorder,
	config ServiceConfig,
) *Service {
	return &Service{
		accounts:    accounts,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		pendingRepo: pendingRepo,
		totp:        totpEngine,
		metrics:     metrics,
		config:      config,
	}
}

// BeginLogin はログインの第1段階を処理する。
// ユーザーを検索または作成し、認証アプリ未登録の場合はシークレットを
// 新規発行した上で、認証コード入力待ちの一時トークンを発行する。
// この段階ではセッションは発行されない。
func (s *Service) BeginLogin(ctx context.Context, email, name, picture string) (*BeginLoginResult, error) {
	if email == "" {
		return nil, model.NewInvalidRequestError("メールアドレスは必須です")
	}

	user, created, err := s.accounts.FindOrCreate(ctx, email, name, picture)
	if err != nil {
		return nil, fmt.Errorf("failed to provision user: %w", err)
	}

	// 認証アプリ未登録の場合はシークレットを新規発行する。
	// 旧シークレットの紛失時も同じ経路で再発行される。
	var enrollment *EnrollmentInfo
	if user.TOTPSecret == "" || !user.TwoFactorEnabled {
		secret, err := s.totp.GenerateSecret(user.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to generate totp secret: %w", err)
		}
		if err := s.userRepo.UpdateTOTPSecret(ctx, user.ID, secret); err != nil {
			return nil, fmt.Errorf("failed to store totp secret: %w", err)
		}
		user.TOTPSecret = secret
		user.TwoFactorEnabled = true
		enrollment = &EnrollmentInfo{
			Secret:          secret,
			ProvisioningURI: s.totp.ProvisioningURI(secret, user.Email),
		}
		slog.Info("totp secret enrolled",
			slog.String("user_id", user.ID),
		)
	}

	pending, err := s.createPendingLogin(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending login: %w", err)
	}

	result := &BeginLoginResult{
		User:         user,
		PendingToken: pending.Token,
		ExpiresAt:    pending.ExpiresAt,
		Enrollment:   enrollment,
	}

	if s.config.DemoCodeEnabled {
		code, err := s.totp.CurrentCode(user.TOTPSecret, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to generate demo code: %w", err)
		}
		result.DemoCode = code
	}

	if s.metrics != nil {
		s.metrics.IncLoginBegun()
	}
	slog.Info("login begun",
		slog.String("user_id", user.ID),
		slog.Bool("new_user", created),
	)

	return result, nil
}

// CompleteLogin はログインの第2段階を処理する。
// 一時トークンを原子的に消費した上で認証コードを検証し、
// 成功時にセッションを発行する。一時トークンは検証の成否に
// かかわらず消費済みとなり、再試行にはログインのやり直しが必要。
func (s *Service) CompleteLogin(ctx context.Context, pendingToken, code string) (*model.Session, *model.User, error) {
	if pendingToken == "" {
		return nil, nil, model.NewInvalidOrExpiredTokenError()
	}

	pending, err := s.pendingRepo.ConsumeByToken(ctx, pendingToken)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to consume pending login: %w", err)
	}
	if pending == nil || pending.Expired(time.Now()) {
		s.recordLoginFailure("expired_token")
		return nil, nil, model.NewInvalidOrExpiredTokenError()
	}

	user, err := s.userRepo.FindByID(ctx, pending.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		// 一時トークン発行後にユーザーが削除されたケース
		s.recordLoginFailure("user_deleted")
		return nil, nil, model.NewInvalidOrExpiredTokenError()
	}

	if !s.totp.Verify(user.TOTPSecret, code, time.Now()) {
		s.recordLoginFailure("invalid_code")
		slog.Info("login code rejected",
			slog.String("user_id", user.ID),
		)
		return nil, nil, model.NewInvalidCodeError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	if s.metrics != nil {
		s.metrics.IncLoginSucceeded()
	}
	slog.Info("login completed",
		slog.String("user_id", user.ID),
	)

	return session, user, nil
}

// CreateFederatedSession は外部認証済みのユーザーに対して直接セッションを発行する。
// 呼び出し元で本人確認が完了している前提のため、認証コードの検証は行わない。
func (s *Service) CreateFederatedSession(ctx context.Context, email, name, picture string) (*model.Session, *model.User, error) {
	if email == "" {
		return nil, nil, model.NewInvalidRequestError("メールアドレスは必須です")
	}

	user, created, err := s.accounts.FindOrCreate(ctx, email, name, picture)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to provision user: %w", err)
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("federated session created",
		slog.String("user_id", user.ID),
		slog.Bool("new_user", created),
	)

	return session, user, nil
}

// EndSession はセッションを破棄する。
// トークンが存在しない場合も成功を返す（冪等）。
func (s *Service) EndSession(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return nil
	}

	if err := s.sessionRepo.DeleteByToken(ctx, sessionToken); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if s.metrics != nil {
		s.metrics.IncSessionRevoked()
	}
	slog.Info("user logged out")
	return nil
}

// ResolveCurrentIdentity はセッショントークンから現在のユーザーを取得する。
// セッションが存在しない・期限切れの場合はNotAuthenticatedエラーを返す。
func (s *Service) ResolveCurrentIdentity(ctx context.Context, sessionToken string) (*model.User, error) {
	if sessionToken == "" {
		return nil, model.NewNotAuthenticatedError()
	}

	session, err := s.sessionRepo.FindByToken(ctx, sessionToken)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewNotAuthenticatedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		// セッションだけ残ってユーザーが消えている場合は掃除する
		_ = s.sessionRepo.DeleteByToken(ctx, sessionToken)
		return nil, model.NewNotAuthenticatedError()
	}

	return user, nil
}

// createPendingLogin は一時トークンを発行して永続化する。
// トークン衝突時は新しいトークンで再試行する。既存レコードは上書きしない。
func (s *Service) createPendingLogin(ctx context.Context, userID string) (*model.PendingLogin, error) {
	for attempt := 0; attempt < tokenCreateAttempts; attempt++ {
		tok, err := token.NewPending()
		if err != nil {
			return nil, fmt.Errorf("failed to generate pending token: %w", err)
		}

		pending := &model.PendingLogin{
			Token:     tok,
			UserID:    userID,
			ExpiresAt: time.Now().Add(time.Duration(s.config.PendingMaxAge) * time.Second),
			CreatedAt: time.Now(),
		}

		err = s.pendingRepo.Create(ctx, pending)
		if err == nil {
			return pending, nil
		}
		if err != repository.ErrTokenConflict {
			return nil, fmt.Errorf("failed to save pending login: %w", err)
		}
		slog.Warn("pending token collision, retrying",
			slog.Int("attempt", attempt+1),
		)
	}
	return nil, fmt.Errorf("pending token collision persisted after %d attempts", tokenCreateAttempts)
}

// createSession はセッションを発行して永続化する。
// トークン衝突時は新しいトークンで再試行する。既存レコードは上書きしない。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	for attempt := 0; attempt < tokenCreateAttempts; attempt++ {
		tok, err := token.NewSession()
		if err != nil {
			return nil, fmt.Errorf("failed to generate session token: %w", err)
		}

		session := &model.Session{
			Token:     tok,
			UserID:    userID,
			ExpiresAt: time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
			CreatedAt: time.Now(),
		}

		err = s.sessionRepo.Create(ctx, session)
		if err == nil {
			if s.metrics != nil {
				s.metrics.IncSessionCreated()
			}
			return session, nil
		}
		if err != repository.ErrTokenConflict {
			return nil, fmt.Errorf("failed to save session: %w", err)
		}
		slog.Warn("session token collision, retrying",
			slog.Int("attempt", attempt+1),
		)
	}
	return nil, fmt.Errorf("session token collision persisted after %d attempts", tokenCreateAttempts)
}

func (s *Service) recordLoginFailure(reason string) {
	if s.metrics != nil {
		s.metrics.IncLoginFailed(reason)
	}
}
