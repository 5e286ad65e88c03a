package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/makkotwal/venus/internal/model"
	"github.com/makkotwal/venus/internal/repository"
)

// NameSanitizer は表示名のサニタイズインターフェース。
type NameSanitizer interface {
	SanitizeName(name string) string
}

// Directory はユーザーアカウント管理のサービス層。
// アカウントの検索・作成・ロール変更・削除のビジネスロジックを提供する。
type Directory struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	pendingRepo repository.PendingLoginRepository
	sanitizer   NameSanitizer
	avatars     AvatarFetcherService
}

// NewDirectory はDirectoryの新しいインスタンスを生成する。
func NewDirectory(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	pendingRepo repository.PendingLoginRepository,
	sanitizer NameSanitizer,
	avatars AvatarFetcherService,
) *Directory {
	return &Directory{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		pendingRepo: pendingRepo,
		sanitizer:   sanitizer,
		avatars:     avatars,
	}
}

// FindOrCreate はメールアドレスでユーザーを検索し、存在しなければ作成する。
// 戻り値のboolは新規作成されたかどうかを示す。
// 新規作成時のロールは常に一般ユーザー。ロールの昇格はUpdateRoleでのみ行う。
func (d *Directory) FindOrCreate(ctx context.Context, email, name, picture string) (*model.User, bool, error) {
	existing, err := d.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, false, fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	user, err := d.create(ctx, email, name, picture, model.RoleUser)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// CreateByAdmin は管理者操作によるユーザー作成を行う。
// メールアドレスが既に使用されている場合はエラーを返す。
func (d *Directory) CreateByAdmin(ctx context.Context, email, name string, role model.Role) (*model.User, error) {
	if email == "" {
		return nil, model.NewInvalidRequestError("メールアドレスは必須です")
	}
	if !role.IsValid() {
		return nil, model.NewInvalidRequestError("不正なロールが指定されました")
	}

	existing, err := d.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewInvalidRequestError("このメールアドレスは既に登録されています")
	}

	return d.create(ctx, email, name, "", role)
}

// create はユーザーを新規作成し、プロフィール画像を取得して保存する。
func (d *Directory) create(ctx context.Context, email, name, picture string, role model.Role) (*model.User, error) {
	displayName := name
	if d.sanitizer != nil {
		displayName = d.sanitizer.SanitizeName(displayName)
	}
	if displayName == "" {
		displayName = nameFromEmail(email)
	}
	if picture == "" {
		picture = defaultPictureURL(displayName)
	}

	user := &model.User{
		ID:      uuid.New().String(),
		Email:   email,
		Name:    displayName,
		Role:    role,
		Picture: picture,
	}
	if err := d.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("user created",
		slog.String("user_id", user.ID),
		slog.String("role", string(role)),
	)

	// プロフィール画像の取得はベストエフォート。失敗してもユーザー作成は成立する。
	d.storeAvatar(ctx, user.ID, picture)

	return user, nil
}

// storeAvatar はプロフィール画像を取得して保存する。失敗時は何もしない。
func (d *Directory) storeAvatar(ctx context.Context, userID, pictureURL string) {
	if d.avatars == nil {
		return
	}
	data, mimeType, err := d.avatars.FetchAvatar(ctx, pictureURL)
	if err != nil || data == nil {
		return
	}
	if err := d.userRepo.UpdateAvatar(ctx, userID, data, mimeType); err != nil {
		slog.Warn("failed to store avatar", "user_id", userID, "error", err)
	}
}

// FindByID はIDでユーザーを検索する。存在しない場合はUserNotFoundエラーを返す。
func (d *Directory) FindByID(ctx context.Context, userID string) (*model.User, error) {
	user, err := d.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// List は全ユーザーを取得する。
func (d *Directory) List(ctx context.Context) ([]*model.User, error) {
	users, err := d.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// UpdateRole はユーザーのロールを変更する。
func (d *Directory) UpdateRole(ctx context.Context, userID string, role model.Role) (*model.User, error) {
	if !role.IsValid() {
		return nil, model.NewInvalidRequestError("不正なロールが指定されました")
	}

	user, err := d.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	if err := d.userRepo.UpdateRole(ctx, userID, role); err != nil {
		return nil, fmt.Errorf("ロールの更新に失敗しました: %w", err)
	}

	slog.Info("user role updated",
		slog.String("user_id", userID),
		slog.String("role", string(role)),
	)

	user.Role = role
	return user, nil
}

// Delete はユーザーの削除処理を実行する。
// 削除順序: pending_logins → sessions → user
// 削除されたユーザーのセッションは即座に無効化される。
func (d *Directory) Delete(ctx context.Context, userID string) error {
	user, err := d.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("user deletion started",
		slog.String("user_id", userID),
	)

	// 1. ログイン途中の保留トークンを削除
	if d.pendingRepo != nil {
		if err := d.pendingRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("保留ログインの削除に失敗しました: %w", err)
		}
	}

	// 2. セッションを削除
	if d.sessionRepo != nil {
		if err := d.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 3. ユーザーを削除
	if err := d.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("user deletion completed",
		slog.String("user_id", userID),
	)

	return nil
}

// Avatar は保存済みプロフィール画像を取得する。
// 画像が保存されていない場合はnilデータと空MIMEを返す。
func (d *Directory) Avatar(ctx context.Context, userID string) ([]byte, string, error) {
	user, err := d.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, "", model.NewUserNotFoundError()
	}

	data, mimeType, err := d.userRepo.FindAvatar(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("プロフィール画像の取得に失敗しました: %w", err)
	}
	return data, mimeType, nil
}

// nameFromEmail はメールアドレスのローカル部を表示名として使用する。
func nameFromEmail(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

// defaultPictureURL は表示名から生成されるデフォルトアバターURLを返す。
func defaultPictureURL(name string) string {
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name) + "&background=random"
}
