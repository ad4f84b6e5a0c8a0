package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hitoshi/hourglass/internal/model"
	"github.com/hitoshi/hourglass/internal/repository"
)

// NameSanitizer は表示名からマークアップを取り除く。
type NameSanitizer interface {
	SanitizeDisplayName(name string) string
}

// Directory は (provider, subjectId) とローカルユーザーの対応を管理する。
type Directory struct {
	users     repository.UserRepository
	sanitizer NameSanitizer
}

// NewDirectory はDirectoryを生成する。sanitizerはnilでもよい。
func NewDirectory(users repository.UserRepository, sanitizer NameSanitizer) *Directory {
	return &Directory{users: users, sanitizer: sanitizer}
}

// UpsertBySubject はプロバイダーIDに対応するユーザーを作成または更新して返す。
// 同一subjectの同時ログインでも行は1つだけになる（DBの一意制約によるupsert）。
func (d *Directory) UpsertBySubject(ctx context.Context, identity model.ProviderIdentity) (*model.User, error) {
	if identity.Provider == "" || identity.SubjectID == "" {
		return nil, model.NewBadRequestError("provider and subject are required")
	}

	identity.Email = strings.TrimSpace(identity.Email)
	identity.DisplayName = d.displayName(identity.DisplayName, identity.Email)

	user, err := d.users.UpsertBySubject(ctx, identity)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewConflictError("identity already bound to another user", err)
		}
		return nil, model.NewInternalError(err)
	}

	slog.Info("user upserted",
		slog.String("user_id", user.ID),
		slog.String("provider", user.Provider),
	)
	return user, nil
}

// FindByID はユーザーを取得する。存在しない場合はUSER_NOT_FOUNDを返す。
func (d *Directory) FindByID(ctx context.Context, userID string) (*model.User, error) {
	user, err := d.users.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewInternalError(err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// displayName はサニタイズ済みの表示名を返す。空ならメールのローカル部を使う。
func (d *Directory) displayName(name, email string) string {
	if d.sanitizer != nil {
		name = d.sanitizer.SanitizeDisplayName(name)
	}
	name = strings.TrimSpace(name)
	if name != "" {
		return name
	}
	if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
		return local
	}
	return email
}
