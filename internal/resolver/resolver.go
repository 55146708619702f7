// Пакет resolver — вычисление полного авторизационного профиля identity.
//
// Резолюция собирает роли identity (из IdP и/или переданные вызывающим),
// опрашивает провайдеры ресурсов и строит UserPermission: admin-флаг,
// итоговый набор ролей и видимые ресурсы по типам. Резолюция никогда
// не персистит результат — этим занимаются syncer и API-слой.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opsdeck/authz-module/internal/domain/model"
	"github.com/opsdeck/authz-module/internal/provider"
)

// RoleSource — источник внешних ролей identity (IdP).
type RoleSource interface {
	RolesForIdentity(ctx context.Context, id string) ([]model.Role, error)
}

// ResolutionError — ошибка резолюции профиля конкретной identity.
type ResolutionError struct {
	// IdentityID — identity, профиль которой не удалось вычислить
	IdentityID string
	// Err — исходная ошибка
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("резолюция профиля %s: %v", e.IdentityID, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Options — настройки резолюции.
type Options struct {
	// AdminRoles — роли, членство в которых даёт admin-профиль
	AdminRoles []string
	// AllowPartialResolution — при ошибке провайдера пропустить его
	// тип ресурса вместо отказа всей резолюции
	AllowPartialResolution bool
	// AllowUnknownResources — доступ к ресурсам без явных прав неявный:
	// такие ресурсы не материализуются ни в одном профиле
	AllowUnknownResources bool
}

// Resolver — вычислитель авторизационных профилей.
type Resolver struct {
	roleSource RoleSource
	providers  []provider.Provider
	opts       Options
	logger     *slog.Logger
}

// New создаёт Resolver.
func New(roleSource RoleSource, providers []provider.Provider, opts Options, logger *slog.Logger) *Resolver {
	return &Resolver{
		roleSource: roleSource,
		providers:  providers,
		opts:       opts,
		logger:     logger.With(slog.String("component", "resolver")),
	}
}

// ResolveByID вычисляет профиль identity, запрашивая её роли у IdP.
func (r *Resolver) ResolveByID(ctx context.Context, id string) (*model.UserPermission, error) {
	if id == "" {
		return nil, &ResolutionError{IdentityID: id, Err: fmt.Errorf("пустой идентификатор identity")}
	}
	if id == model.UnrestrictedUserID {
		return r.ResolveUnrestrictedUser(ctx)
	}

	roles, err := r.roleSource.RolesForIdentity(ctx, id)
	if err != nil {
		return nil, &ResolutionError{IdentityID: id, Err: fmt.Errorf("запрос ролей у IdP: %w", err)}
	}

	return r.resolve(ctx, id, roles)
}

// ResolveAndMerge вычисляет профиль, объединяя роли из IdP с ролями,
// переданными вызывающим. Переданные роли сохраняют источник EXTERNAL,
// дубликаты по имени схлопываются (побеждает первая встреченная роль).
func (r *Resolver) ResolveAndMerge(ctx context.Context, user model.ExternalUser) (*model.UserPermission, error) {
	if user.ID == "" {
		return nil, &ResolutionError{IdentityID: user.ID, Err: fmt.Errorf("пустой идентификатор identity")}
	}
	if user.ID == model.UnrestrictedUserID {
		return r.ResolveUnrestrictedUser(ctx)
	}

	idpRoles, err := r.roleSource.RolesForIdentity(ctx, user.ID)
	if err != nil {
		return nil, &ResolutionError{IdentityID: user.ID, Err: fmt.Errorf("запрос ролей у IdP: %w", err)}
	}

	return r.resolve(ctx, user.ID, model.MergeRoles(user.ExternalRoles, idpRoles))
}

// ResolveWithRoles вычисляет профиль по явно заданному набору ролей,
// без обращения к IdP. Используется syncer'ом для сервисных аккаунтов.
func (r *Resolver) ResolveWithRoles(ctx context.Context, id string, roles []model.Role) (*model.UserPermission, error) {
	if id == "" {
		return nil, &ResolutionError{IdentityID: id, Err: fmt.Errorf("пустой идентификатор identity")}
	}
	return r.resolve(ctx, id, roles)
}

// ResolveUnrestrictedUser вычисляет выделенный «анонимный» профиль:
// без ролей, только ресурсы без явных прав. При неявном доступе
// к неизвестным ресурсам профиль пуст.
func (r *Resolver) ResolveUnrestrictedUser(ctx context.Context) (*model.UserPermission, error) {
	up := &model.UserPermission{
		ID:        model.UnrestrictedUserID,
		Roles:     []model.Role{},
		Resources: make(map[model.ResourceType][]model.Resource, len(r.providers)),
	}

	for _, p := range r.providers {
		if r.opts.AllowUnknownResources {
			up.Resources[p.Type()] = []model.Resource{}
			continue
		}
		resources, err := p.GetAllUnrestricted(ctx)
		if err != nil {
			if r.skipProviderError(model.UnrestrictedUserID, p.Type(), err) {
				continue
			}
			return nil, &ResolutionError{IdentityID: model.UnrestrictedUserID, Err: err}
		}
		up.Resources[p.Type()] = resources
	}

	return up, nil
}

// resolve строит профиль по итоговому набору ролей.
// Admin видит все учитываемые ресурсы каждого провайдера; обычная
// identity — неограниченные ресурсы плюс ресурсы, доступные её ролям.
func (r *Resolver) resolve(ctx context.Context, id string, roles []model.Role) (*model.UserPermission, error) {
	if roles == nil {
		roles = []model.Role{}
	}
	roleNames := model.RoleNames(roles)
	isAdmin := model.RolesIntersect(roles, r.opts.AdminRoles)

	up := &model.UserPermission{
		ID:        id,
		IsAdmin:   isAdmin,
		Roles:     roles,
		Resources: make(map[model.ResourceType][]model.Resource, len(r.providers)),
	}

	for _, p := range r.providers {
		resources, err := r.resourcesFor(ctx, p, roleNames, isAdmin)
		if err != nil {
			if r.skipProviderError(id, p.Type(), err) {
				continue
			}
			return nil, &ResolutionError{IdentityID: id, Err: err}
		}
		up.Resources[p.Type()] = resources
	}

	r.logger.Debug("Профиль вычислен",
		slog.String("identity", id),
		slog.Bool("is_admin", isAdmin),
		slog.Int("roles", len(roles)),
	)

	return up, nil
}

// resourcesFor возвращает видимые ресурсы одного провайдера.
// Неограниченные ресурсы материализуются только при явном учёте
// (доступ к неизвестным ресурсам не включён).
func (r *Resolver) resourcesFor(ctx context.Context, p provider.Provider, roleNames []string, isAdmin bool) ([]model.Resource, error) {
	if isAdmin {
		return p.GetAll(ctx)
	}

	var visible []model.Resource
	if !r.opts.AllowUnknownResources {
		unrestricted, err := p.GetAllUnrestricted(ctx)
		if err != nil {
			return nil, err
		}
		visible = unrestricted
	}

	restricted, err := p.GetAllRestricted(ctx, roleNames)
	if err != nil {
		return nil, err
	}

	return append(visible, restricted...), nil
}

// skipProviderError решает, можно ли пропустить ошибку провайдера.
// В режиме частичной резолюции тип ресурса исключается из профиля
// с предупреждением; иначе ошибка фатальна для резолюции.
func (r *Resolver) skipProviderError(id string, rt model.ResourceType, err error) bool {
	if !r.opts.AllowPartialResolution {
		return false
	}
	r.logger.Warn("Тип ресурса пропущен при резолюции",
		slog.String("identity", id),
		slog.String("resource_type", string(rt)),
		slog.String("error", err.Error()),
	)
	return true
}
