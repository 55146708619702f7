// service_accounts.go — провайдер сервисных аккаунтов из локальной БД.
// Роли-участники сервисного аккаунта получают READ и WRITE на его ресурс.
package provider

import (
	"context"
	"log/slog"

	"github.com/opsdeck/authz-module/internal/domain/authz"
	"github.com/opsdeck/authz-module/internal/domain/model"
)

// ServiceAccountStore — нужная часть репозитория сервисных аккаунтов.
type ServiceAccountStore interface {
	List(ctx context.Context) ([]*model.ServiceAccount, error)
}

// ServiceAccountProvider — провайдер ресурсов типа service_accounts.
type ServiceAccountProvider struct {
	*baseProvider
}

// NewServiceAccountProvider создаёт провайдер сервисных аккаунтов.
func NewServiceAccountProvider(store ServiceAccountStore, opts Options, logger *slog.Logger) *ServiceAccountProvider {
	perms := NewAggregatingPermissionProvider[*model.ServiceAccount](
		PermissionSourceFunc[*model.ServiceAccount](func(sa *model.ServiceAccount) authz.Permissions {
			return authz.NewBuilder().
				AddAll(authz.AuthorizationRead, sa.Roles).
				AddAll(authz.AuthorizationWrite, sa.Roles).
				Build()
		}),
	)

	primary := source{
		name: "database",
		fetch: func(ctx context.Context) ([]model.Resource, error) {
			accounts, err := store.List(ctx)
			if err != nil {
				return nil, err
			}
			resources := make([]model.Resource, 0, len(accounts))
			for _, sa := range accounts {
				details := map[string]any{"id": sa.ID}
				if sa.Description != nil {
					details["description"] = *sa.Description
				}

				resources = append(resources, model.Resource{
					Name:        sa.Name,
					Type:        model.ResourceTypeServiceAccount,
					Permissions: perms.PermissionsFor(sa),
					Details:     details,
				})
			}
			return resources, nil
		},
	}

	return &ServiceAccountProvider{
		baseProvider: newBaseProvider(model.ResourceTypeServiceAccount, primary, nil, opts, logger),
	}
}
