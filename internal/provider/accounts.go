// accounts.go — провайдер облачных аккаунтов из Deployment Inventory.
package provider

import (
	"context"
	"log/slog"

	"github.com/opsdeck/authz-module/internal/domain/authz"
	"github.com/opsdeck/authz-module/internal/domain/model"
	"github.com/opsdeck/authz-module/internal/inventory"
)

// AccountInventory — нужная часть клиента Deployment Inventory.
type AccountInventory interface {
	ListAccounts(ctx context.Context) ([]inventory.AccountRecord, error)
}

// AccountProvider — провайдер ресурсов типа accounts.
type AccountProvider struct {
	*baseProvider
}

// NewAccountProvider создаёт провайдер аккаунтов.
func NewAccountProvider(inv AccountInventory, opts Options, logger *slog.Logger) *AccountProvider {
	perms := NewAggregatingPermissionProvider[inventory.AccountRecord](
		PermissionSourceFunc[inventory.AccountRecord](func(rec inventory.AccountRecord) authz.Permissions {
			return aclPermissions(rec.Permissions, logger)
		}),
	)

	primary := source{
		name: "inventory",
		fetch: func(ctx context.Context) ([]model.Resource, error) {
			records, err := inv.ListAccounts(ctx)
			if err != nil {
				return nil, err
			}
			resources := make([]model.Resource, 0, len(records))
			for _, rec := range records {
				resources = append(resources, model.Resource{
					Name:        rec.Name,
					Type:        model.ResourceTypeAccount,
					Permissions: perms.PermissionsFor(rec),
					Details:     rec.Details,
				})
			}
			return resources, nil
		},
	}

	return &AccountProvider{
		baseProvider: newBaseProvider(model.ResourceTypeAccount, primary, nil, opts, logger),
	}
}
