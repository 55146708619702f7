// applications.go — провайдер приложений.
// Первичный источник — Application Registry (явные ACL и метаданные),
// вторичный — Deployment Inventory (развёрнутые приложения без ACL).
package provider

import (
	"context"
	"log/slog"

	"github.com/opsdeck/authz-module/internal/domain/authz"
	"github.com/opsdeck/authz-module/internal/domain/model"
	"github.com/opsdeck/authz-module/internal/inventory"
	"github.com/opsdeck/authz-module/internal/registry"
)

// ApplicationRegistry — нужная часть клиента Application Registry.
type ApplicationRegistry interface {
	ListApplications(ctx context.Context) ([]registry.ApplicationRecord, error)
}

// ApplicationInventory — нужная часть клиента Deployment Inventory.
type ApplicationInventory interface {
	ListApplications(ctx context.Context) ([]inventory.DeployedApplication, error)
}

// ApplicationProvider — провайдер ресурсов типа applications.
type ApplicationProvider struct {
	*baseProvider
}

// NewApplicationProvider создаёт провайдер приложений.
// inv == nil отключает вторичный источник (AZ_LOAD_APPS_FROM_INVENTORY=false).
func NewApplicationProvider(reg ApplicationRegistry, inv ApplicationInventory, opts Options, logger *slog.Logger) *ApplicationProvider {
	perms := NewAggregatingPermissionProvider[registry.ApplicationRecord](
		PermissionSourceFunc[registry.ApplicationRecord](func(rec registry.ApplicationRecord) authz.Permissions {
			return aclPermissions(rec.Permissions, logger)
		}),
	)

	primary := source{
		name: "registry",
		fetch: func(ctx context.Context) ([]model.Resource, error) {
			records, err := reg.ListApplications(ctx)
			if err != nil {
				return nil, err
			}
			resources := make([]model.Resource, 0, len(records))
			for _, rec := range records {
				resources = append(resources, model.Resource{
					Name:        rec.Name,
					Type:        model.ResourceTypeApplication,
					Permissions: perms.PermissionsFor(rec),
					Details:     rec.Details,
				})
			}
			return resources, nil
		},
	}

	var secondary *source
	if inv != nil {
		secondary = &source{
			name: "inventory",
			fetch: func(ctx context.Context) ([]model.Resource, error) {
				records, err := inv.ListApplications(ctx)
				if err != nil {
					return nil, err
				}
				resources := make([]model.Resource, 0, len(records))
				for _, rec := range records {
					resources = append(resources, model.Resource{
						Name:    rec.Name,
						Type:    model.ResourceTypeApplication,
						Details: rec.Details,
					})
				}
				return resources, nil
			},
		}
	}

	return &ApplicationProvider{
		baseProvider: newBaseProvider(model.ResourceTypeApplication, primary, secondary, opts, logger),
	}
}
