// build_services.go — провайдер build-сервисов из Application Registry.
package provider

import (
	"context"
	"log/slog"

	"github.com/opsdeck/authz-module/internal/domain/authz"
	"github.com/opsdeck/authz-module/internal/domain/model"
	"github.com/opsdeck/authz-module/internal/registry"
)

// BuildServiceRegistry — нужная часть клиента Application Registry.
type BuildServiceRegistry interface {
	ListBuildServices(ctx context.Context) ([]registry.BuildServiceRecord, error)
}

// BuildServiceProvider — провайдер ресурсов типа build_services.
type BuildServiceProvider struct {
	*baseProvider
}

// NewBuildServiceProvider создаёт провайдер build-сервисов.
func NewBuildServiceProvider(reg BuildServiceRegistry, opts Options, logger *slog.Logger) *BuildServiceProvider {
	perms := NewAggregatingPermissionProvider[registry.BuildServiceRecord](
		PermissionSourceFunc[registry.BuildServiceRecord](func(rec registry.BuildServiceRecord) authz.Permissions {
			return aclPermissions(rec.Permissions, logger)
		}),
	)

	primary := source{
		name: "registry",
		fetch: func(ctx context.Context) ([]model.Resource, error) {
			records, err := reg.ListBuildServices(ctx)
			if err != nil {
				return nil, err
			}
			resources := make([]model.Resource, 0, len(records))
			for _, rec := range records {
				resources = append(resources, model.Resource{
					Name:        rec.Name,
					Type:        model.ResourceTypeBuildService,
					Permissions: perms.PermissionsFor(rec),
					Details:     rec.Details,
				})
			}
			return resources, nil
		},
	}

	return &BuildServiceProvider{
		baseProvider: newBaseProvider(model.ResourceTypeBuildService, primary, nil, opts, logger),
	}
}
