// permission_source.go — вычисление прав ресурса из данных источника.
// Каждый тип ресурса задаёт свои источники прав; несколько источников
// объединяются через AggregatingPermissionProvider (union по уровням).
package provider

import (
	"github.com/opsdeck/authz-module/internal/domain/authz"
)

// PermissionSource вычисляет права одного элемента источника.
type PermissionSource[T any] interface {
	PermissionsFor(item T) authz.Permissions
}

// PermissionSourceFunc — адаптер функции к PermissionSource.
type PermissionSourceFunc[T any] func(item T) authz.Permissions

func (f PermissionSourceFunc[T]) PermissionsFor(item T) authz.Permissions {
	return f(item)
}

// AggregatingPermissionProvider объединяет права нескольких источников.
// Объединение монотонно: пара (уровень, роль) любого источника
// присутствует в результате.
type AggregatingPermissionProvider[T any] struct {
	sources []PermissionSource[T]
}

// NewAggregatingPermissionProvider создаёт агрегатор источников прав.
func NewAggregatingPermissionProvider[T any](sources ...PermissionSource[T]) *AggregatingPermissionProvider[T] {
	return &AggregatingPermissionProvider[T]{sources: sources}
}

// PermissionsFor возвращает объединённые права элемента.
func (p *AggregatingPermissionProvider[T]) PermissionsFor(item T) authz.Permissions {
	merged := authz.NewBuilder().Build()
	for _, s := range p.sources {
		merged = merged.Merge(s.PermissionsFor(item))
	}
	return merged
}
