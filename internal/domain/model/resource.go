package model

import "github.com/opsdeck/authz-module/internal/domain/authz"

// ResourceType — тип именованного ресурса платформы.
type ResourceType string

const (
	// ResourceTypeApplication — приложение (из Application Registry / Deployment Inventory)
	ResourceTypeApplication ResourceType = "applications"
	// ResourceTypeAccount — облачный аккаунт развёртывания (из Deployment Inventory)
	ResourceTypeAccount ResourceType = "accounts"
	// ResourceTypeServiceAccount — сервисный аккаунт (локальная БД)
	ResourceTypeServiceAccount ResourceType = "service_accounts"
	// ResourceTypeBuildService — CI build service (из Application Registry)
	ResourceTypeBuildService ResourceType = "build_services"
)

// Resource — именованный ресурс с вычисленными правами доступа.
// Value object: пересобирается при каждой загрузке, не мутируется между вызовами.
type Resource struct {
	// Name — имя ресурса, уникальное в пределах своего типа
	Name string `json:"name"`
	// Type — тип ресурса
	Type ResourceType `json:"type"`
	// Permissions — карта прав: уровень доступа → роли
	Permissions authz.Permissions `json:"permissions"`
	// Details — непрозрачные метаданные ресурса (могут подавляться при выдаче)
	Details map[string]any `json:"details,omitempty"`
}
