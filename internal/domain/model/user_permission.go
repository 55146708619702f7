package model

// UnrestrictedUserID — идентификатор выделенного «анонимного» профиля:
// базовый набор прав, доступный без аутентификации.
const UnrestrictedUserID = "__unrestricted_user__"

// ExternalUser — вход операции resolveAndMerge: идентификатор плюс
// роли, переданные вызывающим (источник EXTERNAL).
type ExternalUser struct {
	// ID — идентификатор пользователя или сервисного аккаунта
	ID string `json:"id"`
	// ExternalRoles — роли, переданные вызывающим (упорядоченный список)
	ExternalRoles []Role `json:"external_roles"`
}

// UserPermission — полный профиль авторизации одной identity.
// Строится заново при каждом resolve; репозиторий перезаписывает профиль целиком.
type UserPermission struct {
	// ID — идентификатор identity
	ID string `json:"id"`
	// IsAdmin — true, если набор ролей пересекается с admin-ролями платформы
	IsAdmin bool `json:"is_admin"`
	// Roles — итоговый набор ролей identity
	Roles []Role `json:"roles"`
	// Resources — видимые ресурсы по типам
	Resources map[ResourceType][]Resource `json:"resources"`
}
