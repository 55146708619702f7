// Пакет model — доменные модели Authz Module: роли, ресурсы,
// профили авторизации и результаты синхронизации.
package model

// RoleSource — происхождение роли.
type RoleSource string

const (
	// RoleSourceExplicit — роль задана внутри платформы (например, роли сервисного аккаунта)
	RoleSourceExplicit RoleSource = "EXPLICIT"
	// RoleSourceExternal — роль получена от внешнего Identity Provider или передана вызывающим
	RoleSourceExternal RoleSource = "EXTERNAL"
)

// Role — именованная роль. Идентичность роли определяется только именем;
// Source — метаданные происхождения, в сравнении множеств не участвует.
type Role struct {
	// Name — имя роли (lowercase, уникально в пределах платформы)
	Name string `json:"name"`
	// Source — происхождение роли
	Source RoleSource `json:"source"`
}

// NewExternalRoles строит срез ролей с источником EXTERNAL из имён.
func NewExternalRoles(names []string) []Role {
	roles := make([]Role, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		roles = append(roles, Role{Name: n, Source: RoleSourceExternal})
	}
	return roles
}

// NewExplicitRoles строит срез ролей с источником EXPLICIT из имён.
func NewExplicitRoles(names []string) []Role {
	roles := make([]Role, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		roles = append(roles, Role{Name: n, Source: RoleSourceExplicit})
	}
	return roles
}

// MergeRoles объединяет два набора ролей по имени.
// Ни одна роль не теряется; при совпадении имён сохраняется роль из a
// (источник первой записи выигрывает).
func MergeRoles(a, b []Role) []Role {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]Role, 0, len(a)+len(b))
	for _, r := range a {
		if _, ok := seen[r.Name]; ok {
			continue
		}
		seen[r.Name] = struct{}{}
		merged = append(merged, r)
	}
	for _, r := range b {
		if _, ok := seen[r.Name]; ok {
			continue
		}
		seen[r.Name] = struct{}{}
		merged = append(merged, r)
	}
	return merged
}

// RoleNames возвращает имена ролей набора.
func RoleNames(roles []Role) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names
}

// RolesIntersect возвращает true, если наборы имеют хотя бы одну общую роль по имени.
func RolesIntersect(roles []Role, names []string) bool {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	for _, r := range roles {
		if _, ok := set[r.Name]; ok {
			return true
		}
	}
	return false
}
