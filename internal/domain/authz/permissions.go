// Пакет authz — базовые типы авторизации: уровни доступа (Authorization),
// карта прав ресурса (Permissions) и fallback-правила вывода неявных прав.
// Permissions — immutable value type: строится только через Builder,
// все операции возвращают новые значения.
package authz

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Authorization — уровень доступа к ресурсу.
type Authorization string

// Уровни доступа. Порядок не имеет значения — семантика множеств.
const (
	AuthorizationRead    Authorization = "READ"
	AuthorizationWrite   Authorization = "WRITE"
	AuthorizationExecute Authorization = "EXECUTE"
)

// ParseAuthorization преобразует строку в Authorization.
// Регистр не учитывается.
func ParseAuthorization(s string) (Authorization, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(AuthorizationRead):
		return AuthorizationRead, nil
	case string(AuthorizationWrite):
		return AuthorizationWrite, nil
	case string(AuthorizationExecute):
		return AuthorizationExecute, nil
	default:
		return "", fmt.Errorf("недопустимый уровень доступа %q, допустимые: READ, WRITE, EXECUTE", s)
	}
}

// Permissions — карта прав ресурса: уровень доступа → множество имён ролей.
// Пустая карта означает неограниченный ресурс (виден всем).
// Значение immutable: после Build изменения невозможны.
type Permissions struct {
	grants map[Authorization]map[string]struct{}
}

// Builder — единственный способ построить Permissions.
// Повторное добавление той же пары (Authorization, role) — no-op.
type Builder struct {
	grants map[Authorization]map[string]struct{}
}

// NewBuilder создаёт пустой Builder.
func NewBuilder() *Builder {
	return &Builder{grants: make(map[Authorization]map[string]struct{})}
}

// Add добавляет роль под указанным уровнем доступа.
// Пустые имена ролей игнорируются.
func (b *Builder) Add(a Authorization, role string) *Builder {
	if role == "" {
		return b
	}
	set, ok := b.grants[a]
	if !ok {
		set = make(map[string]struct{})
		b.grants[a] = set
	}
	set[role] = struct{}{}
	return b
}

// AddAll добавляет все роли под указанным уровнем доступа.
func (b *Builder) AddAll(a Authorization, roles []string) *Builder {
	for _, r := range roles {
		b.Add(a, r)
	}
	return b
}

// Build возвращает immutable Permissions.
// Builder можно использовать дальше — Build копирует накопленное состояние.
func (b *Builder) Build() Permissions {
	return Permissions{grants: copyGrants(b.grants)}
}

// IsRestricted возвращает true, если хотя бы один уровень доступа
// имеет непустое множество ролей. Неограниченный ресурс виден всем.
func (p Permissions) IsRestricted() bool {
	for _, set := range p.grants {
		if len(set) > 0 {
			return true
		}
	}
	return false
}

// Roles возвращает отсортированную копию множества ролей уровня a.
// Для отсутствующего уровня возвращает nil.
func (p Permissions) Roles(a Authorization) []string {
	set, ok := p.grants[a]
	if !ok || len(set) == 0 {
		return nil
	}
	roles := make([]string, 0, len(set))
	for r := range set {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

// Has проверяет наличие пары (уровень, роль).
func (p Permissions) Has(a Authorization, role string) bool {
	set, ok := p.grants[a]
	if !ok {
		return false
	}
	_, ok = set[role]
	return ok
}

// Merge объединяет два Permissions: для каждого уровня берётся
// объединение множеств ролей. Операция монотонна — ни одна пара
// (уровень, роль) не теряется. Исходные значения не изменяются.
func (p Permissions) Merge(other Permissions) Permissions {
	merged := copyGrants(p.grants)
	for a, set := range other.grants {
		dst, ok := merged[a]
		if !ok {
			dst = make(map[string]struct{}, len(set))
			merged[a] = dst
		}
		for r := range set {
			dst[r] = struct{}{}
		}
	}
	return Permissions{grants: merged}
}

// AnyRoleMatches возвращает true, если хотя бы один уровень доступа
// содержит хотя бы одну роль из names.
func (p Permissions) AnyRoleMatches(names []string) bool {
	for _, set := range p.grants {
		for _, n := range names {
			if _, ok := set[n]; ok {
				return true
			}
		}
	}
	return false
}

// Equal сравнивает два Permissions: уровень за уровнем, множество за множеством.
func (p Permissions) Equal(other Permissions) bool {
	if nonEmptyLevels(p.grants) != nonEmptyLevels(other.grants) {
		return false
	}
	for a, set := range p.grants {
		if len(set) == 0 {
			continue
		}
		otherSet, ok := other.grants[a]
		if !ok || len(otherSet) != len(set) {
			return false
		}
		for r := range set {
			if _, ok := otherSet[r]; !ok {
				return false
			}
		}
	}
	return true
}

// MarshalJSON сериализует Permissions в формат {"READ":["r1","r2"],...}.
// Роли отсортированы, пустые уровни опускаются.
func (p Permissions) MarshalJSON() ([]byte, error) {
	out := make(map[Authorization][]string, len(p.grants))
	for a, set := range p.grants {
		if len(set) == 0 {
			continue
		}
		out[a] = p.Roles(a)
	}
	return json.Marshal(out)
}

// UnmarshalJSON восстанавливает Permissions из формата {"READ":["r1"],...}.
func (p *Permissions) UnmarshalJSON(data []byte) error {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("декодирование permissions: %w", err)
	}
	b := NewBuilder()
	for level, roles := range raw {
		a, err := ParseAuthorization(level)
		if err != nil {
			return err
		}
		b.AddAll(a, roles)
	}
	*p = b.Build()
	return nil
}

// copyGrants выполняет глубокую копию карты прав.
func copyGrants(src map[Authorization]map[string]struct{}) map[Authorization]map[string]struct{} {
	dst := make(map[Authorization]map[string]struct{}, len(src))
	for a, set := range src {
		cp := make(map[string]struct{}, len(set))
		for r := range set {
			cp[r] = struct{}{}
		}
		dst[a] = cp
	}
	return dst
}

// nonEmptyLevels считает уровни с непустым множеством ролей.
func nonEmptyLevels(grants map[Authorization]map[string]struct{}) int {
	n := 0
	for _, set := range grants {
		if len(set) > 0 {
			n++
		}
	}
	return n
}
