// fallback.go — вывод неявных прав из явно выданных.
// Правило (Source → Derived): если у ресурса нет явных ролей под уровнем
// Derived, уровень Derived получает ровно множество ролей уровня Source.
// Явно выданный непустой Derived никогда не переопределяется.
package authz

import (
	"fmt"
	"strings"
)

// FallbackRule — одно правило вывода: Derived выводится из Source.
type FallbackRule struct {
	// Source — уровень, из которого выводятся роли
	Source Authorization
	// Derived — уровень, который получает роли при отсутствии явной выдачи
	Derived Authorization
}

// ParseFallbackRules разбирает строку конфигурации вида "READ>EXECUTE,WRITE>EXECUTE".
// Пустая строка — пустой список правил (fallback отключён).
func ParseFallbackRules(s string) ([]FallbackRule, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var rules []FallbackRule
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		src, derived, ok := strings.Cut(part, ">")
		if !ok {
			return nil, fmt.Errorf("некорректное fallback-правило %q, ожидается формат SOURCE>DERIVED", part)
		}
		source, err := ParseAuthorization(src)
		if err != nil {
			return nil, fmt.Errorf("fallback-правило %q: %w", part, err)
		}
		target, err := ParseAuthorization(derived)
		if err != nil {
			return nil, fmt.Errorf("fallback-правило %q: %w", part, err)
		}
		if source == target {
			return nil, fmt.Errorf("fallback-правило %q: source и derived совпадают", part)
		}
		rules = append(rules, FallbackRule{Source: source, Derived: target})
	}
	return rules, nil
}

// FallbackResolver применяет упорядоченный список fallback-правил к Permissions.
// Правила применяются по порядку: каждое следующее видит результат предыдущего.
type FallbackResolver struct {
	rules []FallbackRule
}

// NewFallbackResolver создаёт resolver с заданными правилами.
// Пустой список правил — resolver-пустышка, возвращающий вход без изменений.
func NewFallbackResolver(rules []FallbackRule) *FallbackResolver {
	return &FallbackResolver{rules: rules}
}

// Resolve возвращает Permissions с применёнными fallback-правилами.
// Операция идемпотентна: повторный вызов на результате ничего не меняет.
func (r *FallbackResolver) Resolve(p Permissions) Permissions {
	result := p
	for _, rule := range r.rules {
		if len(result.Roles(rule.Derived)) > 0 {
			// Явная выдача под Derived — fallback не вмешивается
			continue
		}
		source := result.Roles(rule.Source)
		if len(source) == 0 {
			continue
		}
		result = result.Merge(NewBuilder().AddAll(rule.Derived, source).Build())
	}
	return result
}
