// Пакет provider — загрузка именованных ресурсов из backing-систем
// и вычисление их прав доступа.
//
// Каждый провайдер обслуживает один тип ресурса и до двух источников:
// первичный (с явными ACL) и вторичный (имена без ACL). Источники
// опрашиваются параллельно, записи объединяются по имени — при коллизии
// побеждает первичный источник. К правам каждого ресурса применяются
// fallback-правила, затем правило доступа к ресурсам без явных прав
// и подавление метаданных.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/opsdeck/authz-module/internal/domain/authz"
	"github.com/opsdeck/authz-module/internal/domain/model"
)

// Provider — источник ресурсов одного типа с вычисленными правами.
type Provider interface {
	// Type возвращает тип обслуживаемых ресурсов.
	Type() model.ResourceType

	// GetAll возвращает ресурсы, учитываемые при резолюции профиля:
	// все объединённые ресурсы, либо — при включённом неявном доступе
	// к неизвестным ресурсам — только ресурсы с явными правами.
	GetAll(ctx context.Context) ([]model.Resource, error)

	// GetAllUnrestricted возвращает ресурсы без явных прав (видны всем).
	GetAllUnrestricted(ctx context.Context) ([]model.Resource, error)

	// GetAllRestricted возвращает ресурсы с явными правами,
	// доступные хотя бы одной из указанных ролей.
	GetAllRestricted(ctx context.Context, roleNames []string) ([]model.Resource, error)

	// LoadAll возвращает все объединённые ресурсы без применения
	// правила неявного доступа.
	LoadAll(ctx context.Context) ([]model.Resource, error)
}

// FetchError — ошибка опроса backing-системы.
// Резолюция профиля при такой ошибке либо прерывается целиком,
// либо (в режиме частичной резолюции) пропускает тип ресурса.
type FetchError struct {
	// ResourceType — тип ресурса, который не удалось загрузить
	ResourceType model.ResourceType
	// Source — имя источника (registry, inventory, database)
	Source string
	// Err — исходная ошибка
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("загрузка ресурсов %s из %s: %v", e.ResourceType, e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Options — общие настройки провайдеров.
type Options struct {
	// Fallback — правила вывода неявных прав (nil — fallback отключён)
	Fallback *authz.FallbackResolver
	// AllowUnknownResources — неявный доступ любой identity к ресурсам
	// без явных прав; такие ресурсы исключаются из резолюции профиля
	AllowUnknownResources bool
	// SuppressDetails — убирать метаданные ресурсов при загрузке
	SuppressDetails bool
	// DetailsExclude — ключи метаданных, не подлежащие подавлению
	DetailsExclude []string
}

// source — один источник записей ресурсов.
type source struct {
	name  string
	fetch func(ctx context.Context) ([]model.Resource, error)
}

// baseProvider — общая механика загрузки и фильтрации.
// Встраивается конкретными провайдерами.
type baseProvider struct {
	resourceType model.ResourceType
	primary      source
	secondary    *source // nil — единственный источник
	opts         Options
	logger       *slog.Logger
}

func newBaseProvider(rt model.ResourceType, primary source, secondary *source, opts Options, logger *slog.Logger) *baseProvider {
	return &baseProvider{
		resourceType: rt,
		primary:      primary,
		secondary:    secondary,
		opts:         opts,
		logger:       logger.With(slog.String("component", "provider"), slog.String("resource_type", string(rt))),
	}
}

func (p *baseProvider) Type() model.ResourceType {
	return p.resourceType
}

// LoadAll опрашивает источники параллельно и объединяет записи по имени.
// При коллизии имён побеждает первичный источник: его права сохраняются,
// метаданные вторичного дополняют отсутствующие ключи.
func (p *baseProvider) LoadAll(ctx context.Context) ([]model.Resource, error) {
	var (
		wg                       sync.WaitGroup
		primary, secondary       []model.Resource
		primaryErr, secondaryErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		primary, primaryErr = p.primary.fetch(ctx)
	}()

	if p.secondary != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			secondary, secondaryErr = p.secondary.fetch(ctx)
		}()
	}

	wg.Wait()

	if primaryErr != nil {
		return nil, &FetchError{ResourceType: p.resourceType, Source: p.primary.name, Err: primaryErr}
	}
	if secondaryErr != nil {
		return nil, &FetchError{ResourceType: p.resourceType, Source: p.secondary.name, Err: secondaryErr}
	}

	merged := make(map[string]model.Resource, len(primary)+len(secondary))
	for _, r := range primary {
		if r.Name == "" {
			continue
		}
		merged[r.Name] = r
	}
	for _, r := range secondary {
		if r.Name == "" {
			continue
		}
		existing, ok := merged[r.Name]
		if !ok {
			merged[r.Name] = r
			continue
		}
		// Коллизия имён: права первичного источника, метаданные вторичного
		// дополняют отсутствующие ключи. Map источника не мутируется —
		// дополнение идёт в копию.
		if len(r.Details) > 0 {
			details := make(map[string]any, len(existing.Details)+len(r.Details))
			for k, v := range existing.Details {
				details[k] = v
			}
			for k, v := range r.Details {
				if _, dup := details[k]; !dup {
					details[k] = v
				}
			}
			existing.Details = details
		}
		merged[r.Name] = existing
	}

	result := make([]model.Resource, 0, len(merged))
	for _, r := range merged {
		if p.opts.Fallback != nil {
			r.Permissions = p.opts.Fallback.Resolve(r.Permissions)
		}
		if p.opts.SuppressDetails {
			r.Details = suppressDetails(r.Details, p.opts.DetailsExclude)
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })

	return result, nil
}

// GetAll возвращает ресурсы, участвующие в резолюции профиля.
// При AllowUnknownResources ресурсы без явных прав исключаются:
// доступ к ним неявный и в профиле не материализуется.
func (p *baseProvider) GetAll(ctx context.Context) ([]model.Resource, error) {
	all, err := p.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	if !p.opts.AllowUnknownResources {
		return all, nil
	}

	restricted := make([]model.Resource, 0, len(all))
	for _, r := range all {
		if r.Permissions.IsRestricted() {
			restricted = append(restricted, r)
		}
	}
	return restricted, nil
}

// GetAllUnrestricted возвращает ресурсы без явных прав.
func (p *baseProvider) GetAllUnrestricted(ctx context.Context) ([]model.Resource, error) {
	all, err := p.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	unrestricted := make([]model.Resource, 0, len(all))
	for _, r := range all {
		if !r.Permissions.IsRestricted() {
			unrestricted = append(unrestricted, r)
		}
	}
	return unrestricted, nil
}

// GetAllRestricted возвращает ресурсы с явными правами, доступные
// хотя бы одной из ролей roleNames.
func (p *baseProvider) GetAllRestricted(ctx context.Context, roleNames []string) ([]model.Resource, error) {
	all, err := p.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]model.Resource, 0, len(all))
	for _, r := range all {
		if r.Permissions.IsRestricted() && r.Permissions.AnyRoleMatches(roleNames) {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

// suppressDetails возвращает метаданные с оставленными только
// исключёнными из подавления ключами. Пустой результат — nil.
func suppressDetails(details map[string]any, exclude []string) map[string]any {
	if len(details) == 0 || len(exclude) == 0 {
		return nil
	}
	kept := make(map[string]any)
	for _, k := range exclude {
		if v, ok := details[k]; ok {
			kept[k] = v
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// aclPermissions преобразует ACL backing-системы (уровень → роли)
// в Permissions. Неизвестные уровни пропускаются с предупреждением.
func aclPermissions(acl map[string][]string, logger *slog.Logger) authz.Permissions {
	b := authz.NewBuilder()
	for level, roles := range acl {
		a, err := authz.ParseAuthorization(level)
		if err != nil {
			logger.Warn("Неизвестный уровень доступа в ACL пропущен",
				slog.String("level", level),
			)
			continue
		}
		b.AddAll(a, roles)
	}
	return b.Build()
}
