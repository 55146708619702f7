// Пакет syncer — периодическая bulk-пересборка авторизационных профилей.
//
// UserRolesSyncer запускает фоновую горутину с ticker (AZ_SYNC_INTERVAL),
// которая пересчитывает профили всех известных identity: сохранённых
// пользователей, сервисных аккаунтов и выделенного «анонимного» профиля.
// Ошибка одной identity изолирована — остальные профили обновляются,
// прежний сохранённый профиль неудачной identity не трогается.
//
// Prometheus-метрики:
//   - az_role_sync_duration_seconds — длительность bulk-синхронизации
//   - az_role_sync_synced_total — всего пересобранных профилей
//   - az_role_sync_failed_total — всего неудачных пересборок
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opsdeck/authz-module/internal/domain/model"
	"github.com/opsdeck/authz-module/internal/repository"
)

// Prometheus-метрики bulk-синхронизации.
var (
	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "az_role_sync_duration_seconds",
		Help:    "Длительность bulk-синхронизации авторизационных профилей",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s … ~51s
	})
	syncedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "az_role_sync_synced_total",
		Help: "Всего успешно пересобранных профилей",
	})
	failedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "az_role_sync_failed_total",
		Help: "Всего неудачных пересборок профилей",
	})
)

// ProfileResolver — нужная часть resolver.Resolver.
type ProfileResolver interface {
	ResolveByID(ctx context.Context, id string) (*model.UserPermission, error)
	ResolveWithRoles(ctx context.Context, id string, roles []model.Role) (*model.UserPermission, error)
	ResolveUnrestrictedUser(ctx context.Context) (*model.UserPermission, error)
}

// UserRolesSyncer — фоновый сервис пересборки профилей.
type UserRolesSyncer struct {
	resolver      ProfileResolver
	permRepo      repository.UserPermissionRepository
	saRepo        repository.ServiceAccountRepository
	syncStateRepo repository.SyncStateRepository
	interval      time.Duration
	parallelism   int
	logger        *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New создаёт UserRolesSyncer.
// parallelism ограничивает число одновременных резолюций.
func New(
	resolver ProfileResolver,
	permRepo repository.UserPermissionRepository,
	saRepo repository.ServiceAccountRepository,
	syncStateRepo repository.SyncStateRepository,
	interval time.Duration,
	parallelism int,
	logger *slog.Logger,
) *UserRolesSyncer {
	if parallelism < 1 {
		parallelism = 1
	}
	return &UserRolesSyncer{
		resolver:      resolver,
		permRepo:      permRepo,
		saRepo:        saRepo,
		syncStateRepo: syncStateRepo,
		interval:      interval,
		parallelism:   parallelism,
		logger:        logger.With(slog.String("component", "role_syncer")),
	}
}

// Start запускает фоновую горутину с периодической синхронизацией.
func (s *UserRolesSyncer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Периодическая синхронизация профилей запущена",
			slog.String("interval", s.interval.String()),
			slog.Int("parallelism", s.parallelism),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Периодическая синхронизация профилей остановлена")
				return
			case <-ticker.C:
				s.logger.Info("Запуск периодической синхронизации профилей")
				synced, err := s.SyncAndReturn(ctx, nil)
				if err != nil {
					s.logger.Error("Ошибка периодической синхронизации профилей",
						slog.String("error", err.Error()),
					)
				} else {
					s.logger.Info("Периодическая синхронизация профилей завершена",
						slog.Int("synced", synced),
					)
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *UserRolesSyncer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// candidate — одна identity, подлежащая пересборке.
type candidate struct {
	id string
	// roles — явные роли сервисного аккаунта; nil — роли берутся из IdP
	roles []model.Role
	// persistedRoles — имена ролей последнего сохранённого профиля
	// (для фильтрации по specificRoles)
	persistedRoles []string
}

// SyncAndReturn пересобирает профили всех известных identity и возвращает
// число успешно обновлённых. specificRoles фильтрует кандидатов: непустой
// список оставляет только identity, чьи известные роли пересекаются с ним.
// (0, nil) означает отсутствие подходящих кандидатов; ошибка возвращается
// только при невозможности построить набор кандидатов.
func (s *UserRolesSyncer) SyncAndReturn(ctx context.Context, specificRoles []string) (int, error) {
	result, err := s.syncMatching(ctx, specificRoles, "")
	if err != nil {
		return result.Synced, err
	}
	if result.Failed > 0 {
		s.logger.Warn("Bulk-синхронизация завершена с ошибками",
			slog.Int("total", result.Total),
			slog.Int("synced", result.Synced),
			slog.Int("failed", result.Failed),
		)
	}
	return result.Synced, nil
}

// syncMatching — общая механика bulk-пересборки: кандидаты, фильтр по
// specificRoles, ограниченный параллелизм, счётчики batch-а. skipID
// исключает identity, чей профиль уже пересобран вызывающим.
func (s *UserRolesSyncer) syncMatching(ctx context.Context, specificRoles []string, skipID string) (model.RoleSyncResult, error) {
	startedAt := time.Now().UTC()
	defer func() {
		syncDuration.Observe(time.Since(startedAt).Seconds())
	}()

	result := model.RoleSyncResult{SyncedAt: startedAt}

	candidates, err := s.buildCandidates(ctx, specificRoles)
	if err != nil {
		return result, err
	}

	var (
		wg     sync.WaitGroup
		sem    = make(chan struct{}, s.parallelism)
		synced atomic.Int64
		failed atomic.Int64
	)

	for _, c := range candidates {
		if c.id == skipID {
			continue
		}
		result.Total++

		// Отмена контекста останавливает раздачу; уже сохранённые
		// профили остаются
		if err := ctx.Err(); err != nil {
			wg.Wait()
			result.Synced = int(synced.Load())
			result.Failed = int(failed.Load())
			return result, err
		}

		select {
		case <-ctx.Done():
			wg.Wait()
			result.Synced = int(synced.Load())
			result.Failed = int(failed.Load())
			return result, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(c candidate) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.syncOne(ctx, c); err != nil {
				failedTotal.Inc()
				failed.Add(1)
				s.logger.Warn("Пересборка профиля не удалась, прежний профиль сохранён",
					slog.String("identity", c.id),
					slog.String("error", err.Error()),
				)
				return
			}
			syncedTotal.Inc()
			synced.Add(1)
		}(c)
	}
	wg.Wait()

	// Полная синхронизация всегда включает «анонимный» профиль
	if len(specificRoles) == 0 {
		result.Total++
		if _, err := s.SyncOnlyUnrestrictedUserAndReturn(ctx); err != nil {
			failedTotal.Inc()
			failed.Add(1)
			s.logger.Warn("Пересборка анонимного профиля не удалась",
				slog.String("error", err.Error()),
			)
		} else {
			synced.Add(1)
		}

		if err := s.syncStateRepo.UpdateRoleSyncAt(ctx, time.Now().UTC()); err != nil {
			s.logger.Warn("Не удалось обновить время синхронизации",
				slog.String("error", err.Error()),
			)
		}
	}

	result.Synced = int(synced.Load())
	result.Failed = int(failed.Load())
	return result, nil
}

// SyncOnlyUnrestrictedUserAndReturn пересобирает только «анонимный» профиль.
func (s *UserRolesSyncer) SyncOnlyUnrestrictedUserAndReturn(ctx context.Context) (int, error) {
	up, err := s.resolver.ResolveUnrestrictedUser(ctx)
	if err != nil {
		return 0, fmt.Errorf("резолюция анонимного профиля: %w", err)
	}
	if err := s.permRepo.Put(ctx, up); err != nil {
		return 0, fmt.Errorf("сохранение анонимного профиля: %w", err)
	}
	return 1, nil
}

// SyncServiceAccount пересобирает профиль сервисного аккаунта и профили
// identity, чьи роли пересекаются с его итоговым набором ролей.
// Итоговый набор — объединение переданных ролей и ролей из БД (все
// EXPLICIT); для аккаунта, отсутствующего в БД, роли заданы вызывающим
// напрямую. Возвращает число обновлённых профилей.
func (s *UserRolesSyncer) SyncServiceAccount(ctx context.Context, name string, extraRoles []string) (int, error) {
	roles := model.NewExplicitRoles(extraRoles)

	sa, err := s.saRepo.GetByName(ctx, name)
	switch {
	case err == nil:
		roles = model.MergeRoles(roles, model.NewExplicitRoles(sa.Roles))
	case errors.Is(err, repository.ErrNotFound):
		// Аккаунта нет в БД — профиль строится из переданных ролей
	default:
		return 0, fmt.Errorf("сервисный аккаунт %s: %w", name, err)
	}

	up, err := s.resolver.ResolveWithRoles(ctx, name, roles)
	if err != nil {
		return 0, fmt.Errorf("резолюция профиля сервисного аккаунта %s: %w", name, err)
	}
	if err := s.permRepo.Put(ctx, up); err != nil {
		return 0, fmt.Errorf("сохранение профиля сервисного аккаунта %s: %w", name, err)
	}
	synced := 1

	// Затронутые identity пересобираются без самого аккаунта:
	// его профиль с объединённым набором ролей уже сохранён
	if affected := model.RoleNames(roles); len(affected) > 0 {
		result, err := s.syncMatching(ctx, affected, name)
		if err != nil {
			return synced, err
		}
		synced += result.Synced
	}
	return synced, nil
}

// buildCandidates строит набор identity для пересборки: сохранённые
// профили пользователей плюс сервисные аккаунты из БД. Сервисный аккаунт
// с тем же id, что и сохранённый профиль, учитывается один раз —
// с явными ролями из БД.
func (s *UserRolesSyncer) buildCandidates(ctx context.Context, specificRoles []string) ([]candidate, error) {
	persisted, err := s.permRepo.GetAllByID(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение сохранённых профилей: %w", err)
	}

	serviceAccounts, err := s.saRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение сервисных аккаунтов: %w", err)
	}

	candidates := make(map[string]candidate, len(persisted)+len(serviceAccounts))
	for id, up := range persisted {
		if id == model.UnrestrictedUserID {
			// Анонимный профиль пересобирается отдельно
			continue
		}
		candidates[id] = candidate{id: id, persistedRoles: model.RoleNames(up.Roles)}
	}
	for _, sa := range serviceAccounts {
		candidates[sa.Name] = candidate{
			id:             sa.Name,
			roles:          model.NewExplicitRoles(sa.Roles),
			persistedRoles: sa.Roles,
		}
	}

	result := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if len(specificRoles) > 0 && !intersects(c.persistedRoles, specificRoles) {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}

// syncOne пересобирает и сохраняет профиль одной identity.
func (s *UserRolesSyncer) syncOne(ctx context.Context, c candidate) error {
	var (
		up  *model.UserPermission
		err error
	)
	if c.roles != nil {
		up, err = s.resolver.ResolveWithRoles(ctx, c.id, c.roles)
	} else {
		up, err = s.resolver.ResolveByID(ctx, c.id)
	}
	if err != nil {
		return err
	}

	if err := s.permRepo.Put(ctx, up); err != nil {
		return fmt.Errorf("сохранение профиля: %w", err)
	}
	return nil
}

// intersects проверяет пересечение двух списков имён ролей.
func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, n := range a {
		set[n] = struct{}{}
	}
	for _, n := range b {
		if _, ok := set[n]; ok {
			return true
		}
	}
	return false
}
