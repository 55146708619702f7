// handler.go — основной обработчик API Authz Module.
// Объединяет доменные обработчики: резолюция профилей, синхронизация,
// управление сервисными аккаунтами, health endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/opsdeck/authz-module/internal/api/errors"
	"github.com/opsdeck/authz-module/internal/domain/model"
	"github.com/opsdeck/authz-module/internal/provider"
	"github.com/opsdeck/authz-module/internal/repository"
	"github.com/opsdeck/authz-module/internal/resolver"
)

// ProfileResolver — нужная часть resolver.Resolver.
type ProfileResolver interface {
	ResolveByID(ctx context.Context, id string) (*model.UserPermission, error)
	ResolveAndMerge(ctx context.Context, user model.ExternalUser) (*model.UserPermission, error)
}

// ProfileSyncer — нужная часть syncer.UserRolesSyncer.
type ProfileSyncer interface {
	SyncAndReturn(ctx context.Context, specificRoles []string) (int, error)
	SyncOnlyUnrestrictedUserAndReturn(ctx context.Context) (int, error)
	SyncServiceAccount(ctx context.Context, name string, extraRoles []string) (int, error)
}

// ServiceAccountRemover — атомарное удаление сервисного аккаунта
// вместе с его сохранённым профилем (repository.ServiceAccountCascade).
type ServiceAccountRemover interface {
	DeleteWithProfile(ctx context.Context, id, profileID string) error
}

// APIHandler — основной обработчик API Authz Module.
type APIHandler struct {
	health    *HealthHandler
	resolver  ProfileResolver
	syncer    ProfileSyncer
	permRepo  repository.UserPermissionRepository
	saRepo    repository.ServiceAccountRepository
	saRemover ServiceAccountRemover
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	profileResolver ProfileResolver,
	profileSyncer ProfileSyncer,
	permRepo repository.UserPermissionRepository,
	saRepo repository.ServiceAccountRepository,
	saRemover ServiceAccountRemover,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:    health,
		resolver:  profileResolver,
		syncer:    profileSyncer,
		permRepo:  permRepo,
		saRepo:    saRepo,
		saRemover: saRemover,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeResolutionError отображает ошибку резолюции на HTTP-ответ:
// недоступная backing-система ресурсов — 502 PROVIDER_UNAVAILABLE,
// прочие ошибки резолюции (IdP) — 502 IDP_UNAVAILABLE,
// всё остальное — 500.
func (h *APIHandler) writeResolutionError(w http.ResponseWriter, id string, err error) {
	h.logger.Error("Ошибка резолюции профиля",
		slog.String("identity", id),
		slog.String("error", err.Error()),
	)

	var fetchErr *provider.FetchError
	if errors.As(err, &fetchErr) {
		apierrors.ProviderUnavailable(w, "Источник ресурсов недоступен: "+string(fetchErr.ResourceType))
		return
	}

	var resErr *resolver.ResolutionError
	if errors.As(err, &resErr) {
		apierrors.IDPUnavailable(w, "Не удалось вычислить профиль: Identity Provider недоступен")
		return
	}

	apierrors.InternalError(w, "Ошибка резолюции профиля")
}
