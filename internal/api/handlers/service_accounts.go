// service_accounts.go — обработчики /api/v1/service-accounts endpoints.
// CRUD сервисных аккаунтов платформы. После каждой мутации профиль
// аккаунта и затронутые identity пересобираются немедленно.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/opsdeck/authz-module/internal/api/errors"
	"github.com/opsdeck/authz-module/internal/domain/model"
	"github.com/opsdeck/authz-module/internal/repository"
)

// serviceAccountRequest — тело запросов создания и обновления SA.
type serviceAccountRequest struct {
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	Roles       []string `json:"roles"`
}

// serviceAccountResponse — представление SA в ответах API.
type serviceAccountResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	Roles       []string `json:"roles"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// validateServiceAccount проверяет тело запроса SA.
func validateServiceAccount(req *serviceAccountRequest) string {
	if len(req.Name) < 2 || len(req.Name) > 50 {
		return "Имя сервисного аккаунта должно быть от 2 до 50 символов"
	}
	for _, role := range req.Roles {
		if role == "" {
			return "Имена ролей не могут быть пустыми"
		}
		if role != strings.ToLower(role) {
			return "Имена ролей должны быть в lowercase"
		}
	}
	return ""
}

// CreateServiceAccount — POST /api/v1/service-accounts.
func (h *APIHandler) CreateServiceAccount(w http.ResponseWriter, r *http.Request) {
	var req serviceAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if msg := validateServiceAccount(&req); msg != "" {
		apierrors.ValidationError(w, msg)
		return
	}

	sa := &model.ServiceAccount{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Roles:       req.Roles,
	}

	if err := h.saRepo.Create(r.Context(), sa); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			apierrors.Conflict(w, "Сервисный аккаунт с таким именем уже существует")
			return
		}
		h.logger.Error("Ошибка создания сервисного аккаунта", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка создания сервисного аккаунта")
		return
	}

	h.syncAfterMutation(r, sa.Name)

	writeJSON(w, http.StatusCreated, mapServiceAccount(sa))
}

// ListServiceAccounts — GET /api/v1/service-accounts.
func (h *APIHandler) ListServiceAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.saRepo.List(r.Context())
	if err != nil {
		h.logger.Error("Ошибка получения списка сервисных аккаунтов", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка получения списка сервисных аккаунтов")
		return
	}

	items := make([]serviceAccountResponse, len(accounts))
	for i, sa := range accounts {
		items[i] = mapServiceAccount(sa)
	}

	writeJSON(w, http.StatusOK, items)
}

// GetServiceAccount — GET /api/v1/service-accounts/{id}.
func (h *APIHandler) GetServiceAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sa, err := h.saRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Сервисный аккаунт не найден")
			return
		}
		h.logger.Error("Ошибка получения сервисного аккаунта",
			slog.String("sa_id", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка получения сервисного аккаунта")
		return
	}

	writeJSON(w, http.StatusOK, mapServiceAccount(sa))
}

// UpdateServiceAccount — PUT /api/v1/service-accounts/{id}.
func (h *APIHandler) UpdateServiceAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req serviceAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if msg := validateServiceAccount(&req); msg != "" {
		apierrors.ValidationError(w, msg)
		return
	}

	sa, err := h.saRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Сервисный аккаунт не найден")
			return
		}
		h.logger.Error("Ошибка получения сервисного аккаунта",
			slog.String("sa_id", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка обновления сервисного аккаунта")
		return
	}

	sa.Name = req.Name
	sa.Description = req.Description
	sa.Roles = req.Roles

	if err := h.saRepo.Update(r.Context(), sa); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			apierrors.Conflict(w, "Сервисный аккаунт с таким именем уже существует")
			return
		}
		h.logger.Error("Ошибка обновления сервисного аккаунта",
			slog.String("sa_id", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка обновления сервисного аккаунта")
		return
	}

	h.syncAfterMutation(r, sa.Name)

	writeJSON(w, http.StatusOK, mapServiceAccount(sa))
}

// DeleteServiceAccount — DELETE /api/v1/service-accounts/{id}.
// Аккаунт и его сохранённый профиль удаляются в одной транзакции.
func (h *APIHandler) DeleteServiceAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sa, err := h.saRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Сервисный аккаунт не найден")
			return
		}
		h.logger.Error("Ошибка получения сервисного аккаунта",
			slog.String("sa_id", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка удаления сервисного аккаунта")
		return
	}

	if err := h.saRemover.DeleteWithProfile(r.Context(), id, sa.Name); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Сервисный аккаунт не найден")
			return
		}
		h.logger.Error("Ошибка удаления сервисного аккаунта",
			slog.String("sa_id", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка удаления сервисного аккаунта")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// syncAfterMutation пересобирает профиль SA после мутации.
// Неудача не отменяет мутацию — профиль догонит периодическая синхронизация.
func (h *APIHandler) syncAfterMutation(r *http.Request, name string) {
	if _, err := h.syncer.SyncServiceAccount(r.Context(), name, nil); err != nil {
		h.logger.Warn("Пересборка профиля после мутации SA не удалась",
			slog.String("service_account", name),
			slog.String("error", err.Error()),
		)
	}
}

// mapServiceAccount конвертирует domain model в представление API.
func mapServiceAccount(sa *model.ServiceAccount) serviceAccountResponse {
	roles := sa.Roles
	if roles == nil {
		roles = []string{}
	}
	return serviceAccountResponse{
		ID:          sa.ID,
		Name:        sa.Name,
		Description: sa.Description,
		Roles:       roles,
		CreatedAt:   sa.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   sa.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
