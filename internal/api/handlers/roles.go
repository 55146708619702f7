// roles.go — обработчики резолюции и выдачи авторизационных профилей.
// POST   /api/v1/roles/{id}      — пересобрать профиль по ролям из IdP
// PUT    /api/v1/roles/{id}      — пересобрать с объединением переданных ролей
// DELETE /api/v1/roles/{id}      — удалить сохранённый профиль
// GET    /api/v1/authorize/{id}  — выдать сохранённый профиль
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/opsdeck/authz-module/internal/api/errors"
	"github.com/opsdeck/authz-module/internal/domain/model"
	"github.com/opsdeck/authz-module/internal/repository"
)

// PostRole — POST /api/v1/roles/{id}.
// Вычисляет профиль identity по ролям из IdP и сохраняет его.
func (h *APIHandler) PostRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		apierrors.ValidationError(w, "Идентификатор identity не задан")
		return
	}

	up, err := h.resolver.ResolveByID(r.Context(), id)
	if err != nil {
		h.writeResolutionError(w, id, err)
		return
	}

	if err := h.permRepo.Put(r.Context(), up); err != nil {
		h.logger.Error("Ошибка сохранения профиля",
			slog.String("identity", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка сохранения профиля")
		return
	}

	writeJSON(w, http.StatusOK, up)
}

// PutRole — PUT /api/v1/roles/{id}.
// Тело запроса — JSON-массив имён внешних ролей. Вычисляет профиль,
// объединяя переданные роли с ролями из IdP, и сохраняет его.
func (h *APIHandler) PutRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		apierrors.ValidationError(w, "Идентификатор identity не задан")
		return
	}

	var roleNames []string
	if err := json.NewDecoder(r.Body).Decode(&roleNames); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: ожидается массив имён ролей")
		return
	}

	up, err := h.resolver.ResolveAndMerge(r.Context(), model.ExternalUser{
		ID:            id,
		ExternalRoles: model.NewExternalRoles(roleNames),
	})
	if err != nil {
		h.writeResolutionError(w, id, err)
		return
	}

	if err := h.permRepo.Put(r.Context(), up); err != nil {
		h.logger.Error("Ошибка сохранения профиля",
			slog.String("identity", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка сохранения профиля")
		return
	}

	writeJSON(w, http.StatusOK, up)
}

// DeleteRole — DELETE /api/v1/roles/{id}.
// Удаляет сохранённый профиль identity.
func (h *APIHandler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.permRepo.Remove(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Профиль не найден")
			return
		}
		h.logger.Error("Ошибка удаления профиля",
			slog.String("identity", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка удаления профиля")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetAuthorize — GET /api/v1/authorize/{id}.
// Возвращает сохранённый профиль identity. Профили выдаются только
// из хранилища — on-the-fly резолюция на этом endpoint не выполняется.
func (h *APIHandler) GetAuthorize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	up, err := h.permRepo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Профиль не найден")
			return
		}
		h.logger.Error("Ошибка чтения профиля",
			slog.String("identity", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка чтения профиля")
		return
	}

	writeJSON(w, http.StatusOK, up)
}
