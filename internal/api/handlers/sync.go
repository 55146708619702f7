// sync.go — обработчики немедленной синхронизации профилей.
// POST /api/v1/sync                        — bulk-пересборка (опц. фильтр по ролям)
// POST /api/v1/sync/unrestricted           — пересборка анонимного профиля
// POST /api/v1/sync/service-account/{id}   — пересборка профиля SA и затронутых identity
package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/opsdeck/authz-module/internal/api/errors"
)

// syncResponse — ответ операций синхронизации.
type syncResponse struct {
	Synced int `json:"synced"`
}

// decodeRoleNames читает опциональное тело запроса — JSON-массив имён ролей.
// Пустое тело допустимо и означает отсутствие фильтра.
func decodeRoleNames(r *http.Request) ([]string, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal(body, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// PostSync — POST /api/v1/sync.
// Пересобирает профили всех известных identity; непустой массив имён
// ролей в теле ограничивает пересборку identity с этими ролями.
// Ноль обновлённых профилей — 503: вызывающий может повторить позже.
func (h *APIHandler) PostSync(w http.ResponseWriter, r *http.Request) {
	roleNames, err := decodeRoleNames(r)
	if err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: ожидается массив имён ролей")
		return
	}

	synced, err := h.syncer.SyncAndReturn(r.Context(), roleNames)
	if err != nil {
		h.logger.Error("Ошибка bulk-синхронизации", slog.String("error", err.Error()))
		apierrors.SyncFailed(w, "Синхронизация не выполнена: "+err.Error())
		return
	}
	if synced == 0 {
		apierrors.SyncFailed(w, "Ни один профиль не обновлён")
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{Synced: synced})
}

// PostSyncUnrestricted — POST /api/v1/sync/unrestricted.
// Пересобирает только анонимный профиль.
func (h *APIHandler) PostSyncUnrestricted(w http.ResponseWriter, r *http.Request) {
	synced, err := h.syncer.SyncOnlyUnrestrictedUserAndReturn(r.Context())
	if err != nil {
		h.logger.Error("Ошибка синхронизации анонимного профиля", slog.String("error", err.Error()))
		apierrors.SyncFailed(w, "Анонимный профиль не обновлён")
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{Synced: synced})
}

// PostSyncServiceAccount — POST /api/v1/sync/service-account/{id}.
// Пересобирает профиль сервисного аккаунта по объединению его ролей из БД
// с ролями из тела запроса, затем профили identity с пересекающимися
// ролями. Аккаунт без записи в БД синхронизируется по переданным ролям.
func (h *APIHandler) PostSyncServiceAccount(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "id")

	extraRoles, err := decodeRoleNames(r)
	if err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: ожидается массив имён ролей")
		return
	}

	synced, err := h.syncer.SyncServiceAccount(r.Context(), name, extraRoles)
	if err != nil {
		h.logger.Error("Ошибка синхронизации сервисного аккаунта",
			slog.String("service_account", name),
			slog.String("error", err.Error()),
		)
		apierrors.SyncFailed(w, "Синхронизация сервисного аккаунта не выполнена")
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{Synced: synced})
}
