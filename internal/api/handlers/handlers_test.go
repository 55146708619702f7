// handlers_test.go — unit-тесты обработчиков API.
// Тесты используют httptest и in-memory fakes вместо реальных зависимостей.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opsdeck/authz-module/internal/domain/authz"
	"github.com/opsdeck/authz-module/internal/domain/model"
	"github.com/opsdeck/authz-module/internal/provider"
	"github.com/opsdeck/authz-module/internal/repository"
	"github.com/opsdeck/authz-module/internal/resolver"
)

// testLogger создаёт logger для тестов (только ошибки)
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// --- Fakes ---

// fakeResolver — ProfileResolver для тестов.
type fakeResolver struct {
	err error
}

func (f *fakeResolver) profileFor(id string, roles []model.Role) *model.UserPermission {
	return &model.UserPermission{
		ID:    id,
		Roles: roles,
		Resources: map[model.ResourceType][]model.Resource{
			model.ResourceTypeApplication: {
				{Name: "app1", Type: model.ResourceTypeApplication, Permissions: authz.NewBuilder().Add(authz.AuthorizationRead, "devs").Build()},
			},
		},
	}
}

func (f *fakeResolver) ResolveByID(ctx context.Context, id string) (*model.UserPermission, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.profileFor(id, model.NewExternalRoles([]string{"devs"})), nil
}

func (f *fakeResolver) ResolveAndMerge(ctx context.Context, user model.ExternalUser) (*model.UserPermission, error) {
	if f.err != nil {
		return nil, f.err
	}
	roles := model.MergeRoles(user.ExternalRoles, model.NewExternalRoles([]string{"devs"}))
	return f.profileFor(user.ID, roles), nil
}

// fakeSyncer — ProfileSyncer для тестов.
type fakeSyncer struct {
	synced    int
	err       error
	lastName  string
	lastRoles []string
	calls     int
}

func (f *fakeSyncer) SyncAndReturn(ctx context.Context, specificRoles []string) (int, error) {
	f.calls++
	return f.synced, f.err
}

func (f *fakeSyncer) SyncOnlyUnrestrictedUserAndReturn(ctx context.Context) (int, error) {
	f.calls++
	return f.synced, f.err
}

func (f *fakeSyncer) SyncServiceAccount(ctx context.Context, name string, extraRoles []string) (int, error) {
	f.calls++
	f.lastName = name
	f.lastRoles = extraRoles
	return f.synced, f.err
}

// fakeSARemover — ServiceAccountRemover поверх in-memory репозиториев.
type fakeSARemover struct {
	saRepo   *memSARepo
	permRepo *memPermRepo
	err      error
}

func (f *fakeSARemover) DeleteWithProfile(ctx context.Context, id, profileID string) error {
	if f.err != nil {
		return f.err
	}
	if err := f.saRepo.Delete(ctx, id); err != nil {
		return err
	}
	if err := f.permRepo.Remove(ctx, profileID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return nil
}

// memPermRepo — in-memory UserPermissionRepository.
type memPermRepo struct {
	mu       sync.Mutex
	profiles map[string]*model.UserPermission
}

func newMemPermRepo() *memPermRepo {
	return &memPermRepo{profiles: make(map[string]*model.UserPermission)}
}

func (m *memPermRepo) Put(ctx context.Context, up *model.UserPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[up.ID] = up
	return nil
}

func (m *memPermRepo) Get(ctx context.Context, id string) (*model.UserPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	up, ok := m.profiles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return up, nil
}

func (m *memPermRepo) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.profiles, id)
	return nil
}

func (m *memPermRepo) GetAllByID(ctx context.Context) (map[string]*model.UserPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*model.UserPermission, len(m.profiles))
	for k, v := range m.profiles {
		out[k] = v
	}
	return out, nil
}

// memSARepo — in-memory ServiceAccountRepository.
type memSARepo struct {
	mu       sync.Mutex
	accounts map[string]*model.ServiceAccount
}

func newMemSARepo() *memSARepo {
	return &memSARepo{accounts: make(map[string]*model.ServiceAccount)}
}

func (m *memSARepo) Create(ctx context.Context, sa *model.ServiceAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Name == sa.Name {
			return repository.ErrConflict
		}
	}
	sa.CreatedAt = time.Now()
	sa.UpdatedAt = sa.CreatedAt
	m.accounts[sa.ID] = sa
	return nil
}

func (m *memSARepo) GetByID(ctx context.Context, id string) (*model.ServiceAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sa, ok := m.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return sa, nil
}

func (m *memSARepo) GetByName(ctx context.Context, name string) (*model.ServiceAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sa := range m.accounts {
		if sa.Name == name {
			return sa, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memSARepo) List(ctx context.Context) ([]*model.ServiceAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.ServiceAccount, 0, len(m.accounts))
	for _, sa := range m.accounts {
		out = append(out, sa)
	}
	return out, nil
}

func (m *memSARepo) Update(ctx context.Context, sa *model.ServiceAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[sa.ID]; !ok {
		return repository.ErrNotFound
	}
	for id, existing := range m.accounts {
		if id != sa.ID && existing.Name == sa.Name {
			return repository.ErrConflict
		}
	}
	sa.UpdatedAt = time.Now()
	m.accounts[sa.ID] = sa
	return nil
}

func (m *memSARepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.accounts, id)
	return nil
}

// okChecker — ReadinessChecker, всегда возвращающий ok.
type okChecker struct{}

func (okChecker) CheckReady() (string, string) { return "ok", "доступен" }

// failChecker — ReadinessChecker, всегда возвращающий fail.
type failChecker struct{}

func (failChecker) CheckReady() (string, string) { return "fail", "недоступен" }

// --- Инфраструктура тестов ---

type testEnv struct {
	handler   *APIHandler
	router    *chi.Mux
	resolver  *fakeResolver
	syncer    *fakeSyncer
	permRepo  *memPermRepo
	saRepo    *memSARepo
	saRemover *fakeSARemover
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		resolver: &fakeResolver{},
		syncer:   &fakeSyncer{synced: 1},
		permRepo: newMemPermRepo(),
		saRepo:   newMemSARepo(),
	}
	env.saRemover = &fakeSARemover{saRepo: env.saRepo, permRepo: env.permRepo}

	health := NewHealthHandler(okChecker{}, okChecker{}, okChecker{}, okChecker{})
	env.handler = NewAPIHandler(health, env.resolver, env.syncer, env.permRepo, env.saRepo, env.saRemover, testLogger())

	r := chi.NewRouter()
	r.Get("/health/live", env.handler.HealthLive)
	r.Get("/health/ready", env.handler.HealthReady)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/roles/{id}", env.handler.PostRole)
		r.Put("/roles/{id}", env.handler.PutRole)
		r.Delete("/roles/{id}", env.handler.DeleteRole)
		r.Get("/authorize/{id}", env.handler.GetAuthorize)
		r.Post("/sync", env.handler.PostSync)
		r.Post("/sync/unrestricted", env.handler.PostSyncUnrestricted)
		r.Post("/sync/service-account/{id}", env.handler.PostSyncServiceAccount)
		r.Post("/service-accounts", env.handler.CreateServiceAccount)
		r.Get("/service-accounts", env.handler.ListServiceAccounts)
		r.Get("/service-accounts/{id}", env.handler.GetServiceAccount)
		r.Put("/service-accounts/{id}", env.handler.UpdateServiceAccount)
		r.Delete("/service-accounts/{id}", env.handler.DeleteServiceAccount)
	})
	env.router = r
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("ошибка маршалинга тела запроса: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ошибка парсинга ответа об ошибке: %v", err)
	}
	return resp.Error.Code
}

// --- Тесты резолюции профилей ---

func TestPostRole(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/roles/user1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rec.Code, rec.Body.String())
	}

	var up model.UserPermission
	if err := json.Unmarshal(rec.Body.Bytes(), &up); err != nil {
		t.Fatalf("ошибка парсинга профиля: %v", err)
	}
	if up.ID != "user1" {
		t.Errorf("ожидался id user1, получен %q", up.ID)
	}

	// Профиль должен быть сохранён
	if _, err := env.permRepo.Get(context.Background(), "user1"); err != nil {
		t.Errorf("профиль не сохранён: %v", err)
	}
}

func TestPostRole_ProviderUnavailable(t *testing.T) {
	env := setupEnv(t)
	env.resolver.err = &resolver.ResolutionError{
		IdentityID: "user1",
		Err: &provider.FetchError{
			ResourceType: model.ResourceTypeApplication,
			Source:       "registry",
			Err:          errors.New("connection refused"),
		},
	}

	rec := env.do(t, http.MethodPost, "/api/v1/roles/user1", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("ожидался статус 502, получен %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "PROVIDER_UNAVAILABLE" {
		t.Errorf("ожидался код PROVIDER_UNAVAILABLE, получен %q", code)
	}
}

func TestPostRole_IDPUnavailable(t *testing.T) {
	env := setupEnv(t)
	env.resolver.err = &resolver.ResolutionError{
		IdentityID: "user1",
		Err:        errors.New("idp timeout"),
	}

	rec := env.do(t, http.MethodPost, "/api/v1/roles/user1", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("ожидался статус 502, получен %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "IDP_UNAVAILABLE" {
		t.Errorf("ожидался код IDP_UNAVAILABLE, получен %q", code)
	}
}

func TestPutRole(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/roles/user1", []string{"ops", "devs"})
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rec.Code, rec.Body.String())
	}

	var up model.UserPermission
	if err := json.Unmarshal(rec.Body.Bytes(), &up); err != nil {
		t.Fatalf("ошибка парсинга профиля: %v", err)
	}
	// Роли из тела объединяются с ролями из IdP без дублей
	if len(up.Roles) != 2 {
		t.Errorf("ожидалось 2 роли, получено %d: %v", len(up.Roles), up.Roles)
	}
}

func TestPutRole_BadBody(t *testing.T) {
	env := setupEnv(t)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/roles/user1", bytes.NewReader([]byte("{не json")))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидался статус 400, получен %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "VALIDATION_ERROR" {
		t.Errorf("ожидался код VALIDATION_ERROR, получен %q", code)
	}
}

func TestDeleteRole(t *testing.T) {
	env := setupEnv(t)
	_ = env.permRepo.Put(context.Background(), &model.UserPermission{ID: "user1"})

	rec := env.do(t, http.MethodDelete, "/api/v1/roles/user1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("ожидался статус 204, получен %d", rec.Code)
	}

	if _, err := env.permRepo.Get(context.Background(), "user1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("профиль должен быть удалён, получено: %v", err)
	}
}

func TestDeleteRole_NotFound(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, http.MethodDelete, "/api/v1/roles/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("ожидался статус 404, получен %d", rec.Code)
	}
}

func TestGetAuthorize(t *testing.T) {
	env := setupEnv(t)
	_ = env.permRepo.Put(context.Background(), &model.UserPermission{
		ID:    "user1",
		Roles: model.NewExternalRoles([]string{"devs"}),
	})

	rec := env.do(t, http.MethodGet, "/api/v1/authorize/user1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}

	var up model.UserPermission
	if err := json.Unmarshal(rec.Body.Bytes(), &up); err != nil {
		t.Fatalf("ошибка парсинга профиля: %v", err)
	}
	if up.ID != "user1" || len(up.Roles) != 1 {
		t.Errorf("неожиданный профиль: %+v", up)
	}
}

func TestGetAuthorize_NotFound(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/authorize/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("ожидался статус 404, получен %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "NOT_FOUND" {
		t.Errorf("ожидался код NOT_FOUND, получен %q", code)
	}
}

// --- Тесты синхронизации ---

func TestPostSync(t *testing.T) {
	env := setupEnv(t)
	env.syncer.synced = 5

	rec := env.do(t, http.MethodPost, "/api/v1/sync", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rec.Code, rec.Body.String())
	}

	var resp syncResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ошибка парсинга ответа: %v", err)
	}
	if resp.Synced != 5 {
		t.Errorf("ожидалось synced=5, получено %d", resp.Synced)
	}
}

func TestPostSync_ZeroSynced(t *testing.T) {
	env := setupEnv(t)
	env.syncer.synced = 0

	rec := env.do(t, http.MethodPost, "/api/v1/sync", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ожидался статус 503, получен %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "SYNC_FAILED" {
		t.Errorf("ожидался код SYNC_FAILED, получен %q", code)
	}
}

func TestPostSync_Error(t *testing.T) {
	env := setupEnv(t)
	env.syncer.err = errors.New("хранилище недоступно")

	rec := env.do(t, http.MethodPost, "/api/v1/sync", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ожидался статус 503, получен %d", rec.Code)
	}
}

func TestPostSync_BadBody(t *testing.T) {
	env := setupEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидался статус 400, получен %d", rec.Code)
	}
}

func TestPostSyncUnrestricted(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/sync/unrestricted", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}

	var resp syncResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ошибка парсинга ответа: %v", err)
	}
	if resp.Synced != 1 {
		t.Errorf("ожидалось synced=1, получено %d", resp.Synced)
	}
}

func TestPostSyncServiceAccount(t *testing.T) {
	env := setupEnv(t)
	env.syncer.synced = 3

	rec := env.do(t, http.MethodPost, "/api/v1/sync/service-account/deploy-bot", []string{"extra"})
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rec.Code, rec.Body.String())
	}
	if env.syncer.lastName != "deploy-bot" {
		t.Errorf("ожидалось имя deploy-bot, получено %q", env.syncer.lastName)
	}
	// Роли из тела запроса доходят до синхронизации
	if len(env.syncer.lastRoles) != 1 || env.syncer.lastRoles[0] != "extra" {
		t.Errorf("ожидались роли [extra], получены %v", env.syncer.lastRoles)
	}
}

func TestPostSyncServiceAccount_Error(t *testing.T) {
	env := setupEnv(t)
	env.syncer.err = errors.New("хранилище недоступно")

	rec := env.do(t, http.MethodPost, "/api/v1/sync/service-account/deploy-bot", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ожидался статус 503, получен %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "SYNC_FAILED" {
		t.Errorf("ожидался код SYNC_FAILED, получен %q", code)
	}
}

// --- Тесты сервисных аккаунтов ---

func TestCreateServiceAccount(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/service-accounts", serviceAccountRequest{
		Name:  "deploy-bot",
		Roles: []string{"deployers"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("ожидался статус 201, получен %d: %s", rec.Code, rec.Body.String())
	}

	var resp serviceAccountResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ошибка парсинга ответа: %v", err)
	}
	if resp.ID == "" {
		t.Error("ожидался непустой id")
	}
	if resp.Name != "deploy-bot" {
		t.Errorf("ожидалось имя deploy-bot, получено %q", resp.Name)
	}

	// После создания должна выполниться пересборка профиля
	if env.syncer.lastName != "deploy-bot" {
		t.Errorf("пересборка профиля не запущена, lastName=%q", env.syncer.lastName)
	}
}

func TestCreateServiceAccount_Conflict(t *testing.T) {
	env := setupEnv(t)
	_ = env.saRepo.Create(context.Background(), &model.ServiceAccount{
		ID:   "sa-1",
		Name: "deploy-bot",
	})

	rec := env.do(t, http.MethodPost, "/api/v1/service-accounts", serviceAccountRequest{
		Name:  "deploy-bot",
		Roles: []string{"deployers"},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("ожидался статус 409, получен %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "CONFLICT" {
		t.Errorf("ожидался код CONFLICT, получен %q", code)
	}
}

func TestCreateServiceAccount_Validation(t *testing.T) {
	env := setupEnv(t)

	tests := []struct {
		name string
		req  serviceAccountRequest
	}{
		{"короткое имя", serviceAccountRequest{Name: "a", Roles: []string{"devs"}}},
		{"пустая роль", serviceAccountRequest{Name: "deploy-bot", Roles: []string{""}}},
		{"роль не в lowercase", serviceAccountRequest{Name: "deploy-bot", Roles: []string{"Devs"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/service-accounts", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("ожидался статус 400, получен %d", rec.Code)
			}
		})
	}
}

func TestListServiceAccounts(t *testing.T) {
	env := setupEnv(t)
	_ = env.saRepo.Create(context.Background(), &model.ServiceAccount{ID: "sa-1", Name: "bot1", Roles: []string{"devs"}})
	_ = env.saRepo.Create(context.Background(), &model.ServiceAccount{ID: "sa-2", Name: "bot2"})

	rec := env.do(t, http.MethodGet, "/api/v1/service-accounts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}

	var items []serviceAccountResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("ошибка парсинга ответа: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("ожидалось 2 аккаунта, получено %d", len(items))
	}
	// nil roles сериализуются как пустой массив
	for _, item := range items {
		if item.Roles == nil {
			t.Errorf("roles аккаунта %s должны быть пустым массивом, не null", item.Name)
		}
	}
}

func TestGetServiceAccount_NotFound(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/service-accounts/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("ожидался статус 404, получен %d", rec.Code)
	}
}

func TestUpdateServiceAccount(t *testing.T) {
	env := setupEnv(t)
	_ = env.saRepo.Create(context.Background(), &model.ServiceAccount{
		ID:    "sa-1",
		Name:  "deploy-bot",
		Roles: []string{"deployers"},
	})

	rec := env.do(t, http.MethodPut, "/api/v1/service-accounts/sa-1", serviceAccountRequest{
		Name:  "deploy-bot",
		Roles: []string{"deployers", "ops"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d: %s", rec.Code, rec.Body.String())
	}

	sa, err := env.saRepo.GetByID(context.Background(), "sa-1")
	if err != nil {
		t.Fatalf("аккаунт не найден после обновления: %v", err)
	}
	if len(sa.Roles) != 2 {
		t.Errorf("ожидалось 2 роли, получено %d", len(sa.Roles))
	}
}

func TestDeleteServiceAccount(t *testing.T) {
	env := setupEnv(t)
	_ = env.saRepo.Create(context.Background(), &model.ServiceAccount{
		ID:   "sa-1",
		Name: "deploy-bot",
	})
	_ = env.permRepo.Put(context.Background(), &model.UserPermission{ID: "deploy-bot"})

	rec := env.do(t, http.MethodDelete, "/api/v1/service-accounts/sa-1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("ожидался статус 204, получен %d", rec.Code)
	}

	// Вместе с аккаунтом удаляется его профиль
	if _, err := env.permRepo.Get(context.Background(), "deploy-bot"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("профиль удалённого аккаунта должен быть удалён, получено: %v", err)
	}
}

func TestDeleteServiceAccount_RemoverError(t *testing.T) {
	env := setupEnv(t)
	_ = env.saRepo.Create(context.Background(), &model.ServiceAccount{
		ID:   "sa-1",
		Name: "deploy-bot",
	})
	env.saRemover.err = errors.New("транзакция не выполнена")

	rec := env.do(t, http.MethodDelete, "/api/v1/service-accounts/sa-1", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("ожидался статус 500, получен %d", rec.Code)
	}

	// Аккаунт не удалён — удаление атомарно
	if _, err := env.saRepo.GetByID(context.Background(), "sa-1"); err != nil {
		t.Errorf("аккаунт должен остаться: %v", err)
	}
}

// --- Тесты health endpoints ---

func TestHealthLive(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, http.MethodGet, "/health/live", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}

	var resp healthLiveResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ошибка парсинга ответа: %v", err)
	}
	if resp.Status != "ok" || resp.Service != "authz-module" {
		t.Errorf("неожиданный ответ liveness: %+v", resp)
	}
}

func TestHealthReady(t *testing.T) {
	env := setupEnv(t)

	rec := env.do(t, http.MethodGet, "/health/ready", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}

	var resp healthReadyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ошибка парсинга ответа: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("ожидался статус ok, получен %q", resp.Status)
	}
}

func TestHealthReady_DependencyDown(t *testing.T) {
	health := NewHealthHandler(okChecker{}, failChecker{}, okChecker{}, okChecker{})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	health.HealthReady(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ожидался статус 503, получен %d", rec.Code)
	}

	var resp healthReadyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ошибка парсинга ответа: %v", err)
	}
	if resp.Status != "fail" {
		t.Errorf("ожидался статус fail, получен %q", resp.Status)
	}
	if resp.Checks.IDP.Status != "fail" {
		t.Errorf("ожидался fail для idp, получен %q", resp.Checks.IDP.Status)
	}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"все ok", []string{"ok", "ok", "ok", "ok"}, "ok"},
		{"есть degraded", []string{"ok", "degraded", "ok", "ok"}, "degraded"},
		{"есть fail", []string{"ok", "degraded", "fail", "ok"}, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := overallStatus(tt.statuses...); got != tt.want {
				t.Errorf("ожидался %q, получен %q", tt.want, got)
			}
		})
	}
}
