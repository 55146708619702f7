package idp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opsdeck/authz-module/internal/domain/model"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupMockIDP создаёт mock HTTP-сервер Identity Provider.
// tokenHandler обрабатывает запросы на получение токена.
// adminHandler обрабатывает запросы к Admin REST API.
func setupMockIDP(t *testing.T, tokenHandler, adminHandler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()

	mux := http.NewServeMux()

	// Token endpoint
	mux.HandleFunc("/realms/opsdeck/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		if tokenHandler != nil {
			tokenHandler(w, r)
			return
		}
		// Дефолтный ответ: валидный токен на 300 секунд
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TokenResponse{
			AccessToken: "test-access-token",
			TokenType:   "Bearer",
			ExpiresIn:   300,
		})
	})

	// Admin REST API
	mux.HandleFunc("/admin/realms/opsdeck/", func(w http.ResponseWriter, r *http.Request) {
		if adminHandler != nil {
			adminHandler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := New(
		server.URL,
		"opsdeck",
		"authz-module",
		"test-secret",
		server.Client(),
		testLogger(),
	)

	return server, client
}

// TestClient_TokenCaching проверяет кэширование токена.
func TestClient_TokenCaching(t *testing.T) {
	tokenRequests := 0

	_, client := setupMockIDP(t,
		func(w http.ResponseWriter, r *http.Request) {
			tokenRequests++
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(TokenResponse{
				AccessToken: "cached-token",
				TokenType:   "Bearer",
				ExpiresIn:   300,
			})
		},
		nil,
	)

	ctx := context.Background()

	// Первый запрос — получение токена
	token1, err := client.getToken(ctx)
	if err != nil {
		t.Fatalf("Ошибка получения токена: %v", err)
	}
	if token1 != "cached-token" {
		t.Errorf("ожидался cached-token, получен %s", token1)
	}

	// Второй запрос — из кэша (не должен вызывать HTTP)
	token2, err := client.getToken(ctx)
	if err != nil {
		t.Fatalf("Ошибка получения токена: %v", err)
	}
	if token2 != "cached-token" {
		t.Errorf("ожидался cached-token, получен %s", token2)
	}

	if tokenRequests != 1 {
		t.Errorf("ожидался 1 запрос токена, было %d", tokenRequests)
	}
}

// TestClient_TokenRefresh проверяет обновление истёкшего токена.
func TestClient_TokenRefresh(t *testing.T) {
	_, client := setupMockIDP(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(TokenResponse{
				AccessToken: "refreshed-token",
				TokenType:   "Bearer",
				ExpiresIn:   300,
			})
		},
		nil,
	)

	// Устанавливаем «просроченный» токен в кэш
	client.accessToken = "old-token"
	client.tokenExpiry = time.Now().Add(-time.Second)

	token, err := client.getToken(context.Background())
	if err != nil {
		t.Fatalf("Ошибка обновления токена: %v", err)
	}
	if token != "refreshed-token" {
		t.Errorf("ожидался refreshed-token, получен %s", token)
	}
}

// TestClient_ClientCredentialsFlow проверяет формат запроса Client Credentials.
func TestClient_ClientCredentialsFlow(t *testing.T) {
	_, client := setupMockIDP(t,
		func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("ожидался POST, получен %s", r.Method)
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
				t.Errorf("ожидался Content-Type application/x-www-form-urlencoded, получен %s", ct)
			}
			if err := r.ParseForm(); err != nil {
				t.Fatalf("Ошибка парсинга формы: %v", err)
			}
			if r.Form.Get("grant_type") != "client_credentials" {
				t.Errorf("ожидался grant_type=client_credentials, получен %s", r.Form.Get("grant_type"))
			}
			if r.Form.Get("client_id") != "authz-module" {
				t.Errorf("ожидался client_id=authz-module, получен %s", r.Form.Get("client_id"))
			}
			if r.Form.Get("client_secret") != "test-secret" {
				t.Errorf("ожидался client_secret=test-secret, получен %s", r.Form.Get("client_secret"))
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(TokenResponse{
				AccessToken: "ok",
				TokenType:   "Bearer",
				ExpiresIn:   300,
			})
		},
		nil,
	)

	if _, err := client.getToken(context.Background()); err != nil {
		t.Fatalf("Ошибка: %v", err)
	}
}

// TestClient_TokenError проверяет обработку ошибки получения токена.
func TestClient_TokenError(t *testing.T) {
	_, client := setupMockIDP(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid_client"}`))
		},
		nil,
	)

	_, err := client.getToken(context.Background())
	if err == nil {
		t.Fatal("ожидалась ошибка, получен nil")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("ожидалась ошибка со статусом 401, получена: %v", err)
	}
}

// TestClient_RolesForIdentity проверяет получение ролей по членству в группах.
func TestClient_RolesForIdentity(t *testing.T) {
	_, client := setupMockIDP(t, nil,
		func(w http.ResponseWriter, r *http.Request) {
			// Проверяем Authorization header
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-access-token" {
				t.Errorf("ожидался Bearer test-access-token, получен %s", auth)
			}

			switch {
			case strings.HasSuffix(r.URL.Path, "/users") && r.URL.Query().Get("username") == "alice":
				if r.URL.Query().Get("exact") != "true" {
					t.Error("поиск identity должен быть точным (exact=true)")
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode([]User{
					{ID: "user-1", Username: "alice", Enabled: true},
				})
			case strings.HasSuffix(r.URL.Path, "/users/user-1/groups"):
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode([]Group{
					{ID: "g-1", Name: "Developers", Path: "/Developers"},
					{ID: "g-2", Name: "sre", Path: "/sre"},
				})
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		},
	)

	roles, err := client.RolesForIdentity(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Ошибка RolesForIdentity: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("ожидалось 2 роли, получено %d", len(roles))
	}
	// Имена групп нормализуются в lowercase
	if roles[0].Name != "developers" || roles[1].Name != "sre" {
		t.Errorf("имена ролей: %v, ожидались [developers sre]", roles)
	}
	for _, r := range roles {
		if r.Source != model.RoleSourceExternal {
			t.Errorf("роль %s: источник %s, ожидался EXTERNAL", r.Name, r.Source)
		}
	}
}

// TestClient_RolesForIdentity_Unknown проверяет неизвестную identity.
// Отсутствие пользователя — пустой набор ролей, не ошибка.
func TestClient_RolesForIdentity_Unknown(t *testing.T) {
	_, client := setupMockIDP(t, nil,
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode([]User{})
		},
	)

	roles, err := client.RolesForIdentity(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("неизвестная identity не должна быть ошибкой: %v", err)
	}
	if len(roles) != 0 {
		t.Errorf("ожидался пустой набор ролей, получено %v", roles)
	}
}

// TestClient_RolesForIdentity_IDPError проверяет ошибку опроса IdP.
func TestClient_RolesForIdentity_IDPError(t *testing.T) {
	_, client := setupMockIDP(t, nil,
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	)

	if _, err := client.RolesForIdentity(context.Background(), "alice"); err == nil {
		t.Fatal("ожидалась ошибка при недоступности IdP")
	}
}

// TestClient_TokenProvider проверяет TokenProvider.
func TestClient_TokenProvider(t *testing.T) {
	_, client := setupMockIDP(t, nil, nil)

	provider := client.TokenProvider()
	token, err := provider(context.Background())
	if err != nil {
		t.Fatalf("Ошибка TokenProvider: %v", err)
	}
	if token != "test-access-token" {
		t.Errorf("ожидался test-access-token, получен %s", token)
	}
}

// TestClient_CheckReady проверяет CheckReady.
func TestClient_CheckReady(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/realms/opsdeck", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"realm":"opsdeck","enabled":true}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := New(server.URL, "opsdeck", "authz-module", "secret", server.Client(), testLogger())

	status, msg := client.CheckReady()
	if status != "ok" {
		t.Errorf("ожидался status=ok, получен %s: %s", status, msg)
	}
}

// TestClient_CheckReady_Fail проверяет CheckReady при недоступности.
func TestClient_CheckReady_Fail(t *testing.T) {
	client := New(
		"http://localhost:1", // Несуществующий адрес
		"opsdeck",
		"authz-module",
		"secret",
		&http.Client{Timeout: 100 * time.Millisecond},
		testLogger(),
	)

	status, _ := client.CheckReady()
	if status != "fail" {
		t.Errorf("ожидался status=fail, получен %s", status)
	}
}
