// Пакет idp — HTTP-клиент к Admin REST API Identity Provider.
// Реализует автоматическое получение service account token через Client
// Credentials flow с кэшированием (обновление за 30s до expiration).
// Для резолюции прав используется одна операция: RolesForIdentity —
// группы пользователя, преобразованные в имена ролей (lowercase).
package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/opsdeck/authz-module/internal/domain/model"
)

// TokenProvider — функция, возвращающая JWT для авторизации запросов
// к backing-системам платформы. Используется клиентами registry и inventory.
type TokenProvider func(ctx context.Context) (string, error)

// Client — HTTP-клиент к Identity Provider.
type Client struct {
	baseURL      string // Базовый URL IdP (без trailing slash)
	realm        string // Имя realm
	clientID     string // Client ID для Client Credentials flow
	clientSecret string // Client Secret

	httpClient *http.Client
	logger     *slog.Logger

	// Кэш токена доступа
	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New создаёт клиент к Identity Provider.
// httpClient может содержать TLS-конфигурацию с кастомным CA; nil — клиент по умолчанию.
func New(baseURL, realm, clientID, clientSecret string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		logger:       logger.With(slog.String("component", "idp_client")),
	}
}

// --- Аутентификация ---

// tokenEndpoint возвращает URL endpoint'а получения токена.
func (c *Client) tokenEndpoint() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL, c.realm)
}

// adminBaseURL возвращает базовый URL Admin REST API для realm.
func (c *Client) adminBaseURL() string {
	return fmt.Sprintf("%s/admin/realms/%s", c.baseURL, c.realm)
}

// getToken возвращает актуальный access token, обновляя при необходимости.
// Токен обновляется за 30 секунд до истечения.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Add(30*time.Second).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	token, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)

	c.logger.Debug("Токен IdP обновлён",
		slog.Time("expires_at", c.tokenExpiry),
	)

	return c.accessToken, nil
}

// requestToken выполняет Client Credentials flow.
func (c *Client) requestToken(ctx context.Context) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос токена IdP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("IdP вернул статус %d при запросе токена: %s", resp.StatusCode, string(body))
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("декодирование токена IdP: %w", err)
	}

	return &token, nil
}

// TokenProvider возвращает функцию получения токена для других клиентов
// (registry, inventory), переиспользующую кэш этого клиента.
func (c *Client) TokenProvider() TokenProvider {
	return c.getToken
}

// --- HTTP helpers ---

// doAuthorized выполняет HTTP-запрос к Admin REST API с авторизацией.
func (c *Client) doAuthorized(ctx context.Context, method, path string) (*http.Response, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение токена: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.adminBaseURL()+path, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return c.httpClient.Do(req)
}

// decodeResponse декодирует JSON ответ в target.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("IdP API вернул статус %d: %s", resp.StatusCode, string(body))
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("декодирование ответа IdP: %w", err)
		}
	}

	return nil
}

// --- Роли identity ---

// RolesForIdentity возвращает роли identity по членству в группах IdP.
// Имя роли — имя группы в lowercase, источник — EXTERNAL.
// Неизвестная identity — пустой набор ролей (не ошибка); ошибкой считается
// только невозможность опросить IdP.
func (c *Client) RolesForIdentity(ctx context.Context, id string) ([]model.Role, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet,
		fmt.Sprintf("/users?username=%s&exact=true", url.QueryEscape(id)))
	if err != nil {
		return nil, fmt.Errorf("поиск identity %s: %w", id, err)
	}

	var users []User
	if err := decodeResponse(resp, &users); err != nil {
		return nil, fmt.Errorf("RolesForIdentity: %w", err)
	}
	if len(users) == 0 {
		return nil, nil
	}

	resp, err = c.doAuthorized(ctx, http.MethodGet, "/users/"+url.PathEscape(users[0].ID)+"/groups")
	if err != nil {
		return nil, fmt.Errorf("получение групп identity %s: %w", id, err)
	}

	var groups []Group
	if err := decodeResponse(resp, &groups); err != nil {
		return nil, fmt.Errorf("RolesForIdentity: %w", err)
	}

	roles := make([]model.Role, 0, len(groups))
	for _, g := range groups {
		name := strings.ToLower(g.Name)
		if name == "" {
			continue
		}
		roles = append(roles, model.Role{Name: name, Source: model.RoleSourceExternal})
	}
	return roles, nil
}

// CheckReady проверяет доступность IdP через запрос информации о realm.
// Реализует интерфейс handlers.ReadinessChecker.
func (c *Client) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/realms/%s", c.baseURL, c.realm), nil)
	if err != nil {
		return "fail", fmt.Sprintf("IdP: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "fail", fmt.Sprintf("IdP недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("IdP вернул статус %d", resp.StatusCode)
	}
	return "ok", "realm доступен"
}
