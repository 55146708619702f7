// Пакет inventory — HTTP-клиент к Deployment Inventory.
// Inventory — источник облачных аккаунтов (с ACL) и вторичный источник
// приложений: развёрнутые приложения без ACL, дополняющие Registry.
// Поддерживает TLS с кастомным CA (AZ_CA_CERT_PATH).
package inventory

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/opsdeck/authz-module/internal/idp"
)

// AccountRecord — облачный аккаунт в Deployment Inventory.
// Permissions — явные ACL: уровень доступа → имена ролей.
type AccountRecord struct {
	Name        string              `json:"name"`
	Permissions map[string][]string `json:"permissions,omitempty"`
	Details     map[string]any      `json:"details,omitempty"`
}

// DeployedApplication — приложение, обнаруженное в Inventory.
// ACL у таких приложений нет: права определяет Registry либо
// правило доступа к неизвестным ресурсам.
type DeployedApplication struct {
	Name    string         `json:"name"`
	Details map[string]any `json:"details,omitempty"`
}

// accountListResponse — ответ Inventory на GET /api/v1/accounts.
type accountListResponse struct {
	Accounts []AccountRecord `json:"accounts"`
	Total    int             `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

// applicationListResponse — ответ Inventory на GET /api/v1/applications.
type applicationListResponse struct {
	Applications []DeployedApplication `json:"applications"`
	Total        int                   `json:"total"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

// pageSize — размер страницы при постраничной выборке из Inventory.
const pageSize = 500

// Client — HTTP-клиент для Deployment Inventory.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	tokenProvider idp.TokenProvider
	logger        *slog.Logger
}

// New создаёт Inventory-клиент.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(baseURL, caCertPath string, tokenProvider idp.TokenProvider, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата Inventory: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
	}

	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    httpClient,
		tokenProvider: tokenProvider,
		logger:        logger.With(slog.String("component", "inventory_client")),
	}, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}

// doGet выполняет авторизованный GET-запрос и декодирует ответ в target.
func (c *Client) doGet(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("создание запроса: %w", err)
	}

	if c.tokenProvider != nil {
		token, err := c.tokenProvider(ctx)
		if err != nil {
			return fmt.Errorf("получение токена для Inventory: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("запрос к Inventory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Inventory вернул статус %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("декодирование ответа Inventory: %w", err)
	}

	return nil
}

// ListAccounts возвращает все облачные аккаунты, выбирая их постранично.
func (c *Client) ListAccounts(ctx context.Context) ([]AccountRecord, error) {
	var all []AccountRecord

	for offset := 0; ; offset += pageSize {
		var page accountListResponse
		path := fmt.Sprintf("/api/v1/accounts?limit=%d&offset=%d", pageSize, offset)
		if err := c.doGet(ctx, path, &page); err != nil {
			return nil, fmt.Errorf("ListAccounts: %w", err)
		}

		all = append(all, page.Accounts...)
		if len(page.Accounts) < pageSize || len(all) >= page.Total {
			break
		}
	}

	c.logger.Debug("Аккаунты получены из Inventory", slog.Int("count", len(all)))
	return all, nil
}

// ListApplications возвращает развёрнутые приложения без ACL.
func (c *Client) ListApplications(ctx context.Context) ([]DeployedApplication, error) {
	var all []DeployedApplication

	for offset := 0; ; offset += pageSize {
		var page applicationListResponse
		path := fmt.Sprintf("/api/v1/applications?limit=%d&offset=%d", pageSize, offset)
		if err := c.doGet(ctx, path, &page); err != nil {
			return nil, fmt.Errorf("ListApplications: %w", err)
		}

		all = append(all, page.Applications...)
		if len(page.Applications) < pageSize || len(all) >= page.Total {
			break
		}
	}

	c.logger.Debug("Приложения получены из Inventory", slog.Int("count", len(all)))
	return all, nil
}

// CheckReady проверяет доступность Inventory.
// Реализует интерфейс handlers.ReadinessChecker.
func (c *Client) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return "fail", fmt.Sprintf("Inventory: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "fail", fmt.Sprintf("Inventory недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("Inventory вернул статус %d", resp.StatusCode)
	}
	return "ok", "Inventory доступен"
}
