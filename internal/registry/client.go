// Пакет registry — HTTP-клиент к Application Registry.
// Registry — источник приложений платформы с явными ACL и метаданными,
// а также каталога build-сервисов (CI/CD интеграции).
// Поддерживает TLS с кастомным CA (AZ_CA_CERT_PATH).
// Операции: ListApplications (GET /api/v1/applications) с пагинацией,
// ListBuildServices (GET /api/v1/build-services).
package registry

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

// ApplicationRecord — приложение в Application Registry.
// Permissions — явные ACL: уровень доступа → имена ролей.
type ApplicationRecord struct {
	Name        string              `json:"name"`
	Permissions map[string][]string `json:"permissions,omitempty"`
	Details     map[string]any      `json:"details,omitempty"`
}

// BuildServiceRecord — build-сервис (CI/CD master) в Registry.
type BuildServiceRecord struct {
	Name        string              `json:"name"`
	Permissions map[string][]string `json:"permissions,omitempty"`
	Details     map[string]any      `json:"details,omitempty"`
}

// applicationListResponse — ответ Registry на GET /api/v1/applications.
type applicationListResponse struct {
	Applications []ApplicationRecord `json:"applications"`
	Total        int                 `json:"total"`
	Limit        int                 `json:"limit"`
	Offset       int                 `json:"offset"`
}

// buildServiceListResponse — ответ Registry на GET /api/v1/build-services.
type buildServiceListResponse struct {
	BuildServices []BuildServiceRecord `json:"build_services"`
	Total         int                  `json:"total"`
	Limit         int                  `json:"limit"`
	Offset        int                  `json:"offset"`
}

// pageSize — размер страницы при постраничной выборке из Registry.
const pageSize = 500

// Client — HTTP-клиент для Application Registry.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	tokenProvider idp.TokenProvider
	logger        *slog.Logger
}

// New создаёт Registry-клиент.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// tokenProvider — функция для получения JWT.
func New(baseURL, caCertPath string, tokenProvider idp.TokenProvider, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата Registry: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
	}

	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    httpClient,
		tokenProvider: tokenProvider,
		logger:        logger.With(slog.String("component", "registry_client")),
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
			return fmt.Errorf("получение токена для Registry: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("запрос к Registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Registry вернул статус %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("декодирование ответа Registry: %w", err)
	}

	return nil
}

// ListApplications возвращает все приложения Registry, выбирая их постранично.
func (c *Client) ListApplications(ctx context.Context) ([]ApplicationRecord, error) {
	var all []ApplicationRecord

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

	c.logger.Debug("Приложения получены из Registry", slog.Int("count", len(all)))
	return all, nil
}

// ListBuildServices возвращает все build-сервисы Registry.
func (c *Client) ListBuildServices(ctx context.Context) ([]BuildServiceRecord, error) {
	var all []BuildServiceRecord

	for offset := 0; ; offset += pageSize {
		var page buildServiceListResponse
		path := fmt.Sprintf("/api/v1/build-services?limit=%d&offset=%d", pageSize, offset)
		if err := c.doGet(ctx, path, &page); err != nil {
			return nil, fmt.Errorf("ListBuildServices: %w", err)
		}

		all = append(all, page.BuildServices...)
		if len(page.BuildServices) < pageSize || len(all) >= page.Total {
			break
		}
	}

	c.logger.Debug("Build-сервисы получены из Registry", slog.Int("count", len(all)))
	return all, nil
}

// CheckReady проверяет доступность Registry.
// Реализует интерфейс handlers.ReadinessChecker.
func (c *Client) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return "fail", fmt.Sprintf("Registry: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "fail", fmt.Sprintf("Registry недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("Registry вернул статус %d", resp.StatusCode)
	}
	return "ok", "Registry доступен"
}
