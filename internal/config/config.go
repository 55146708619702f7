// Пакет config — загрузка и валидация конфигурации Authz Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opsdeck/authz-module/internal/domain/authz"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Authz Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8000-8009)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Identity Provider ---

	// URL Identity Provider (например, https://idp.opsdeck.lan)
	IDPURL string
	// Имя realm в Identity Provider
	IDPRealm string
	// Client ID для Client Credentials flow
	IDPClientID string
	// Client Secret для Client Credentials flow
	IDPClientSecret string

	// --- Backing-системы ---

	// URL Application Registry (приложения и build services)
	RegistryURL string
	// URL Deployment Inventory (аккаунты и приложения из инфраструктуры)
	InventoryURL string
	// Путь к CA-сертификату для TLS-соединений с backing-системами (опционально)
	CACertPath string

	// --- Резолюция прав ---

	// Роли, дающие isAdmin (через запятую)
	AdminRoles []string
	// Fallback-правила вывода неявных прав (формат "READ>EXECUTE,...")
	FallbackRules []authz.FallbackRule
	// Доступ к ресурсам, неизвестным первичному источнику
	AllowUnknownResources bool
	// Загружать приложения также из Deployment Inventory (вторичный источник)
	LoadAppsFromInventory bool
	// Подавлять details ресурсов при выдаче профиля
	SuppressDetails bool
	// Ключи details, не подлежащие подавлению
	DetailsSuppressionExclude []string
	// Продолжать резолюцию при отказе отдельного провайдера (частичный профиль)
	AllowPartialResolution bool

	// --- Синхронизация ---

	// Интервал периодической bulk-синхронизации профилей
	SyncInterval time.Duration
	// Количество параллельных воркеров bulk-синхронизации
	SyncParallelism int
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы topologymetrics
	DephealthGroup string

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// AZ_PORT — порт HTTP-сервера (по умолчанию 8003)
	cfg.Port, err = getEnvInt("AZ_PORT", 8003)
	if err != nil {
		return nil, fmt.Errorf("AZ_PORT: %w", err)
	}
	if cfg.Port < 8000 || cfg.Port > 8009 {
		return nil, fmt.Errorf("AZ_PORT: значение %d вне допустимого диапазона 8000-8009", cfg.Port)
	}

	// AZ_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("AZ_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("AZ_LOG_LEVEL: %w", err)
	}

	// AZ_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("AZ_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("AZ_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// AZ_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("AZ_DB_HOST")
	if err != nil {
		return nil, err
	}

	// AZ_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("AZ_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("AZ_DB_PORT: %w", err)
	}

	// AZ_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("AZ_DB_NAME")
	if err != nil {
		return nil, err
	}

	// AZ_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("AZ_DB_USER")
	if err != nil {
		return nil, err
	}

	// AZ_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("AZ_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// AZ_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("AZ_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("AZ_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Identity Provider ---

	// AZ_IDP_URL — обязательный
	cfg.IDPURL, err = getEnvRequired("AZ_IDP_URL")
	if err != nil {
		return nil, err
	}
	cfg.IDPURL = strings.TrimRight(cfg.IDPURL, "/")

	// AZ_IDP_REALM — realm (по умолчанию opsdeck)
	cfg.IDPRealm = getEnvDefault("AZ_IDP_REALM", "opsdeck")

	// AZ_IDP_CLIENT_ID — обязательный
	cfg.IDPClientID, err = getEnvRequired("AZ_IDP_CLIENT_ID")
	if err != nil {
		return nil, err
	}

	// AZ_IDP_CLIENT_SECRET — обязательный
	cfg.IDPClientSecret, err = getEnvRequired("AZ_IDP_CLIENT_SECRET")
	if err != nil {
		return nil, err
	}

	// --- Backing-системы ---

	// AZ_REGISTRY_URL — обязательный
	cfg.RegistryURL, err = getEnvRequired("AZ_REGISTRY_URL")
	if err != nil {
		return nil, err
	}
	cfg.RegistryURL = strings.TrimRight(cfg.RegistryURL, "/")

	// AZ_INVENTORY_URL — обязательный (источник аккаунтов)
	cfg.InventoryURL, err = getEnvRequired("AZ_INVENTORY_URL")
	if err != nil {
		return nil, err
	}
	cfg.InventoryURL = strings.TrimRight(cfg.InventoryURL, "/")

	// AZ_CA_CERT_PATH — путь к CA-сертификату (опционально)
	cfg.CACertPath = getEnvDefault("AZ_CA_CERT_PATH", "")

	// --- Резолюция прав ---

	// AZ_ADMIN_ROLES — admin-роли (по умолчанию "platform-admins")
	cfg.AdminRoles = parseCSV(getEnvDefault("AZ_ADMIN_ROLES", "platform-admins"))

	// AZ_FALLBACK_PAIRS — fallback-правила (по умолчанию "READ>EXECUTE")
	cfg.FallbackRules, err = authz.ParseFallbackRules(getEnvDefault("AZ_FALLBACK_PAIRS", "READ>EXECUTE"))
	if err != nil {
		return nil, fmt.Errorf("AZ_FALLBACK_PAIRS: %w", err)
	}

	// AZ_ALLOW_UNKNOWN_RESOURCES — доступ к неизвестным ресурсам (по умолчанию false)
	cfg.AllowUnknownResources, err = getEnvBool("AZ_ALLOW_UNKNOWN_RESOURCES", false)
	if err != nil {
		return nil, fmt.Errorf("AZ_ALLOW_UNKNOWN_RESOURCES: %w", err)
	}

	// AZ_LOAD_APPS_FROM_INVENTORY — вторичный источник приложений (по умолчанию true)
	cfg.LoadAppsFromInventory, err = getEnvBool("AZ_LOAD_APPS_FROM_INVENTORY", true)
	if err != nil {
		return nil, fmt.Errorf("AZ_LOAD_APPS_FROM_INVENTORY: %w", err)
	}

	// AZ_SUPPRESS_DETAILS — подавление details ресурсов (по умолчанию false)
	cfg.SuppressDetails, err = getEnvBool("AZ_SUPPRESS_DETAILS", false)
	if err != nil {
		return nil, fmt.Errorf("AZ_SUPPRESS_DETAILS: %w", err)
	}

	// AZ_DETAILS_SUPPRESSION_EXCLUDE — ключи details, не подлежащие подавлению
	cfg.DetailsSuppressionExclude = parseCSV(getEnvDefault("AZ_DETAILS_SUPPRESSION_EXCLUDE", ""))

	// AZ_ALLOW_PARTIAL_RESOLUTION — частичный профиль при отказе провайдера (по умолчанию false)
	cfg.AllowPartialResolution, err = getEnvBool("AZ_ALLOW_PARTIAL_RESOLUTION", false)
	if err != nil {
		return nil, fmt.Errorf("AZ_ALLOW_PARTIAL_RESOLUTION: %w", err)
	}

	// --- Синхронизация ---

	// AZ_SYNC_INTERVAL — интервал bulk-синхронизации (по умолчанию 10m)
	cfg.SyncInterval, err = getEnvDuration("AZ_SYNC_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AZ_SYNC_INTERVAL: %w", err)
	}

	// AZ_SYNC_PARALLELISM — воркеры bulk-синхронизации (по умолчанию 4)
	cfg.SyncParallelism, err = getEnvInt("AZ_SYNC_PARALLELISM", 4)
	if err != nil {
		return nil, fmt.Errorf("AZ_SYNC_PARALLELISM: %w", err)
	}
	if cfg.SyncParallelism < 1 || cfg.SyncParallelism > 64 {
		return nil, fmt.Errorf("AZ_SYNC_PARALLELISM: значение %d вне допустимого диапазона 1-64", cfg.SyncParallelism)
	}

	// AZ_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("AZ_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AZ_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// AZ_DEPHEALTH_GROUP — группа topologymetrics (по умолчанию opsdeck)
	cfg.DephealthGroup = getEnvDefault("AZ_DEPHEALTH_GROUP", "opsdeck")

	// --- Graceful shutdown ---

	// AZ_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("AZ_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AZ_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL (для метрик dephealth).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (используйте true/false)", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
