// Точка входа Authz Module — сервис авторизационных профилей платформы OpsDeck.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// инициализирует IdP и клиенты backing-систем, собирает провайдеры ресурсов,
// резолвер и syncer, запускает фоновые задачи (периодическая синхронизация,
// topologymetrics), HTTP-сервер и graceful shutdown.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/opsdeck/authz-module/internal/api/handlers"
	"github.com/opsdeck/authz-module/internal/config"
	"github.com/opsdeck/authz-module/internal/database"
	"github.com/opsdeck/authz-module/internal/domain/authz"
	"github.com/opsdeck/authz-module/internal/idp"
	"github.com/opsdeck/authz-module/internal/inventory"
	"github.com/opsdeck/authz-module/internal/provider"
	"github.com/opsdeck/authz-module/internal/registry"
	"github.com/opsdeck/authz-module/internal/repository"
	"github.com/opsdeck/authz-module/internal/resolver"
	"github.com/opsdeck/authz-module/internal/server"
	"github.com/opsdeck/authz-module/internal/service"
	"github.com/opsdeck/authz-module/internal/syncer"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Authz Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("AZ_DEPHEALTH_GROUP") == "" {
		logger.Warn("AZ_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	// Проверка здоровья PostgreSQL будет идти через существующий пул соединений,
	// что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. HTTP-клиент с кастомным CA (для IdP)
	var httpClientCA *http.Client
	if cfg.CACertPath != "" {
		httpClientCA, err = buildHTTPClientWithCA(cfg.CACertPath)
		if err != nil {
			logger.Error("Ошибка загрузки CA-сертификата", slog.String("path", cfg.CACertPath), slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("CA-сертификат загружен", slog.String("path", cfg.CACertPath))
	}

	// 6. IdP клиент (Client Credentials flow)
	idpClient := idp.New(
		cfg.IDPURL,
		cfg.IDPRealm,
		cfg.IDPClientID,
		cfg.IDPClientSecret,
		httpClientCA, // nil — стандартный пул CA
		logger,
	)
	logger.Info("IdP клиент создан",
		slog.String("url", cfg.IDPURL),
		slog.String("realm", cfg.IDPRealm),
	)

	// 7. Клиенты backing-систем
	registryClient, err := registry.New(cfg.RegistryURL, cfg.CACertPath, idpClient.TokenProvider(), logger)
	if err != nil {
		logger.Error("Ошибка создания Registry-клиента", slog.String("error", err.Error()))
		os.Exit(1)
	}
	inventoryClient, err := inventory.New(cfg.InventoryURL, cfg.CACertPath, idpClient.TokenProvider(), logger)
	if err != nil {
		logger.Error("Ошибка создания Inventory-клиента", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 8. Repositories
	permRepo := repository.NewUserPermissionRepository(pool)
	saRepo := repository.NewServiceAccountRepository(pool)
	syncStateRepo := repository.NewSyncStateRepository(pool)
	saCascade := repository.NewServiceAccountCascade(repository.NewTxRunner(pool))

	// 9. Провайдеры ресурсов
	providerOpts := provider.Options{
		Fallback:              authz.NewFallbackResolver(cfg.FallbackRules),
		AllowUnknownResources: cfg.AllowUnknownResources,
		SuppressDetails:       cfg.SuppressDetails,
		DetailsExclude:        cfg.DetailsSuppressionExclude,
	}

	var appInventory provider.ApplicationInventory
	if cfg.LoadAppsFromInventory {
		appInventory = inventoryClient
	}

	providers := []provider.Provider{
		provider.NewApplicationProvider(registryClient, appInventory, providerOpts, logger),
		provider.NewAccountProvider(inventoryClient, providerOpts, logger),
		provider.NewBuildServiceProvider(registryClient, providerOpts, logger),
		provider.NewServiceAccountProvider(saRepo, providerOpts, logger),
	}

	// 10. Резолвер профилей
	profileResolver := resolver.New(idpClient, providers, resolver.Options{
		AdminRoles:             cfg.AdminRoles,
		AllowPartialResolution: cfg.AllowPartialResolution,
		AllowUnknownResources:  cfg.AllowUnknownResources,
	}, logger)

	// 11. Syncer — периодическая пересборка профилей
	rolesSyncer := syncer.New(
		profileResolver,
		permRepo, saRepo, syncStateRepo,
		cfg.SyncInterval, cfg.SyncParallelism,
		logger,
	)

	// 12. Начальная синхронизация профилей при старте
	logger.Info("Начальная синхронизация профилей...")
	if synced, syncErr := rolesSyncer.SyncAndReturn(ctx, nil); syncErr != nil {
		logger.Warn("Ошибка начальной синхронизации профилей",
			slog.String("error", syncErr.Error()),
		)
	} else {
		logger.Info("Начальная синхронизация профилей завершена",
			slog.Int("synced", synced),
		)
	}

	// 13. Readiness checkers (PostgreSQL + IdP + Registry + Inventory)
	healthHandler := handlers.NewHealthHandler(
		database.NewReadinessChecker(pool),
		idpClient,
		registryClient,
		inventoryClient,
	)

	// 14. API handler
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		profileResolver,
		rolesSyncer,
		permRepo,
		saRepo,
		saCascade,
		logger,
	)

	// 15. Запуск фоновых задач
	rolesSyncer.Start(ctx)

	// 15.1 topologymetrics — мониторинг зависимостей
	var dephealthSvc *service.DephealthService
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:          "authz-module",
		Group:              cfg.DephealthGroup,
		DB:                 pgDB,
		PGConnURL:          cfg.DatabaseURL(),
		IDPRealmURL:        fmt.Sprintf("%s/realms/%s", cfg.IDPURL, cfg.IDPRealm),
		RegistryHealthURL:  cfg.RegistryURL + "/api/v1/health",
		InventoryHealthURL: cfg.InventoryURL + "/api/v1/health",
		CheckInterval:      cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 16. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 17. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	rolesSyncer.Stop()

	logger.Info("Authz Module остановлен")
}

// buildHTTPClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func buildHTTPClientWithCA(caCertPath string) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}
