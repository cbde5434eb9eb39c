package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/extension-registry/internal/api/handlers"
	"github.com/bigkaa/goartstore/extension-registry/internal/api/middleware"
	"github.com/bigkaa/goartstore/extension-registry/internal/api/openapi"
	"github.com/bigkaa/goartstore/extension-registry/internal/config"
	"github.com/bigkaa/goartstore/extension-registry/internal/database"
	"github.com/bigkaa/goartstore/extension-registry/internal/server"
	"github.com/bigkaa/goartstore/extension-registry/internal/service"
)

// jwksCheckTimeout — таймаут запроса JWKS при проверке готовности.
const jwksCheckTimeout = 3 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP API реестра расширений",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	// 1. Конфигурация и логирование
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	logger.Info("Реестр расширений запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("ER_DEPHEALTH_GROUP") == "" {
		logger.Warn("ER_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 2. Миграции БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return fmt.Errorf("миграции БД: %w", err)
	}

	// 3. Подключение к PostgreSQL (pgxpool)
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("подключение к PostgreSQL: %w", err)
	}
	defer pool.Close()

	// 3.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 4. Сервисы. Политика загрузки получает уведомления об изменениях реестра.
	policySvc := service.NewPolicyService(pool, cfg.PolicyCacheSize, cfg.PolicyCacheTTL, logger)
	registrySvc := service.NewRegistryService(pool, policySvc, logger)
	settingsSvc := service.NewSettingsService(pool, logger)

	// 5. Readiness checkers и JWT
	pgChecker := database.NewReadinessChecker(pool)

	var (
		jwtAuth     *middleware.JWTAuth
		jwksChecker handlers.ReadinessChecker
	)
	if cfg.AuthEnabled {
		jwtAuth, err = middleware.NewJWTAuth(cfg.JWTJWKSURL, cfg.JWTIssuer, cfg.RoleAdminGroups, cfg.JWTLeeway, logger)
		if err != nil {
			return fmt.Errorf("JWT middleware: %w", err)
		}
		jwksChecker = middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, jwksCheckTimeout)
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("Аутентификация отключена (ER_AUTH_ENABLED=false), роли не проверяются")
	}

	healthHandler := handlers.NewHealthHandler(pgChecker, jwksChecker)
	apiHandler := handlers.NewAPIHandler(healthHandler, registrySvc, settingsSvc, policySvc, logger)

	// 6. Валидация запросов по встроенному OpenAPI контракту
	doc, err := openapi.Load()
	if err != nil {
		return fmt.Errorf("загрузка OpenAPI контракта: %w", err)
	}
	validator, err := middleware.NewRequestValidator(doc, logger)
	if err != nil {
		return err
	}

	// 7. Фоновые задачи
	var purgeSvc *service.PurgeService
	if cfg.PurgeEnabled {
		purgeSvc = service.NewPurgeService(pool, cfg.PurgeHour, cfg.PurgeMinute, logger)
		purgeSvc.Start(ctx)
	} else {
		logger.Info("Планировщик очистки отключён (ER_PURGE_ENABLED=false)")
	}

	// 7.1 topologymetrics — мониторинг PostgreSQL
	dephealthSvc, dephealthErr := service.NewDependencyMonitor(service.DependencyMonitorConfig{
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PGConnURL:     cfg.DatabaseURL(),
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 8. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler, validator, jwtAuth)
	runErr := srv.Run(ctx)

	// 9. Остановка фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	if purgeSvc != nil {
		purgeSvc.Stop()
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("Реестр расширений остановлен")
	return nil
}
