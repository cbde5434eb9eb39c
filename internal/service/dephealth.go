// dephealth.go — мониторинг PostgreSQL через topologymetrics SDK.
// Метрики app_dependency_* отдаются на /metrics.
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// ServiceID — имя вершины графа зависимостей текущего приложения.
const ServiceID = "extension-registry"

// DependencyMonitorConfig — параметры мониторинга.
type DependencyMonitorConfig struct {
	Group string
	// DB — адаптер pgxpool (stdlib.OpenDBFromPool): проверка идёт через тот же пул,
	// что и запросы реестра.
	DB *sql.DB
	// PGConnURL нужен только для лейблов метрик.
	PGConnURL     string
	CheckInterval time.Duration
	// Registerer — nil означает глобальный Prometheus registry.
	Registerer prometheus.Registerer
}

// DependencyMonitor — периодическая проверка PostgreSQL.
type DependencyMonitor struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDependencyMonitor создаёт монитор; PostgreSQL — критичная зависимость.
func NewDependencyMonitor(cfg DependencyMonitorConfig, logger *slog.Logger) (*DependencyMonitor, error) {
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		// pgcheck напрямую: contrib/sqldb тянет драйвер MySQL
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)),
			dephealth.FromURL(cfg.PGConnURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		),
	}
	if cfg.Registerer != nil {
		opts = append(opts, dephealth.WithRegisterer(cfg.Registerer))
	}

	dh, err := dephealth.New(ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}
	return &DependencyMonitor{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

func (m *DependencyMonitor) Start(ctx context.Context) error {
	if err := m.dh.Start(ctx); err != nil {
		return err
	}
	m.logger.Info("Мониторинг PostgreSQL запущен")
	return nil
}

func (m *DependencyMonitor) Stop() {
	m.dh.Stop()
	m.logger.Info("Мониторинг PostgreSQL остановлен")
}

// Health — последнее состояние по ключам "postgresql:<host>:<port>".
func (m *DependencyMonitor) Health() map[string]bool {
	return m.dh.Health()
}
