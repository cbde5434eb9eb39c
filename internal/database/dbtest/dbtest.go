// Пакет dbtest — PostgreSQL в Docker-контейнере для интеграционных тестов.
// Тесты пропускаются, если не установлена переменная TEST_INTEGRATION.
package dbtest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/extension-registry/internal/config"
	"github.com/bigkaa/goartstore/extension-registry/internal/database"
)

// Config запускает контейнер PostgreSQL и возвращает конфигурацию для подключения.
// Контейнер останавливается в t.Cleanup.
func Config(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("registry_test"),
		postgres.WithUsername("registry"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}
	portNum, err := strconv.Atoi(port.Port())
	if err != nil {
		t.Fatalf("Некорректный port контейнера %q: %v", port.Port(), err)
	}

	return &config.Config{
		LogLevel:           slog.LevelDebug,
		LogFormat:          "text",
		DBHost:             host,
		DBPort:             portNum,
		DBName:             "registry_test",
		DBUser:             "registry",
		DBPassword:         "test-password",
		DBSSLMode:          "disable",
		DBMaxConns:         10,
		DBLockTimeout:      2 * time.Second,
		DBStatementTimeout: 10 * time.Second,
	}
}

// Pool запускает контейнер, применяет миграции и возвращает пул подключений.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	cfg := Config(t)
	logger := Logger()

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

// Logger — логгер для тестов. Вывод подавлен, если не задан TEST_VERBOSE.
func Logger() *slog.Logger {
	var w io.Writer = io.Discard
	if os.Getenv("TEST_VERBOSE") != "" {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
