// Точка входа реестра расширений файлов.
// Подкоманды:
//   - serve — миграции, пул PostgreSQL, планировщик очистки, HTTP-сервер
//   - migrate — применить миграции и выйти
//   - purge — однократная очистка soft-deleted записей (для внешнего cron)
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/extension-registry/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "extension-registry",
	Short:         "Реестр расширений файлов",
	Long:          "Реестр фиксированных и пользовательских расширений файлов с проверкой загружаемых имён.",
	Version:       config.Version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	// Контекст отменяется по SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("Ошибка выполнения команды", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// setup загружает конфигурацию и настраивает логирование.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, config.SetupLogger(cfg), nil
}
