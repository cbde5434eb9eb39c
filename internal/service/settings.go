// settings.go — сервис настроек реестра (лимит и срок хранения).
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/extension-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/extension-registry/internal/repository"
)

// Допустимые диапазоны настроек.
const (
	MaxCustomLimit   = 10000
	MinRetentionDays = 1
	MaxRetentionDays = 3650
)

// SettingsService — чтение и изменение registry_settings.
// Строка настроек создаётся со значениями по умолчанию при первом обращении.
type SettingsService struct {
	pool   repository.Pool
	tx     *repository.TxRunner
	logger *slog.Logger
}

// NewSettingsService создаёт сервис настроек реестра.
func NewSettingsService(pool repository.Pool, logger *slog.Logger) *SettingsService {
	return &SettingsService{
		pool:   pool,
		tx:     repository.NewTxRunner(pool),
		logger: logger.With(slog.String("component", "settings")),
	}
}

// Get возвращает текущие настройки.
func (s *SettingsService) Get(ctx context.Context) (*model.RegistrySettings, error) {
	settings, err := loadSettings(ctx, repository.NewSettingsRepository(s.pool))
	if err != nil {
		return nil, storeError("получение настроек реестра", err)
	}
	return settings, nil
}

// Update меняет лимит пользовательских расширений и срок хранения удалённых записей.
// Берёт ту же блокировку строки, что и добавление пользовательского расширения,
// поэтому изменение лимита упорядочено относительно параллельных добавлений.
// Лимит можно опустить ниже текущего количества: новые добавления будут
// отклоняться, пока записи не удалят.
func (s *SettingsService) Update(ctx context.Context, customLimit, retentionDays int) (*model.RegistrySettings, error) {
	if customLimit < 0 || customLimit > MaxCustomLimit {
		return nil, validationf("customLimit", "должен быть в диапазоне 0-%d, получено %d", MaxCustomLimit, customLimit)
	}
	if retentionDays < MinRetentionDays || retentionDays > MaxRetentionDays {
		return nil, validationf("softDeleteRetentionDays", "должен быть в диапазоне %d-%d, получено %d",
			MinRetentionDays, MaxRetentionDays, retentionDays)
	}

	var updated, previous *model.RegistrySettings
	err := s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		repo := repository.NewSettingsRepository(tx)
		if err := repo.EnsureDefaults(ctx); err != nil {
			return err
		}
		var err error
		previous, err = repo.GetForUpdate(ctx)
		if err != nil {
			return err
		}
		updated, err = repo.Update(ctx, customLimit, retentionDays)
		return err
	})
	if err != nil {
		return nil, storeError("обновление настроек реестра", err)
	}

	s.logger.Info("Настройки реестра обновлены",
		slog.Int("custom_limit", updated.CustomLimit),
		slog.Int("previous_custom_limit", previous.CustomLimit),
		slog.Int("retention_days", updated.SoftDeleteRetentionDays),
	)
	return updated, nil
}

// loadSettings читает настройки, создавая строку по умолчанию при её отсутствии.
func loadSettings(ctx context.Context, repo repository.SettingsRepository) (*model.RegistrySettings, error) {
	settings, err := repo.Get(ctx)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if err := repo.EnsureDefaults(ctx); err != nil {
		return nil, err
	}
	return repo.Get(ctx)
}
