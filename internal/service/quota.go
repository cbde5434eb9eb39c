// quota.go — ограничение числа активных пользовательских расширений.
package service

import (
	"context"
	"log/slog"

	"github.com/bigkaa/goartstore/extension-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/extension-registry/internal/repository"
)

// acquireQuota блокирует строку настроек до конца транзакции и проверяет,
// что ещё одна активная пользовательская запись не превысит лимит.
// Блокировка упорядочивает все параллельные добавления пользовательских
// расширений: подсчёт и вставка становятся атомарными относительно друг друга.
// Если блокировку не удалось получить за lock_timeout, ошибка классифицируется
// как STORE_UNAVAILABLE и транзакция откатывается.
func (s *RegistryService) acquireQuota(
	ctx context.Context,
	settings repository.SettingsRepository,
	exts repository.ExtensionRepository,
) error {
	if err := settings.EnsureDefaults(ctx); err != nil {
		return err
	}
	cur, err := settings.GetForUpdate(ctx)
	if err != nil {
		return err
	}

	count, err := exts.CountActive(ctx, model.CategoryCustom)
	if err != nil {
		return err
	}

	if count >= cur.CustomLimit {
		s.logger.Info("Лимит пользовательских расширений исчерпан",
			slog.Int("count", count),
			slog.Int("limit", cur.CustomLimit),
		)
		return &QuotaError{Limit: cur.CustomLimit, Count: count}
	}
	return nil
}
