// revival.go — восстановление soft-deleted записи вместо вставки новой.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/bigkaa/goartstore/extension-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/extension-registry/internal/repository"
)

// revive ищет самую свежую soft-deleted запись с ключом и восстанавливает её:
// тот же id, category = CUSTOM, blocked = true, activated_at = now,
// created_at не меняется. Возвращает (nil, nil), если удалённой записи нет.
//
// Если тем временем ключ занят активной записью, восстановление откатывается
// к точке сохранения и конфликт классифицируется так же, как при вставке.
func (s *RegistryService) revive(
	ctx context.Context,
	exts repository.ExtensionRepository,
	key string,
	now time.Time,
) (*model.ExtensionRecord, error) {
	deleted, err := exts.LockDeletedByKey(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec, err := exts.Restore(ctx, deleted.ID, now)
	if errors.Is(err, repository.ErrConflict) {
		existing, findErr := exts.FindActiveByKey(ctx, key)
		if findErr != nil {
			return nil, findErr
		}
		return nil, conflictWith(existing)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}
