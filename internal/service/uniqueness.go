// uniqueness.go — вставка с разрешением гонок через уникальный индекс.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/extension-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/extension-registry/internal/repository"
)

// insertAttempts — сколько раз повторить вставку, если конфликтующая
// запись исчезла до чтения (была удалена параллельно).
const insertAttempts = 3

// insertIfAbsent вставляет активную запись без глобальной блокировки.
// Корректность при гонках обеспечивает частичный уникальный индекс:
// вставка с ON CONFLICT DO NOTHING становится no-op, и последующее чтение
// определяет, чем занят ключ — фиксированной или пользовательской записью.
func (s *RegistryService) insertIfAbsent(
	ctx context.Context,
	exts repository.ExtensionRepository,
	key string,
	category model.Category,
	blocked bool,
	now time.Time,
) (*model.ExtensionRecord, error) {
	for attempt := 1; attempt <= insertAttempts; attempt++ {
		rec, err := exts.InsertIfAbsent(ctx, key, category, blocked, now)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return rec, nil
		}

		existing, err := exts.FindActiveByKey(ctx, key)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return nil, conflictWith(existing)
	}
	return nil, fmt.Errorf("%w: ключ %q конкурентно изменяется, повторите операцию", ErrStoreUnavailable, key)
}
