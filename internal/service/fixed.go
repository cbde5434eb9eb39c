// fixed.go — пакетное добавление фиксированных расширений администратором.
package service

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/extension-registry/internal/domain/extkey"
	"github.com/bigkaa/goartstore/extension-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/extension-registry/internal/repository"
)

// MaxFixedBatch — максимальный размер пакета фиксированных расширений.
const MaxFixedBatch = 100

// AddFixed добавляет пакет фиксированных расширений (blocked по умолчанию true).
//
// Предварительная проверка учитывает записи обеих категорий в любом состоянии:
// если хотя бы один ключ уже встречался, пакет отклоняется целиком со списком
// всех совпавших ключей. Сама вставка тоже игнорирует конфликты, и если
// вставлено меньше строк, чем запрошено (параллельный пакет успел раньше),
// транзакция откатывается с тем же видом ошибки.
func (s *RegistryService) AddFixed(ctx context.Context, items []model.FixedItem) (recs []*model.ExtensionRecord, err error) {
	defer func() { s.observe("add_fixed", err) }()

	rows, err := normalizeFixedItems(items)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
	}

	now := s.now()
	err = s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		exts := repository.NewExtensionRepository(tx)

		existing, err := exts.ExistingKeys(ctx, keys)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return &DuplicateKeysError{Keys: existing}
		}

		recs, err = exts.InsertFixedBatch(ctx, rows, now)
		if err != nil {
			return err
		}
		if len(recs) < len(rows) {
			return &DuplicateKeysError{Keys: missingKeys(keys, recs)}
		}
		return nil
	})
	if err != nil {
		return nil, storeError("добавление фиксированных расширений", err)
	}

	s.invalidate()
	s.logger.Info("Фиксированные расширения добавлены",
		slog.Int("count", len(recs)),
		slog.Any("keys", keys),
	)
	return recs, nil
}

// normalizeFixedItems проверяет пакет: не пустой, не больше MaxFixedBatch,
// все ключи корректны и не повторяются внутри пакета.
func normalizeFixedItems(items []model.FixedItem) ([]repository.FixedRow, error) {
	if len(items) == 0 {
		return nil, validationf("items", "пакет не может быть пустым")
	}
	if len(items) > MaxFixedBatch {
		return nil, validationf("items", "не больше %d элементов, получено %d", MaxFixedBatch, len(items))
	}

	rows := make([]repository.FixedRow, 0, len(items))
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		key, err := extkey.Parse(it.Key)
		if err != nil {
			return nil, validationf("items.key", "элемент %d: %v", i, err)
		}
		if seen[key] {
			return nil, validationf("items.key", "ключ %q повторяется в пакете", key)
		}
		seen[key] = true

		blocked := true
		if it.Blocked != nil {
			blocked = *it.Blocked
		}
		rows = append(rows, repository.FixedRow{Key: key, Blocked: blocked})
	}
	return rows, nil
}

// missingKeys — ключи запроса, для которых строка не вставлена.
func missingKeys(keys []string, inserted []*model.ExtensionRecord) []string {
	got := make(map[string]bool, len(inserted))
	for _, r := range inserted {
		got[r.Key] = true
	}
	var missing []string
	for _, k := range keys {
		if !got[k] {
			missing = append(missing, k)
		}
	}
	return missing
}
