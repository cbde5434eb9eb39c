package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/extension-registry/internal/domain/model"
)

// ExtensionRepository — интерфейс для таблицы extensions.
// Активная запись — deleted_at IS NULL; ключ уникален среди активных записей
// (частичный индекс uniq_extensions_key_active).
type ExtensionRepository interface {
	// InsertIfAbsent вставляет активную запись. Если активная запись с тем же
	// ключом уже есть, вставка не выполняется и возвращается (nil, nil).
	InsertIfAbsent(ctx context.Context, key string, category model.Category, blocked bool, now time.Time) (*model.ExtensionRecord, error)
	// FindActiveByKey возвращает активную запись по ключу.
	FindActiveByKey(ctx context.Context, key string) (*model.ExtensionRecord, error)
	// FindActiveByKeys возвращает активные записи с ключами из набора.
	FindActiveByKeys(ctx context.Context, keys []string) ([]*model.ExtensionRecord, error)
	// LockDeletedByKey находит самую свежую soft-deleted запись с ключом
	// и блокирует её (FOR UPDATE) до конца транзакции.
	LockDeletedByKey(ctx context.Context, key string) (*model.ExtensionRecord, error)
	// Restore восстанавливает soft-deleted запись как CUSTOM с blocked = true.
	// Выполняется под точкой сохранения: при конфликте с активной записью
	// изменения отменяются, транзакция остаётся пригодной, возвращается ErrConflict.
	Restore(ctx context.Context, id int64, now time.Time) (*model.ExtensionRecord, error)
	// CountActive возвращает количество активных записей категории.
	CountActive(ctx context.Context, category model.Category) (int, error)
	// ListActiveCustom — активные CUSTOM по activated_at, id.
	ListActiveCustom(ctx context.Context) ([]*model.ExtensionRecord, error)
	// ListActiveFixed — активные FIXED по ключу.
	ListActiveFixed(ctx context.Context) ([]*model.ExtensionRecord, error)
	// SoftDeleteCustom помечает активную CUSTOM запись удалённой.
	SoftDeleteCustom(ctx context.Context, id int64, now time.Time) error
	// SoftDeleteAllCustom помечает удалёнными все активные CUSTOM записи.
	SoftDeleteAllCustom(ctx context.Context, now time.Time) (int64, error)
	// UpdateFixedBlocked меняет blocked у активной FIXED записи.
	UpdateFixedBlocked(ctx context.Context, id int64, blocked bool) (*model.ExtensionRecord, error)
	// ExistingKeys возвращает ключи из набора, для которых есть хотя бы одна
	// запись любой категории и в любом состоянии.
	ExistingKeys(ctx context.Context, keys []string) ([]string, error)
	// InsertFixedBatch вставляет FIXED записи одним запросом с игнорированием
	// конфликтов. Возвращает только реально вставленные записи.
	InsertFixedBatch(ctx context.Context, items []FixedRow, now time.Time) ([]*model.ExtensionRecord, error)
	// PurgeDeletedBefore окончательно удаляет soft-deleted записи с deleted_at < cutoff.
	PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// FixedRow — строка пакетной вставки FIXED.
type FixedRow struct {
	Key     string
	Blocked bool
}

// extensionColumns — порядок колонок для scanExtension.
const extensionColumns = `id, key, category::text, blocked, created_at, activated_at, deleted_at`

// extensionRepo — реализация ExtensionRepository.
type extensionRepo struct {
	db DBTX
}

// NewExtensionRepository создаёт репозиторий расширений.
func NewExtensionRepository(db DBTX) ExtensionRepository {
	return &extensionRepo{db: db}
}

func (r *extensionRepo) InsertIfAbsent(ctx context.Context, key string, category model.Category, blocked bool, now time.Time) (*model.ExtensionRecord, error) {
	query := `
		INSERT INTO extensions (key, category, blocked, created_at, activated_at)
		VALUES ($1, $2::text::extension_category, $3, $4, $4)
		ON CONFLICT (key) WHERE deleted_at IS NULL DO NOTHING
		RETURNING ` + extensionColumns

	rec, err := scanExtension(r.db.QueryRow(ctx, query, key, string(category), blocked, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка вставки расширения %q: %w", key, err)
	}
	return rec, nil
}

func (r *extensionRepo) FindActiveByKey(ctx context.Context, key string) (*model.ExtensionRecord, error) {
	query := `SELECT ` + extensionColumns + `
		FROM extensions
		WHERE key = $1 AND deleted_at IS NULL`

	rec, err := scanExtension(r.db.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска активного расширения %q: %w", key, err)
	}
	return rec, nil
}

func (r *extensionRepo) FindActiveByKeys(ctx context.Context, keys []string) ([]*model.ExtensionRecord, error) {
	query := `SELECT ` + extensionColumns + `
		FROM extensions
		WHERE key = ANY($1::text[]) AND deleted_at IS NULL
		ORDER BY length(key) DESC, key`

	rows, err := r.db.Query(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска расширений по ключам: %w", err)
	}
	return collectExtensions(rows)
}

func (r *extensionRepo) LockDeletedByKey(ctx context.Context, key string) (*model.ExtensionRecord, error) {
	query := `SELECT ` + extensionColumns + `
		FROM extensions
		WHERE key = $1 AND deleted_at IS NOT NULL
		ORDER BY deleted_at DESC, id DESC
		LIMIT 1
		FOR UPDATE`

	rec, err := scanExtension(r.db.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска удалённого расширения %q: %w", key, err)
	}
	return rec, nil
}

func (r *extensionRepo) Restore(ctx context.Context, id int64, now time.Time) (*model.ExtensionRecord, error) {
	if _, err := r.db.Exec(ctx, `SAVEPOINT extension_restore`); err != nil {
		return nil, fmt.Errorf("ошибка создания точки сохранения: %w", err)
	}

	query := `
		UPDATE extensions
		SET deleted_at = NULL, category = 'CUSTOM', blocked = TRUE, activated_at = $2
		WHERE id = $1 AND deleted_at IS NOT NULL
		RETURNING ` + extensionColumns

	rec, err := scanExtension(r.db.QueryRow(ctx, query, id, now))
	if err != nil {
		if _, rbErr := r.db.Exec(ctx, `ROLLBACK TO SAVEPOINT extension_restore`); rbErr != nil {
			return nil, fmt.Errorf("ошибка отката к точке сохранения: %w", rbErr)
		}
		switch {
		case isUniqueViolation(err):
			return nil, ErrConflict
		case errors.Is(err, pgx.ErrNoRows):
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка восстановления расширения %d: %w", id, err)
	}

	if _, err := r.db.Exec(ctx, `RELEASE SAVEPOINT extension_restore`); err != nil {
		return nil, fmt.Errorf("ошибка освобождения точки сохранения: %w", err)
	}
	return rec, nil
}

func (r *extensionRepo) CountActive(ctx context.Context, category model.Category) (int, error) {
	query := `
		SELECT count(*)
		FROM extensions
		WHERE category = $1::text::extension_category AND deleted_at IS NULL`

	var n int64
	if err := r.db.QueryRow(ctx, query, string(category)).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта расширений %s: %w", category, err)
	}
	return int(n), nil
}

func (r *extensionRepo) ListActiveCustom(ctx context.Context) ([]*model.ExtensionRecord, error) {
	query := `SELECT ` + extensionColumns + `
		FROM extensions
		WHERE category = 'CUSTOM' AND deleted_at IS NULL
		ORDER BY activated_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пользовательских расширений: %w", err)
	}
	return collectExtensions(rows)
}

func (r *extensionRepo) ListActiveFixed(ctx context.Context) ([]*model.ExtensionRecord, error) {
	query := `SELECT ` + extensionColumns + `
		FROM extensions
		WHERE category = 'FIXED' AND deleted_at IS NULL
		ORDER BY key ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения фиксированных расширений: %w", err)
	}
	return collectExtensions(rows)
}

func (r *extensionRepo) SoftDeleteCustom(ctx context.Context, id int64, now time.Time) error {
	query := `
		UPDATE extensions
		SET deleted_at = $2
		WHERE id = $1 AND category = 'CUSTOM' AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("ошибка удаления расширения %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *extensionRepo) SoftDeleteAllCustom(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE extensions
		SET deleted_at = $1
		WHERE category = 'CUSTOM' AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления пользовательских расширений: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *extensionRepo) UpdateFixedBlocked(ctx context.Context, id int64, blocked bool) (*model.ExtensionRecord, error) {
	query := `
		UPDATE extensions
		SET blocked = $2
		WHERE id = $1 AND category = 'FIXED' AND deleted_at IS NULL
		RETURNING ` + extensionColumns

	rec, err := scanExtension(r.db.QueryRow(ctx, query, id, blocked))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления расширения %d: %w", id, err)
	}
	return rec, nil
}

func (r *extensionRepo) ExistingKeys(ctx context.Context, keys []string) ([]string, error) {
	query := `
		SELECT DISTINCT key
		FROM extensions
		WHERE key = ANY($1::text[])
		ORDER BY key`

	rows, err := r.db.Query(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки существующих ключей: %w", err)
	}
	existing, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения существующих ключей: %w", err)
	}
	return existing, nil
}

func (r *extensionRepo) InsertFixedBatch(ctx context.Context, items []FixedRow, now time.Time) ([]*model.ExtensionRecord, error) {
	keys := make([]string, len(items))
	blocked := make([]bool, len(items))
	for i, it := range items {
		keys[i] = it.Key
		blocked[i] = it.Blocked
	}

	query := `
		INSERT INTO extensions (key, category, blocked, created_at, activated_at)
		SELECT k, 'FIXED', b, $3, $3
		FROM unnest($1::text[], $2::boolean[]) AS t(k, b)
		ON CONFLICT (key) WHERE deleted_at IS NULL DO NOTHING
		RETURNING ` + extensionColumns

	rows, err := r.db.Query(ctx, query, keys, blocked, now)
	if err != nil {
		return nil, fmt.Errorf("ошибка пакетной вставки фиксированных расширений: %w", err)
	}
	return collectExtensions(rows)
}

func (r *extensionRepo) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM extensions
		WHERE deleted_at IS NOT NULL AND deleted_at < $1`

	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки удалённых расширений: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanExtension сканирует строку в ExtensionRecord (порядок — extensionColumns).
func scanExtension(row pgx.Row) (*model.ExtensionRecord, error) {
	rec := &model.ExtensionRecord{}
	err := row.Scan(
		&rec.ID, &rec.Key, &rec.Category, &rec.Blocked,
		&rec.CreatedAt, &rec.ActivatedAt, &rec.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// collectExtensions читает все строки и закрывает rows.
func collectExtensions(rows pgx.Rows) ([]*model.ExtensionRecord, error) {
	defer rows.Close()

	var result []*model.ExtensionRecord
	for rows.Next() {
		rec, err := scanExtension(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования расширения: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return result, nil
}
