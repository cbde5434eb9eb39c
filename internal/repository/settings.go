package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/extension-registry/internal/domain/model"
)

// SettingsRepository — интерфейс для таблицы registry_settings (одна строка, id = 1).
type SettingsRepository interface {
	// EnsureDefaults создаёт строку настроек со значениями по умолчанию,
	// если её ещё нет. Существующая строка не меняется.
	EnsureDefaults(ctx context.Context) error
	// Get возвращает настройки без блокировки. ErrNotFound — строки нет.
	Get(ctx context.Context) (*model.RegistrySettings, error)
	// GetForUpdate читает настройки с эксклюзивной блокировкой строки
	// до конца транзакции. Ожидание ограничено lock_timeout сессии.
	GetForUpdate(ctx context.Context) (*model.RegistrySettings, error)
	// Update меняет лимит и срок хранения.
	Update(ctx context.Context, customLimit, retentionDays int) (*model.RegistrySettings, error)
}

const settingsColumns = `id, custom_limit, soft_delete_retention_days, created_at, updated_at`

// settingsRepo — реализация SettingsRepository.
type settingsRepo struct {
	db DBTX
}

// NewSettingsRepository создаёт репозиторий настроек реестра.
func NewSettingsRepository(db DBTX) SettingsRepository {
	return &settingsRepo{db: db}
}

func (r *settingsRepo) EnsureDefaults(ctx context.Context) error {
	query := `
		INSERT INTO registry_settings (id, custom_limit, soft_delete_retention_days)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.Exec(ctx, query, model.SettingsRowID, model.DefaultCustomLimit, model.DefaultRetentionDays)
	if err != nil {
		return fmt.Errorf("ошибка создания настроек по умолчанию: %w", err)
	}
	return nil
}

func (r *settingsRepo) Get(ctx context.Context) (*model.RegistrySettings, error) {
	query := `SELECT ` + settingsColumns + ` FROM registry_settings WHERE id = $1`
	return r.get(ctx, query)
}

func (r *settingsRepo) GetForUpdate(ctx context.Context) (*model.RegistrySettings, error) {
	query := `SELECT ` + settingsColumns + ` FROM registry_settings WHERE id = $1 FOR UPDATE`
	return r.get(ctx, query)
}

func (r *settingsRepo) get(ctx context.Context, query string) (*model.RegistrySettings, error) {
	s, err := scanSettings(r.db.QueryRow(ctx, query, model.SettingsRowID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения настроек реестра: %w", err)
	}
	return s, nil
}

func (r *settingsRepo) Update(ctx context.Context, customLimit, retentionDays int) (*model.RegistrySettings, error) {
	query := `
		UPDATE registry_settings
		SET custom_limit = $2, soft_delete_retention_days = $3, updated_at = now()
		WHERE id = $1
		RETURNING ` + settingsColumns

	s, err := scanSettings(r.db.QueryRow(ctx, query, model.SettingsRowID, customLimit, retentionDays))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления настроек реестра: %w", err)
	}
	return s, nil
}

func scanSettings(row pgx.Row) (*model.RegistrySettings, error) {
	s := &model.RegistrySettings{}
	var id int16
	var limit, retention int32
	if err := row.Scan(&id, &limit, &retention, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.ID = int(id)
	s.CustomLimit = int(limit)
	s.SoftDeleteRetentionDays = int(retention)
	return s, nil
}
