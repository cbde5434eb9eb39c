package model

import "time"

// Значения настроек реестра по умолчанию.
const (
	// SettingsRowID — идентификатор единственной строки registry_settings
	SettingsRowID = 1
	// DefaultCustomLimit — лимит активных пользовательских расширений
	DefaultCustomLimit = 200
	// DefaultRetentionDays — срок хранения soft-deleted записей до окончательного удаления
	DefaultRetentionDays = 90
)

// RegistrySettings — настройки реестра (одна строка в БД).
// Хранится в таблице registry_settings (id = 1, создаётся лениво).
type RegistrySettings struct {
	// ID — всегда 1
	ID int
	// CustomLimit — максимум одновременно активных пользовательских расширений
	CustomLimit int
	// SoftDeleteRetentionDays — возраст soft-deleted записи (в днях), после которого она удаляется
	SoftDeleteRetentionDays int
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// DefaultSettings возвращает настройки по умолчанию (без обращения к БД).
func DefaultSettings() *RegistrySettings {
	return &RegistrySettings{
		ID:                      SettingsRowID,
		CustomLimit:             DefaultCustomLimit,
		SoftDeleteRetentionDays: DefaultRetentionDays,
	}
}

// PurgeResult — результат одного запуска очистки soft-deleted записей.
type PurgeResult struct {
	// Cutoff — граница: удалены записи с deleted_at < Cutoff
	Cutoff time.Time
	// RetentionDays — использованный срок хранения
	RetentionDays int
	// Deleted — количество окончательно удалённых записей
	Deleted int
	// StartedAt — время начала
	StartedAt time.Time
	// Duration — длительность выполнения
	Duration time.Duration
}
