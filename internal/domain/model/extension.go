package model

import "time"

// Category — категория записи расширения.
type Category string

const (
	// CategoryFixed — фиксированное расширение (управляется администратором).
	CategoryFixed Category = "FIXED"
	// CategoryCustom — пользовательское расширение (ограничено квотой).
	CategoryCustom Category = "CUSTOM"
)

// Valid проверяет, что категория входит в допустимый набор.
func (c Category) Valid() bool {
	return c == CategoryFixed || c == CategoryCustom
}

// ExtensionRecord — запись реестра расширений.
// Хранится в таблице extensions.
type ExtensionRecord struct {
	// ID — суррогатный идентификатор, не меняется при soft delete / восстановлении
	ID int64
	// Key — нормализованное расширение (нижний регистр, без ведущей точки)
	Key string
	// Category — FIXED или CUSTOM
	Category Category
	// Blocked — запрещена ли загрузка файлов с этим расширением
	Blocked bool
	// CreatedAt — время создания записи (не меняется при восстановлении)
	CreatedAt time.Time
	// ActivatedAt — время последней активации (вставка или восстановление)
	ActivatedAt time.Time
	// DeletedAt — метка soft delete; nil — запись активна
	DeletedAt *time.Time
}

// Active возвращает true, если запись не помечена как удалённая.
func (r *ExtensionRecord) Active() bool {
	return r.DeletedAt == nil
}

// FixedItem — элемент пакетного добавления фиксированных расширений.
type FixedItem struct {
	Key string
	// Blocked — nil означает значение по умолчанию (true)
	Blocked *bool
}

// CustomList — список активных пользовательских расширений с квотой.
type CustomList struct {
	Items []*ExtensionRecord
	// Count — количество активных пользовательских расширений
	Count int
	// Limit — текущий лимит из registry_settings
	Limit int
}

// FixedList — список активных фиксированных расширений.
type FixedList struct {
	Items []*ExtensionRecord
	// GeneratedAt — время формирования ответа
	GeneratedAt time.Time
}

// Verdict — результат проверки имени загружаемого файла.
type Verdict struct {
	// Filename — проверяемое имя файла
	Filename string
	// Blocked — загрузка запрещена
	Blocked bool
	// MatchedKey — расширение, по которому принято решение (пусто, если совпадений нет)
	MatchedKey string
	// MatchedCategory — категория совпавшей записи
	MatchedCategory Category
}
