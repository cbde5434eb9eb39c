// errors.go — ошибки бизнес-логики сервисного слоя.
//
// Каждая ошибка относится к одному из видов (sentinel), проверяемых через errors.Is.
// Структурированные ошибки (*ConflictError, *QuotaError, *DuplicateKeysError,
// *ValidationError) несут детали для клиента и извлекаются через errors.As.
package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bigkaa/goartstore/extension-registry/internal/domain/model"
	"github.com/bigkaa/goartstore/extension-registry/internal/repository"
)

var (
	// ErrValidation — некорректный ключ, пустой пакет или параметр вне диапазона.
	ErrValidation = errors.New("ошибка валидации")
	// ErrDuplicateInFixed — ключ уже занят активной фиксированной записью.
	ErrDuplicateInFixed = errors.New("расширение уже есть среди фиксированных")
	// ErrDuplicateInCustom — ключ уже занят активной пользовательской записью.
	ErrDuplicateInCustom = errors.New("расширение уже есть среди пользовательских")
	// ErrDuplicateKeys — ключи пакета фиксированных расширений уже существуют.
	ErrDuplicateKeys = errors.New("расширения уже существуют")
	// ErrQuotaExceeded — достигнут лимит пользовательских расширений.
	ErrQuotaExceeded = errors.New("достигнут лимит пользовательских расширений")
	// ErrNotFound — запись не найдена или другой категории.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrStoreUnavailable — временная недоступность хранилища, операцию можно повторить.
	ErrStoreUnavailable = errors.New("хранилище недоступно")
)

// ValidationError — ошибка входных данных с указанием поля.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError — ключ занят активной записью.
// Kind — ErrDuplicateInFixed или ErrDuplicateInCustom.
type ConflictError struct {
	Kind     error
	Key      string
	ID       int64
	Category model.Category
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %q (id=%d)", e.Kind, e.Key, e.ID)
}

func (e *ConflictError) Unwrap() error { return e.Kind }

// conflictWith классифицирует конфликт по категории существующей записи.
func conflictWith(existing *model.ExtensionRecord) *ConflictError {
	kind := ErrDuplicateInCustom
	if existing.Category == model.CategoryFixed {
		kind = ErrDuplicateInFixed
	}
	return &ConflictError{
		Kind:     kind,
		Key:      existing.Key,
		ID:       existing.ID,
		Category: existing.Category,
	}
}

// QuotaError — лимит пользовательских расширений исчерпан.
type QuotaError struct {
	Limit int
	Count int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: %d из %d", ErrQuotaExceeded, e.Count, e.Limit)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// DuplicateKeysError — пакет фиксированных расширений отклонён целиком.
type DuplicateKeysError struct {
	Keys []string
}

func (e *DuplicateKeysError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateKeys, strings.Join(e.Keys, ", "))
}

func (e *DuplicateKeysError) Unwrap() error { return ErrDuplicateKeys }

// storeError переводит ошибку репозитория в вид сервисного слоя.
// Ошибки, которые уже являются ошибками сервиса, проходят без изменений.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrDuplicateInFixed),
		errors.Is(err, ErrDuplicateInCustom),
		errors.Is(err, ErrDuplicateKeys),
		errors.Is(err, ErrQuotaExceeded),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case repository.IsUnavailable(err):
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Kind возвращает строковый код вида ошибки для клиентов API и метрик.
func Kind(err error) string {
	switch {
	case err == nil:
		return "OK"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrDuplicateInFixed):
		return "DUPLICATE_IN_FIXED"
	case errors.Is(err, ErrDuplicateInCustom):
		return "DUPLICATE_IN_CUSTOM"
	case errors.Is(err, ErrDuplicateKeys):
		return "DUPLICATE_KEYS"
	case errors.Is(err, ErrQuotaExceeded):
		return "QUOTA_EXCEEDED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrStoreUnavailable):
		return "STORE_UNAVAILABLE"
	}
	return "INTERNAL_ERROR"
}
