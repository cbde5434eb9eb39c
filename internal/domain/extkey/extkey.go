// Пакет extkey — нормализация и проверка ключей расширений.
// Ключ — строка в нижнем регистре без ведущей точки, до 20 символов.
// Допускаются составные расширения через точку (tar.gz).
package extkey

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxLength — максимальная длина ключа (соответствует VARCHAR(20) в БД).
const MaxLength = 20

var keyPattern = regexp.MustCompile(`^[a-z0-9]+(\.[a-z0-9]+)*$`)

// Ошибки валидации ключа.
var (
	ErrEmpty      = errors.New("расширение не задано")
	ErrTooLong    = fmt.Errorf("расширение длиннее %d символов", MaxLength)
	ErrBadCharset = errors.New("расширение может содержать только латинские буквы, цифры и точки-разделители")
)

// Normalize приводит ввод к каноническому виду:
// обрезает пробелы, убирает одну ведущую точку, переводит в нижний регистр.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, ".")
	return strings.ToLower(s)
}

// Validate проверяет уже нормализованный ключ.
func Validate(key string) error {
	switch {
	case key == "":
		return ErrEmpty
	case len(key) > MaxLength:
		return ErrTooLong
	case !keyPattern.MatchString(key):
		return ErrBadCharset
	}
	return nil
}

// Parse нормализует и проверяет ключ за один вызов.
func Parse(raw string) (string, error) {
	key := Normalize(raw)
	if err := Validate(key); err != nil {
		return "", err
	}
	return key, nil
}

// Candidates возвращает ключи, которые нужно проверить для имени файла:
// все суффиксы после точек, от самого длинного к самому короткому.
// "report.tar.gz" → ["tar.gz", "gz"]. Имя без расширения → nil.
// Недопустимые суффиксы (длинные, со спецсимволами) пропускаются.
func Candidates(filename string) []string {
	name := strings.ToLower(strings.TrimSpace(filename))
	// Берём только последний сегмент пути
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	var out []string
	for i := 0; i < len(name); i++ {
		if name[i] != '.' {
			continue
		}
		suffix := name[i+1:]
		if Validate(suffix) == nil {
			out = append(out, suffix)
		}
	}
	return out
}
