// Пакет config — загрузка и валидация конфигурации Extension Registry
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Extension Registry.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимальный размер пула соединений
	DBMaxConns int32
	// lock_timeout для каждой сессии пула. Транзакция, не получившая
	// блокировку строки настроек за это время, завершается ошибкой.
	DBLockTimeout time.Duration
	// statement_timeout для каждой сессии пула
	DBStatementTimeout time.Duration

	// --- Очистка soft-deleted записей ---

	// Запускать ли встроенный ежедневный планировщик
	PurgeEnabled bool
	// Время ежедневного запуска (UTC), часы и минуты
	PurgeHour   int
	PurgeMinute int

	// --- Кэш проверки загрузок ---

	PolicyCacheSize int
	PolicyCacheTTL  time.Duration

	// --- JWT ---

	// Включена ли проверка JWT на API-маршрутах
	AuthEnabled bool
	// URL JWKS endpoint
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Допуск расхождения часов
	JWTLeeway time.Duration
	// Группы, дающие роль admin (через запятую)
	RoleAdminGroups []string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// ER_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("ER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("ER_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("ER_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("ER_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("ER_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("ER_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("ER_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("ER_DB_HOST")
	if err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("ER_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("ER_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("ER_DB_NAME")
	if err != nil {
		return nil, err
	}

	cfg.DBUser, err = getEnvRequired("ER_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("ER_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("ER_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("ER_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	maxConns, err := getEnvInt("ER_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("ER_DB_MAX_CONNS: %w", err)
	}
	if maxConns < 1 || maxConns > 1000 {
		return nil, fmt.Errorf("ER_DB_MAX_CONNS: значение %d вне допустимого диапазона 1-1000", maxConns)
	}
	cfg.DBMaxConns = int32(maxConns)

	// ER_DB_LOCK_TIMEOUT — нулевое значение в PostgreSQL означает бесконечное
	// ожидание, поэтому требуется строго положительное.
	cfg.DBLockTimeout, err = getEnvDuration("ER_DB_LOCK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ER_DB_LOCK_TIMEOUT: %w", err)
	}
	if cfg.DBLockTimeout < time.Millisecond {
		return nil, fmt.Errorf("ER_DB_LOCK_TIMEOUT: значение %v должно быть не меньше 1ms", cfg.DBLockTimeout)
	}

	cfg.DBStatementTimeout, err = getEnvDuration("ER_DB_STATEMENT_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ER_DB_STATEMENT_TIMEOUT: %w", err)
	}
	if cfg.DBStatementTimeout < time.Millisecond {
		return nil, fmt.Errorf("ER_DB_STATEMENT_TIMEOUT: значение %v должно быть не меньше 1ms", cfg.DBStatementTimeout)
	}

	// --- Очистка ---

	cfg.PurgeEnabled, err = getEnvBool("ER_PURGE_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("ER_PURGE_ENABLED: %w", err)
	}

	cfg.PurgeHour, cfg.PurgeMinute, err = parseClock(getEnvDefault("ER_PURGE_AT", "02:00"))
	if err != nil {
		return nil, fmt.Errorf("ER_PURGE_AT: %w", err)
	}

	// --- Кэш проверки загрузок ---

	cfg.PolicyCacheSize, err = getEnvInt("ER_POLICY_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("ER_POLICY_CACHE_SIZE: %w", err)
	}
	if cfg.PolicyCacheSize < 0 {
		return nil, fmt.Errorf("ER_POLICY_CACHE_SIZE: значение %d не может быть отрицательным", cfg.PolicyCacheSize)
	}

	cfg.PolicyCacheTTL, err = getEnvDuration("ER_POLICY_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ER_POLICY_CACHE_TTL: %w", err)
	}

	// --- JWT ---

	cfg.AuthEnabled, err = getEnvBool("ER_AUTH_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("ER_AUTH_ENABLED: %w", err)
	}

	if cfg.AuthEnabled {
		cfg.JWTJWKSURL, err = getEnvRequired("ER_JWT_JWKS_URL")
		if err != nil {
			return nil, err
		}
		cfg.JWTIssuer, err = getEnvRequired("ER_JWT_ISSUER")
		if err != nil {
			return nil, err
		}
	} else {
		cfg.JWTJWKSURL = getEnvDefault("ER_JWT_JWKS_URL", "")
		cfg.JWTIssuer = getEnvDefault("ER_JWT_ISSUER", "")
	}

	cfg.JWTLeeway, err = getEnvDuration("ER_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ER_JWT_LEEWAY: %w", err)
	}

	cfg.RoleAdminGroups = parseCSV(getEnvDefault("ER_ROLE_ADMIN_GROUPS", "registry-admins"))

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("ER_DEPHEALTH_GROUP", "extension-registry")

	cfg.DephealthCheckInterval, err = getEnvDuration("ER_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ER_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("ER_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ER_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без учётных данных
// (для лейблов метрик topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool принимает значения, понятные strconv.ParseBool (true, false, 1, 0, ...).
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseClock разбирает время суток в формате HH:MM.
func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("некорректное время %q, ожидается формат HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
