// Пакет config — загрузка и валидация конфигурации flashdrop
// из переменных окружения (префикс FD_).
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды объектного хранилища.
const (
	StorageBackendLocal = "local"
	StorageBackendS3    = "s3"
)

// Config содержит все параметры конфигурации flashdrop.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Таймаут одной операции с хранилищами (метаданные, объекты)
	StoreTimeout time.Duration

	// --- Жизненный цикл контента ---

	// Максимальный размер загружаемого файла в байтах (включительно)
	MaxFileSize int64
	// Время жизни контента с момента загрузки
	ContentTTL time.Duration
	// Максимальное количество попыток удаления при временных ошибках
	DeleteMaxAttempts int
	// Базовая задержка линейного backoff (attempt × base)
	DeleteRetryBaseDelay time.Duration
	// Размер пачки кандидатов при очистке
	SweepBatchSize int
	// Cron-расписание встроенной очистки (пусто — отключено)
	CleanupSchedule string
	// JWKS URL для защиты endpoint очистки (пусто — без аутентификации)
	CleanupJWKSURL string
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Надгробия (410 вместо 404 после удаления) ---

	TombstoneSize int
	TombstoneTTL  time.Duration

	// --- Объектное хранилище ---

	// local или s3
	StorageBackend string
	// Корневая директория локального хранилища
	DataDir string
	// Внешний базовый URL сервиса (для публичных ссылок локального хранилища)
	PublicBaseURL string

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool
	// Базовый публичный URL объектов в бакете
	S3PublicURL string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:cyclop,funlen // линейный разбор переменных окружения
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("FD_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("FD_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FD_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FD_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("FD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FD_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.HTTPReadTimeout, err = getEnvDuration("FD_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("FD_HTTP_WRITE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("FD_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("FD_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost = getEnvDefault("FD_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("FD_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("FD_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("FD_DB_NAME", "flashdrop")
	cfg.DBUser = getEnvDefault("FD_DB_USER", "flashdrop")
	cfg.DBPassword, err = getEnvRequired("FD_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("FD_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("FD_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	cfg.StoreTimeout, err = getEnvPositiveDuration("FD_STORE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_STORE_TIMEOUT: %w", err)
	}

	// --- Жизненный цикл контента ---

	cfg.MaxFileSize, err = getEnvInt64("FD_MAX_FILE_SIZE", 50*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("FD_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("FD_MAX_FILE_SIZE: значение должно быть положительным")
	}

	cfg.ContentTTL, err = getEnvPositiveDuration("FD_CONTENT_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FD_CONTENT_TTL: %w", err)
	}

	cfg.DeleteMaxAttempts, err = getEnvInt("FD_DELETE_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("FD_DELETE_MAX_ATTEMPTS: %w", err)
	}
	if cfg.DeleteMaxAttempts < 1 || cfg.DeleteMaxAttempts > 10 {
		return nil, fmt.Errorf("FD_DELETE_MAX_ATTEMPTS: значение %d вне диапазона 1-10", cfg.DeleteMaxAttempts)
	}

	cfg.DeleteRetryBaseDelay, err = getEnvPositiveDuration("FD_DELETE_RETRY_BASE_DELAY", 200*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("FD_DELETE_RETRY_BASE_DELAY: %w", err)
	}

	cfg.SweepBatchSize, err = getEnvInt("FD_SWEEP_BATCH_SIZE", 500)
	if err != nil {
		return nil, fmt.Errorf("FD_SWEEP_BATCH_SIZE: %w", err)
	}
	if cfg.SweepBatchSize < 1 {
		return nil, fmt.Errorf("FD_SWEEP_BATCH_SIZE: значение должно быть положительным")
	}

	cfg.CleanupSchedule = getEnvDefault("FD_CLEANUP_SCHEDULE", "")
	if cfg.CleanupSchedule != "" {
		if _, err := cron.ParseStandard(cfg.CleanupSchedule); err != nil {
			return nil, fmt.Errorf("FD_CLEANUP_SCHEDULE: некорректное cron-выражение %q: %w", cfg.CleanupSchedule, err)
		}
	}

	cfg.CleanupJWKSURL = getEnvDefault("FD_CLEANUP_JWKS_URL", "")
	cfg.JWTLeeway, err = getEnvDuration("FD_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_JWT_LEEWAY: %w", err)
	}

	cfg.TombstoneSize, err = getEnvInt("FD_TOMBSTONE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("FD_TOMBSTONE_SIZE: %w", err)
	}
	if cfg.TombstoneSize < 1 {
		return nil, fmt.Errorf("FD_TOMBSTONE_SIZE: значение должно быть положительным")
	}
	cfg.TombstoneTTL, err = getEnvPositiveDuration("FD_TOMBSTONE_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FD_TOMBSTONE_TTL: %w", err)
	}

	// --- Объектное хранилище ---

	cfg.StorageBackend = getEnvDefault("FD_STORAGE_BACKEND", StorageBackendLocal)
	cfg.PublicBaseURL = strings.TrimRight(getEnvDefault("FD_PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d", cfg.Port)), "/")
	if _, err := url.ParseRequestURI(cfg.PublicBaseURL); err != nil {
		return nil, fmt.Errorf("FD_PUBLIC_BASE_URL: некорректный URL %q", cfg.PublicBaseURL)
	}

	switch cfg.StorageBackend {
	case StorageBackendLocal:
		cfg.DataDir = getEnvDefault("FD_DATA_DIR", "/var/lib/flashdrop")
	case StorageBackendS3:
		cfg.S3Endpoint = getEnvDefault("FD_S3_ENDPOINT", "")
		cfg.S3Region = getEnvDefault("FD_S3_REGION", "us-east-1")
		cfg.S3Bucket, err = getEnvRequired("FD_S3_BUCKET")
		if err != nil {
			return nil, err
		}
		cfg.S3AccessKey = getEnvDefault("FD_S3_ACCESS_KEY", "")
		cfg.S3SecretKey = getEnvDefault("FD_S3_SECRET_KEY", "")
		if (cfg.S3AccessKey == "") != (cfg.S3SecretKey == "") {
			return nil, fmt.Errorf("FD_S3_ACCESS_KEY и FD_S3_SECRET_KEY задаются только вместе")
		}
		cfg.S3PathStyle, err = getEnvBool("FD_S3_PATH_STYLE", false)
		if err != nil {
			return nil, fmt.Errorf("FD_S3_PATH_STYLE: %w", err)
		}
		cfg.S3PublicURL, err = getEnvRequired("FD_S3_PUBLIC_URL")
		if err != nil {
			return nil, err
		}
		cfg.S3PublicURL = strings.TrimRight(cfg.S3PublicURL, "/")
	default:
		return nil, fmt.Errorf("FD_STORAGE_BACKEND: недопустимое значение %q, допустимые: local, s3", cfg.StorageBackend)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("FD_DEPHEALTH_GROUP", "flashdrop")
	cfg.DephealthCheckInterval, err = getEnvPositiveDuration("FD_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает URL подключения к PostgreSQL для pgxpool.
// Учётные данные экранируются, пароль может содержать любые символы.
func (c *Config) DatabaseDSN() string {
	return c.postgresURL("postgres")
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return c.postgresURL("pgx5")
}

func (c *Config) postgresURL(scheme string) string {
	u := &url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.DBSSLMode}}.Encode(),
	}
	return u.String()
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

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
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

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
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

// getEnvPositiveDuration — как getEnvDuration, но значение должно быть > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
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
