// Точка входа flashdrop — сервиса временного обмена медиафайлами.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL
// и объектному хранилищу, собирает сервисный слой и API handlers,
// запускает встроенное расписание очистки, topologymetrics
// и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/bigkaa/flashdrop/internal/api/handlers"
	"github.com/bigkaa/flashdrop/internal/api/middleware"
	"github.com/bigkaa/flashdrop/internal/config"
	"github.com/bigkaa/flashdrop/internal/database"
	"github.com/bigkaa/flashdrop/internal/repository"
	"github.com/bigkaa/flashdrop/internal/server"
	"github.com/bigkaa/flashdrop/internal/service"
	"github.com/bigkaa/flashdrop/internal/storage"
	"github.com/bigkaa/flashdrop/internal/storage/filestore"
	"github.com/bigkaa/flashdrop/internal/storage/s3store"
)

// Параметры клиента JWKS endpoint защиты очистки.
const (
	jwksClientTimeout   = 10 * time.Second
	jwksRefreshInterval = 15 * time.Minute
)

func main() {
	// 0. Необязательный .env для локального запуска
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Ошибка чтения .env", slog.String("error", err.Error()))
	}

	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("flashdrop запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_backend", cfg.StorageBackend),
	)

	if os.Getenv("FD_DEPHEALTH_GROUP") == "" {
		logger.Warn("FD_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Объектное хранилище
	objects, err := openObjectStore(ctx, cfg)
	if err != nil {
		logger.Error("Ошибка инициализации объектного хранилища",
			slog.String("backend", cfg.StorageBackend),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// 6. Репозиторий метаданных
	contentRepo := repository.NewContentRepository(pool, cfg.StoreTimeout)

	// 7. Сервисный слой
	tombstones := service.NewTombstoneService(cfg.TombstoneSize, cfg.TombstoneTTL)
	lifecycleSvc := service.NewLifecycleService(
		contentRepo,
		objects,
		tombstones,
		service.RetryPolicy{
			MaxAttempts: cfg.DeleteMaxAttempts,
			BaseDelay:   cfg.DeleteRetryBaseDelay,
		},
		cfg.StoreTimeout,
		logger,
	)
	uploadSvc := service.NewUploadService(contentRepo, objects, lifecycleSvc, cfg.MaxFileSize, cfg.ContentTTL, logger)
	sweeperSvc := service.NewSweeperService(contentRepo, lifecycleSvc, cfg.SweepBatchSize, cfg.CleanupSchedule, logger)

	// 8. Health handler
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), objects)

	// 9. API handler. /files/{name} раздаёт только локальное хранилище
	var localObjects storage.ObjectStore
	if cfg.StorageBackend == config.StorageBackendLocal {
		localObjects = objects
	}
	apiHandler := handlers.NewAPIHandler(handlers.Deps{
		Health:      healthHandler,
		Uploader:    uploadSvc,
		Resolver:    lifecycleSvc,
		Sweeper:     sweeperSvc,
		Objects:     localObjects,
		MaxFileSize: cfg.MaxFileSize,
	}, logger)

	// 10. Middleware: recover → метрики → логирование → JWT для очистки
	middlewares := []func(http.Handler) http.Handler{
		middleware.Recoverer(logger),
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	}
	if cfg.CleanupJWKSURL != "" {
		jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.CleanupJWKSURL,
			ClientTimeout:   jwksClientTimeout,
			RefreshInterval: jwksRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		middlewares = append(middlewares, middleware.ProtectPaths(
			middleware.Chain(jwtAuth.Middleware(), middleware.RequireScope(middleware.ScopeCleanup)),
			"/api/cron/cleanup",
		))
		logger.Info("Endpoint очистки защищён JWT",
			slog.String("jwks_url", cfg.CleanupJWKSURL),
			slog.String("scope", middleware.ScopeCleanup),
		)
	} else {
		logger.Warn("FD_CLEANUP_JWKS_URL не задан, endpoint очистки доступен без аутентификации")
	}

	// 11. Встроенное расписание очистки
	if err := sweeperSvc.Start(ctx); err != nil {
		logger.Error("Ошибка запуска расписания очистки", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sweeperSvc.Stop()

	// 12. topologymetrics — мониторинг зависимостей (PostgreSQL + JWKS)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthParams{
		ServiceID:     "flashdrop",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PgConnURL:     cfg.DatabaseURL(),
		JWKSURL:       cfg.CleanupJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
			defer dephealthSvc.Stop()
		}
	}

	// 13. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler, middlewares...)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1) //nolint:gocritic // defer-ы не критичны при аварийном завершении
	}

	logger.Info("flashdrop остановлен")
}

// openObjectStore создаёт объектное хранилище выбранного бэкенда.
func openObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.StorageBackend == config.StorageBackendS3 {
		return s3store.New(ctx, s3store.Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
			PublicURL: cfg.S3PublicURL,
		})
	}
	return filestore.NewOS(cfg.DataDir, cfg.PublicBaseURL)
}
