// Точка входа flashdrop-sweep — одноразовый проход очистки для внешнего
// планировщика (Kubernetes CronJob). Использует ту же конфигурацию, что
// и сервер, выполняет один Sweep и завершается с кодом 1 при ошибке.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bigkaa/flashdrop/internal/config"
	"github.com/bigkaa/flashdrop/internal/database"
	"github.com/bigkaa/flashdrop/internal/repository"
	"github.com/bigkaa/flashdrop/internal/service"
	"github.com/bigkaa/flashdrop/internal/storage"
	"github.com/bigkaa/flashdrop/internal/storage/filestore"
	"github.com/bigkaa/flashdrop/internal/storage/s3store"
)

// sweepReport — итог прохода, печатается в stdout.
type sweepReport struct {
	Success    bool    `json:"success"`
	Scanned    int     `json:"scanned"`
	Cleaned    int     `json:"cleaned"`
	Failed     int     `json:"failed"`
	DurationMs float64 `json:"durationMs"`
	Error      string  `json:"error,omitempty"`
}

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Ошибка чтения .env", slog.String("error", err.Error()))
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		return 1
	}
	logger := config.SetupLogger(cfg)

	// SIGTERM от CronJob прерывает проход между записями
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		return 1
	}
	defer pool.Close()

	var objects storage.ObjectStore
	if cfg.StorageBackend == config.StorageBackendS3 {
		objects, err = s3store.New(ctx, s3store.Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
			PublicURL: cfg.S3PublicURL,
		})
	} else {
		objects, err = filestore.NewOS(cfg.DataDir, cfg.PublicBaseURL)
	}
	if err != nil {
		logger.Error("Ошибка инициализации объектного хранилища", slog.String("error", err.Error()))
		return 1
	}

	contentRepo := repository.NewContentRepository(pool, cfg.StoreTimeout)
	// Надгробия живут в памяти сервера, одноразовому процессу они не нужны
	lifecycleSvc := service.NewLifecycleService(
		contentRepo,
		objects,
		nil,
		service.RetryPolicy{
			MaxAttempts: cfg.DeleteMaxAttempts,
			BaseDelay:   cfg.DeleteRetryBaseDelay,
		},
		cfg.StoreTimeout,
		logger,
	)
	sweeperSvc := service.NewSweeperService(contentRepo, lifecycleSvc, cfg.SweepBatchSize, "", logger)

	result, sweepErr := sweeperSvc.Sweep(ctx, time.Now().UTC(), service.TriggerCLI)

	report := sweepReport{Success: sweepErr == nil}
	if result != nil {
		report.Scanned = result.Scanned
		report.Cleaned = result.Cleaned
		report.Failed = result.Failed
		report.DurationMs = float64(result.Duration) / float64(time.Millisecond)
	}
	if sweepErr != nil {
		report.Error = sweepErr.Error()
	}
	if err := json.NewEncoder(os.Stdout).Encode(report); err != nil {
		logger.Error("Ошибка вывода результата", slog.String("error", err.Error()))
	}

	if sweepErr != nil {
		logger.Error("Очистка завершилась ошибкой", slog.String("error", sweepErr.Error()))
		return 1
	}
	return 0
}
