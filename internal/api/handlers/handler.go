// handler.go — основной обработчик API, реализующий generated.ServerInterface.
// Объединяет health и бизнес-обработчики flashdrop.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/bigkaa/flashdrop/internal/api/generated"
	"github.com/bigkaa/flashdrop/internal/domain/lifecycle"
	"github.com/bigkaa/flashdrop/internal/service"
	"github.com/bigkaa/flashdrop/internal/storage"
)

// Uploader — приём загрузок (service.UploadService).
type Uploader interface {
	Upload(ctx context.Context, params service.UploadParams) (*service.UploadResult, error)
}

// Resolver — разрешение обращений к контенту (service.LifecycleService).
type Resolver interface {
	Resolve(ctx context.Context, slug string, now time.Time) (*service.Decision, error)
	Tombstone(slug string) (lifecycle.Action, bool)
}

// Sweeper — запуск очистки (service.SweeperService).
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time, trigger string) (*service.SweepResult, error)
}

// Deps — зависимости APIHandler.
type Deps struct {
	Health   *HealthHandler
	Uploader Uploader
	Resolver Resolver
	Sweeper  Sweeper
	// Objects — локальное хранилище для /files/{name}; nil, если объекты раздаёт S3
	Objects storage.ObjectStore
	// MaxFileSize — лимит размера файла, для ограничения тела multipart-запроса
	MaxFileSize int64
}

// APIHandler — основной обработчик API flashdrop.
// Реализует generated.ServerInterface, делегируя запросы в сервисный слой.
type APIHandler struct {
	health      *HealthHandler
	uploader    Uploader
	resolver    Resolver
	sweeper     Sweeper
	objects     storage.ObjectStore
	maxFileSize int64
	now         func() time.Time
	logger      *slog.Logger
}

// Проверка на этапе компиляции
var _ generated.ServerInterface = (*APIHandler)(nil)

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(deps Deps, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		health:      deps.Health,
		uploader:    deps.Uploader,
		resolver:    deps.Resolver,
		sweeper:     deps.Sweeper,
		objects:     deps.Objects,
		maxFileSize: deps.MaxFileSize,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Бизнес-обработчики ---

// UploadContent — POST /api/upload.
func (h *APIHandler) UploadContent(w http.ResponseWriter, r *http.Request) {
	h.handleUpload(w, r)
}

// GetContent — GET /api/content/{slug}.
func (h *APIHandler) GetContent(w http.ResponseWriter, r *http.Request, slug generated.Slug) {
	h.handleGetContent(w, r, slug)
}

// TriggerCleanup — POST /api/cron/cleanup.
func (h *APIHandler) TriggerCleanup(w http.ResponseWriter, r *http.Request) {
	h.handleCleanup(w, r)
}

// TriggerCleanupGet — GET /api/cron/cleanup (для планировщиков, умеющих только GET).
func (h *APIHandler) TriggerCleanupGet(w http.ResponseWriter, r *http.Request) {
	h.handleCleanup(w, r)
}

// GetFile — GET /files/{name}.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request, name generated.ObjectName) {
	h.handleGetFile(w, r, name)
}

// GetOpenAPISpec — GET /api/openapi.json.
func (h *APIHandler) GetOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	h.handleOpenAPISpec(w, r)
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
