package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики жизненного цикла контента.
var (
	// resolveTotal — обращения к контенту по итоговому решению.
	resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fd_resolve_total",
		Help: "Общее количество обращений к контенту по решению (serve, expired, already_viewed, not_found, error)",
	}, []string{"result"})

	// deleteTotal — результаты протокола удаления.
	deleteTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fd_delete_total",
		Help: "Результаты удаления записей (deleted, absent, failed)",
	}, []string{"result"})

	// deleteRetriesTotal — повторные попытки удаления после временных ошибок.
	deleteRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_delete_retries_total",
		Help: "Общее количество повторных попыток удаления",
	})

	// objectRemoveErrorsTotal — неудачные удаления объектов после удаления метаданных.
	objectRemoveErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_object_remove_errors_total",
		Help: "Общее количество ошибок удаления объектов (объект-сирота)",
	})

	// objectRemoveSkippedTotal — объекты, перешедшие к новой записи с тем же slug.
	objectRemoveSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_object_remove_skipped_total",
		Help: "Общее количество пропущенных удалений объектов, занятых новой записью",
	})

	// sweepRunsTotal — запуски очистки по источнику.
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fd_sweep_runs_total",
		Help: "Общее количество запусков очистки",
	}, []string{"trigger"})

	// sweepCleanedTotal — записи, удалённые очисткой.
	sweepCleanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_sweep_cleaned_total",
		Help: "Общее количество записей, удалённых очисткой",
	})

	// sweepFailedTotal — записи, которые очистка не смогла удалить.
	sweepFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_sweep_failed_total",
		Help: "Общее количество ошибок удаления при очистке",
	})

	// sweepDurationSeconds — длительность очистки.
	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fd_sweep_duration_seconds",
		Help:    "Длительность очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	// uploadsTotal — загрузки по результату.
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fd_uploads_total",
		Help: "Общее количество загрузок по результату (success, invalid, conflict, error)",
	}, []string{"result"})

	// uploadBytesTotal — объём загруженных данных.
	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_upload_bytes_total",
		Help: "Общий объём загруженных данных в байтах",
	})

	// tombstoneHitsTotal / tombstoneMissesTotal — обращения к надгробиям.
	tombstoneHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_tombstone_hits_total",
		Help: "Количество ответов 410 по надгробию удалённого контента",
	})
	tombstoneMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_tombstone_misses_total",
		Help: "Количество промахов по надгробиям",
	})
)
