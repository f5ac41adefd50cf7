// sweeper.go — очистка истёкшего и просмотренного контента.
//
// Кандидаты отбираются в PostgreSQL пачками (keyset по id) и удаляются
// через протокол LifecycleService.Reap. Ошибка одной записи логируется
// и не прерывает проход. Cleaned считает только записи, удалённые этим
// вызовом, поэтому параллельные проходы не учитывают запись дважды.
//
// Источники запуска: HTTP /api/cron/cleanup, встроенное cron-расписание
// (FD_CLEANUP_SCHEDULE) и одноразовый бинарник flashdrop-sweep.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bigkaa/flashdrop/internal/domain/lifecycle"
	"github.com/bigkaa/flashdrop/internal/repository"
)

// Источники запуска очистки (лейбл метрики).
const (
	TriggerHTTP     = "http"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)

// SweepResult — результат одного прохода очистки.
type SweepResult struct {
	// Scanned — количество просмотренных кандидатов
	Scanned int
	// Cleaned — количество записей, удалённых этим проходом
	Cleaned int
	// Failed — количество записей, которые не удалось удалить
	Failed int
	// Duration — длительность прохода
	Duration time.Duration
}

// SweeperService — сервис очистки контента.
type SweeperService struct {
	repo      repository.ContentRepository
	lifecycle *LifecycleService
	batchSize int
	schedule  string
	now       func() time.Time
	logger    *slog.Logger

	mu   sync.Mutex // защита cron от повторного Start/Stop
	cron *cron.Cron
}

// NewSweeperService создаёт сервис очистки.
// schedule — cron-выражение (пусто — встроенное расписание отключено).
func NewSweeperService(
	repo repository.ContentRepository,
	lc *LifecycleService,
	batchSize int,
	schedule string,
	logger *slog.Logger,
) *SweeperService {
	return &SweeperService{
		repo:      repo,
		lifecycle: lc,
		batchSize: batchSize,
		schedule:  schedule,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "sweeper")),
	}
}

// Sweep удаляет все записи, подлежащие очистке на момент now.
// Ошибка возвращается, только если не удалось получить кандидатов;
// результат при этом содержит уже выполненную работу.
func (s *SweeperService) Sweep(ctx context.Context, now time.Time, trigger string) (*SweepResult, error) {
	start := time.Now()
	result := &SweepResult{}

	defer func() {
		result.Duration = time.Since(start)
		sweepRunsTotal.WithLabelValues(trigger).Inc()
		sweepCleanedTotal.Add(float64(result.Cleaned))
		sweepFailedTotal.Add(float64(result.Failed))
		sweepDurationSeconds.Observe(result.Duration.Seconds())
	}()

	s.logger.Debug("Очистка начата",
		slog.String("trigger", trigger),
		slog.Time("now", now),
	)

	cursor := ""
	for {
		batch, err := s.repo.ListReapable(ctx, now, cursor, s.batchSize)
		if err != nil {
			s.logger.Error("Ошибка выборки кандидатов на очистку",
				slog.String("trigger", trigger),
				slog.Int("cleaned", result.Cleaned),
				slog.String("error", err.Error()),
			)
			return result, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}

		for _, c := range batch {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			result.Scanned++

			reason := lifecycle.Decide(c, now)
			if reason != lifecycle.ActionDeleteExpired && reason != lifecycle.ActionDeleteViewed {
				// Запись изменилась между выборкой и проверкой часов
				continue
			}

			deleted, err := s.lifecycle.Reap(ctx, c, reason)
			if err != nil {
				result.Failed++
				s.logger.Warn("Очистка: запись не удалена",
					slog.String("id", c.ID),
					slog.String("slug", c.Slug),
					slog.String("error", err.Error()),
				)
				continue
			}
			if deleted {
				result.Cleaned++
			}
		}

		if len(batch) < s.batchSize {
			break
		}
		cursor = batch[len(batch)-1].ID
	}

	s.logger.Info("Очистка завершена",
		slog.String("trigger", trigger),
		slog.Int("scanned", result.Scanned),
		slog.Int("cleaned", result.Cleaned),
		slog.Int("failed", result.Failed),
		slog.Int("tombstones", s.lifecycle.tombstones.Len()),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// Start запускает встроенное расписание очистки, если оно задано.
// Перекрывающиеся запуски пропускаются (SkipIfStillRunning).
func (s *SweeperService) Start(ctx context.Context) error {
	if s.schedule == "" {
		s.logger.Info("Встроенное расписание очистки отключено")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	cl := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(ctx, s.now(), TriggerSchedule); err != nil {
			s.logger.Error("Плановая очистка завершилась ошибкой", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("некорректное расписание очистки %q: %w", s.schedule, err)
	}

	c.Start()
	s.cron = c

	s.logger.Info("Встроенное расписание очистки запущено",
		slog.String("schedule", s.schedule),
	)
	return nil
}

// Stop останавливает расписание и дожидается текущего прохода.
func (s *SweeperService) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("Встроенное расписание очистки остановлено")
}

// cronLogger — адаптер slog для robfig/cron.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
