// lifecycle.go — движок жизненного цикла контента.
//
// Resolve перечитывает запись при каждом обращении и применяет таблицу
// решений из domain/lifecycle. Истёкшие и уже просмотренные записи
// удаляются в момент обращения (ленивая очистка), одноразовый контент
// выдаётся только после успешного compare-and-set флага viewed.
//
// Delete — протокол удаления: транзакция над метаданными с повтором при
// временных ошибках, затем удаление объекта. Метаданные авторитетны:
// объект удаляется только после коммита, под блокировкой slug и только
// если slug не занят новой записью с тем же объектом. Ошибка удаления
// объекта логируется и не возвращается.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/flashdrop/internal/domain/lifecycle"
	"github.com/bigkaa/flashdrop/internal/domain/model"
	"github.com/bigkaa/flashdrop/internal/repository"
	"github.com/bigkaa/flashdrop/internal/storage"
)

// maxResolveRounds — перечитывания после проигранного CAS.
// Проигрыш означает, что запись ушла из состояния live, поэтому
// второго раунда всегда достаточно.
const maxResolveRounds = 3

// slugLockWait — сколько удаление объекта ждёт блокировку slug сверх таймаута хранилища.
const slugLockWait = time.Minute

// ViewPayload — данные для показа контента.
type ViewPayload struct {
	URL       string
	MimeType  string
	MediaType model.MediaType
	ViewOnce  bool
	ExpiresAt time.Time
	// Viewer — подсказка слою представления, какой просмотрщик выбрать
	Viewer string
}

// Decision — итог обращения к контенту.
type Decision struct {
	Action lifecycle.Action
	// Payload заполнен только для ActionServe
	Payload *ViewPayload
}

// Gone сообщает, что контент существовал, но больше недоступен.
func (d *Decision) Gone() bool {
	return d.Action == lifecycle.ActionDeleteExpired || d.Action == lifecycle.ActionDeleteViewed
}

// LifecycleService — разрешение обращений и удаление контента.
type LifecycleService struct {
	repo         repository.ContentRepository
	objects      storage.ObjectStore
	tombstones   *TombstoneService
	retry        RetryPolicy
	storeTimeout time.Duration
	logger       *slog.Logger
}

// NewLifecycleService создаёт движок жизненного цикла.
// tombstones может быть nil.
func NewLifecycleService(
	repo repository.ContentRepository,
	objects storage.ObjectStore,
	tombstones *TombstoneService,
	retry RetryPolicy,
	storeTimeout time.Duration,
	logger *slog.Logger,
) *LifecycleService {
	return &LifecycleService{
		repo:         repo,
		objects:      objects,
		tombstones:   tombstones,
		retry:        retry,
		storeTimeout: storeTimeout,
		logger:       logger.With(slog.String("component", "lifecycle")),
	}
}

// Resolve определяет, что делать с обращением к slug в момент now.
// Ошибка возвращается только при недоступности хранилища метаданных
// и оборачивает ErrStoreUnavailable; отсутствие контента ошибкой не является.
func (s *LifecycleService) Resolve(ctx context.Context, slug string, now time.Time) (*Decision, error) {
	if !model.ValidSlug(slug) {
		resolveTotal.WithLabelValues(lifecycle.ActionNotFound.String()).Inc()
		return &Decision{Action: lifecycle.ActionNotFound}, nil
	}

	for range maxResolveRounds {
		c, err := s.repo.GetBySlug(ctx, slug)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c = nil
			} else {
				return nil, s.storeFailure("чтение записи", slug, err)
			}
		}

		action := lifecycle.Decide(c, now)
		switch action {
		case lifecycle.ActionNotFound:
			return s.decided(action, nil), nil

		case lifecycle.ActionDeleteExpired, lifecycle.ActionDeleteViewed:
			if _, err := s.Reap(ctx, c, action); err != nil {
				return nil, s.storeFailure("удаление записи", slug, err)
			}
			return s.decided(action, nil), nil

		case lifecycle.ActionServe:
			if !lifecycle.NeedsMark(c) {
				return s.decided(action, payloadOf(c)), nil
			}
			if err := s.checkTransition(c, lifecycle.StateOf(c, now), lifecycle.StateViewed); err != nil {
				return nil, err
			}
			marked, err := s.repo.MarkViewed(ctx, c.ID, now)
			if err != nil {
				return nil, s.storeFailure("отметка просмотра", slug, err)
			}
			if marked {
				c.Viewed = true
				s.logger.Info("Одноразовый контент выдан",
					slog.String("slug", slug),
					slog.String("id", c.ID),
				)
				return s.decided(action, payloadOf(c)), nil
			}
			// CAS проигран: запись изменилась, перечитываем
			s.logger.Debug("Конкурентная выдача одноразового контента, повторное чтение",
				slog.String("slug", slug),
			)
		}
	}

	return nil, s.storeFailure("разрешение обращения", slug,
		fmt.Errorf("состояние не стабилизировалось за %d чтений", maxResolveRounds))
}

// Reap удаляет запись и запоминает надгробие с причиной удаления.
func (s *LifecycleService) Reap(ctx context.Context, c *model.Content, reason lifecycle.Action) (bool, error) {
	if err := s.checkTransition(c, lifecycle.SourceState(reason), lifecycle.StateAbsent); err != nil {
		return false, err
	}
	deleted, err := s.Delete(ctx, c)
	if err != nil {
		return false, err
	}
	s.tombstones.Remember(c.Slug, reason)
	return deleted, nil
}

// Delete выполняет протокол удаления записи и её объекта.
//
// Порядок:
//  1. Транзакция SELECT FOR UPDATE + DELETE (повтор при временных ошибках)
//  2. Запись уже отсутствует — успех с deleted=false
//  3. После коммита — удаление объекта slug+ext; ошибка только логируется
func (s *LifecycleService) Delete(ctx context.Context, c *model.Content) (bool, error) {
	var deleted bool
	attempts, err := s.retry.Do(ctx, func(attempt int) error {
		var err error
		deleted, err = s.repo.Delete(ctx, c.ID)
		if err != nil && attempt < s.retry.MaxAttempts && repository.IsTransient(err) {
			s.logger.Warn("Временная ошибка удаления, повтор",
				slog.String("id", c.ID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		return err
	})
	if err != nil {
		deleteTotal.WithLabelValues("failed").Inc()
		s.logger.Error("Ошибка удаления записи",
			slog.String("id", c.ID),
			slog.String("slug", c.Slug),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		return false, fmt.Errorf("удаление записи %s (попыток: %d): %w", c.ID, attempts, err)
	}

	if !deleted {
		deleteTotal.WithLabelValues("absent").Inc()
		s.logger.Debug("Запись уже удалена", slog.String("id", c.ID))
		return false, nil
	}
	deleteTotal.WithLabelValues("deleted").Inc()

	s.removeObject(ctx, c)

	s.logger.Info("Контент удалён",
		slog.String("id", c.ID),
		slog.String("slug", c.Slug),
		slog.Int("attempts", attempts),
	)
	return true, nil
}

// removeObject удаляет объект записи под блокировкой slug. Объект-сирота
// не нарушает инвариантов: без записи он недостижим через API. Объект,
// на который указывает запись, занимающая slug, не удаляется.
func (s *LifecycleService) removeObject(ctx context.Context, c *model.Content) {
	name := c.ObjectName()

	// Запись уже удалена: отмена запроса не должна оставлять объект.
	// Блокировку может держать загрузка, пишущая объект.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout+slugLockWait)
	defer cancel()

	err := s.repo.WithSlugLock(ctx, c.Slug, func(ctx context.Context, current *model.Content) error {
		if current != nil && current.ObjectName() == name {
			objectRemoveSkippedTotal.Inc()
			s.logger.Info("Объект принадлежит новой записи, удаление пропущено",
				slog.String("id", c.ID),
				slog.String("object", name),
				slog.String("current_id", current.ID),
			)
			return nil
		}
		return s.objects.Remove(ctx, name)
	})
	if err != nil {
		objectRemoveErrorsTotal.Inc()
		s.logger.Error("Ошибка удаления объекта",
			slog.String("id", c.ID),
			slog.String("object", name),
			slog.String("error", err.Error()),
		)
	}
}

// Tombstone возвращает причину недавнего удаления slug.
func (s *LifecycleService) Tombstone(slug string) (lifecycle.Action, bool) {
	return s.tombstones.Lookup(slug)
}

// checkTransition отклоняет переход, которого нет в таблице жизненного цикла.
func (s *LifecycleService) checkTransition(c *model.Content, from, to lifecycle.State) error {
	if lifecycle.CanTransition(from, to) {
		return nil
	}
	s.logger.Error("Недопустимый переход состояния контента",
		slog.String("id", c.ID),
		slog.String("slug", c.Slug),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}

func (s *LifecycleService) decided(action lifecycle.Action, p *ViewPayload) *Decision {
	resolveTotal.WithLabelValues(action.String()).Inc()
	return &Decision{Action: action, Payload: p}
}

// storeFailure логирует и оборачивает ошибку хранилища метаданных.
func (s *LifecycleService) storeFailure(op, slug string, err error) error {
	resolveTotal.WithLabelValues("error").Inc()
	s.logger.Error("Хранилище метаданных недоступно",
		slog.String("operation", op),
		slog.String("slug", slug),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func payloadOf(c *model.Content) *ViewPayload {
	return &ViewPayload{
		URL:       c.URL,
		MimeType:  c.MimeType,
		MediaType: c.MediaType,
		ViewOnce:  c.ViewOnce,
		ExpiresAt: c.ExpiresAt,
		Viewer:    string(c.MediaType),
	}
}
