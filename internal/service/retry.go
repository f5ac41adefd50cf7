package service

import (
	"context"
	"time"

	"github.com/bigkaa/flashdrop/internal/repository"
)

// RetryPolicy — повтор операции при временных ошибках хранилища.
// Задержка перед попыткой n+1 линейная: n × BaseDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Do выполняет fn до MaxAttempts раз, повторяя только при
// repository.IsTransient(err). Возвращает число выполненных попыток
// и последнюю ошибку. Ожидание прерывается отменой ctx.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	maxAttempts := max(p.MaxAttempts, 1)

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(attempt)
		if err == nil || !repository.IsTransient(err) || attempt >= maxAttempts {
			return attempt, err
		}

		timer := time.NewTimer(time.Duration(attempt) * p.BaseDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, err
		case <-timer.C:
		}
		deleteRetriesTotal.Inc()
	}
}
