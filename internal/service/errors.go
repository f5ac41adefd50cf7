// Пакет service — бизнес-логика flashdrop: жизненный цикл контента,
// удаление с повторами, очистка и приём загрузок.
package service

import (
	"errors"
	"fmt"
)

// Ошибки сервисного слоя.
var (
	// ErrValidation — некорректные входные данные (400, не повторяется).
	ErrValidation = errors.New("ошибка валидации")
	// ErrConflict — slug занят живым контентом.
	ErrConflict = errors.New("slug уже используется")
	// ErrStoreUnavailable — хранилище метаданных недоступно.
	ErrStoreUnavailable = errors.New("хранилище метаданных недоступно")
	// ErrInvalidTransition — переход, запрещённый таблицей жизненного цикла.
	ErrInvalidTransition = errors.New("недопустимый переход состояния")
)

// ValidationError — ошибка валидации с машиночитаемым кодом.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is позволяет сравнивать через errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func validationErr(code, format string, args ...any) error {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}
