// Пакет storage — порт объектного хранилища контента.
// Реализации: filestore (локальный диск через afero) и s3store (S3-совместимое хранилище).
package storage

import (
	"context"
	"errors"
	"io"
	"regexp"
	"time"
)

// Ошибки объектного хранилища.
var (
	// ErrObjectNotFound — объект отсутствует.
	ErrObjectNotFound = errors.New("объект не найден")
	// ErrSizeMismatch — фактический размер потока не совпал с заявленным.
	ErrSizeMismatch = errors.New("размер данных не совпадает с заявленным")
	// ErrInvalidName — недопустимое имя объекта.
	ErrInvalidName = errors.New("недопустимое имя объекта")
)

// PutResult — результат записи объекта.
type PutResult struct {
	// URL — публичный адрес объекта
	URL string
	// Size — фактически записано байт
	Size int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
}

// ObjectInfo — сведения об объекте при чтении.
type ObjectInfo struct {
	Name        string
	Size        int64
	ContentType string
	ModTime     time.Time
}

// ObjectStore — объектное хранилище контента.
type ObjectStore interface {
	// Put записывает объект name из r. size — заявленный размер (< 0 — неизвестен).
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (*PutResult, error)
	// Remove удаляет объект. Отсутствующий объект — не ошибка.
	Remove(ctx context.Context, name string) error
	// Open открывает объект на чтение. Вызывающий закрывает ReadCloser.
	Open(ctx context.Context, name string) (io.ReadCloser, *ObjectInfo, error)
	// URL возвращает публичный адрес объекта без обращения к хранилищу.
	URL(name string) string
	// Check проверяет доступность хранилища (readiness).
	Check(ctx context.Context) error
}

// nameRe — slug и необязательное расширение. Исключает разделители путей.
var nameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}(\.[a-z0-9]{1,8})?$`)

// ValidName проверяет имя объекта.
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}
