// Пакет model — доменные модели flashdrop.
// Content — маппинг таблицы content.
package model

import (
	"regexp"
	"time"
)

// Content — запись метаданных загруженного контента.
// После создания меняется только флаг Viewed (false → true, один раз).
type Content struct {
	// ID — UUID записи, назначается при создании
	ID string
	// Slug — короткое имя в ссылке, уникально среди существующих записей
	Slug string
	// URL — публичный адрес объекта в объектном хранилище
	URL string
	// MimeType — MIME-тип из белого списка
	MimeType string
	// MediaType — image, video или document (выводится из MimeType)
	MediaType MediaType
	// Size — размер в байтах
	Size int64
	// ViewOnce — удалить после первого просмотра
	ViewOnce bool
	// Viewed — просмотр уже выдан (только для ViewOnce)
	Viewed bool
	// ExpiresAt — момент истечения: время создания + TTL
	ExpiresAt time.Time
	// CreatedAt — время создания записи (выставляет БД)
	CreatedAt time.Time
}

// ObjectName возвращает имя объекта в хранилище: slug + расширение по MIME.
func (c *Content) ObjectName() string {
	return ObjectName(c.Slug, c.MimeType)
}

// Expired сообщает, истёк ли TTL на момент now.
// Граница включительная: при now == ExpiresAt контент ещё жив.
func (c *Content) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Consumed — одноразовый контент, который уже был выдан.
func (c *Content) Consumed() bool {
	return c.ViewOnce && c.Viewed
}

// Reapable — запись подлежит удалению при очистке.
func (c *Content) Reapable(now time.Time) bool {
	return c.Consumed() || c.Expired(now)
}

// MaxSlugLength — максимальная длина slug.
const MaxSlugLength = 64

var slugRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidSlug проверяет формат slug: латиница, цифры, '_' и '-', от 1 до 64 символов.
func ValidSlug(slug string) bool {
	return slugRe.MatchString(slug)
}
