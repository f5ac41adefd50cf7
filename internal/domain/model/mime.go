package model

import "slices"

// MediaType — категория контента для выбора просмотрщика.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
)

// Valid сообщает, является ли значение известной категорией.
func (m MediaType) Valid() bool {
	switch m {
	case MediaImage, MediaVideo, MediaDocument:
		return true
	}
	return false
}

// mimeEntry — строка таблицы допустимых типов.
type mimeEntry struct {
	ext   string
	media MediaType
}

// mimeTable — белый список MIME-типов. Единственный источник расширений
// объектов и категорий контента.
var mimeTable = map[string]mimeEntry{
	"image/jpeg":      {".jpg", MediaImage},
	"image/png":       {".png", MediaImage},
	"image/gif":       {".gif", MediaImage},
	"image/webp":      {".webp", MediaImage},
	"video/mp4":       {".mp4", MediaVideo},
	"video/webm":      {".webm", MediaVideo},
	"video/ogg":       {".ogv", MediaVideo},
	"video/quicktime": {".mov", MediaVideo},
	"application/pdf": {".pdf", MediaDocument},
}

// AllowedMime сообщает, входит ли тип в белый список.
func AllowedMime(mimeType string) bool {
	_, ok := mimeTable[mimeType]
	return ok
}

// Extension возвращает расширение объекта для MIME-типа.
// Для неизвестного типа — пустая строка.
func Extension(mimeType string) string {
	return mimeTable[mimeType].ext
}

// MediaTypeOf возвращает категорию контента для MIME-типа.
func MediaTypeOf(mimeType string) (MediaType, bool) {
	e, ok := mimeTable[mimeType]
	return e.media, ok
}

// ObjectName — имя объекта в хранилище для slug и MIME-типа.
func ObjectName(slug, mimeType string) string {
	return slug + Extension(mimeType)
}

// AllowedMimeTypes возвращает белый список в алфавитном порядке.
func AllowedMimeTypes() []string {
	out := make([]string, 0, len(mimeTable))
	for k := range mimeTable {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// MimeByExtension возвращает MIME-тип по расширению объекта (с точкой).
func MimeByExtension(ext string) (string, bool) {
	for mt, e := range mimeTable {
		if e.ext == ext {
			return mt, true
		}
	}
	return "", false
}
