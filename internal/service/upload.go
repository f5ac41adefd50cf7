// upload.go — приём загрузок контента.
//
// Поток:
//  1. Валидация: наличие контента → размер → MIME из белого списка → slug
//  2. Генерация slug (nanoid), если не задан
//  3. Транзакция: INSERT записи (уникальный slug резервирует имя) →
//     запись объекта → COMMIT
//
// Ошибка записи объекта откатывает вставку. Ошибка коммита после записи
// объекта приводит к best-effort удалению объекта.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	apierrors "github.com/bigkaa/flashdrop/internal/api/errors"
	"github.com/bigkaa/flashdrop/internal/domain/lifecycle"
	"github.com/bigkaa/flashdrop/internal/domain/model"
	"github.com/bigkaa/flashdrop/internal/repository"
	"github.com/bigkaa/flashdrop/internal/storage"
)

const (
	// generatedSlugLength — длина случайного slug.
	generatedSlugLength = 10
	// maxSlugAttempts — попытки подобрать свободный случайный slug.
	maxSlugAttempts = 3
	// sniffLimit — сколько байт читать для определения MIME по содержимому.
	sniffLimit = 3072
)

// UploadParams — параметры загрузки.
// Ровно один источник: Reader (файл) или URL (объект уже загружен клиентом).
type UploadParams struct {
	// Reader — поток данных файла
	Reader io.Reader
	// URL — публичный адрес заранее загруженного объекта
	URL string
	// MimeType — заявленный MIME-тип (пусто или octet-stream — определить по содержимому)
	MimeType string
	// MediaType — заявленная категория (необязательно, сверяется с MimeType)
	MediaType string
	// Size — размер в байтах
	Size int64
	// Slug — желаемое короткое имя (пусто — сгенерировать)
	Slug string
	// ViewOnce — удалить после первого просмотра
	ViewOnce bool
}

// UploadResult — результат загрузки.
type UploadResult struct {
	Content *model.Content
	// Checksum — SHA-256 записанного объекта (пусто для загрузки по URL)
	Checksum string
}

// UploadService — сервис приёма загрузок.
type UploadService struct {
	repo        repository.ContentRepository
	objects     storage.ObjectStore
	lifecycle   *LifecycleService
	maxFileSize int64
	ttl         time.Duration
	now         func() time.Time
	newSlug     func() (string, error)
	logger      *slog.Logger
}

// NewUploadService создаёт сервис загрузок.
func NewUploadService(
	repo repository.ContentRepository,
	objects storage.ObjectStore,
	lc *LifecycleService,
	maxFileSize int64,
	ttl time.Duration,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		repo:        repo,
		objects:     objects,
		lifecycle:   lc,
		maxFileSize: maxFileSize,
		ttl:         ttl,
		now:         func() time.Time { return time.Now().UTC() },
		newSlug:     func() (string, error) { return gonanoid.New(generatedSlugLength) },
		logger:      logger.With(slog.String("component", "upload_service")),
	}
}

// Upload проверяет параметры и сохраняет контент.
// Ошибки: *ValidationError (ErrValidation), ErrConflict, прочие — 500.
func (s *UploadService) Upload(ctx context.Context, params UploadParams) (*UploadResult, error) {
	c, reader, err := s.validate(params)
	if err != nil {
		uploadsTotal.WithLabelValues("invalid").Inc()
		s.logger.Debug("Загрузка отклонена", slog.String("error", err.Error()))
		return nil, err
	}

	generated := c.Slug == ""
	var checksum string
	for attempt := 1; ; attempt++ {
		if generated {
			if c.Slug, err = s.newSlug(); err != nil {
				uploadsTotal.WithLabelValues("error").Inc()
				return nil, fmt.Errorf("ошибка генерации slug: %w", err)
			}
		}

		checksum, err = s.store(ctx, c, reader)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, s.failed(c, err)
		}

		if generated {
			// Коллизия случайного slug: берём другой
			if attempt < maxSlugAttempts {
				continue
			}
			return nil, s.failed(c, fmt.Errorf("не удалось подобрать свободный slug: %w", err))
		}

		// Занятый slug можно переиспользовать, только если прежний контент мёртв
		freed := false
		if attempt == 1 {
			var ferr error
			if freed, ferr = s.reclaim(ctx, c.Slug); ferr != nil {
				return nil, s.failed(c, ferr)
			}
		}
		if !freed {
			uploadsTotal.WithLabelValues("conflict").Inc()
			return nil, fmt.Errorf("slug %q: %w", c.Slug, ErrConflict)
		}
	}

	s.lifecycle.tombstones.Forget(c.Slug)
	uploadsTotal.WithLabelValues("success").Inc()
	uploadBytesTotal.Add(float64(c.Size))

	s.logger.Info("Контент загружен",
		slog.String("id", c.ID),
		slog.String("slug", c.Slug),
		slog.String("mime_type", c.MimeType),
		slog.Int64("size", c.Size),
		slog.String("checksum", checksum),
		slog.Bool("view_once", c.ViewOnce),
		slog.Time("expires_at", c.ExpiresAt),
	)
	return &UploadResult{Content: c, Checksum: checksum}, nil
}

// validate проверяет параметры в порядке: контент, размер, тип, slug.
// Возвращает заготовку записи и поток (с учётом прочитанного для определения MIME).
func (s *UploadService) validate(p UploadParams) (*model.Content, io.Reader, error) {
	fileMode := p.Reader != nil

	// 1. Наличие контента
	if !fileMode && strings.TrimSpace(p.URL) == "" {
		return nil, nil, validationErr(apierrors.CodeNoContent, "Контент не передан")
	}
	if fileMode && p.Size == 0 {
		return nil, nil, validationErr(apierrors.CodeNoContent, "Передан пустой файл")
	}

	// 2. Размер: ровно максимум допустим
	if p.Size < 0 {
		return nil, nil, validationErr(apierrors.CodeValidationError, "Некорректный размер: %d", p.Size)
	}
	if p.Size > s.maxFileSize {
		return nil, nil, validationErr(apierrors.CodeFileTooLarge,
			"Размер %d байт превышает максимум %d байт", p.Size, s.maxFileSize)
	}

	// 3. Тип контента
	reader := p.Reader
	mimeType := normalizeMime(p.MimeType)
	if fileMode && (mimeType == "" || mimeType == "application/octet-stream") {
		var err error
		mimeType, reader, err = sniffMime(p.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("ошибка чтения данных: %w", err)
		}
	}
	if !model.AllowedMime(mimeType) {
		return nil, nil, validationErr(apierrors.CodeUnsupportedType,
			"Неподдерживаемый тип контента: %q (допустимы: %s)",
			mimeType, strings.Join(model.AllowedMimeTypes(), ", "))
	}
	mediaType, _ := model.MediaTypeOf(mimeType)
	if p.MediaType != "" && !model.MediaType(p.MediaType).Valid() {
		return nil, nil, validationErr(apierrors.CodeValidationError,
			"Неизвестный mediaType %q", p.MediaType)
	}
	if p.MediaType != "" && model.MediaType(p.MediaType) != mediaType {
		return nil, nil, validationErr(apierrors.CodeUnsupportedType,
			"mediaType %q не соответствует типу %q", p.MediaType, mimeType)
	}

	// 4. Slug
	if p.Slug != "" && !model.ValidSlug(p.Slug) {
		return nil, nil, validationErr(apierrors.CodeInvalidSlug,
			"Slug должен состоять из латиницы, цифр, '_' и '-', до %d символов", model.MaxSlugLength)
	}

	c := &model.Content{
		ID:        uuid.NewString(),
		Slug:      p.Slug,
		MimeType:  mimeType,
		MediaType: mediaType,
		Size:      p.Size,
		ViewOnce:  p.ViewOnce,
		ExpiresAt: s.now().Add(s.ttl),
	}

	if !fileMode {
		u, err := url.Parse(strings.TrimSpace(p.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, nil, validationErr(apierrors.CodeValidationError, "Некорректный URL контента")
		}
		c.URL = u.String()
	}
	return c, reader, nil
}

// store создаёт запись и, для файловой загрузки, пишет объект внутри транзакции.
// Возвращает контрольную сумму записанного объекта.
func (s *UploadService) store(ctx context.Context, c *model.Content, reader io.Reader) (string, error) {
	if reader == nil {
		return "", s.repo.Create(ctx, c, nil)
	}

	name := c.ObjectName()
	c.URL = s.objects.URL(name)
	written := false
	checksum := ""

	err := s.repo.Create(ctx, c, func(ctx context.Context) error {
		res, err := s.objects.Put(ctx, name, reader, c.Size, c.MimeType)
		if err != nil {
			if errors.Is(err, storage.ErrSizeMismatch) {
				return validationErr(apierrors.CodeValidationError, "Размер данных не совпадает с заявленным")
			}
			return fmt.Errorf("ошибка записи объекта %s: %w", name, err)
		}
		written = true
		checksum = res.Checksum
		c.URL = res.URL
		return nil
	})
	if err != nil && written {
		// Объект записан, а запись не закоммичена
		s.lifecycle.removeObject(ctx, c)
	}
	return checksum, err
}

// reclaim освобождает slug, если существующий контент истёк или просмотрен.
func (s *UploadService) reclaim(ctx context.Context, slug string) (bool, error) {
	existing, err := s.repo.GetBySlug(ctx, slug)
	if errors.Is(err, repository.ErrNotFound) {
		// Запись исчезла между INSERT и чтением
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	reason := lifecycle.Decide(existing, s.now())
	if reason != lifecycle.ActionDeleteExpired && reason != lifecycle.ActionDeleteViewed {
		return false, nil
	}

	s.logger.Info("Slug освобождается от мёртвого контента",
		slog.String("slug", slug),
		slog.String("reason", reason.String()),
	)
	if _, err := s.lifecycle.Reap(ctx, existing, reason); err != nil {
		return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return true, nil
}

// failed учитывает и логирует неудачную загрузку.
func (s *UploadService) failed(c *model.Content, err error) error {
	if errors.Is(err, ErrValidation) {
		uploadsTotal.WithLabelValues("invalid").Inc()
		return err
	}
	uploadsTotal.WithLabelValues("error").Inc()
	s.logger.Error("Ошибка загрузки контента",
		slog.String("slug", c.Slug),
		slog.String("error", err.Error()),
	)
	return err
}

// normalizeMime приводит MIME-тип к виду "type/subtype" без параметров.
func normalizeMime(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(v); err == nil {
		return mt
	}
	return strings.ToLower(v)
}

// sniffMime определяет MIME по первым байтам и возвращает поток,
// который снова начинается с прочитанных байт.
func sniffMime(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLimit)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, err
	}
	head = head[:n]
	detected := normalizeMime(mimetype.Detect(head).String())
	return detected, io.MultiReader(bytes.NewReader(head), r), nil
}
