package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/flashdrop/internal/domain/model"
)

// contentColumns — список столбцов таблицы content для SELECT-запросов.
const contentColumns = `id, slug, url, mime_type, media_type, size,
	view_once, viewed, expires_at, created_at`

// reapablePredicate — условие отбора записей на удаление:
// истёк TTL либо одноразовый контент уже выдан.
const reapablePredicate = `(expires_at < $1 OR (view_once AND viewed))`

// firstCursor — начальное значение курсора ListReapable.
const firstCursor = "00000000-0000-0000-0000-000000000000"

// slugLockSQL — транзакционная advisory-блокировка имени slug.
// Сериализует запись объекта slug+ext при загрузке и его удаление.
const slugLockSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`

// ContentRepository — доступ к метаданным контента.
type ContentRepository interface {
	// GetBySlug возвращает запись по slug или ErrNotFound.
	GetBySlug(ctx context.Context, slug string) (*model.Content, error)
	// Create вставляет запись и вызывает stage внутри той же транзакции.
	// Ошибка stage откатывает вставку. Занятый slug — ErrConflict.
	Create(ctx context.Context, c *model.Content, stage func(ctx context.Context) error) error
	// MarkViewed атомарно выставляет viewed, если запись ещё не просмотрена
	// и не истекла на момент now. Возвращает true, если флаг выставлен этим вызовом.
	MarkViewed(ctx context.Context, id string, now time.Time) (bool, error)
	// Delete удаляет запись по id в транзакции (SELECT FOR UPDATE + DELETE).
	// Отсутствие записи не ошибка: возвращается false.
	Delete(ctx context.Context, id string) (bool, error)
	// WithSlugLock выполняет fn, удерживая блокировку slug, которую
	// Create берёт на время вставки, записи объекта и коммита.
	// fn получает запись, занимающую slug под блокировкой (nil — записи нет).
	WithSlugLock(ctx context.Context, slug string, fn func(ctx context.Context, current *model.Content) error) error
	// ListReapable возвращает до limit записей, подлежащих удалению на момент now,
	// с id строго больше afterID (пустой — с начала), в порядке id.
	ListReapable(ctx context.Context, now time.Time, afterID string, limit int) ([]*model.Content, error)
}

// contentRepo — реализация ContentRepository через pgx.
type contentRepo struct {
	db      Pool
	tx      *TxRunner
	timeout time.Duration
}

// NewContentRepository создаёт репозиторий контента.
// timeout ограничивает каждую операцию с БД (0 — без ограничения).
func NewContentRepository(db Pool, timeout time.Duration) ContentRepository {
	return &contentRepo{db: db, tx: NewTxRunner(db), timeout: timeout}
}

// opCtx ограничивает одну операцию таймаутом хранилища.
func (r *contentRepo) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// GetBySlug возвращает запись по slug или ErrNotFound.
func (r *contentRepo) GetBySlug(ctx context.Context, slug string) (*model.Content, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM content WHERE slug = $1`, contentColumns)
	c, err := scanContent(r.db.QueryRow(ctx, query, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrap("ошибка получения контента", err)
	}
	return c, nil
}

// Create вставляет запись; stage (запись объекта) выполняется до коммита,
// поэтому уникальный slug резервируется раньше, чем появляется объект.
func (r *contentRepo) Create(ctx context.Context, c *model.Content, stage func(ctx context.Context) error) error {
	beginCtx, cancel := r.opCtx(ctx)
	tx, err := r.db.Begin(beginCtx)
	cancel()
	if err != nil {
		return wrap("ошибка начала транзакции", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck // откат после коммита — no-op

	// Ожидание блокировки не ограничено таймаутом операции:
	// её держит удаление объекта с тем же именем
	if _, err := tx.Exec(ctx, slugLockSQL, c.Slug); err != nil {
		return wrap("ошибка блокировки slug", err)
	}

	insCtx, cancel := r.opCtx(ctx)
	err = tx.QueryRow(insCtx,
		`INSERT INTO content (id, slug, url, mime_type, media_type, size, view_once, viewed, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)
		 RETURNING created_at`,
		c.ID, c.Slug, c.URL, c.MimeType, string(c.MediaType), c.Size, c.ViewOnce, c.ExpiresAt,
	).Scan(&c.CreatedAt)
	cancel()
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("slug %q: %w", c.Slug, ErrConflict)
		}
		return wrap("ошибка создания записи контента", err)
	}

	if stage != nil {
		if err := stage(ctx); err != nil {
			return err
		}
	}

	commitCtx, cancel := r.opCtx(ctx)
	defer cancel()
	if err := tx.Commit(commitCtx); err != nil {
		return wrap("ошибка коммита записи контента", err)
	}
	return nil
}

// MarkViewed — compare-and-set флага viewed.
func (r *contentRepo) MarkViewed(ctx context.Context, id string, now time.Time) (bool, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	tag, err := r.db.Exec(ctx,
		`UPDATE content SET viewed = true
		 WHERE id = $1 AND view_once AND NOT viewed AND expires_at >= $2`,
		id, now,
	)
	if err != nil {
		return false, wrap("ошибка отметки просмотра", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete удаляет запись под блокировкой строки.
func (r *contentRepo) Delete(ctx context.Context, id string) (bool, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	deleted := false
	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT id FROM content WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return wrap("ошибка блокировки записи", err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM content WHERE id = $1`, id)
		if err != nil {
			return wrap("ошибка удаления записи", err)
		}
		deleted = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// WithSlugLock — короткая транзакция с advisory-блокировкой slug.
func (r *contentRepo) WithSlugLock(ctx context.Context, slug string, fn func(ctx context.Context, current *model.Content) error) error {
	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, slugLockSQL, slug); err != nil {
			return wrap("ошибка блокировки slug", err)
		}

		query := fmt.Sprintf(`SELECT %s FROM content WHERE slug = $1`, contentColumns)
		current, err := scanContent(tx.QueryRow(ctx, query, slug))
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return wrap("ошибка получения контента", err)
			}
			current = nil
		}
		return fn(ctx, current)
	})
}

// ListReapable — keyset-пагинация кандидатов на очистку.
func (r *contentRepo) ListReapable(ctx context.Context, now time.Time, afterID string, limit int) ([]*model.Content, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	if afterID == "" {
		afterID = firstCursor
	}

	query := fmt.Sprintf(
		`SELECT %s FROM content WHERE %s AND id > $2 ORDER BY id LIMIT $3`,
		contentColumns, reapablePredicate,
	)
	rows, err := r.db.Query(ctx, query, now, afterID, limit)
	if err != nil {
		return nil, wrap("ошибка выборки кандидатов на очистку", err)
	}
	defer rows.Close()

	var result []*model.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, wrap("ошибка сканирования контента", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("ошибка итерации результатов", err)
	}
	return result, nil
}

// scanContent читает строку в порядке contentColumns.
func scanContent(row pgx.Row) (*model.Content, error) {
	c := &model.Content{}
	var media string
	err := row.Scan(
		&c.ID, &c.Slug, &c.URL, &c.MimeType, &media, &c.Size,
		&c.ViewOnce, &c.Viewed, &c.ExpiresAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.MediaType = model.MediaType(media)
	return c, nil
}
