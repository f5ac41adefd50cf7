package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/bigkaa/flashdrop/internal/domain/model"
	"github.com/bigkaa/flashdrop/internal/repository"
	"github.com/bigkaa/flashdrop/internal/storage"
	"github.com/bigkaa/flashdrop/internal/storage/filestore"
)

// --- In-memory репозиторий ---

// memRepo — реализация ContentRepository в памяти с точками внедрения ошибок.
type memRepo struct {
	mu      sync.Mutex
	records map[string]*model.Content // ключ — slug

	// Необязательные переопределения (function fields)
	getFn    func(ctx context.Context, slug string) (*model.Content, error)
	createFn func(ctx context.Context, c *model.Content, stage func(ctx context.Context) error) error
	markFn   func(ctx context.Context, id string, now time.Time) (bool, error)
	listFn   func(ctx context.Context, now time.Time, afterID string, limit int) ([]*model.Content, error)

	// deleteErrs — ошибки, возвращаемые последовательными вызовами Delete
	deleteErrs  []error
	deleteCalls int
	// afterDelete вызывается после удаления записи, до удаления объекта
	afterDelete func(c *model.Content)

	// slugLocks — аналог advisory-блокировок slug
	slugLocks map[string]*sync.Mutex
}

func newMemRepo() *memRepo {
	return &memRepo{
		records:   map[string]*model.Content{},
		slugLocks: map[string]*sync.Mutex{},
	}
}

func (r *memRepo) slugLock(slug string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.slugLocks[slug]
	if !ok {
		l = &sync.Mutex{}
		r.slugLocks[slug] = l
	}
	return l
}

func (r *memRepo) put(c *model.Content) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.records[c.Slug] = &cp
}

func (r *memRepo) has(slug string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[slug]
	return ok
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *memRepo) GetBySlug(ctx context.Context, slug string) (*model.Content, error) {
	if r.getFn != nil {
		return r.getFn(ctx, slug)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.records[slug]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) Create(ctx context.Context, c *model.Content, stage func(ctx context.Context) error) error {
	if r.createFn != nil {
		return r.createFn(ctx, c, stage)
	}
	l := r.slugLock(c.Slug)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	if _, ok := r.records[c.Slug]; ok {
		r.mu.Unlock()
		return repository.ErrConflict
	}
	cp := *c
	r.records[c.Slug] = &cp
	r.mu.Unlock()

	if stage != nil {
		if err := stage(ctx); err != nil {
			r.mu.Lock()
			delete(r.records, c.Slug)
			r.mu.Unlock()
			return err
		}
		// stage мог обновить URL
		r.mu.Lock()
		r.records[c.Slug].URL = c.URL
		r.mu.Unlock()
	}
	return nil
}

func (r *memRepo) MarkViewed(ctx context.Context, id string, now time.Time) (bool, error) {
	if r.markFn != nil {
		return r.markFn(ctx, id, now)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.records {
		if c.ID == id && c.ViewOnce && !c.Viewed && !c.Expired(now) {
			c.Viewed = true
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	r.deleteCalls++
	if len(r.deleteErrs) > 0 {
		err := r.deleteErrs[0]
		r.deleteErrs = r.deleteErrs[1:]
		if err != nil {
			r.mu.Unlock()
			return false, err
		}
	}
	var deleted *model.Content
	for slug, c := range r.records {
		if c.ID == id {
			deleted = c
			delete(r.records, slug)
			break
		}
	}
	hook := r.afterDelete
	r.mu.Unlock()

	if deleted == nil {
		return false, nil
	}
	if hook != nil {
		hook(deleted)
	}
	return true, nil
}

func (r *memRepo) WithSlugLock(ctx context.Context, slug string, fn func(ctx context.Context, current *model.Content) error) error {
	l := r.slugLock(slug)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	var current *model.Content
	if c, ok := r.records[slug]; ok {
		cp := *c
		current = &cp
	}
	r.mu.Unlock()

	return fn(ctx, current)
}

func (r *memRepo) ListReapable(ctx context.Context, now time.Time, afterID string, limit int) ([]*model.Content, error) {
	if r.listFn != nil {
		return r.listFn(ctx, now, afterID, limit)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Content
	for _, c := range r.records {
		if c.Reapable(now) && c.ID > afterID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Объектное хранилище ---

// mockObjects — filestore на MemMapFs с возможностью подменить операции.
type mockObjects struct {
	*filestore.FileStore
	fs afero.Fs

	putFn    func(ctx context.Context, name string, r io.Reader, size int64, contentType string) (*storage.PutResult, error)
	removeFn func(ctx context.Context, name string) error

	mu      sync.Mutex
	removed []string
}

func newMockObjects(t *testing.T) *mockObjects {
	t.Helper()
	fs := afero.NewMemMapFs()
	fst, err := filestore.New(fs, "/data", "http://flashdrop.test")
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	return &mockObjects{FileStore: fst, fs: fs}
}

func (m *mockObjects) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (*storage.PutResult, error) {
	if m.putFn != nil {
		return m.putFn(ctx, name, r, size, contentType)
	}
	return m.FileStore.Put(ctx, name, r, size, contentType)
}

func (m *mockObjects) Remove(ctx context.Context, name string) error {
	m.mu.Lock()
	m.removed = append(m.removed, name)
	m.mu.Unlock()
	if m.removeFn != nil {
		return m.removeFn(ctx, name)
	}
	return m.FileStore.Remove(ctx, name)
}

func (m *mockObjects) exists(name string) bool {
	ok, _ := afero.Exists(m.fs, "/data/"+name)
	return ok
}

func (m *mockObjects) removedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.removed)
}

// --- Сборка сервисов ---

type testEnv struct {
	repo       *memRepo
	objects    *mockObjects
	tombstones *TombstoneService
	lifecycle  *LifecycleService
	upload     *UploadService
	sweeper    *SweeperService
	now        time.Time
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		repo:       newMemRepo(),
		objects:    newMockObjects(t),
		tombstones: NewTombstoneService(100, time.Hour),
		now:        time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	logger := testLogger()

	env.lifecycle = NewLifecycleService(env.repo, env.objects, env.tombstones,
		RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, time.Second, logger)
	env.upload = NewUploadService(env.repo, env.objects, env.lifecycle, 50*1024*1024, 24*time.Hour, logger)
	env.upload.now = func() time.Time { return env.now }
	env.sweeper = NewSweeperService(env.repo, env.lifecycle, 2, "", logger)
	env.sweeper.now = func() time.Time { return env.now }
	return env
}

// record — заготовка записи для прямой вставки в репозиторий.
func record(id, slug string, viewOnce, viewed bool, expiresAt time.Time) *model.Content {
	return &model.Content{
		ID:        id,
		Slug:      slug,
		URL:       "http://flashdrop.test/files/" + slug + ".png",
		MimeType:  "image/png",
		MediaType: model.MediaImage,
		Size:      10,
		ViewOnce:  viewOnce,
		Viewed:    viewed,
		ExpiresAt: expiresAt,
	}
}
