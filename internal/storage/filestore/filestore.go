// Пакет filestore — объектное хранилище на локальном диске.
// Запись: temp файл → SHA-256 на лету → fsync → atomic rename.
// Файловая система абстрагирована через afero (в тестах — MemMapFs).
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/bigkaa/flashdrop/internal/storage"
)

// FileStore — хранение объектов в плоской директории dataDir.
type FileStore struct {
	fs      afero.Fs
	dataDir string
	// baseURL — внешний адрес сервиса; объекты отдаются по baseURL/files/{name}
	baseURL string
}

var _ storage.ObjectStore = (*FileStore)(nil)

// New создаёт FileStore и директорию данных, если её нет.
func New(fs afero.Fs, dataDir, baseURL string) (*FileStore, error) {
	if err := fs.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{fs: fs, dataDir: dataDir, baseURL: baseURL}, nil
}

// NewOS создаёт FileStore поверх реальной файловой системы.
func NewOS(dataDir, baseURL string) (*FileStore, error) {
	return New(afero.NewOsFs(), dataDir, baseURL)
}

// Put записывает объект атомарно. При size >= 0 фактический размер
// обязан совпасть с заявленным, иначе объект не создаётся.
func (s *FileStore) Put(ctx context.Context, name string, r io.Reader, size int64, _ string) (*storage.PutResult, error) {
	if !storage.ValidName(name) {
		return nil, fmt.Errorf("%w: %q", storage.ErrInvalidName, name)
	}

	fullPath := s.path(name)
	tmpPath := filepath.Join(s.dataDir, "."+name+"."+uuid.NewString()[:8]+".tmp")

	f, err := s.fs.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	cleanup := func() {
		f.Close()
		s.fs.Remove(tmpPath) //nolint:errcheck // best-effort
	}

	src := r
	if size >= 0 {
		// +1 байт позволяет обнаружить поток длиннее заявленного
		src = io.LimitReader(r, size+1)
	}
	hasher := sha256.New()
	written, err := io.Copy(f, io.TeeReader(&ctxReader{ctx: ctx, r: src}, hasher))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if size >= 0 && written != size {
		cleanup()
		return nil, fmt.Errorf("%w: заявлено %d, получено %d", storage.ErrSizeMismatch, size, written)
	}

	if err := f.Sync(); err != nil {
		cleanup()
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmpPath) //nolint:errcheck // best-effort
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := s.fs.Rename(tmpPath, fullPath); err != nil {
		s.fs.Remove(tmpPath) //nolint:errcheck // best-effort
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &storage.PutResult{
		URL:      s.URL(name),
		Size:     written,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Remove удаляет объект; nil, если его уже нет.
func (s *FileStore) Remove(_ context.Context, name string) error {
	if !storage.ValidName(name) {
		return fmt.Errorf("%w: %q", storage.ErrInvalidName, name)
	}
	err := s.fs.Remove(s.path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", name, err)
	}
	return nil
}

// Open открывает объект. Возвращаемый afero.File поддерживает Seek.
func (s *FileStore) Open(_ context.Context, name string) (io.ReadCloser, *storage.ObjectInfo, error) {
	if !storage.ValidName(name) {
		return nil, nil, storage.ErrObjectNotFound
	}
	f, err := s.fs.Open(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, storage.ErrObjectNotFound
		}
		return nil, nil, fmt.Errorf("ошибка открытия файла %s: %w", name, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("ошибка получения информации о файле %s: %w", name, err)
	}
	return f, &storage.ObjectInfo{Name: name, Size: st.Size(), ModTime: st.ModTime()}, nil
}

// URL — baseURL/files/{name}.
func (s *FileStore) URL(name string) string {
	return s.baseURL + "/files/" + name
}

// Check проверяет, что директория данных существует и доступна.
func (s *FileStore) Check(_ context.Context) error {
	st, err := s.fs.Stat(s.dataDir)
	if err != nil {
		return fmt.Errorf("директория данных недоступна: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("%s не является директорией", s.dataDir)
	}
	return nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

// ctxReader прерывает копирование при отмене контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
