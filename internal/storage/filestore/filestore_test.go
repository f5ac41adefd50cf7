package filestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/bigkaa/flashdrop/internal/storage"
)

func newTestStore(t *testing.T) (*FileStore, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s, err := New(fs, "/data", "http://localhost:8040")
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	return s, fs
}

// TestPut проверяет запись объекта с подсчётом SHA-256.
func TestPut(t *testing.T) {
	s, fs := newTestStore(t)
	ctx := context.Background()
	content := []byte("PNG-данные для проверки")

	res, err := s.Put(ctx, "cat.png", bytes.NewReader(content), int64(len(content)), "image/png")
	if err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	if res.Size != int64(len(content)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), res.Size)
	}
	sum := sha256.Sum256(content)
	if res.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum: получено %s", res.Checksum)
	}
	if res.URL != "http://localhost:8040/files/cat.png" {
		t.Errorf("URL = %q", res.URL)
	}

	data, err := afero.ReadFile(fs, "/data/cat.png")
	if err != nil {
		t.Fatalf("файл не найден: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("содержимое не совпадает")
	}

	// Временных файлов не остаётся
	entries, _ := afero.ReadDir(fs, "/data")
	if len(entries) != 1 {
		t.Errorf("в директории %d файлов, ожидается 1", len(entries))
	}
}

func TestPut_SizeMismatch(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		declared int64
	}{
		{"поток длиннее", "0123456789", 5},
		{"поток короче", "01234", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fs := newTestStore(t)
			_, err := s.Put(context.Background(), "x.png", strings.NewReader(tt.data), tt.declared, "image/png")
			if !errors.Is(err, storage.ErrSizeMismatch) {
				t.Fatalf("ожидалась ErrSizeMismatch, получено: %v", err)
			}
			entries, _ := afero.ReadDir(fs, "/data")
			if len(entries) != 0 {
				t.Errorf("после ошибки остались файлы: %d", len(entries))
			}
		})
	}
}

func TestPut_UnknownSize(t *testing.T) {
	s, _ := newTestStore(t)
	res, err := s.Put(context.Background(), "doc.pdf", strings.NewReader("%PDF-1.7"), -1, "application/pdf")
	if err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	if res.Size != 8 {
		t.Errorf("Size = %d, ожидается 8", res.Size)
	}
}

func TestPut_InvalidName(t *testing.T) {
	s, _ := newTestStore(t)
	for _, name := range []string{"../etc/passwd", "a/b.png", "", ".hidden"} {
		_, err := s.Put(context.Background(), name, strings.NewReader("x"), 1, "")
		if !errors.Is(err, storage.ErrInvalidName) {
			t.Errorf("Put(%q): ожидалась ErrInvalidName, получено %v", name, err)
		}
	}
}

func TestPut_ContextCanceled(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, "cat.png", strings.NewReader("data"), 4, "image/png")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ожидалась context.Canceled, получено: %v", err)
	}
}

// TestRemove_Idempotent — удаление отсутствующего объекта не ошибка.
func TestRemove_Idempotent(t *testing.T) {
	s, fs := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "cat.png", strings.NewReader("data"), 4, "image/png"); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	if err := s.Remove(ctx, "cat.png"); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if ok, _ := afero.Exists(fs, "/data/cat.png"); ok {
		t.Error("файл должен быть удалён")
	}
	if err := s.Remove(ctx, "cat.png"); err != nil {
		t.Errorf("повторное удаление вернуло ошибку: %v", err)
	}
}

func TestOpen(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "clip.mp4", strings.NewReader("video"), 5, "video/mp4"); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	rc, info, err := s.Open(ctx, "clip.mp4")
	if err != nil {
		t.Fatalf("ошибка открытия: %v", err)
	}
	defer rc.Close()

	if info.Size != 5 {
		t.Errorf("Size = %d, ожидается 5", info.Size)
	}
	if _, ok := rc.(io.ReadSeeker); !ok {
		t.Error("локальный объект должен поддерживать Seek")
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "video" {
		t.Errorf("содержимое = %q", data)
	}

	if _, _, err := s.Open(ctx, "missing.mp4"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Errorf("ожидалась ErrObjectNotFound, получено: %v", err)
	}
	if _, _, err := s.Open(ctx, "../secret"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Errorf("недопустимое имя должно давать ErrObjectNotFound, получено: %v", err)
	}
}

func TestCheck(t *testing.T) {
	s, fs := newTestStore(t)
	if err := s.Check(context.Background()); err != nil {
		t.Errorf("Check() вернул ошибку: %v", err)
	}
	if err := fs.RemoveAll("/data"); err != nil {
		t.Fatal(err)
	}
	if err := s.Check(context.Background()); err == nil {
		t.Error("Check() должен вернуть ошибку без директории")
	}
}
