// files.go — обработчик GET /files/{name}: раздача объектов локального хранилища.
// Для S3 объекты отдаются бакетом напрямую, маршрут отвечает 404.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"

	apierrors "github.com/bigkaa/flashdrop/internal/api/errors"
	"github.com/bigkaa/flashdrop/internal/domain/model"
	"github.com/bigkaa/flashdrop/internal/storage"
)

func (h *APIHandler) handleGetFile(w http.ResponseWriter, r *http.Request, name string) {
	if h.objects == nil || !storage.ValidName(name) {
		apierrors.NotFound(w, "Объект не найден")
		return
	}

	rc, info, err := h.objects.Open(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			apierrors.NotFound(w, "Объект не найден")
			return
		}
		h.logger.Error("Ошибка открытия объекта",
			slog.String("object", name),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Не удалось прочитать объект")
		return
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType, _ = model.MimeByExtension(path.Ext(name))
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, no-store")

	// Range и условные запросы — только для seekable объектов
	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, name, info.ModTime, rs)
		return
	}

	if info.Size >= 0 {
		w.Header().Set("Content-Length", fmt.Sprint(info.Size))
	}
	if !info.ModTime.IsZero() {
		w.Header().Set("Last-Modified", info.ModTime.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = io.Copy(w, rc)
	}
}
