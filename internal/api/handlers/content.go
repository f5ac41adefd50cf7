// content.go — обработчик GET /api/content/{slug}.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/flashdrop/internal/api/errors"
	"github.com/bigkaa/flashdrop/internal/api/generated"
	"github.com/bigkaa/flashdrop/internal/domain/lifecycle"
	"github.com/bigkaa/flashdrop/internal/service"
)

func (h *APIHandler) handleGetContent(w http.ResponseWriter, r *http.Request, slug string) {
	// Ответ зависит от состояния на момент обращения
	w.Header().Set("Cache-Control", "no-store")

	d, err := h.resolver.Resolve(r.Context(), slug, h.now())
	if err != nil {
		if errors.Is(err, service.ErrStoreUnavailable) {
			apierrors.ServiceUnavailable(w, "Хранилище временно недоступно, повторите запрос позже")
			return
		}
		h.logger.Error("Ошибка получения контента",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка")
		return
	}

	switch {
	case d.Action == lifecycle.ActionServe:
		p := d.Payload
		writeJSON(w, http.StatusOK, generated.ContentView{
			Url:       p.URL,
			MimeType:  p.MimeType,
			MediaType: generated.MediaType(p.MediaType),
			ViewOnce:  p.ViewOnce,
			ExpiresAt: p.ExpiresAt,
			Viewer:    generated.MediaType(p.Viewer),
		})
	case d.Gone():
		writeGone(w, d.Action)
	default:
		// Запись удалена раньше: отличаем «был и исчез» от «не было»
		if reason, ok := h.resolver.Tombstone(slug); ok {
			writeGone(w, reason)
			return
		}
		apierrors.NotFound(w, "Контент не найден")
	}
}

// writeGone отвечает 410 с причиной удаления.
func writeGone(w http.ResponseWriter, reason lifecycle.Action) {
	if reason == lifecycle.ActionDeleteViewed {
		apierrors.Gone(w, apierrors.CodeAlreadyViewed, "Контент уже просмотрен")
		return
	}
	apierrors.Gone(w, apierrors.CodeExpired, "Срок действия контента истёк")
}
