// cleanup.go — обработчик GET|POST /api/cron/cleanup.
// Аутентификация (JWT, scope content:cleanup) — на уровне middleware.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/flashdrop/internal/api/errors"
	"github.com/bigkaa/flashdrop/internal/api/generated"
	"github.com/bigkaa/flashdrop/internal/service"
)

func (h *APIHandler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.Sweep(r.Context(), h.now(), service.TriggerHTTP)
	if err != nil {
		h.logger.Error("Очистка по запросу завершилась ошибкой", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось выполнить очистку")
		return
	}

	writeJSON(w, http.StatusOK, generated.CleanupResponse{
		Success: true,
		Cleaned: result.Cleaned,
	})
}
