package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/flashdrop/internal/api/errors"
	"github.com/bigkaa/flashdrop/internal/api/generated"
)

// handleOpenAPISpec отдаёт встроенный OpenAPI документ в JSON.
func (h *APIHandler) handleOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	doc, err := generated.GetSwagger()
	if err != nil {
		h.logger.Error("OpenAPI документ недоступен", slog.String("error", err.Error()))
		apierrors.InternalError(w, "OpenAPI документ недоступен")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
