package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	apierrors "github.com/bigkaa/flashdrop/internal/api/errors"
)

// Recoverer перехватывает панику обработчика, логирует стек и отвечает 500.
// Если ответ уже начат, статус не меняется.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := newResponseWriter(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("Паника в обработчике HTTP",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("panic", fmt.Sprint(rec)),
					slog.String("stack", string(debug.Stack())),
				)
				if !wrapped.wroteHeader {
					apierrors.InternalError(wrapped, "внутренняя ошибка")
				}
			}()
			next.ServeHTTP(wrapped, r)
		})
	}
}
