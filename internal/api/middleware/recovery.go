package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kiranshivaraju/roomscan/internal/api/response"
	"github.com/kiranshivaraju/roomscan/internal/apperr"
)

// Recovery converts a handler panic into a 500 error envelope. If the
// handler had already started its response only the log line is written.
// http.ErrAbortHandler is passed through to the server.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := newResponseRecorder(w)
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(v)
			}

			slog.ErrorContext(r.Context(), "panic recovered",
				"panic", v,
				"stack", string(debug.Stack()),
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", GetRequestID(r.Context()),
				"response_started", rec.wroteHeader,
			)
			if rec.wroteHeader {
				return
			}
			response.Error(rec, http.StatusInternalServerError,
				apperr.CodeInternal, "An unexpected error occurred", nil)
		}()
		next.ServeHTTP(rec, r)
	})
}
