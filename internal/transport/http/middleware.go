package http

import (
	"encoding/json"
	stdhttp "net/http"
	"runtime/debug"
	"time"

	"calsieve/internal/platform/logger"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// LoggerContext copies the chi request id into the logger context so every
// log line inside a handler carries it
func LoggerContext(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		ctx := logger.WithRequest(r.Context(), chimw.GetReqID(r.Context()), 0)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// captureWriter records status and bytes written for the access log
type captureWriter struct {
	stdhttp.ResponseWriter
	status int
	bytes  int
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	n, err := cw.ResponseWriter.Write(b)
	if n > 0 {
		cw.bytes += n
	}
	return n, err
}

// AccessLog logs method, path, status, elapsed and bytes per request.
// Requests at or above slow log at warn level; 0 disables slow marking
func AccessLog(slow time.Duration) func(stdhttp.Handler) stdhttp.Handler {
	return func(next stdhttp.Handler) stdhttp.Handler {
		return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			cw := &captureWriter{ResponseWriter: w, status: stdhttp.StatusOK}
			start := time.Now()

			next.ServeHTTP(cw, r)

			elapsed := time.Since(start)
			log := logger.C(r.Context())
			evt := log.Info()
			if slow > 0 && elapsed >= slow {
				evt = log.Warn()
			}
			evt.Int("status", cw.status).
				Dur("elapsed", elapsed).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("bytes", cw.bytes).
				Msg("request done")
		})
	}
}

// RecoverJSON converts panics into a JSON 500 and logs the stack
func RecoverJSON(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		defer func() {
			if v := recover(); v != nil {
				reqID := chimw.GetReqID(r.Context())
				logger.C(r.Context()).Error().
					Str("request_id", reqID).
					Interface("panic", v).
					Msgf("panic recovered\n%s", debug.Stack())

				if reqID != "" {
					w.Header().Set("X-Request-ID", reqID)
				}
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(stdhttp.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(Envelope{
					StatusCode: stdhttp.StatusInternalServerError,
					Status:     stdhttp.StatusText(stdhttp.StatusInternalServerError),
					Error:      "internal error",
					RequestID:  reqID,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
