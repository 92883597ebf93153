package api

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func zapRequestID(r *http.Request) zap.Field {
	return zap.String("request_id", middleware.GetReqID(r.Context()))
}

func zapPath(r *http.Request) zap.Field {
	return zap.String("path", r.URL.Path)
}

// requestLogger logs one line per request once the handler returns.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zapPath(r),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote", r.RemoteAddr),
				zapRequestID(r),
			}
			switch {
			case status >= http.StatusInternalServerError:
				logger.Error("HTTP request", fields...)
			case r.URL.Path == "/health" || strings.HasPrefix(r.URL.Path, "/get_job/"):
				// polled constantly by workers and probes
				logger.Debug("HTTP request", fields...)
			default:
				logger.Info("HTTP request", fields...)
			}
		})
	}
}

// recovery turns a handler panic into a 500 envelope.
func recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("Handler panic",
					zap.Any("panic", rec),
					zapRequestID(r),
					zapPath(r),
					zap.ByteString("stack", debug.Stack()))
				writeError(w, r, http.StatusInternalServerError, CodeInternal, http.StatusText(http.StatusInternalServerError), nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
