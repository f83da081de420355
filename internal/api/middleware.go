package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dhruvsoni1802/devtools-rpc/internal/cdp"
	"github.com/dhruvsoni1802/devtools-rpc/internal/session"
)

// Request bodies larger than this are rejected
const maxBodySize = 1 << 20

// RecoveryMiddleware turns a panicking handler into a 500 response
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.Error("panic in handler",
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", middleware.GetReqID(r.Context()),
					"panic", rec,
					"stack", string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs every request with its status and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// decodeJSON reads the request body into v. An empty body leaves v as is
// when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// writeSessionError maps manager and debugger errors to HTTP responses
func writeSessionError(w http.ResponseWriter, err error, fallbackCode string) {
	var protoErr *cdp.ProtocolError
	var transportErr *cdp.TransportError

	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, ErrCodeSessionNotFound, err.Error())
	case errors.Is(err, session.ErrSessionNotActive):
		writeError(w, http.StatusConflict, ErrCodeSessionNotActive, err.Error())
	case errors.Is(err, session.ErrSessionLimitReached):
		writeError(w, http.StatusTooManyRequests, ErrCodeSessionLimit, err.Error())
	case errors.Is(err, session.ErrUnknownMethod):
		writeError(w, http.StatusBadRequest, ErrCodeUnknownMethod, err.Error())
	case errors.Is(err, session.ErrUnknownEvent):
		writeError(w, http.StatusBadRequest, ErrCodeUnknownEvent, err.Error())
	case errors.Is(err, session.ErrNotSubscribed):
		writeError(w, http.StatusNotFound, ErrCodeNotSubscribed, err.Error())
	case errors.Is(err, session.ErrNavigationFailed):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeNavigationFailed, err.Error())
	case errors.Is(err, session.ErrScriptException):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeExecutionFailed, err.Error())
	case errors.As(err, &protoErr):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: ErrorDetail{
			Code:     ErrCodeProtocolError,
			Message:  protoErr.Message,
			Protocol: protoErr,
		}})
	case errors.Is(err, cdp.ErrCommandTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	case errors.As(err, &transportErr), errors.Is(err, cdp.ErrClosed):
		writeError(w, http.StatusBadGateway, ErrCodeTransportError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}
