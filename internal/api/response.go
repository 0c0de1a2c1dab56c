package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	xerrors "VaultGuard/internal/errors"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 按错误码输出 {"error": ...}。5xx 错误按严重程度记录日志，并附带错误元数据。
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := xerrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		attrs := []any{
			slog.String("request_id", chiMiddleware.GetReqID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Bool("retryable", xerrors.RetryableError(err)),
			slog.Bool("alert", xerrors.AttributesOf(xerrors.CodeOf(err)).Alert),
			slog.Any("error", err),
		}
		if e, ok := xerrors.From(err); ok {
			for k, v := range e.Metadata() {
				attrs = append(attrs, slog.String("meta."+k, v))
			}
		}
		s.logger.Log(r.Context(), severityLevel(xerrors.SeverityOf(err)), "请求处理失败", attrs...)
	}
	writeJSON(w, status, errorResponse{Error: xerrors.PublicMessage(err)})
}

func severityLevel(sev xerrors.Severity) slog.Level {
	switch sev {
	case xerrors.SeverityCritical:
		return slog.LevelError
	case xerrors.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
