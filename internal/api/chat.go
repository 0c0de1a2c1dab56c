package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	xerrors "VaultGuard/internal/errors"
	"VaultGuard/internal/orchestrator"
)

const (
	maxChatBodyBytes = 1 << 20

	// HeaderConversationID 返回本次对话实际使用的会话 ID。
	HeaderConversationID = "X-Conversation-Id"
)

var fragmentEscaper = strings.NewReplacer("\n", `\n`, `"`, `\"`)

// Frame 把一个文本片段编码为一行 0:"<escaped>"。
func Frame(fragment string) string {
	return `0:"` + fragmentEscaper.Replace(fragment) + "\"\n"
}

// frameWriter 在第一次 Open 时提交响应头，之后每个片段写出后立即 flush。
type frameWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	opened  bool
}

func newFrameWriter(w http.ResponseWriter) *frameWriter {
	fw := &frameWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.flusher = f
	}
	return fw
}

func (f *frameWriter) Open(conversationID string) {
	if f.opened {
		return
	}
	f.opened = true
	h := f.w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	if conversationID != "" {
		h.Set(HeaderConversationID, conversationID)
	}
	f.w.WriteHeader(http.StatusOK)
}

func (f *frameWriter) WriteFragment(text string) error {
	if !f.opened {
		f.Open("")
	}
	if _, err := io.WriteString(f.w, Frame(text)); err != nil {
		return err
	}
	if f.flusher != nil {
		f.flusher.Flush()
	}
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "Chat service not initialized"))
		return
	}

	var req orchestrator.Request
	body := http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "Invalid JSON body"))
		return
	}

	fw := newFrameWriter(w)
	res, err := s.chat.Handle(r.Context(), req, fw)
	if err != nil {
		if !fw.opened {
			s.writeError(w, r, err)
			return
		}
		// 响应头已经提交，只能记录日志并结束输出。
		s.logger.Error("对话流中途失败",
			slog.String("request_id", chiMiddleware.GetReqID(r.Context())),
			slog.String("challenge_id", req.ChallengeID),
			slog.Any("error", err),
		)
		return
	}
	if !fw.opened {
		fw.Open(res.ConversationID)
	}
}
