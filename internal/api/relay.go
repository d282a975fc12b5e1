package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/mdpress/internal/generate"
)

var errStreamingUnsupported = errors.New("streaming not supported")

// frame is one SSE payload sent to the browser.
type frame struct {
	Status  string `json:"status,omitempty"`
	Content string `json:"content,omitempty"`
	Result  string `json:"result,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Error   string `json:"error,omitempty"`
}

// sseEmitter relays generation progress as server-sent events. The stream
// ends with exactly one [DONE] sentinel and nothing is written after it.
type sseEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *slog.Logger
	closed  bool
}

var _ generate.Observer = (*sseEmitter)(nil)

func newSSEEmitter(w http.ResponseWriter, logger *slog.Logger) (*sseEmitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseEmitter{w: w, flusher: flusher, logger: logger}, nil
}

func (e *sseEmitter) Start() {
	e.send(frame{Status: generate.MsgStarting})
}

func (e *sseEmitter) Progress(status, content string) {
	e.send(frame{Status: status, Content: content, Result: content})
}

func (e *sseEmitter) Complete(text string) {
	e.send(frame{Status: generate.MsgCompleted, Content: text, Result: text, Done: true})
	e.Finish()
}

func (e *sseEmitter) Error(err error) {
	msg := "生成过程中发生错误"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	e.send(frame{Error: msg})
	e.Finish()
}

// Finish writes the [DONE] sentinel unless it has already been written.
func (e *sseEmitter) Finish() {
	if e.closed {
		return
	}
	e.closed = true
	e.write("data: [DONE]\n\n")
}

func (e *sseEmitter) send(f frame) {
	if e.closed {
		return
	}
	b, err := json.Marshal(f)
	if err != nil {
		e.logger.Error("encoding sse frame", "error", err)
		return
	}
	e.write(fmt.Sprintf("data: %s\n\n", b))
}

func (e *sseEmitter) write(s string) {
	if _, err := e.w.Write([]byte(s)); err != nil {
		e.logger.Debug("client write failed", "error", err)
		return
	}
	e.flusher.Flush()
}
