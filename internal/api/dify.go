package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/mdpress/internal/dify"
	"github.com/kalambet/mdpress/internal/generate"
	"github.com/kalambet/mdpress/internal/storage"
)

const (
	generationIDHeader = "X-Generation-ID"
	maxURLRequestBody  = 64 << 10
)

func handleGenerateFromURL(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxURLRequestBody)
		defer r.Body.Close()

		var req struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "请求体无效: %v", err)
			return
		}

		if deps.DifyAPIKey == "" {
			deps.Logger.Error("dify.api_key is not configured")
			writeError(w, http.StatusInternalServerError, "服务器配置错误，无法处理请求")
			return
		}
		if req.URL == "" {
			writeError(w, http.StatusBadRequest, "请求体中缺少url字段")
			return
		}

		deps.Logger.Info("url workflow requested", "url", req.URL)
		content, err := deps.Dify.WithAPIKey(deps.DifyAPIKey).Run(r.Context(), dify.URLInputs{URL: req.URL})
		if err != nil {
			deps.Logger.Error("url workflow failed", "url", req.URL, "error", err)
			writeError(w, http.StatusInternalServerError, "%s", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"content": content,
		})
	}
}

func handleGenerateArticle(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		key := firstNonEmpty(deps.ArticleAPIKey, q.Get("apiKey"))
		if key == "" {
			writeError(w, http.StatusUnauthorized, "未提供API密钥")
			return
		}
		title := q.Get("title")
		if title == "" {
			writeError(w, http.StatusBadRequest, "请提供文章标题")
			return
		}
		req := generate.Request{
			Title:   title,
			Style:   q.Get("style"),
			Context: firstNonEmpty(q.Get("context"), "生成关于"+title+"的高质量文章内容"),
		}

		id := uuid.NewString()
		logger := deps.Logger.With("generation_id", id)
		w.Header().Set(generationIDHeader, id)

		em, err := newSSEEmitter(w, logger)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "%s", err.Error())
			return
		}

		ctx := r.Context()
		if deps.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, deps.RequestTimeout)
			defer cancel()
		}

		logger.Info("article generation requested", "title", req.Title, "style", req.Style)
		start := time.Now()
		gen := deps.Generator.WithUpstream(deps.Dify.WithAPIKey(key))
		out := gen.Run(ctx, req, em)
		em.Finish()

		recordGeneration(r.Context(), deps, id, req, out, time.Since(start))
	}
}

// recordGeneration stores the outcome even when the client has gone away.
func recordGeneration(ctx context.Context, deps Deps, id string, req generate.Request, out generate.Outcome, elapsed time.Duration) {
	if deps.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	g := storage.Generation{
		ID:         id,
		Title:      req.Title,
		Style:      req.Style,
		Context:    req.Context,
		Source:     string(out.Source),
		Status:     string(out.Status),
		Attempts:   out.Attempts,
		Content:    out.Text,
		DurationMs: elapsed.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if out.Err != nil {
		g.Error = out.Err.Error()
	}
	if err := deps.History.SaveGeneration(ctx, g); err != nil {
		deps.Logger.Error("saving generation history failed", "generation_id", id, "error", err)
	}
}

type generationView struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Style      string    `json:"style"`
	Context    string    `json:"context"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	Content    string    `json:"content"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

func handleListGenerations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			writeError(w, http.StatusNotFound, "未找到请求的资源。")
			return
		}

		limit := queryInt(r, "limit", 20)
		if limit <= 0 || limit > 100 {
			limit = 20
		}
		offset := queryInt(r, "offset", 0)
		if offset < 0 {
			offset = 0
		}

		gens, err := deps.History.ListGenerations(r.Context(), limit, offset)
		if err != nil {
			deps.Logger.Error("listing generations failed", "error", err)
			writeError(w, http.StatusInternalServerError, "读取生成记录时出错: %v", err)
			return
		}

		views := make([]generationView, len(gens))
		for i, g := range gens {
			views[i] = generationView(g)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":     true,
			"generations": views,
		})
	}
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
