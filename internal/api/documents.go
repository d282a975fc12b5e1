package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/mdpress/internal/render"
	"github.com/kalambet/mdpress/internal/storage"
	"github.com/kalambet/mdpress/internal/templates"
)

const (
	maxContentSize = 25 << 20 // 25MiB of Markdown
	// maxUploadBody leaves room for the JSON envelope around the content.
	maxUploadBody = maxContentSize + 1<<20
)

type uploadRequest struct {
	Content  string `json:"content"`
	Template string `json:"template"`
	Title    string `json:"title"`
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	ID       string `json:"id"`
	URL      string `json:"url"`
	Template string `json:"template"`
}

type viewResponse struct {
	Success  bool   `json:"success"`
	ID       string `json:"id"`
	Template string `json:"template"`
	Title    string `json:"title"`
	HTML     string `json:"html"`
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"message":   "服务运行正常",
			"templates": deps.Renderer.Templates().Available(),
		})
	}
}

func handleTemplates(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"templates": deps.Renderer.Templates().Available(),
		})
	}
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
		defer r.Body.Close()

		req, err := decodeUpload(r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				size := r.ContentLength
				if size <= 0 {
					size = tooLarge.Limit
				}
				writeError(w, http.StatusRequestEntityTooLarge, "%s", sizeMessage(size))
				return
			}
			writeError(w, http.StatusBadRequest, "请求体无效: %v", err)
			return
		}

		if strings.TrimSpace(req.Content) == "" {
			writeError(w, http.StatusBadRequest, "Markdown 内容不能为空。")
			return
		}
		if req.Template == "" {
			req.Template = templates.Default
		}
		set := deps.Renderer.Templates()
		if !set.IsValid(req.Template) {
			writeError(w, http.StatusBadRequest, "模板 %q 不存在。可用模板: %s", req.Template, strings.Join(set.Names(), ", "))
			return
		}
		if len(req.Content) > maxContentSize {
			writeError(w, http.StatusRequestEntityTooLarge, "%s", sizeMessage(int64(len(req.Content))))
			return
		}

		now := time.Now().UTC()
		doc := storage.Document{
			ID:        storage.NewDocumentID(),
			Content:   req.Content,
			Template:  req.Template,
			Title:     req.Title,
			CreatedAt: now,
		}
		if deps.DocumentTTL > 0 {
			doc.ExpiresAt = now.Add(deps.DocumentTTL)
		}

		err = deps.Documents.SaveDocument(r.Context(), doc)
		deps.Metrics.Document("upload", err)
		if err != nil {
			deps.Logger.Error("saving document failed", "error", err)
			writeError(w, http.StatusInternalServerError, "保存内容时出错: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, uploadResponse{
			Success:  true,
			Message:  "Markdown 上传成功。",
			ID:       doc.ID,
			URL:      viewURL(deps.PublicURL, r, doc.ID),
			Template: doc.Template,
		})
	}
}

// decodeUpload reads a JSON body, or a raw Markdown body with the template and
// title in X-Template and X-Title headers.
func decodeUpload(r *http.Request) (uploadRequest, error) {
	var req uploadRequest
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return uploadRequest{}, err
		}
		return req, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return uploadRequest{}, err
	}
	req.Content = string(body)
	req.Template = r.Header.Get("X-Template")
	req.Title = r.Header.Get("X-Title")
	return req, nil
}

func sizeMessage(size int64) string {
	return fmt.Sprintf("内容大小超过限制，最大允许25MB，当前大小约 %.2fMB。", float64(size)/1024/1024)
}

func viewURL(publicURL string, r *http.Request, id string) string {
	origin := strings.TrimRight(publicURL, "/")
	if origin == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
			scheme = p
		}
		origin = scheme + "://" + r.Host
	}
	return origin + "/view/" + id
}

func handleView(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		doc, err := deps.Documents.GetDocument(r.Context(), id)
		deps.Metrics.Document("view", err)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "未找到内容。可能指定了无效的ID，或者内容已被删除。")
			return
		}
		if err != nil {
			deps.Logger.Error("loading document failed", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "读取内容时出错: %v", err)
			return
		}

		q := r.URL.Query()
		name := firstNonEmpty(q.Get("template"), doc.Template, templates.Default)
		if !deps.Renderer.Templates().IsValid(name) {
			name = templates.Default
		}
		title := firstNonEmpty(q.Get("title"), doc.Title)

		page, err := deps.Renderer.Page(r.Context(), render.Input{
			Content:   doc.Content,
			Template:  name,
			Title:     title,
			CreatedAt: doc.CreatedAt,
		})
		if err != nil {
			deps.Logger.Error("rendering document failed", "id", id, "template", name, "error", err)
			writeError(w, http.StatusInternalServerError, "渲染内容时出错: %v", err)
			return
		}

		if strings.Contains(r.Header.Get("Accept"), "application/json") {
			writeJSON(w, http.StatusOK, viewResponse{
				Success:  true,
				ID:       id,
				Template: name,
				Title:    title,
				HTML:     string(page),
			})
			return
		}
		w.Header().Set("Content-Type", "text/html;charset=UTF-8")
		w.Write(page)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
