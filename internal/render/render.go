// Package render turns stored Markdown documents into finished HTML pages.
package render

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html/template"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/mdpress/internal/markdown"
	"github.com/kalambet/mdpress/internal/metrics"
	"github.com/kalambet/mdpress/internal/templates"
)

// Input is a document to render.
type Input struct {
	Content   string
	Template  string
	Title     string
	CreatedAt time.Time
}

// Renderer converts Markdown and wraps it in a page template. Finished pages
// are cached by their inputs and concurrent renders of the same input share
// one conversion.
type Renderer struct {
	conv    markdown.Converter
	set     *templates.Set
	cache   *lru.Cache[string, []byte]
	group   singleflight.Group
	metrics *metrics.Metrics
}

// New creates a Renderer. A cacheSize of zero or less disables caching.
func New(conv markdown.Converter, set *templates.Set, cacheSize int, m *metrics.Metrics) (*Renderer, error) {
	r := &Renderer{conv: conv, set: set, metrics: m}
	if cacheSize > 0 {
		c, err := lru.New[string, []byte](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating render cache: %w", err)
		}
		r.cache = c
	}
	return r, nil
}

// Templates returns the template set pages are rendered with.
func (r *Renderer) Templates() *templates.Set { return r.set }

// Page returns the complete HTML page for in.
func (r *Renderer) Page(ctx context.Context, in Input) ([]byte, error) {
	key := cacheKey(in)
	if r.cache != nil {
		if page, ok := r.cache.Get(key); ok {
			r.metrics.CacheLookup(true)
			return page, nil
		}
		r.metrics.CacheLookup(false)
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		body, err := r.conv.ToHTML(ctx, in.Content)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		err = r.set.Render(&buf, in.Template, templates.Page{
			Title:     in.Title,
			Content:   template.HTML(body),
			CreatedAt: in.CreatedAt,
		})
		if err != nil {
			return nil, err
		}
		page := buf.Bytes()
		if r.cache != nil {
			r.cache.Add(key, page)
		}
		return page, nil
	})
	if err != nil {
		return nil, fmt.Errorf("rendering page: %w", err)
	}
	return v.([]byte), nil
}

func cacheKey(in Input) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00", in.Template, in.Title, in.CreatedAt.Unix())
	h.Write([]byte(in.Content))
	return hex.EncodeToString(h.Sum(nil))
}
