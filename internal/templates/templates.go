// Package templates holds the page layouts rendered documents are wrapped in.
package templates

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
)

//go:embed files/*.html
var embedded embed.FS

// Default is used when no template, or an unknown one, is requested.
const Default = "general"

var (
	// ErrTemplateNotFound indicates the requested template does not exist.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrInvalidName indicates a template name with path or extension characters.
	ErrInvalidName = errors.New("invalid template name")
)

// Info describes a template for listings.
type Info struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
}

var catalog = []Info{
	{Name: "general", DisplayName: "通用", Description: "适用于各种场景的通用模板"},
	{Name: "tech_intro", DisplayName: "技术介绍", Description: "用于技术产品、工具或框架的介绍"},
	{Name: "news_broad", DisplayName: "新闻广播", Description: "用于新闻、公告和实时信息发布"},
	{Name: "tech_interpre", DisplayName: "技术解释", Description: "用于深入解释技术概念和原理"},
	{Name: "video_interpre", DisplayName: "视频解释", Description: "用于视频内容的讲解和说明"},
}

// DefaultTitle is shown when a document has no title.
const DefaultTitle = "渲染的Markdown"

// Page is the data a template renders.
type Page struct {
	Title     string
	Content   template.HTML
	CreatedAt time.Time
}

type pageData struct {
	Page
	Template string
	Date     string
	CodeCSS  template.CSS
}

// fallbackPage is rendered when a template fails to execute.
const fallbackPage = `<!DOCTYPE html>
<html lang="zh-CN">
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body><main style="max-width:860px;margin:0 auto;padding:20px;font-family:sans-serif">{{.Content}}</main></body>
</html>
`

// Set is a parsed collection of page templates.
type Set struct {
	pages    map[string]*template.Template
	fallback *template.Template
	codeCSS  template.CSS
	logger   *slog.Logger
}

// Load parses the embedded templates.
func Load(logger *slog.Logger) (*Set, error) {
	return load(embedded, logger)
}

func load(fsys fs.FS, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Set{
		pages:    make(map[string]*template.Template, len(catalog)),
		fallback: template.Must(template.New("fallback").Parse(fallbackPage)),
		logger:   logger,
	}

	var css bytes.Buffer
	if err := chromahtml.New(chromahtml.WithClasses(true)).WriteCSS(&css, styles.Get("github")); err != nil {
		return nil, fmt.Errorf("generating code highlight css: %w", err)
	}
	s.codeCSS = template.CSS(css.String())

	for _, info := range catalog {
		t, err := template.ParseFS(fsys, "files/base.html", "files/"+info.Name+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", info.Name, err)
		}
		s.pages[info.Name] = t
	}
	return s, nil
}

// ValidateName checks that name is a well-formed template name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if strings.ContainsAny(name, "/\\. ") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Lookup returns the template info for name.
func (s *Set) Lookup(name string) (Info, error) {
	if err := ValidateName(name); err != nil {
		return Info{}, err
	}
	if _, ok := s.pages[name]; !ok {
		return Info{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	for _, info := range catalog {
		if info.Name == name {
			return info, nil
		}
	}
	return Info{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
}

// IsValid reports whether name is a known template.
func (s *Set) IsValid(name string) bool {
	_, err := s.Lookup(name)
	return err == nil
}

// Available lists the templates in display order.
func (s *Set) Available() []Info {
	out := make([]Info, 0, len(catalog))
	for _, info := range catalog {
		if _, ok := s.pages[info.Name]; ok {
			out = append(out, info)
		}
	}
	return out
}

// Names lists the template names in display order.
func (s *Set) Names() []string {
	infos := s.Available()
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// Render writes page wrapped in the named template. Unknown names use the
// default template. If the template fails, a minimal built-in page is
// written instead and the failure is only logged.
func (s *Set) Render(w io.Writer, name string, page Page) error {
	if !s.IsValid(name) {
		name = Default
	}
	if page.Title == "" {
		page.Title = DefaultTitle
	}
	if page.CreatedAt.IsZero() {
		page.CreatedAt = time.Now()
	}
	data := pageData{
		Page:     page,
		Template: name,
		Date:     page.CreatedAt.Format("2006年1月2日 15:04"),
		CodeCSS:  s.codeCSS,
	}

	var buf bytes.Buffer
	if err := s.pages[name].ExecuteTemplate(&buf, "base", data); err != nil {
		s.logger.Error("template failed, using fallback page", "template", name, "error", err)
		buf.Reset()
		if err := s.fallback.Execute(&buf, data); err != nil {
			return fmt.Errorf("rendering fallback page: %w", err)
		}
	}
	_, err := buf.WriteTo(w)
	return err
}
