// Package markdown converts Markdown documents to HTML fragments.
package markdown

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// ErrConversion indicates the Markdown could not be converted.
var ErrConversion = errors.New("markdown conversion failed")

// Converter turns Markdown into an HTML fragment.
type Converter interface {
	ToHTML(ctx context.Context, content string) (string, error)
}

// Goldmark is a Converter with GitHub flavored Markdown, hard line breaks,
// typographic punctuation and highlighted code blocks. Raw HTML in the
// source is passed through; documents are only accepted from holders of the
// upload key.
type Goldmark struct {
	md goldmark.Markdown
}

func NewGoldmark() *Goldmark {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			extension.Typographer,
			highlighting.NewHighlighting(
				highlighting.WithFormatOptions(
					chromahtml.WithClasses(true),
				),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithUnsafe(),
		),
	)
	return &Goldmark{md: md}
}

// ToHTML converts content to an HTML fragment. Goldmark has no context
// support, so the conversion runs in its own goroutine and ctx only bounds
// how long the caller waits.
func (g *Goldmark) ToHTML(ctx context.Context, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	type result struct {
		html string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		var buf bytes.Buffer
		if err := g.md.Convert([]byte(content), &buf); err != nil {
			done <- result{err: fmt.Errorf("%w: %v", ErrConversion, err)}
			return
		}
		done <- result{html: buf.String()}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.html, r.err
	}
}
