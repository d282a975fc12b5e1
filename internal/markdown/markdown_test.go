package markdown

import (
	"context"
	"strings"
	"testing"
)

func TestToHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"heading gets id", "# Hello World", []string{`<h1 id="hello-world">Hello World</h1>`}},
		{"hard wraps", "line one\nline two", []string{"line one<br>"}},
		{"table", "| a | b |\n|---|---|\n| 1 | 2 |", []string{"<table>", "<td>1</td>"}},
		{"strikethrough", "~~gone~~", []string{"<del>gone</del>"}},
		{"task list", "- [x] done", []string{`type="checkbox"`, "checked"}},
		{"typographer", `"quoted" -- text...`, []string{"&ldquo;quoted&rdquo;", "&ndash;", "&hellip;"}},
		{"raw html kept", "<div class=\"note\">hi</div>", []string{`<div class="note">hi</div>`}},
		{"highlighted code", "```go\nfunc main() {}\n```", []string{`class="chroma"`}},
		{"footnote", "text[^1]\n\n[^1]: note", []string{"footnote"}},
	}
	c := NewGoldmark()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ToHTML(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("ToHTML: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("output %q missing %q", got, w)
				}
			}
		})
	}
}

func TestToHTML_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewGoldmark().ToHTML(ctx, "# x"); err == nil {
		t.Error("expected error for canceled context")
	}
}
