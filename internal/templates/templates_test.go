package templates

import (
	"bytes"
	"errors"
	"html/template"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestLoad_AllTemplatesRender(t *testing.T) {
	s, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := len(s.Available()); got != 5 {
		t.Fatalf("Available = %d templates, want 5", got)
	}

	for _, name := range s.Names() {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			err := s.Render(&buf, name, Page{Title: "标题 <b>", Content: template.HTML("<h1>Body</h1>")})
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			out := buf.String()
			for _, want := range []string{"<!DOCTYPE html>", "<title>标题 &lt;b&gt;</title>", "<h1>Body</h1>", "tpl-" + name, ".chroma"} {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q", want)
				}
			}
		})
	}
}

func TestRender_NewsDateline(t *testing.T) {
	s, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	created := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	if err := s.Render(&buf, "news_broad", Page{Content: "x", CreatedAt: created}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `<div class="dateline">2024年3月5日 09:30</div>`) {
		t.Error("dateline missing")
	}
}

func TestRender_UnknownFallsBackToDefault(t *testing.T) {
	s, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := s.Render(&buf, "nope", Page{Content: "x"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "tpl-general") || !strings.Contains(out, "<title>"+DefaultTitle+"</title>") {
		t.Error("unknown template did not fall back to general with default title")
	}
}

func TestRender_BrokenTemplateUsesFallbackPage(t *testing.T) {
	fsys := fstest.MapFS{
		"files/base.html": {Data: []byte(`{{define "base"}}{{template "missing" .}}{{end}}`)},
	}
	for _, info := range catalog {
		fsys["files/"+info.Name+".html"] = &fstest.MapFile{Data: []byte(`{{define "style"}}{{end}}`)}
	}
	s, err := load(fsys, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	var buf bytes.Buffer
	if err := s.Render(&buf, "general", Page{Title: "T", Content: "<p>kept</p>"}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "<p>kept</p>") || !strings.Contains(buf.String(), "<title>T</title>") {
		t.Errorf("fallback output = %q", buf.String())
	}
}

func TestLookup(t *testing.T) {
	s, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name    string
		wantErr error
	}{
		{"tech_intro", nil},
		{"missing", ErrTemplateNotFound},
		{"", ErrInvalidName},
		{"../general", ErrInvalidName},
		{"general.html", ErrInvalidName},
	}
	for _, tt := range tests {
		_, err := s.Lookup(tt.name)
		if !errors.Is(err, tt.wantErr) && !(tt.wantErr == nil && err == nil) {
			t.Errorf("Lookup(%q) err = %v, want %v", tt.name, err, tt.wantErr)
		}
	}
	if !s.IsValid("video_interpre") || s.IsValid("VIDEO") {
		t.Error("IsValid mismatch")
	}
}
