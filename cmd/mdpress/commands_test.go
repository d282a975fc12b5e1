package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/mdpress/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	APIKey string
	Accept string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			APIKey: r.Header.Get("X-API-Key"),
			Accept: r.Header.Get("Accept"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			if strings.HasPrefix(resp, "data:") {
				w.Header().Set("Content-Type", "text/event-stream")
			} else {
				w.Header().Set("Content-Type", "application/json")
			}
			w.Write([]byte(resp))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"message":"未找到请求的资源。"}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		apiKey:     "test-key",
		httpClient: ts.server.Client(),
	}
}

// captureStatus redirects status output for the duration of the test.
func captureStatus(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev, prevColor := stderr, noColor
	stderr, noColor = &buf, true
	t.Cleanup(func() { stderr, noColor = prev, prevColor })
	return &buf
}

var ctx = context.Background()

func TestUploadDocument(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /upload": `{"success":true,"message":"上传成功","id":"0123456789abcdef","url":"http://x/view/0123456789abcdef","template":"general"}`,
	})

	res, err := uploadDocument(ctx, ts.client(), "# Hi", "", "Notes")
	if err != nil {
		t.Fatalf("uploadDocument: %v", err)
	}
	if res.ID != "0123456789abcdef" {
		t.Errorf("id = %q", res.ID)
	}
	if res.URL != "http://x/view/0123456789abcdef" {
		t.Errorf("url = %q", res.URL)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/upload" {
		t.Errorf("request = %s %s, want POST /upload", r.Method, r.Path)
	}
	if r.APIKey != "test-key" {
		t.Errorf("X-API-Key = %q, want test-key", r.APIKey)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["content"] != "# Hi" || body["title"] != "Notes" {
		t.Errorf("body = %v", body)
	}
}

func TestUploadDocument_ServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"success":false,"message":"API 密钥无效。"}`))
	}))
	defer srv.Close()

	c := &apiClient{baseURL: srv.URL, apiKey: "wrong", httpClient: srv.Client()}
	_, err := uploadDocument(ctx, c, "# Hi", "", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "API 密钥无效。") {
		t.Errorf("error = %q, want status and server message", err)
	}
}

func TestDecodeJSON_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	err = decodeJSON(resp, &struct{}{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "bad gateway") {
		t.Errorf("error = %q", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := &apiClient{baseURL: url, httpClient: http.DefaultClient}
	_, err := c.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "is mdpress running?") {
		t.Errorf("error = %q", err)
	}
}

func TestReadFrames(t *testing.T) {
	stream := ": keep-alive\n\n" +
		"data: {\"status\":\"开始生成文章...\"}\n\n" +
		"data: {\"status\":\"生成中\",\"content\":\"# T\"}\n\n" +
		"data: {\"status\":\"完成\",\"content\":\"# T\\nbody\",\"done\":true}\n\n" +
		"data: [DONE]\n\n" +
		"data: {\"status\":\"ignored\"}\n\n"

	var got []streamFrame
	err := readFrames(strings.NewReader(stream), func(f streamFrame) error {
		got = append(got, f)
		return nil
	})
	if err != nil {
		t.Fatalf("readFrames: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d frames, want 3", len(got))
	}
	if !got[2].Done || got[2].Content != "# T\nbody" {
		t.Errorf("last frame = %+v", got[2])
	}
}

func TestReadFrames_NoDone(t *testing.T) {
	err := readFrames(strings.NewReader("data: {\"status\":\"x\"}\n\n"), func(streamFrame) error { return nil })
	if !errors.Is(err, errStreamEnded) {
		t.Errorf("err = %v, want errStreamEnded", err)
	}
}

func TestReadFrames_BadJSON(t *testing.T) {
	err := readFrames(strings.NewReader("data: {not json}\n\n"), func(streamFrame) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "decoding frame") {
		t.Errorf("err = %v", err)
	}
}

func TestStreamArticle(t *testing.T) {
	out := captureStatus(t)
	ts := newTestServer(t, map[string]string{
		"GET /api/dify/generateArticle": "data: {\"status\":\"开始生成文章...\"}\n\n" +
			"data: {\"status\":\"生成中\",\"content\":\"# Go\"}\n\n" +
			"data: {\"status\":\"生成中\",\"content\":\"# Go\\n并发\"}\n\n" +
			"data: {\"status\":\"文章生成完成\",\"content\":\"# Go\\n并发\",\"done\":true}\n\n" +
			"data: [DONE]\n\n",
	})

	article, err := streamArticle(ctx, ts.client(), "Go 并发", "技术", "", "client-key")
	if err != nil {
		t.Fatalf("streamArticle: %v", err)
	}
	if article != "# Go\n并发" {
		t.Errorf("article = %q", article)
	}

	r := ts.requests[0]
	for _, want := range []string{"title=Go+%E5%B9%B6%E5%8F%91", "style=", "apiKey=client-key"} {
		if !strings.Contains(r.Path, want) {
			t.Errorf("path %q missing %q", r.Path, want)
		}
	}
	if strings.Contains(r.Path, "context=") {
		t.Errorf("path %q should omit empty context", r.Path)
	}
	if r.Accept != "text/event-stream" {
		t.Errorf("Accept = %q", r.Accept)
	}

	// Repeated statuses are printed once.
	if n := strings.Count(out.String(), "生成中"); n != 1 {
		t.Errorf("status printed %d times, want 1:\n%s", n, out.String())
	}
}

func TestStreamArticle_ErrorFrame(t *testing.T) {
	captureStatus(t)
	ts := newTestServer(t, map[string]string{
		"GET /api/dify/generateArticle": "data: {\"error\":\"经过3次尝试后仍然失败\",\"done\":true}\n\ndata: [DONE]\n\n",
	})

	_, err := streamArticle(ctx, ts.client(), "t", "", "", "")
	if err == nil || !strings.Contains(err.Error(), "经过3次尝试后仍然失败") {
		t.Errorf("err = %v", err)
	}
}

func TestStreamArticle_RejectedBeforeStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"message":"缺少 API 密钥"}`))
	}))
	defer srv.Close()

	c := &apiClient{baseURL: srv.URL, httpClient: srv.Client()}
	_, err := streamArticle(ctx, c, "t", "", "", "")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v, want 401", err)
	}
}

func TestStreamArticle_NoContent(t *testing.T) {
	captureStatus(t)
	ts := newTestServer(t, map[string]string{
		"GET /api/dify/generateArticle": "data: {\"status\":\"开始生成文章...\"}\n\ndata: [DONE]\n\n",
	})

	_, err := streamArticle(ctx, ts.client(), "t", "", "", "")
	if err == nil || !strings.Contains(err.Error(), "without content") {
		t.Errorf("err = %v", err)
	}
}

func TestFetchHistory(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/generations": `{"success":true,"generations":[
			{"id":"aaaaaaaa-1111","title":"Go","status":"completed","source":"upstream","attempts":1,"durationMs":1200,"createdAt":"2026-10-01T12:00:00Z"},
			{"id":"bbbbbbbb-2222","title":"Rust","status":"completed","source":"mock","attempts":3,"durationMs":9000,"createdAt":"2026-09-30T12:00:00Z"}
		]}`,
	})

	gens, err := fetchHistory(ctx, ts.client(), 5, 10)
	if err != nil {
		t.Fatalf("fetchHistory: %v", err)
	}
	if len(gens) != 2 {
		t.Fatalf("got %d generations, want 2", len(gens))
	}
	if gens[1].Source != "mock" || gens[1].Attempts != 3 {
		t.Errorf("gens[1] = %+v", gens[1])
	}
	if gens[0].CreatedAt.Year() != 2026 {
		t.Errorf("createdAt = %v", gens[0].CreatedAt)
	}
	if got := ts.requests[0].Path; got != "/api/generations?limit=5&offset=10" {
		t.Errorf("path = %q", got)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q", got)
	}
}

func TestServerURL(t *testing.T) {
	tests := []struct {
		cfg  config.ServerConfig
		want string
	}{
		{config.ServerConfig{Host: "127.0.0.1", Port: 8787}, "http://127.0.0.1:8787"},
		{config.ServerConfig{Host: "0.0.0.0", Port: 9000}, "http://127.0.0.1:9000"},
		{config.ServerConfig{Port: 80}, "http://127.0.0.1:80"},
		{config.ServerConfig{Host: "docs.local", Port: 8080}, "http://docs.local:8080"},
		{config.ServerConfig{Host: "0.0.0.0", Port: 8787, PublicURL: "https://md.example.com/"}, "https://md.example.com"},
	}
	for _, tt := range tests {
		if got := serverURL(tt.cfg); got != tt.want {
			t.Errorf("serverURL(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	cfg := config.Config{}
	cfg.Auth.APIKey = "super-secret"
	for _, k := range config.ShowAll(cfg) {
		if strings.Contains(k.Value, "super-secret") {
			t.Errorf("key %s leaks secret value", k.Key)
		}
	}
}

func TestCountLabel(t *testing.T) {
	if got := countLabel(3, 100); got != "3" {
		t.Errorf("countLabel = %q", got)
	}
	if got := countLabel(100, 100); got != "100+" {
		t.Errorf("countLabel = %q", got)
	}
}

func TestCommands_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	for _, name := range []string{"view", "generate"} {
		rootCmd.SetArgs([]string{name})
		err := rootCmd.Execute()
		if err == nil {
			t.Fatalf("%s: expected error for missing args", name)
		}
		if !strings.Contains(err.Error(), "accepts 1 arg") {
			t.Errorf("%s: error = %q", name, err.Error())
		}
	}
}

func TestUploadCommand_EmptyStdin(t *testing.T) {
	defer rootCmd.SetArgs(nil)
	defer rootCmd.SetIn(nil)

	rootCmd.SetIn(strings.NewReader("  \n"))
	rootCmd.SetArgs([]string{"upload"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "empty") {
		t.Errorf("err = %v, want empty content error", err)
	}
}

func TestUploadCommand_PrintsURL(t *testing.T) {
	captureStatus(t)
	ts := newTestServer(t, map[string]string{
		"POST /upload": `{"success":true,"message":"上传成功","id":"feedfacecafebeef","url":"http://x/view/feedfacecafebeef","template":"tech_intro"}`,
	})

	prev := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	defer func() { newAPIClient = prev }()

	var out bytes.Buffer
	defer rootCmd.SetArgs(nil)
	defer rootCmd.SetIn(nil)
	defer rootCmd.SetOut(nil)

	rootCmd.SetIn(strings.NewReader("# Release\n"))
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"upload", "--template", "tech_intro", "--title", "Release"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "http://x/view/feedfacecafebeef" {
		t.Errorf("stdout = %q", got)
	}

	var body map[string]string
	json.Unmarshal([]byte(ts.requests[0].Body), &body)
	if body["template"] != "tech_intro" || body["title"] != "Release" {
		t.Errorf("body = %v", body)
	}
}

func Example_colorize() {
	prev := noColor
	noColor = true
	defer func() { noColor = prev }()
	fmt.Println(colorize(colorRed, "plain"))
	// Output: plain
}
