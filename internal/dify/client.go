package dify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL   = "https://api.dify.ai/v1"
	defaultTimeout   = 120 * time.Second
	streamingTimeout = 300 * time.Second

	streamUser   = "markdown-renderer-user"
	blockingUser = "markdown-renderer"

	// NoContent is returned by Run when the response has no recognizable text.
	NoContent = "无法获取生成内容"
)

// Client talks to the Dify workflows API.
type Client struct {
	apiKey        string
	baseURL       string
	httpClient    *http.Client
	streamTimeout time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithStreamTimeout bounds the total duration of a streaming call.
func WithStreamTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.streamTimeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for baseURL using apiKey as bearer credential.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		apiKey:        apiKey,
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{},
		streamTimeout: streamingTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// WithAPIKey returns a copy of c that authenticates with key.
func (c *Client) WithAPIKey(key string) *Client {
	cp := *c
	cp.apiKey = key
	return &cp
}

// Stream is an open streaming workflow response.
type Stream struct {
	lines   *LineReader
	body    io.ReadCloser
	parent  context.Context
	reqCtx  context.Context
	cancel  context.CancelFunc
	stopped func() bool
}

// OpenStream starts a streaming workflow run. Cancelling ctx closes the
// response body, which aborts any read in progress.
func (c *Client) OpenStream(ctx context.Context, in ArticleInputs) (*Stream, error) {
	body, err := json.Marshal(WorkflowRequest{Inputs: in, ResponseMode: ModeStreaming, User: streamUser})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.streamTimeout)
	resp, err := c.do(reqCtx, body, "text/event-stream")
	if err != nil {
		cancel()
		return nil, classify(ctx, reqCtx, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, statusError(resp)
	}

	s := &Stream{
		lines:  NewLineReader(resp.Body),
		body:   resp.Body,
		parent: ctx,
		reqCtx: reqCtx,
		cancel: cancel,
	}
	s.stopped = context.AfterFunc(reqCtx, func() { resp.Body.Close() })
	return s, nil
}

// Next returns the next raw line. io.EOF marks a clean end of stream.
// Failures are ErrUpstreamTimeout, the caller's context error, or a
// *StreamError for any other interruption.
func (s *Stream) Next() (string, error) {
	line, err := s.lines.Next()
	if err == nil || errors.Is(err, io.EOF) {
		return line, err
	}
	if cerr := s.parent.Err(); cerr != nil {
		return "", cerr
	}
	if errors.Is(s.reqCtx.Err(), context.DeadlineExceeded) {
		return "", ErrUpstreamTimeout
	}
	return "", &StreamError{Err: err}
}

// Close releases the response body.
func (s *Stream) Close() error {
	s.stopped()
	err := s.body.Close()
	s.cancel()
	return err
}

// Run executes a blocking workflow run with the given inputs and returns the
// generated text.
func (c *Client) Run(ctx context.Context, inputs any) (string, error) {
	body, err := json.Marshal(WorkflowRequest{Inputs: inputs, ResponseMode: ModeBlocking, User: blockingUser})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	resp, err := c.do(reqCtx, body, "application/json")
	if err != nil {
		return "", classify(ctx, reqCtx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if text, ok := Extract(payload, AnswerRules); ok {
		return text, nil
	}
	return NoContent, nil
}

func (c *Client) do(ctx context.Context, body []byte, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/workflows/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.httpClient.Do(req)
}

// classify maps a transport failure to the package error taxonomy.
func classify(parent, reqCtx context.Context, err error) error {
	if cerr := parent.Err(); cerr != nil {
		return cerr
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrUpstreamTimeout
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	var envelope struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Message != "" {
		msg = envelope.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &HTTPError{Status: resp.StatusCode, Message: msg}
}
