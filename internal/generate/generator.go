package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/kalambet/mdpress/internal/dify"
	"github.com/kalambet/mdpress/internal/metrics"
)

// Request describes an article to generate.
type Request struct {
	Title   string
	Style   string
	Context string
}

// Observer receives the progress of a generation. Exactly one of Complete or
// Error is called, unless the generation is canceled, in which case neither
// is and the last Progress status is MsgCanceled.
type Observer interface {
	Start()
	Progress(status, content string)
	Complete(text string)
	Error(err error)
}

type Source string

const (
	SourceUpstream Source = "upstream"
	SourceMock     Source = "mock"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Outcome summarizes a finished generation.
type Outcome struct {
	Text     string
	Source   Source
	Attempts int
	Status   Status
	Err      error
}

// Config tunes the retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the backoff before the first retry; it doubles each time.
	BaseDelay time.Duration
	// MinContentLength is the number of characters above which an
	// interrupted stream is accepted as the result.
	MinContentLength int
	// MockFallback replays a synthesized document once retries are exhausted.
	MockFallback bool
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:       2,
		BaseDelay:        3 * time.Second,
		MinContentLength: 100,
		MockFallback:     true,
	}
}

// Upstream opens a streaming workflow run.
type Upstream interface {
	OpenStream(ctx context.Context, in dify.ArticleInputs) (*dify.Stream, error)
}

// Generator drives one article generation at a time per call to Run: it
// streams from the upstream, retries failed attempts with exponential
// backoff and falls back to a mock document when every attempt failed.
type Generator struct {
	upstream Upstream
	cfg      Config
	mock     *Mock
	metrics  *metrics.Metrics
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Generator)

func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

func withSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Generator) { g.sleep = f }
}

func New(upstream Upstream, cfg Config, opts ...Option) *Generator {
	g := &Generator{
		upstream: upstream,
		cfg:      cfg,
		logger:   slog.Default(),
		sleep:    sleepContext,
	}
	for _, o := range opts {
		o(g)
	}
	g.mock = &Mock{sleep: g.sleep, logger: g.logger}
	return g
}

// WithUpstream returns a copy of g that streams from u.
func (g *Generator) WithUpstream(u Upstream) *Generator {
	cp := *g
	cp.upstream = u
	return &cp
}

// Run generates the article for req, reporting progress to obs. It blocks
// until the generation completes, fails or ctx is done.
func (g *Generator) Run(ctx context.Context, req Request, obs Observer) Outcome {
	start := time.Now()
	obs.Start()

	out := g.run(ctx, req, obs)

	g.metrics.Generation(string(out.Source), string(out.Status), time.Since(start))
	g.logger.Info("generation finished",
		"title", req.Title,
		"source", out.Source,
		"status", out.Status,
		"attempts", out.Attempts,
		"chars", len([]rune(out.Text)),
		"duration", time.Since(start),
	)
	return out
}

func (g *Generator) run(ctx context.Context, req Request, obs Observer) Outcome {
	in := dify.ArticleInputs{Prompt: req.Title, Style: req.Style, Context: req.Context}
	maxRetries := g.cfg.MaxRetries

	var lastErr error
	attempts := 0
	for n := 0; n <= maxRetries; n++ {
		if n > 0 {
			delay := g.backoff(n)
			obs.Progress(retryStatus(lastErr, n, maxRetries, delay), "")
			if err := g.sleep(ctx, delay); err != nil {
				return g.stop(ctx, obs, SourceUpstream, attempts)
			}
			obs.Progress(fmt.Sprintf("尝试重新连接 (%d/%d)...", n, maxRetries), "")
		}

		attempts++
		text, err := g.attempt(ctx, in, obs)
		if ctx.Err() != nil {
			return g.stop(ctx, obs, SourceUpstream, attempts)
		}
		if err == nil {
			g.metrics.Attempt("success")
			obs.Complete(text)
			return Outcome{Text: text, Source: SourceUpstream, Attempts: attempts, Status: StatusCompleted}
		}

		reason := failureReason(err)
		g.metrics.Attempt(reason)
		g.logger.Warn("upstream attempt failed", "attempt", attempts, "reason", reason, "error", err)
		lastErr = err
		if n < maxRetries {
			g.metrics.Retry(reason)
		}
	}

	if !g.cfg.MockFallback {
		err := fmt.Errorf("经过%d次尝试后仍然失败: %w", attempts, lastErr)
		obs.Error(err)
		return Outcome{Source: SourceUpstream, Attempts: attempts, Status: StatusFailed, Err: err}
	}

	obs.Progress(fmt.Sprintf("经过%d次尝试后仍然失败，使用模拟数据", attempts), "")
	text, err := g.mock.Play(ctx, req, obs)
	if err != nil || ctx.Err() != nil {
		return g.stop(ctx, obs, SourceMock, attempts)
	}
	obs.Complete(text)
	return Outcome{Text: text, Source: SourceMock, Attempts: attempts, Status: StatusCompleted}
}

// attempt streams one workflow run and returns the accumulated text.
func (g *Generator) attempt(ctx context.Context, in dify.ArticleInputs, obs Observer) (string, error) {
	stream, err := g.upstream.OpenStream(ctx, in)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	obs.Progress("连接成功，开始接收数据...", "")

	var acc dify.Accumulator
	for {
		line, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return acc.String(), nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if acc.Len() > g.cfg.MinContentLength {
				g.logger.Info("stream interrupted, keeping partial result", "chars", acc.Len(), "error", err)
				return acc.String(), nil
			}
			return "", err
		}

		ev, err := dify.ParseLine(line)
		if err != nil {
			if line != "" {
				g.logger.Debug("skipping stream line", "error", err)
			}
			continue
		}

		ev, changed := acc.Apply(ev)
		switch ev.Kind {
		case dify.KindDone:
			return acc.String(), nil
		case dify.KindUpstreamError:
			return "", &dify.EventError{Message: ev.Message}
		case dify.KindWorkflowStarted:
			g.logger.Debug("workflow started", "run_id", ev.RunID)
			obs.Progress(MsgWorkflowStarted, "")
		case dify.KindNodeStarted:
			obs.Progress(MsgNodeStarted, "")
		case dify.KindNodeFinished:
			obs.Progress(fmt.Sprintf("节点处理完成 (%d)", ev.Sequence), "")
		case dify.KindTextChunk, dify.KindDirectContent:
			if changed {
				obs.Progress(MsgReceiving, acc.String())
			}
		case dify.KindWorkflowFinished:
			obs.Progress("工作流已完成", acc.String())
			if ev.HasContent {
				return acc.String(), nil
			}
		}
	}
}

// stop reports the end of a generation whose context is done. A missed
// deadline is an error; anything else is a cancellation.
func (g *Generator) stop(ctx context.Context, obs Observer, src Source, attempts int) Outcome {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		werr := fmt.Errorf("生成超时: %w", err)
		obs.Error(werr)
		return Outcome{Source: src, Attempts: attempts, Status: StatusFailed, Err: werr}
	}
	obs.Progress(MsgCanceled, "")
	return Outcome{Source: src, Attempts: attempts, Status: StatusCanceled, Err: err}
}

// backoff returns the wait before retry n (1-based).
func (g *Generator) backoff(n int) time.Duration {
	return g.cfg.BaseDelay << (n - 1)
}

func failureReason(err error) string {
	var he *dify.HTTPError
	var se *dify.StreamError
	var ee *dify.EventError
	switch {
	case errors.Is(err, dify.ErrUpstreamTimeout):
		return "timeout"
	case errors.Is(err, dify.ErrUpstreamUnreachable):
		return "unreachable"
	case errors.As(err, &he):
		switch {
		case he.Status == 429:
			return "rate_limited"
		case he.Transient():
			return "gateway"
		}
		return "http_status"
	case errors.As(err, &se):
		return "interrupted"
	case errors.As(err, &ee):
		return "upstream_error"
	}
	return "other"
}

func retryStatus(err error, n, maxRetries int, delay time.Duration) string {
	secs := strconv.FormatFloat(delay.Seconds(), 'f', -1, 64)
	switch failureReason(err) {
	case "gateway":
		return fmt.Sprintf("网关错误，等待%s秒后重试...", secs)
	case "rate_limited":
		return fmt.Sprintf("请求过于频繁，等待%s秒后重试...", secs)
	case "interrupted":
		return fmt.Sprintf("连接中断，正在重试 (%d/%d)...", n, maxRetries)
	case "timeout":
		return fmt.Sprintf("连接超时，正在重试 (%d/%d)...", n, maxRetries)
	}
	return fmt.Sprintf("出错，正在重试 (%d/%d)...", n, maxRetries)
}
