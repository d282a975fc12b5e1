package generate

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestMockDocument_Deterministic(t *testing.T) {
	req := Request{Title: "分布式系统", Style: "技术", Context: "面向初学者"}
	a, b := MockDocument(req), MockDocument(req)
	if a != b {
		t.Fatal("documents differ for identical input")
	}
	for _, want := range []string{"# 分布式系统\n\n## 引言\n\n", "这是一个由模拟数据生成的内容", "面向初学者", "以技术的风格", "分布式系统的重要性", "关键技术和方法", "应用场景", "未来展望", "## 总结"} {
		if !strings.Contains(a, want) {
			t.Errorf("document missing %q", want)
		}
	}
}

func TestMockDocument_StripsAngleBrackets(t *testing.T) {
	doc := MockDocument(Request{Title: "<script>x</script>", Context: "a<b>c"})
	if strings.ContainsAny(doc, "<>") {
		t.Errorf("angle brackets survived: %q", doc[:60])
	}
	if !strings.HasPrefix(doc, "# scriptx/script\n") {
		t.Errorf("title = %q", strings.SplitN(doc, "\n", 2)[0])
	}
}

func TestMockDocument_MethodsVaryByStyle(t *testing.T) {
	plain := MockDocument(Request{Title: "T"})
	tech := MockDocument(Request{Title: "T", Style: "技术解读"})
	news := MockDocument(Request{Title: "T", Style: "新闻播报"})
	if plain == tech || tech == news {
		t.Fatal("style does not change the document")
	}
	if !strings.Contains(plain, "- 结构化思维") || !strings.Contains(tech, "- 核心算法与实现细节") || !strings.Contains(news, "- 事实核查") {
		t.Error("unexpected methods list")
	}
}

func TestMock_PlayGrowingPrefixes(t *testing.T) {
	s := &sleeps{}
	m := &Mock{sleep: s.sleep, logger: slog.Default()}
	rec := &recorder{}
	req := Request{Title: "测试"}

	doc, err := m.Play(context.Background(), req, rec)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if doc != MockDocument(req) {
		t.Error("returned document differs")
	}
	if len(rec.progress) != 8 {
		t.Fatalf("progress events = %d, want 8", len(rec.progress))
	}
	if rec.progress[0].status != MsgStarting || rec.progress[5].status != "节点处理完成 (1)" {
		t.Errorf("statuses = %q", rec.statuses())
	}

	prev := ""
	for _, p := range rec.progress {
		if p.content == "" {
			continue
		}
		if !strings.HasPrefix(doc, p.content) || len(p.content) <= len(prev) {
			t.Errorf("content %q is not a strictly growing prefix after %q", p.content, prev)
		}
		prev = p.content
	}
	if prev != doc {
		t.Error("last content event is not the full document")
	}
	if rec.progress[3].content != "# 测试\n\n## 引言\n\n" {
		t.Errorf("header event = %q", rec.progress[3].content)
	}

	for _, d := range s.delays {
		if d < 100*time.Millisecond || d > 1500*time.Millisecond {
			t.Errorf("delay %v out of range", d)
		}
	}
	if len(s.delays) != 9 {
		t.Errorf("waits = %d, want 9", len(s.delays))
	}
}

func TestMock_PlayStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{onProgress: func(status string) {
		if status == MsgWorkflowStarted {
			cancel()
		}
	}}
	m := &Mock{sleep: sleepContext, logger: slog.Default()}

	start := time.Now()
	_, err := m.Play(ctx, Request{Title: "T"}, rec)
	if err == nil {
		t.Fatal("expected context error")
	}
	if len(rec.progress) != 2 {
		t.Errorf("events after cancel: %q", rec.statuses())
	}
	if time.Since(start) > time.Second {
		t.Error("cancel did not interrupt the pending wait")
	}
}

func TestPrefixAfter_RuneBoundaries(t *testing.T) {
	doc := "中文文档"
	if got := prefixAfter(doc, "", 0); got != len("中") {
		t.Errorf("prefixAfter empty = %d", got)
	}
	if got := prefixAfter(doc, "中文", len("中文")); got != len("中文文") {
		t.Errorf("prefixAfter equal prev = %d", got)
	}
	if got := runePrefix(doc, 1, 2); got != "中文" {
		t.Errorf("runePrefix = %q", got)
	}
}
