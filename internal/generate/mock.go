package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MockDocument synthesizes the fallback article for req. The output depends
// only on req.
func MockDocument(req Request) string {
	title := stripAngles(req.Title)
	style := stripAngles(req.Style)
	background := stripAngles(req.Context)

	styleText := ""
	if style != "" {
		styleText = "，以" + style + "的风格呈现"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)

	b.WriteString("## 引言\n\n")
	fmt.Fprintf(&b, "这是关于%s的内容%s。这是一个由模拟数据生成的内容，因为Dify API调用失败或不可用。\n\n", title, styleText)
	if background != "" {
		fmt.Fprintf(&b, "> 背景：%s\n\n", background)
	}

	b.WriteString("## 主要内容\n\n")
	fmt.Fprintf(&b, "### 1. %s的重要性\n\n", title)
	fmt.Fprintf(&b, "在当今快速发展的世界中，%s变得越来越重要。理解它的核心概念和应用场景可以帮助我们更好地应对挑战。\n\n", title)

	b.WriteString("### 2. 关键技术和方法\n\n")
	for _, m := range methodsFor(style) {
		fmt.Fprintf(&b, "- %s\n", m)
	}
	b.WriteString("\n")

	b.WriteString("### 3. 应用场景\n\n")
	fmt.Fprintf(&b, "%s可以应用在教育、企业管理、产品设计和日常生活等多个领域，在实践中不断验证和完善。\n\n", title)

	b.WriteString("### 4. 未来展望\n\n")
	fmt.Fprintf(&b, "随着技术的不断发展，%s将继续演化，并在更多领域发挥作用。\n\n", title)

	b.WriteString("## 总结\n\n")
	fmt.Fprintf(&b, "%s是一个重要的话题，它将继续影响我们的工作和生活。通过深入理解和应用，我们能够从中获得更多价值。", title)

	return b.String()
}

func stripAngles(s string) string {
	return strings.NewReplacer("<", "", ">", "").Replace(strings.TrimSpace(s))
}

// methodsFor picks the key-methods list by keywords in the style.
func methodsFor(style string) []string {
	s := strings.ToLower(style)
	switch {
	case containsAny(s, "技术", "tech", "专业"):
		return []string{"架构设计与模块划分", "核心算法与实现细节", "性能评估与优化", "工程实践与部署"}
	case containsAny(s, "新闻", "news", "报道"):
		return []string{"事实核查", "多方信源", "时间线梳理", "影响分析"}
	case containsAny(s, "通俗", "简单", "幽默", "casual"):
		return []string{"从生活中的例子说起", "用类比解释概念", "一步一步动手尝试", "常见误区"}
	}
	return []string{"结构化思维", "清晰表达", "技术应用", "实践案例"}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Progress messages shared by the upstream and mock paths.
const (
	MsgStarting        = "正在开始生成..."
	MsgWorkflowStarted = "工作流已开始"
	MsgNodeStarted     = "节点开始处理"
	MsgReceiving       = "接收内容"
	MsgCompleted       = "生成完成"
	MsgCanceled        = "已取消"
)

type mockStep struct {
	delay   time.Duration
	status  string
	content string
}

// mockSteps is the scripted replay of doc. The final Complete frame is not
// part of the script; its delay is returned separately.
func mockSteps(title, doc string) ([]mockStep, time.Duration) {
	header := fmt.Sprintf("# %s\n\n## 引言\n\n", stripAngles(title))
	p1 := prefixAfter(doc, header, 0)
	p2 := prefixAfter(doc, runePrefix(doc, 3, 10), p1)
	p3 := prefixAfter(doc, runePrefix(doc, 7, 10), p2)

	return []mockStep{
		{100 * time.Millisecond, MsgStarting, ""},
		{300 * time.Millisecond, MsgWorkflowStarted, ""},
		{500 * time.Millisecond, MsgNodeStarted, ""},
		{700 * time.Millisecond, MsgReceiving, doc[:p1]},
		{1000 * time.Millisecond, MsgReceiving, doc[:p2]},
		{1500 * time.Millisecond, "节点处理完成 (1)", ""},
		{300 * time.Millisecond, MsgReceiving, doc[:p3]},
		{1000 * time.Millisecond, MsgReceiving, doc},
	}, 1000 * time.Millisecond
}

// runePrefix returns the first num/den of s measured in characters.
func runePrefix(s string, num, den int) string {
	n := utf8.RuneCountInString(s) * num / den
	i := 0
	for ; n > 0; n-- {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i]
}

// prefixAfter returns the byte length of the shortest prefix of doc that is
// at least as long as want and strictly longer than prev, on a rune boundary.
func prefixAfter(doc, want string, prev int) int {
	end := len(want)
	if !strings.HasPrefix(doc, want) {
		end = 0
	}
	for end <= prev && end < len(doc) {
		_, size := utf8.DecodeRuneInString(doc[end:])
		end += size
	}
	return end
}

// Mock replays the fallback document as a sequence of progress events.
type Mock struct {
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// Play reports the scripted events to obs and returns the full document. It
// does not call obs.Complete. A context error is returned as soon as ctx is
// done, and no further events are reported after that.
func (m *Mock) Play(ctx context.Context, req Request, obs Observer) (string, error) {
	doc := MockDocument(req)
	steps, final := mockSteps(req.Title, doc)
	m.logger.Info("replaying mock document", "run_id", "mock-workflow-"+uuid.NewString(), "title", req.Title)

	for _, st := range steps {
		if err := m.sleep(ctx, st.delay); err != nil {
			return "", err
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		obs.Progress(st.status, st.content)
	}
	if err := m.sleep(ctx, final); err != nil {
		return "", err
	}
	return doc, ctx.Err()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
