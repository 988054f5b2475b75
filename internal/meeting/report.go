package meeting

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/polymind/polymind/internal/pkg/llm"
	"github.com/polymind/polymind/internal/utils"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// reportSections 报告的固定章节骨架，顺序不可调整
var reportSections = []string{
	"背景", "目标", "方法", "初步结论", "证据与不确定性", "未决问题", "后续与风险",
}

// synthesizeReport 把全部历史纪要与知识库合成最终研究报告
// 允许发起一次补充检索获取外部背景；报告中必须区分三类信息来源
func (e *Engine) synthesizeReport(ctx context.Context) (string, error) {
	systemPrompt := fmt.Sprintf(`你是研究报告撰写人。基于讨论纪要与知识库撰写 Markdown 报告。
报告必须按以下章节组织（二级标题，顺序固定）：
%s

信息来源标注规则（必须执行，这是给读者的信任信号）：
- 来自讨论纪要或知识库的内容标注「讨论结论」
- 通过补充检索获得的公开背景标注「外部背景」
- 基于前两者推演、尚无直接依据的内容标注「条件推断」
除明确标注「外部背景」的内容外，禁止引入纪要与知识库之外的论断。
允许调用搜索工具做一次补充背景检索。`, "## "+strings.Join(reportSections, "\n## "))

	userPrompt := fmt.Sprintf(
		"用户诉求:\n%s\n\n用户需求画像:\n%s\n\n检索方向:\n%s\n\n全部轮次纪要:\n%s\n\n知识库:\n%s",
		e.userRequest, e.base.UserNeedProfile, e.base.SearchFocusProfile,
		historyText(e.history), e.base.Knowledge,
	)

	completion, err := e.gateway.Complete(ctx, systemPrompt, userPrompt, llm.Options{Sink: e.sink})
	if err != nil {
		return "", fmt.Errorf("report synthesis failed: %w", err)
	}
	// 模型偶尔把报告包进 markdown 代码块里
	return utils.ExtractMarkdown(completion.Answer), nil
}

var markdownRenderer = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// RenderHTML 把 Markdown 报告渲染成 HTML 片段
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := markdownRenderer.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}
