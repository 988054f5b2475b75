package meeting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHTML(t *testing.T) {
	markdown := "## 背景\n\n讨论结论：市场规模持续增长。\n\n| 指标 | 数值 |\n|---|---|\n| 出货量 | 120GW |\n"
	html, err := RenderHTML(markdown)
	require.NoError(t, err)

	assert.Contains(t, html, "<h2")
	assert.Contains(t, html, "背景")
	// GFM 表格扩展生效
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "120GW")
}

func TestRoundSummaryTextSections(t *testing.T) {
	summary := RoundSummary{
		Epoch:           2,
		Condensed:       "纪要正文",
		ApprovedContent: "共识一",
		PendingContent:  "待定二",
	}
	text := summary.Text()
	assert.Contains(t, text, "第 2 轮纪要")
	assert.Contains(t, text, "已达成共识: 共识一")
	assert.Contains(t, text, "悬而未决: 待定二")
	assert.NotContains(t, text, "已被否定")
}
