package meeting

import (
	"fmt"
	"strings"

	"github.com/polymind/polymind/internal/knowledge"
	"github.com/polymind/polymind/internal/pkg/llm"
	"github.com/polymind/polymind/internal/role"
)

// Statement 单个角色的一次发言记录
type Statement struct {
	RecordID   string `json:"record_id"`
	RoleID     string `json:"role_id"`
	RoleName   string `json:"role_name"`
	Occupation string `json:"occupation"`
	Text       string `json:"text"`
}

// RoundRecord 一轮讨论的完整逐字稿
// 逐角色追加构建，归纳完成后原始逐字稿即被丢弃，只留压缩后的轮次纪要
type RoundRecord struct {
	Epoch      int
	Statements []Statement
}

// Transcript 渲染当前轮已有发言，供后续角色作为上下文
func (r *RoundRecord) Transcript() string {
	if len(r.Statements) == 0 {
		return "（本轮尚无人发言）"
	}
	var sb strings.Builder
	for _, s := range r.Statements {
		fmt.Fprintf(&sb, "%s（%s）:\n%s\n\n", s.RoleName, s.Occupation, s.Text)
	}
	return strings.TrimSpace(sb.String())
}

// RoundSummary 一轮讨论的归纳与核验产出
// 创建后追加到历史纪要，永不修改
type RoundSummary struct {
	Epoch     int    `json:"epoch"`
	Condensed string `json:"condensed"` // 压缩后的轮次纪要

	ApprovedContent  string   `json:"approvedContent"`
	RejectedContent  string   `json:"rejectedContent"`
	PendingContent   string   `json:"pendingContent"`
	VerifiedBasis    string   `json:"verifiedBasis"`
	RejectedBasis    string   `json:"rejectedBasis"`
	NextStepsContent string   `json:"nextStepsContent"`
	CanEndMeeting    bool     `json:"canEndMeeting"`
	SectionsToPrune  []string `json:"sectionsToPrune"`

	// 核验结果解析失败时保留原始文本，会议按未达成共识继续
	RawText string `json:"raw_text,omitempty"`
}

// Text 渲染纪要全文，供后续轮次与报告合成引用
func (s *RoundSummary) Text() string {
	if s.RawText != "" {
		return s.RawText
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "第 %d 轮纪要:\n%s\n", s.Epoch, s.Condensed)
	writeSection(&sb, "已达成共识", s.ApprovedContent)
	writeSection(&sb, "已被否定", s.RejectedContent)
	writeSection(&sb, "悬而未决", s.PendingContent)
	writeSection(&sb, "已核实依据", s.VerifiedBasis)
	writeSection(&sb, "不成立依据", s.RejectedBasis)
	writeSection(&sb, "下一步讨论方向", s.NextStepsContent)
	return strings.TrimSpace(sb.String())
}

func writeSection(sb *strings.Builder, title, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	fmt.Fprintf(sb, "%s: %s\n", title, content)
}

// historyText 渲染全部历史纪要
func historyText(history []RoundSummary) string {
	if len(history) == 0 {
		return "（尚无历史纪要）"
	}
	parts := make([]string, 0, len(history))
	for i := range history {
		parts = append(parts, history[i].Text())
	}
	return strings.Join(parts, "\n\n")
}

// Result 一次完整研究会话的产出
type Result struct {
	Roles          []role.Role     `json:"roles"`
	History        []RoundSummary  `json:"history"`
	Knowledge      *knowledge.Base `json:"knowledge"`
	Epochs         int             `json:"epochs"`
	ReportMarkdown string          `json:"report_markdown"`
}

// Event 会议过程事件，推送给观察方
type Event struct {
	Type     string `json:"type"` // phase / statement / summary / report / chunk
	Epoch    int    `json:"epoch,omitempty"`
	RoleName string `json:"role_name,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Notifier 事件订阅接口，纯观察用途，不参与控制流
type Notifier interface {
	Publish(event Event)
}

// chunkSink 把模型的流式增量转发为 chunk 事件
type chunkSink struct {
	notifier Notifier
}

// NewChunkSink 返回把增量输出推给订阅方的 StreamSink
// 订阅方由此能在角色发言与报告合成过程中看到逐字输出
func NewChunkSink(notifier Notifier) llm.StreamSink {
	return &chunkSink{notifier: notifier}
}

func (s *chunkSink) ProcessChunk(text string) {
	s.notifier.Publish(Event{Type: "chunk", Text: text})
}
