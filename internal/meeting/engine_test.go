package meeting

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/polymind/polymind/config"
	"github.com/polymind/polymind/internal/knowledge"
	"github.com/polymind/polymind/internal/pkg/llm"
	"github.com/polymind/polymind/internal/role"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGateway 按系统提示词分发脚本化回复的模型替身
type scriptedGateway struct {
	t *testing.T

	roleCount     int
	rolesAnswer   string // 非空时覆盖角色生成回复
	canEndAtEpoch int    // 第 N 次核验起返回 canEndMeeting=true，0 表示永不

	speakCalls    int
	verifyCalls   int
	reportCalls   int
	speakPrompts  []string
	updatePrompts []string

	// 按发言序号注入检索产出（1 起）
	speakWebResults map[int][]llm.QuestionResult
}

func (g *scriptedGateway) Complete(ctx context.Context, systemPrompt, userPrompt string, opts llm.Options) (*llm.Completion, error) {
	switch {
	case strings.Contains(systemPrompt, "检索规划助手"):
		return &llm.Completion{Answer: `[{"id":"s1","question":"种子检索问题","time":"none"}]`}, nil

	case strings.Contains(systemPrompt, "把新检索材料合并"):
		g.updatePrompts = append(g.updatePrompts, userPrompt)
		return &llm.Completion{Answer: `{"knowledge_base":"合并后的事实。","removal_hints":[]}`}, nil

	case strings.Contains(systemPrompt, "资料整编助手"):
		return &llm.Completion{Answer: `{"knowledge_base":"初始事实。","user_need_profile":"来自用户原文的画像","search_focus_profile":"初始检索方向","removal_hints":[]}`}, nil

	case strings.Contains(systemPrompt, "讨论的组织者"):
		if g.rolesAnswer != "" {
			return &llm.Completion{Answer: g.rolesAnswer}, nil
		}
		var sb strings.Builder
		sb.WriteString("[")
		for i := 0; i < g.roleCount; i++ {
			if i > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, `{"role_name":"专家%d","role_job":"职业%d","personality":"性格"}`, i+1, i+1)
		}
		sb.WriteString("]")
		return &llm.Completion{Answer: sb.String()}, nil

	case strings.Contains(systemPrompt, "研究讨论会"):
		g.speakCalls++
		g.speakPrompts = append(g.speakPrompts, userPrompt)
		if opts.Sink != nil {
			opts.Sink.ProcessChunk("增量片段")
		}
		completion := &llm.Completion{Answer: fmt.Sprintf("发言内容-%d", g.speakCalls)}
		if results, ok := g.speakWebResults[g.speakCalls]; ok {
			completion.WebResults = results
		}
		return completion, nil

	case strings.Contains(systemPrompt, "审校助手"):
		idx := strings.Index(userPrompt, "待审校发言:\n")
		require.GreaterOrEqual(g.t, idx, 0)
		return &llm.Completion{Answer: "[已审校]" + userPrompt[idx+len("待审校发言:\n"):]}, nil

	case strings.Contains(systemPrompt, "会议记录员"):
		return &llm.Completion{Answer: "压缩后的轮次纪要"}, nil

	case strings.Contains(systemPrompt, "证据核验员"):
		g.verifyCalls++
		canEnd := g.canEndAtEpoch > 0 && g.verifyCalls >= g.canEndAtEpoch
		return &llm.Completion{Answer: fmt.Sprintf(
			`{"approvedContent":"共识结论","pendingContent":"待定项","nextStepsContent":"下一步","canEndMeeting":%t,"sectionsToPrune":[]}`,
			canEnd)}, nil

	case strings.Contains(systemPrompt, "报告撰写人"):
		g.reportCalls++
		return &llm.Completion{Answer: "## 背景\n讨论结论：示例报告。"}, nil
	}

	g.t.Fatalf("未预期的系统提示词: %s", systemPrompt)
	return nil, nil
}

func (g *scriptedGateway) Generate(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	return "", nil
}

type fakeExecutor struct {
	calls  int
	result llm.ToolResult
}

func (f *fakeExecutor) Execute(ctx context.Context, toolCall llm.ToolCall) (llm.ToolResult, error) {
	f.calls++
	return f.result, nil
}

func newTestEngine(t *testing.T, gateway *scriptedGateway, maxEpoch, roleCount int, selfCheck bool) (*Engine, *fakeExecutor) {
	t.Helper()
	gateway.t = t
	gateway.roleCount = roleCount

	cfg := config.DefaultConfig()
	cfg.Meeting.MaxEpoch = maxEpoch
	cfg.Meeting.RoleCount = roleCount
	cfg.Meeting.SelfCheck = selfCheck

	executor := &fakeExecutor{result: llm.ToolResult{
		Content: `[{"question":"种子检索问题","result":"首批材料"}]`,
		Results: []llm.QuestionResult{{Question: "种子检索问题", Result: "首批材料"}},
	}}
	engine := NewEngine(cfg, gateway, executor,
		knowledge.NewCurator(gateway), role.NewFactory(gateway, roleCount), EngineOptions{})
	return engine, executor
}

func TestRunStopsWhenConsensusReached(t *testing.T) {
	// 第 1 轮核验不通过、第 2 轮通过：上限 5 轮也只应跑 2 轮
	gateway := &scriptedGateway{canEndAtEpoch: 2}
	engine, executor := newTestEngine(t, gateway, 5, 3, false)

	result, err := engine.Run(context.Background(), "session-a", "设计一个前所未见的高价值 AI 服务")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Epochs)
	assert.Equal(t, 2, gateway.verifyCalls)
	assert.Equal(t, 6, gateway.speakCalls) // 2 轮 × 3 角色
	assert.Equal(t, 1, gateway.reportCalls)
	assert.Equal(t, 1, executor.calls) // 开场种子检索
	assert.Len(t, result.History, 2)
	require.Len(t, result.Roles, 3)
	assert.Equal(t, PhaseTerminated, engine.phase)
}

func TestRunNeverExceedsMaxEpoch(t *testing.T) {
	// 核验永远不放行，轮次上限仍是硬约束
	gateway := &scriptedGateway{canEndAtEpoch: 0}
	engine, _ := newTestEngine(t, gateway, 2, 3, false)

	result, err := engine.Run(context.Background(), "session-b", "议题")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Epochs)
	assert.Equal(t, 2, gateway.verifyCalls)
	assert.Equal(t, 6, gateway.speakCalls)
	assert.Equal(t, 1, gateway.reportCalls)
}

func TestRunRoleOrderContextIsolation(t *testing.T) {
	gateway := &scriptedGateway{canEndAtEpoch: 0}
	engine, _ := newTestEngine(t, gateway, 2, 3, false)

	_, err := engine.Run(context.Background(), "session-c", "议题")
	require.NoError(t, err)
	require.Len(t, gateway.speakPrompts, 6)

	// 同轮内：后发言者能看到先发言者，反向不可见
	assert.NotContains(t, gateway.speakPrompts[0], "发言内容-1")
	assert.Contains(t, gateway.speakPrompts[1], "发言内容-1")
	assert.Contains(t, gateway.speakPrompts[2], "发言内容-1")
	assert.Contains(t, gateway.speakPrompts[2], "发言内容-2")
	assert.NotContains(t, gateway.speakPrompts[1], "发言内容-3")

	// 跨轮：第 2 轮只能看到压缩纪要，看不到第 1 轮逐字稿
	assert.Contains(t, gateway.speakPrompts[3], "压缩后的轮次纪要")
	assert.NotContains(t, gateway.speakPrompts[3], "发言内容-1")
	assert.NotContains(t, gateway.speakPrompts[3], "发言内容-2")
}

func TestRunRoleGenerationFailureIsFatal(t *testing.T) {
	gateway := &scriptedGateway{rolesAnswer: "抱歉，角色生成失败，这不是 JSON。"}
	engine, _ := newTestEngine(t, gateway, 2, 3, false)

	_, err := engine.Run(context.Background(), "session-d", "议题")
	require.ErrorIs(t, err, role.ErrGeneration)
	assert.Zero(t, gateway.speakCalls)
	assert.Equal(t, PhaseTerminated, engine.phase)
}

func TestRunNoSearchResultsSkipsKnowledgeUpdate(t *testing.T) {
	// 所有发言都没有检索产出：一次知识库更新调用都不该发生
	gateway := &scriptedGateway{canEndAtEpoch: 1}
	engine, _ := newTestEngine(t, gateway, 1, 2, false)

	_, err := engine.Run(context.Background(), "session-e", "议题")
	require.NoError(t, err)
	assert.Empty(t, gateway.updatePrompts)
}

func TestRunSearchResultsTriggerKnowledgeUpdate(t *testing.T) {
	gateway := &scriptedGateway{
		canEndAtEpoch: 1,
		speakWebResults: map[int][]llm.QuestionResult{
			2: {{Question: "补充问题", Result: "补充材料"}},
		},
	}
	engine, _ := newTestEngine(t, gateway, 1, 2, false)

	_, err := engine.Run(context.Background(), "session-f", "议题")
	require.NoError(t, err)
	require.Len(t, gateway.updatePrompts, 1)
	assert.Contains(t, gateway.updatePrompts[0], "补充材料")
	// 更新后的知识库进入后续上下文
	assert.Equal(t, "合并后的事实。", engine.base.Knowledge)
}

func TestRunSelfCheckRewritesStatements(t *testing.T) {
	gateway := &scriptedGateway{canEndAtEpoch: 1}
	engine, _ := newTestEngine(t, gateway, 1, 2, true)

	_, err := engine.Run(context.Background(), "session-g", "议题")
	require.NoError(t, err)

	// 第二位角色的上下文里是审校后的版本
	require.Len(t, gateway.speakPrompts, 2)
	assert.Contains(t, gateway.speakPrompts[1], "[已审校]发言内容-1")
}

type recordingNotifier struct {
	events []Event
}

func (n *recordingNotifier) Publish(event Event) {
	n.events = append(n.events, event)
}

func TestRunPublishesEvents(t *testing.T) {
	gateway := &scriptedGateway{canEndAtEpoch: 1}
	engine, _ := newTestEngine(t, gateway, 1, 2, false)
	notifier := &recordingNotifier{}
	engine.notifier = notifier

	_, err := engine.Run(context.Background(), "session-h", "议题")
	require.NoError(t, err)

	var types []string
	for _, event := range notifier.events {
		types = append(types, event.Type)
	}
	assert.Contains(t, types, "phase")
	assert.Contains(t, types, "statement")
	assert.Contains(t, types, "summary")
	assert.Contains(t, types, "report")
}

func TestRunForwardsStreamChunksToNotifier(t *testing.T) {
	gateway := &scriptedGateway{canEndAtEpoch: 1}
	engine, _ := newTestEngine(t, gateway, 1, 2, false)
	notifier := &recordingNotifier{}
	engine.notifier = notifier
	engine.sink = NewChunkSink(notifier)

	_, err := engine.Run(context.Background(), "session-i", "议题")
	require.NoError(t, err)

	// 两位角色各发言一次，各产生一段增量
	chunks := 0
	for _, event := range notifier.events {
		if event.Type == "chunk" {
			chunks++
			assert.Equal(t, "增量片段", event.Text)
		}
	}
	assert.Equal(t, 2, chunks)
}

func TestVerifyRoundParseFailureContinuesMeeting(t *testing.T) {
	gateway := &scriptedGateway{t: t}
	cfg := config.DefaultConfig()
	engine := NewEngine(cfg, gateway, nil, knowledge.NewCurator(gateway), role.NewFactory(gateway, 2), EngineOptions{})
	engine.base = &knowledge.Base{Knowledge: "事实"}

	brokenGateway := &rawAnswerGateway{answer: "这不是 JSON 的核验输出"}
	engine.gateway = brokenGateway

	round := &RoundRecord{Epoch: 1, Statements: []Statement{{RoleName: "甲", Text: "观点"}}}
	summary := engine.verifyRound(context.Background(), round, "纪要")

	assert.False(t, summary.CanEndMeeting)
	assert.Equal(t, "这不是 JSON 的核验输出", summary.RawText)
	assert.Equal(t, "这不是 JSON 的核验输出", summary.Text())
}

type rawAnswerGateway struct {
	answer string
}

func (g *rawAnswerGateway) Complete(ctx context.Context, systemPrompt, userPrompt string, opts llm.Options) (*llm.Completion, error) {
	return &llm.Completion{Answer: g.answer}, nil
}

func (g *rawAnswerGateway) Generate(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	return g.answer, nil
}

func TestRoundRecordTranscript(t *testing.T) {
	round := &RoundRecord{Epoch: 1}
	assert.Contains(t, round.Transcript(), "尚无人发言")

	round.Statements = append(round.Statements, Statement{RoleName: "甲", Occupation: "工程师", Text: "观点一"})
	transcript := round.Transcript()
	assert.Contains(t, transcript, "甲（工程师）")
	assert.Contains(t, transcript, "观点一")
}
