package meeting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/polymind/polymind/config"
	"github.com/polymind/polymind/internal/knowledge"
	"github.com/polymind/polymind/internal/pkg/llm"
	"github.com/polymind/polymind/internal/role"
	"k8s.io/klog/v2"
)

// Engine 讨论编排引擎
// 整条流水线单线程顺序执行：后发言角色的上下文依赖先发言角色的产出，
// 并行化会破坏轮转传递协议，因此这里刻意不做任何并发扇出
type Engine struct {
	gateway  llm.Gateway
	executor llm.ToolExecutor
	curator  *knowledge.Curator
	factory  *role.Factory

	maxEpoch         int
	selfCheckEnabled bool
	sink             llm.StreamSink
	notifier         Notifier

	sm        *PhaseStateMachine
	phase     Phase
	sessionID string

	// 跨回合可变状态只有知识库与历史纪要，全部由引擎独占持有
	userRequest string
	base        *knowledge.Base
	history     []RoundSummary
}

// EngineOptions 引擎可选依赖
type EngineOptions struct {
	Sink     llm.StreamSink
	Notifier Notifier
}

// NewEngine 创建讨论引擎
func NewEngine(cfg *config.Config, gateway llm.Gateway, executor llm.ToolExecutor,
	curator *knowledge.Curator, factory *role.Factory, opts EngineOptions) *Engine {
	maxEpoch := cfg.Meeting.MaxEpoch
	if maxEpoch <= 0 {
		maxEpoch = 5
	}
	return &Engine{
		gateway:          gateway,
		executor:         executor,
		curator:          curator,
		factory:          factory,
		maxEpoch:         maxEpoch,
		selfCheckEnabled: cfg.Meeting.SelfCheck,
		sink:             opts.Sink,
		notifier:         opts.Notifier,
		sm:               NewPhaseStateMachine(),
		phase:            PhaseInit,
	}
}

// Run 执行一次完整研究会话
// 致命错误（凭据缺失、重试耗尽、角色提取失败）会中止整个会话；
// 其余错误降级吸收，讨论继续
func (e *Engine) Run(ctx context.Context, sessionID, userRequest string) (*Result, error) {
	e.sessionID = sessionID
	e.userRequest = userRequest
	e.phase = PhaseInit
	e.history = nil

	if err := e.initialize(ctx); err != nil {
		e.transition(PhaseTerminated)
		return nil, err
	}

	roles, err := e.factory.Generate(ctx, userRequest, e.base.UserNeedProfile, e.base.Knowledge)
	if err != nil {
		e.transition(PhaseTerminated)
		return nil, err
	}
	klog.V(6).Infof("角色生成完成: sessionID=%s, count=%d", sessionID, len(roles))

	epochs := 0
	for epoch := 1; epoch <= e.maxEpoch; epoch++ {
		if err := e.transition(PhaseInProgress); err != nil {
			return nil, err
		}
		e.notify(Event{Type: "phase", Epoch: epoch, Text: string(PhaseInProgress)})

		round := &RoundRecord{Epoch: epoch}
		for _, r := range roles {
			if err := e.runTurn(ctx, r, round); err != nil {
				e.transition(PhaseTerminated)
				return nil, err
			}
		}

		if err := e.transition(PhaseSummarizing); err != nil {
			return nil, err
		}
		e.notify(Event{Type: "phase", Epoch: epoch, Text: string(PhaseSummarizing)})

		condensed, err := e.condenseRound(ctx, round)
		if err != nil {
			e.transition(PhaseTerminated)
			return nil, err
		}
		summary := e.verifyRound(ctx, round, condensed)

		// 纪要入库后即为只读，修剪只作用于知识库
		e.base = knowledge.Prune(e.base, summary.SectionsToPrune)
		e.history = append(e.history, summary)
		e.notify(Event{Type: "summary", Epoch: epoch, Text: summary.Text()})

		epochs = epoch
		if summary.CanEndMeeting {
			klog.V(6).Infof("讨论达成共识，提前结束: sessionID=%s, epoch=%d", sessionID, epoch)
			break
		}
	}
	// 轮次上限是硬约束，没有共识也强制收尾
	if err := e.transition(PhaseTerminated); err != nil {
		return nil, err
	}

	report, err := e.synthesizeReport(ctx)
	if err != nil {
		return nil, err
	}
	e.notify(Event{Type: "report", Text: report})

	return &Result{
		Roles:          roles,
		History:        e.history,
		Knowledge:      e.base,
		Epochs:         epochs,
		ReportMarkdown: report,
	}, nil
}

// initialize 先规划检索问题拿到首批材料，再构建初始知识库
func (e *Engine) initialize(ctx context.Context) error {
	questions, err := e.curator.SeedQuestions(ctx, e.userRequest)
	if err != nil {
		return err
	}

	var results []llm.QuestionResult
	var references []llm.Reference
	if e.executor != nil {
		args, marshalErr := json.Marshal(questions)
		if marshalErr != nil {
			return fmt.Errorf("failed to marshal seed questions: %w", marshalErr)
		}
		toolResult, execErr := e.executor.Execute(ctx, llm.ToolCall{
			ID:   uuid.New().String(),
			Type: "function",
			Function: llm.FunctionCall{
				Name:      "web_search",
				Arguments: string(args),
			},
		})
		if execErr != nil {
			// 首轮检索失败按空材料降级，知识库仍可从用户原文建起
			klog.Warningf("首轮检索失败，按无材料继续: sessionID=%s, err=%v", e.sessionID, execErr)
		} else {
			results = toolResult.Results
			references = toolResult.References
		}
	}

	base, err := e.curator.Curate(ctx, e.userRequest, results, references)
	if err != nil {
		return err
	}
	e.base = base
	return nil
}

func (e *Engine) transition(to Phase) error {
	if e.phase == to {
		return nil
	}
	if err := e.sm.Transition(e.phase, to, e.sessionID); err != nil {
		return err
	}
	e.phase = to
	return nil
}

func (e *Engine) notify(event Event) {
	if e.notifier != nil {
		e.notifier.Publish(event)
	}
}
