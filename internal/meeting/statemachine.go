package meeting

import (
	"fmt"

	"k8s.io/klog/v2"
)

// Phase 定义会议的所有可能阶段
type Phase string

const (
	PhaseInit        Phase = "init"              // 构建知识库与角色
	PhaseInProgress  Phase = "round_in_progress" // 逐角色发言中
	PhaseSummarizing Phase = "round_summarizing" // 归纳与证据核验中
	PhaseTerminated  Phase = "terminated"        // 会议结束
)

// PhaseTransition 定义会议阶段迁移
type PhaseTransition struct {
	From Phase
	To   Phase
}

// PhaseStateMachine 会议阶段状态机
type PhaseStateMachine struct {
	allowedTransitions map[PhaseTransition]bool
}

// NewPhaseStateMachine 创建会议阶段状态机
func NewPhaseStateMachine() *PhaseStateMachine {
	sm := &PhaseStateMachine{
		allowedTransitions: make(map[PhaseTransition]bool),
	}

	// init -> round_in_progress -> round_summarizing -> round_in_progress（下一轮）
	// round_summarizing -> terminated（达成共识或轮次耗尽）
	transitions := []PhaseTransition{
		{PhaseInit, PhaseInProgress},
		{PhaseInProgress, PhaseSummarizing},
		{PhaseSummarizing, PhaseInProgress},
		{PhaseSummarizing, PhaseTerminated},
		// 前置步骤失败时允许直接终止
		{PhaseInit, PhaseTerminated},
		{PhaseInProgress, PhaseTerminated},
	}
	for _, t := range transitions {
		sm.allowedTransitions[t] = true
	}
	return sm
}

// CanTransition 检查阶段迁移是否合法
func (sm *PhaseStateMachine) CanTransition(from, to Phase) bool {
	if from == to {
		return false
	}
	return sm.allowedTransitions[PhaseTransition{From: from, To: to}]
}

// Transition 执行阶段迁移（带日志）
func (sm *PhaseStateMachine) Transition(from, to Phase, sessionID string) error {
	if !sm.CanTransition(from, to) {
		err := &InvalidPhaseTransitionError{From: string(from), To: string(to)}
		klog.V(6).Infof("会议阶段迁移被拒绝: sessionID=%s, %s -> %s", sessionID, from, to)
		return err
	}
	klog.V(6).Infof("会议阶段迁移成功: sessionID=%s, %s -> %s", sessionID, from, to)
	return nil
}

// InvalidPhaseTransitionError 无效的阶段迁移错误
type InvalidPhaseTransitionError struct {
	From string
	To   string
}

func (e *InvalidPhaseTransitionError) Error() string {
	return fmt.Sprintf("invalid meeting phase transition: %s -> %s", e.From, e.To)
}

// IsTerminal 判断阶段是否为终止态
func IsTerminal(phase Phase) bool {
	return phase == PhaseTerminated
}
