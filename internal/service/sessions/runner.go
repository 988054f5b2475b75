package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/polymind/polymind/internal/eventbus"
	"github.com/polymind/polymind/internal/meeting"
	"k8s.io/klog/v2"
)

var ErrRunnerStopped = errors.New("session runner is stopped")

// sessionTimeout 单次会话的执行上限
// 多轮讨论加检索耗时很长，上限放宽到两小时
const sessionTimeout = 2 * time.Hour

// Engine 会话执行入口，由讨论引擎实现
type Engine interface {
	Run(ctx context.Context, sessionID, userRequest string) (*meeting.Result, error)
}

// EngineFactory 为每个会话构建独立引擎
// 引擎持有跨回合状态，不能在会话之间复用
type EngineFactory func(notifier meeting.Notifier) Engine

// Runner 基于协程池的会话执行器
type Runner struct {
	pool      *ants.Pool
	registry  *Registry
	bus       *eventbus.Bus
	newEngine EngineFactory

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewRunner 创建会话执行器
func NewRunner(maxWorkers int, registry *Registry, bus *eventbus.Bus, factory EngineFactory) (*Runner, error) {
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	pool, err := ants.NewPool(maxWorkers,
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(100),
		ants.WithExpiryDuration(5*time.Minute),
	)
	if err != nil {
		klog.Errorf("ants pool initialization failed: %v", err)
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		pool:      pool,
		registry:  registry,
		bus:       bus,
		newEngine: factory,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Submit 把会话提交到协程池执行
func (r *Runner) Submit(sessionID string) error {
	select {
	case <-r.ctx.Done():
		return ErrRunnerStopped
	default:
	}

	return r.pool.Submit(func() {
		r.run(sessionID)
	})
}

func (r *Runner) run(sessionID string) {
	session, ok := r.registry.Get(sessionID)
	if !ok {
		klog.Errorf("待执行会话不存在: sessionID=%s", sessionID)
		return
	}
	if err := r.registry.MarkRunning(sessionID); err != nil {
		klog.Errorf("会话启动失败: sessionID=%s, err=%v", sessionID, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, sessionTimeout)
	defer cancel()

	engine := r.newEngine(r.bus.Notifier(sessionID))
	result, err := engine.Run(ctx, sessionID, session.Request)
	if err != nil {
		klog.Errorf("研究会话失败: sessionID=%s, err=%v", sessionID, err)
		if markErr := r.registry.MarkFailed(sessionID, err); markErr != nil {
			klog.Errorf("会话失败状态写入失败: sessionID=%s, err=%v", sessionID, markErr)
		}
		r.bus.Publish(sessionID, meeting.Event{Type: "error", Text: err.Error()})
		return
	}

	reportHTML, err := meeting.RenderHTML(result.ReportMarkdown)
	if err != nil {
		// 渲染失败不拖垮整个会话，Markdown 原文仍可交付
		klog.Warningf("报告 HTML 渲染失败: sessionID=%s, err=%v", sessionID, err)
	}

	if err := r.registry.MarkSucceeded(sessionID, result, reportHTML); err != nil {
		klog.Errorf("会话完成状态写入失败: sessionID=%s, err=%v", sessionID, err)
		return
	}
	r.bus.Publish(sessionID, meeting.Event{Type: "done"})
	klog.V(6).Infof("研究会话完成: sessionID=%s, epochs=%d", sessionID, result.Epochs)
}

// Stop 停止接收新会话并等待运行中的会话收尾
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		klog.V(6).Infof("session runner stopping...")
		r.cancel()
		for r.pool.Running() > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		r.pool.Release()
	})
}

// Running 返回执行中的会话数量
func (r *Runner) Running() int {
	return r.pool.Running()
}
