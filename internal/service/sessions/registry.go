package sessions

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polymind/polymind/internal/meeting"
	"k8s.io/klog/v2"
)

// Status 定义研究会话的所有可能状态
type Status string

const (
	StatusPending   Status = "pending"   // 已创建待调度
	StatusRunning   Status = "running"   // 讨论进行中
	StatusSucceeded Status = "succeeded" // 报告已产出
	StatusFailed    Status = "failed"    // 致命错误中止
)

// allowedTransitions 合法的状态迁移路径
// pending -> running -> succeeded/failed
var allowedTransitions = map[[2]Status]bool{
	{StatusPending, StatusRunning}:   true,
	{StatusRunning, StatusSucceeded}: true,
	{StatusRunning, StatusFailed}:    true,
	{StatusPending, StatusFailed}:    true, // 入池失败
}

// InvalidStatusTransitionError 无效的状态迁移错误
type InvalidStatusTransitionError struct {
	From string
	To   string
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("invalid session status transition: %s -> %s", e.From, e.To)
}

// Session 一次研究会话及其产出
type Session struct {
	ID         string          `json:"id"`
	Request    string          `json:"request"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  time.Time       `json:"started_at,omitempty"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
	Error      string          `json:"error,omitempty"`
	Result     *meeting.Result `json:"result,omitempty"`
	ReportHTML string          `json:"-"`
}

// IsTerminal 判断会话是否已结束
func (s *Session) IsTerminal() bool {
	return s.Status == StatusSucceeded || s.Status == StatusFailed
}

// Registry 进程内会话注册表
// 会话状态不做持久化，进程退出即失效
type Registry struct {
	mutex    sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Create 登记一个新会话
func (r *Registry) Create(request string) *Session {
	session := &Session{
		ID:        uuid.New().String(),
		Request:   request,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	r.mutex.Lock()
	r.sessions[session.ID] = session
	r.mutex.Unlock()
	return session
}

// Get 返回会话快照，避免调用方拿到内部指针产生竞态
func (r *Registry) Get(id string) (Session, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *session, true
}

// List 返回全部会话快照
func (r *Registry) List() []Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	list := make([]Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		list = append(list, *session)
	}
	return list
}

// transition 校验并执行状态迁移
func (r *Registry) transition(id string, to Status, mutate func(*Session)) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	if !allowedTransitions[[2]Status{session.Status, to}] {
		err := &InvalidStatusTransitionError{From: string(session.Status), To: string(to)}
		klog.V(6).Infof("会话状态迁移被拒绝: sessionID=%s, %s -> %s", id, session.Status, to)
		return err
	}

	klog.V(6).Infof("会话状态迁移: sessionID=%s, %s -> %s", id, session.Status, to)
	session.Status = to
	if mutate != nil {
		mutate(session)
	}
	return nil
}

// MarkRunning 标记会话开始执行
func (r *Registry) MarkRunning(id string) error {
	return r.transition(id, StatusRunning, func(s *Session) {
		s.StartedAt = time.Now()
	})
}

// MarkSucceeded 记录会话产出
func (r *Registry) MarkSucceeded(id string, result *meeting.Result, reportHTML string) error {
	return r.transition(id, StatusSucceeded, func(s *Session) {
		s.FinishedAt = time.Now()
		s.Result = result
		s.ReportHTML = reportHTML
	})
}

// MarkFailed 记录会话失败原因
func (r *Registry) MarkFailed(id string, cause error) error {
	return r.transition(id, StatusFailed, func(s *Session) {
		s.FinishedAt = time.Now()
		if cause != nil {
			s.Error = cause.Error()
		}
	})
}
