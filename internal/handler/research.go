package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/polymind/polymind/internal/eventbus"
	"github.com/polymind/polymind/internal/service/sessions"
	"github.com/polymind/polymind/internal/utils"
	"k8s.io/klog/v2"
)

// ResearchHandler 研究会话相关接口
type ResearchHandler struct {
	registry *sessions.Registry
	runner   *sessions.Runner
	bus      *eventbus.Bus
}

func NewResearchHandler(registry *sessions.Registry, runner *sessions.Runner, bus *eventbus.Bus) *ResearchHandler {
	return &ResearchHandler{
		registry: registry,
		runner:   runner,
		bus:      bus,
	}
}

type createResearchRequest struct {
	Request string `json:"request" binding:"required"`
}

// Create 创建研究会话并提交执行
func (h *ResearchHandler) Create(c *gin.Context) {
	var req createResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request 字段不能为空"})
		return
	}
	if strings.TrimSpace(req.Request) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request 字段不能为空"})
		return
	}

	session := h.registry.Create(req.Request)
	if err := h.runner.Submit(session.ID); err != nil {
		klog.Errorf("会话提交失败: sessionID=%s, err=%v", session.ID, err)
		_ = h.registry.MarkFailed(session.ID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "会话提交失败，请稍后重试"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":     session.ID,
		"status": session.Status,
	})
}

// Get 查询会话状态与产出
func (h *ResearchHandler) Get(c *gin.Context) {
	session, ok := h.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// List 列出全部会话
func (h *ResearchHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.registry.List()})
}

// Stream 以 SSE 推送会话过程事件
func (h *ResearchHandler) Stream(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.registry.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
		return
	}

	events, cancel := h.bus.Subscribe(id)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// 订阅完成后再查终态：会话在查询与订阅之间结束时 done 事件已经发过，
	// 这里直接补发一条终态事件，不再挂长连接
	if session, ok := h.registry.Get(id); ok && session.IsTerminal() {
		c.String(http.StatusOK, "data: %s\n\n", utils.ToJSON(gin.H{"type": "done", "status": session.Status}))
		return
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case event, open := <-events:
			if !open {
				return false
			}
			c.SSEvent("message", utils.ToJSON(event))
			return event.Type != "done" && event.Type != "error"
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// Report 返回渲染好的 HTML 报告
func (h *ResearchHandler) Report(c *gin.Context) {
	session, ok := h.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "会话不存在"})
		return
	}
	if session.Status != sessions.StatusSucceeded {
		c.JSON(http.StatusConflict, gin.H{"error": "报告尚未生成", "status": session.Status})
		return
	}
	if session.ReportHTML == "" && session.Result != nil {
		// HTML 渲染失败的兜底：交付 Markdown 原文
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(session.Result.ReportMarkdown))
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(session.ReportHTML))
}
