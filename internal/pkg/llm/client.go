package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/polymind/polymind/config"
	"github.com/polymind/polymind/internal/utils"
	"k8s.io/klog/v2"
)

const maxToolRounds = 20

// Client LLM 流式客户端，对接 DashScope OpenAI 兼容接口
type Client struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Client    *http.Client

	executor ToolExecutor
	policy   RetryPolicy

	// 节流与冷却，防止瞬时 QPS 与 token 消耗过高
	warmup        time.Duration
	tokenBudget   int
	tokenCooldown time.Duration
	sleep         func(time.Duration)

	totalTokens int
}

// NewClient 创建新的 LLM 客户端
// executor 为空时工具调用会以空结果回写，不会中断对话
func NewClient(cfg *config.Config, executor ToolExecutor) *Client {
	policy := DefaultRetryPolicy()
	if cfg.LLM.MaxRetries > 0 {
		policy.MaxAttempts = cfg.LLM.MaxRetries
	}
	if cfg.LLM.RetryBaseDelay > 0 {
		policy.BaseDelay = cfg.LLM.RetryBaseDelay
	}

	return &Client{
		BaseURL:       cfg.LLM.APIURL,
		APIKey:        cfg.LLM.APIKey,
		Model:         cfg.LLM.Model,
		MaxTokens:     cfg.LLM.MaxTokens,
		Client:        &http.Client{Timeout: 10 * time.Minute},
		executor:      executor,
		policy:        policy,
		warmup:        cfg.LLM.RequestWarmup,
		tokenBudget:   cfg.LLM.TokenBudget,
		tokenCooldown: cfg.LLM.TokenCooldown,
		sleep:         time.Sleep,
	}
}

// SetExecutor 注册工具执行器
// 搜索服务本身依赖客户端做结果汇总，存在构造先后顺序问题，因此允许后置注入
func (c *Client) SetExecutor(executor ToolExecutor) {
	c.executor = executor
}

// turnResult 单轮流式请求的完整产出
type turnResult struct {
	Answer      string
	Reasoning   string
	ToolCalls   []ToolCall
	TotalTokens int
}

// Complete 发送补全请求并处理工具回路
// 模型返回工具调用时执行 web_search 并回写 tool 消息，循环直到获得纯文本响应
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, opts Options) (*Completion, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("LLM API key is not configured")
	}

	messages := []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	var webResults []QuestionResult
	var references []Reference

	for round := 0; round < maxToolRounds; round++ {
		klog.V(6).Infof("工具执行循环: round=%d/%d", round+1, maxToolRounds)

		turn, err := Do(ctx, c.policy, func() (*turnResult, error) {
			return c.sendStream(ctx, messages, opts)
		})
		if err != nil {
			return nil, fmt.Errorf("LLM request failed: %w", err)
		}

		c.throttle(turn.TotalTokens)

		if len(turn.ToolCalls) == 0 {
			return &Completion{
				Answer:     turn.Answer,
				Reasoning:  turn.Reasoning,
				WebResults: webResults,
				References: references,
			}, nil
		}

		klog.V(6).Infof("LLM 返回工具调用: count=%d", len(turn.ToolCalls))

		// 存在 tool_calls 且答案为空时必须给非空占位，否则服务端报 400
		content := turn.Answer
		if strings.TrimSpace(content) == "" {
			content = " "
		}
		messages = append(messages, ChatMessage{
			Role:      "assistant",
			Content:   content,
			ToolCalls: turn.ToolCalls,
		})

		for _, toolCall := range turn.ToolCalls {
			result := c.executeToolCall(ctx, toolCall)
			messages = append(messages, ChatMessage{
				Role:       "tool",
				ToolCallID: toolCall.ID,
				Content:    result.Content,
			})
			webResults = append(webResults, result.Results...)
			references = append(references, result.References...)
		}
	}

	return nil, fmt.Errorf("exceeded maximum tool call rounds (%d)", maxToolRounds)
}

// Generate 非流式的简单补全，用于资料汇总等内部调用
// model 为空时使用默认模型
func (c *Client) Generate(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("LLM API key is not configured")
	}
	if model == "" {
		model = c.Model
	}

	messages := []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	turn, err := Do(ctx, c.policy, func() (*turnResult, error) {
		return c.sendStream(ctx, messages, Options{NoSearch: true, Model: model})
	})
	if err != nil {
		return "", fmt.Errorf("LLM request failed: %w", err)
	}
	c.throttle(turn.TotalTokens)
	return turn.Answer, nil
}

func (c *Client) executeToolCall(ctx context.Context, toolCall ToolCall) ToolResult {
	if c.executor == nil || toolCall.Function.Name != "web_search" {
		klog.Warningf("未注册的工具调用: name=%s", toolCall.Function.Name)
		return ToolResult{Content: "[]"}
	}

	result, err := c.executor.Execute(ctx, toolCall)
	if err != nil {
		klog.Errorf("工具执行失败: name=%s, err=%v", toolCall.Function.Name, err)
		return ToolResult{Content: "[]"}
	}
	if result.Content == "" {
		result.Content = "[]"
	}
	return result
}

// sendStream 发送一次流式请求并收拢所有增量
func (c *Client) sendStream(ctx context.Context, messages []ChatMessage, opts Options) (*turnResult, error) {
	if c.warmup > 0 {
		c.sleep(c.warmup)
	}

	model := opts.Model
	if model == "" {
		model = c.Model
	}

	reqBody := ChatRequest{
		Model:          model,
		Messages:       messages,
		MaxTokens:      c.MaxTokens,
		Temperature:    opts.Temperature,
		Stream:         true,
		StreamOptions:  &StreamOptions{IncludeUsage: true},
		EnableThinking: true,
	}
	if !opts.NoSearch {
		reqBody.Tools = []Tool{WebSearchTool()}
		reqBody.ToolChoice = "auto"
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var wrapper struct {
			Error *apiErrorBody `json:"error"`
		}
		if json.Unmarshal(body, &wrapper) == nil && wrapper.Error != nil {
			apiErr.Code = wrapper.Error.Code
			apiErr.Message = wrapper.Error.Message
		}
		return nil, apiErr
	}

	acc := &accumulator{}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			klog.V(6).Infof("忽略无法解析的流式块: %v", err)
			continue
		}

		if chunk.Error != nil {
			return nil, &APIError{Status: resp.StatusCode, Code: chunk.Error.Code, Message: chunk.Error.Message}
		}

		if chunk.Usage != nil {
			acc.tokens = chunk.Usage.TotalTokens
		}

		if len(chunk.Choices) == 0 {
			// 部分 chunk 只带 usage、没有 choices
			continue
		}

		delta := chunk.Choices[0].Delta
		acc.addReasoning(delta.ReasoningContent)
		for _, tc := range delta.ToolCalls {
			acc.addToolCallDelta(tc)
		}
		if delta.Content != "" {
			if opts.Sink != nil {
				opts.Sink.ProcessChunk(delta.Content)
			}
			acc.addAnswer(delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		// 流中途截断按传输错误处理，交给重试策略
		return nil, fmt.Errorf("stream interrupted: %w", err)
	}

	return &turnResult{
		Answer:      acc.answer.String(),
		Reasoning:   acc.reasoning.String(),
		ToolCalls:   acc.toolCalls(),
		TotalTokens: acc.tokens,
	}, nil
}

// throttle 累计 token 超过预算后进入冷却休眠并清零
func (c *Client) throttle(tokens int) {
	if tokens <= 0 || c.tokenBudget <= 0 {
		return
	}
	c.totalTokens += tokens
	if c.totalTokens > c.tokenBudget {
		klog.Warningf("累计 tokens 已超过 %d，休眠 %v 后继续", c.tokenBudget, c.tokenCooldown)
		c.sleep(c.tokenCooldown)
		c.totalTokens = 0
	}
}

// ParseToolArguments 解析 web_search 的工具参数
// 模型输出可能带有包裹文本或全角逗号，先裁剪修复再解析；失败时退化为空列表
func ParseToolArguments(raw string) []SearchQuestion {
	var questions []SearchQuestion

	if err := utils.DecodeArray(raw, &questions); err == nil {
		return questions
	}

	// 有的模型直接输出 {"question_list": [...]} 形式
	var wrapper struct {
		QuestionList []SearchQuestion `json:"question_list"`
	}
	if err := utils.DecodeObject(raw, &wrapper); err == nil {
		return wrapper.QuestionList
	}

	klog.Warningf("无法解析工具参数，按空列表处理: %s", snippet(raw))
	return nil
}

func snippet(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
