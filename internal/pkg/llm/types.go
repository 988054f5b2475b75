package llm

import "context"

// Tool 定义一个可供 LLM 调用的工具
// 符合 OpenAI Function Calling 格式
type Tool struct {
	Type     string       `json:"type"` // 固定为 "function"
	Function ToolFunction `json:"function"`
}

// ToolFunction 工具函数定义
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
}

// ParameterSchema 参数 JSON Schema 定义
type ParameterSchema struct {
	Type                 string              `json:"type"` // 固定为 "object"
	AdditionalProperties bool                `json:"additionalProperties"`
	Properties           map[string]Property `json:"properties"`
	Required             []string            `json:"required,omitempty"`
}

// Property 单个参数属性
type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description"`
	Enum        []string            `json:"enum,omitempty"`
	MinLength   int                 `json:"minLength,omitempty"`
	MinItems    int                 `json:"minItems,omitempty"`
	MaxItems    int                 `json:"maxItems,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
}

// ToolCall LLM 返回的工具调用请求
type ToolCall struct {
	ID       string       `json:"id"`
	Index    int          `json:"index"`
	Type     string       `json:"type"` // 固定为 "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall 函数调用详情
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON 格式的参数字符串
}

// ChatMessage 对话消息，支持 ToolCalls 和 ToolCallID
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ChatRequest 流式对话请求体
type ChatRequest struct {
	Model          string         `json:"model"`
	Messages       []ChatMessage  `json:"messages"`
	Tools          []Tool         `json:"tools,omitempty"`
	ToolChoice     string         `json:"tool_choice,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    float64        `json:"temperature,omitempty"`
	Stream         bool           `json:"stream"`
	StreamOptions  *StreamOptions `json:"stream_options,omitempty"`
	EnableThinking bool           `json:"enable_thinking,omitempty"`
}

// StreamOptions 流式选项
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// streamChunk 单个 SSE 数据块
type streamChunk struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role             string          `json:"role"`
			Content          string          `json:"content"`
			ReasoningContent string          `json:"reasoning_content"`
			ToolCalls        []toolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *apiErrorBody `json:"error,omitempty"`
}

// toolCallDelta 工具调用的增量片段，按 index 归并
type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// SearchQuestion web_search 工具的单条搜索请求
type SearchQuestion struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Time     string `json:"time"` // none/week/month/semiyear/year
}

// QuestionResult 单条搜索问题的综合结果
type QuestionResult struct {
	Question string `json:"question"`
	Result   string `json:"result"`
}

// Reference 搜索结果的来源引用
type Reference struct {
	Title          string  `json:"title"`
	Snippet        string  `json:"snippet"`
	PublishTime    string  `json:"publish_time"`
	URL            string  `json:"url"`
	Source         string  `json:"source"`
	RerankScore    float64 `json:"rerank_score"`
	AuthorityScore float64 `json:"authority_score"`
}

// ToolResult 工具执行结果
// Content 会作为 tool 消息原样回传给模型，必须是字符串化的 JSON
type ToolResult struct {
	Content    string
	Results    []QuestionResult
	References []Reference
}

// ToolExecutor 工具执行器接口，由搜索服务实现
type ToolExecutor interface {
	Execute(ctx context.Context, toolCall ToolCall) (ToolResult, error)
}

// StreamSink 增量输出回调，纯观察用途
type StreamSink interface {
	ProcessChunk(text string)
}

// Options 单次补全调用的可选项
type Options struct {
	Temperature float64
	NoSearch    bool   // 不附带 web_search 工具
	Model       string // 覆盖默认模型
	Sink        StreamSink
}

// Completion 一次补全调用的最终产出
// WebResults/References 是工具回路过程中累计的搜索产出
type Completion struct {
	Answer     string
	Reasoning  string
	WebResults []QuestionResult
	References []Reference
}

// Gateway 模型网关接口，编排层只依赖这个抽象
type Gateway interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts Options) (*Completion, error)
	Generate(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// WebSearchTool 返回 web_search 工具定义
func WebSearchTool() Tool {
	return Tool{
		Type: "function",
		Function: ToolFunction{
			Name: "web_search",
			Description: `【工具定位】
- 根据 question_list 中的指令批量执行 1~10 条网络搜索。
- 搜索结果必须来自真实网页，并保留可追溯的来源。

【调用规范】
1. 问题需覆盖用户提供的时间、地点、人物与限制条件。
2. question_list 必须是 JSON 数组，所有标点使用英文符号。
3. 严禁生成重复或语义接近的问题，禁止含糊表述。`,
			Parameters: ParameterSchema{
				Type: "object",
				Properties: map[string]Property{
					"question_list": {
						Type:     "array",
						MinItems: 1,
						MaxItems: 10,
						Items: &Property{
							Type: "object",
							Properties: map[string]Property{
								"id": {
									Type:        "string",
									Description: "GUID，必须全局唯一。",
								},
								"question": {
									Type:        "string",
									MinLength:   5,
									Description: "明确的中文问题，需包含上下文约束，禁止模糊或重复内容。",
								},
								"time": {
									Type:        "string",
									Enum:        []string{"none", "week", "month", "semiyear", "year"},
									Description: "按网页发布时间筛选：none（不限）、week（7 天）、month（30 天）、semiyear（180 天）、year（365 天）。",
								},
							},
							Required: []string{"id", "question", "time"},
						},
						Description: "必填。数组中每个元素描述一条搜索需求，最多 10 个，问题之间完全不重复。",
					},
				},
				Required: []string{"question_list"},
			},
		},
	}
}
