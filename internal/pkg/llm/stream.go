package llm

import "strings"

// accumulator 收拢流式响应：答案、思考过程、按 index 归并的工具调用片段
type accumulator struct {
	answer    strings.Builder
	reasoning strings.Builder
	calls     []partialCall
	tokens    int
}

type partialCall struct {
	id        string
	name      string
	arguments string
}

// addReasoning 仅在答案内容尚未开始时记录思考内容
func (a *accumulator) addReasoning(text string) {
	if text == "" || a.answer.Len() > 0 {
		return
	}
	a.reasoning.WriteString(text)
}

func (a *accumulator) addAnswer(text string) {
	if text == "" {
		return
	}
	a.answer.WriteString(text)
}

// addToolCallDelta 按 index 拼接工具调用片段
// id、name、arguments 都可能被拆分到多个 chunk，逐段追加
func (a *accumulator) addToolCallDelta(delta toolCallDelta) {
	for len(a.calls) <= delta.Index {
		a.calls = append(a.calls, partialCall{})
	}
	call := &a.calls[delta.Index]
	call.id += delta.ID
	call.name += delta.Function.Name
	call.arguments += delta.Function.Arguments
}

func (a *accumulator) toolCalls() []ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(a.calls))
	for i, call := range a.calls {
		out = append(out, ToolCall{
			ID:    call.id,
			Index: i,
			Type:  "function",
			Function: FunctionCall{
				Name:      call.name,
				Arguments: call.arguments,
			},
		})
	}
	return out
}
