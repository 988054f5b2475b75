package meeting

import (
	"context"
	"fmt"

	"github.com/polymind/polymind/internal/pkg/llm"
	"github.com/polymind/polymind/internal/utils"
	"k8s.io/klog/v2"
)

// condenseRound 把整轮逐字稿压缩成结构化纪要
// 只做重组，不允许引入逐字稿里没有的新论断
func (e *Engine) condenseRound(ctx context.Context, round *RoundRecord) (string, error) {
	systemPrompt := `你是会议记录员。把本轮讨论逐字稿压缩成纪要，包含：
1. 每位发言人的核心观点与立场
2. 已形成的共识
3. 仍存在的分歧
只能重组逐字稿中已有的内容，禁止引入任何新论断。输出纯文本纪要。`

	completion, err := e.gateway.Complete(ctx, systemPrompt, round.Transcript(), llm.Options{NoSearch: true})
	if err != nil {
		return "", fmt.Errorf("round condensation failed: %w", err)
	}
	return completion.Answer, nil
}

// verifyRound 对本轮论断做证据核验并决定会议是否可以结束
// 核验过程允许发起补充检索；JSON 解析失败时不中断会议，
// 保留原始文本并按"继续讨论"处理
func (e *Engine) verifyRound(ctx context.Context, round *RoundRecord, condensed string) RoundSummary {
	systemPrompt := `你是证据核验员。对本轮讨论中的论断逐条核验，必要时调用搜索工具补充查证。
输出 JSON 对象，字段如下：
- approvedContent: 已获得讨论共识且有依据支撑的结论
- rejectedContent: 已被讨论或证据否定的结论
- pendingContent: 证据不足、悬而未决的结论
- verifiedBasis: 经查证成立的依据清单
- rejectedBasis: 经查证不成立的依据清单
- nextStepsContent: 下一轮值得深入的讨论方向
- canEndMeeting: 布尔值，核心问题均有结论且无重大分歧时为 true
- sectionsToPrune: 字符串数组，知识库中已被证伪、应删除的原文片段（逐字摘抄）
只输出 JSON，不要输出其它内容。`

	userPrompt := fmt.Sprintf("本轮纪要:\n%s\n\n本轮逐字稿:\n%s\n\n知识库:\n%s",
		condensed, round.Transcript(), e.base.Knowledge)

	summary := RoundSummary{Epoch: round.Epoch, Condensed: condensed}

	completion, err := e.gateway.Complete(ctx, systemPrompt, userPrompt, llm.Options{})
	if err != nil {
		klog.Errorf("证据核验调用失败，按继续讨论处理: epoch=%d, err=%v", round.Epoch, err)
		summary.RawText = condensed
		return summary
	}

	var parsed RoundSummary
	if err := utils.DecodeObject(completion.Answer, &parsed); err != nil {
		klog.Warningf("核验结果不是合法 JSON，保留原文继续讨论: epoch=%d", round.Epoch)
		summary.RawText = completion.Answer
		return summary
	}

	parsed.Epoch = round.Epoch
	parsed.Condensed = condensed
	return parsed
}
