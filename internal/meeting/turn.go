package meeting

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/polymind/polymind/internal/pkg/llm"
	"github.com/polymind/polymind/internal/role"
	"k8s.io/klog/v2"
)

// speak 让一个角色基于当前会议状态发言
// 上下文包含：用户诉求、需求画像、检索方向、历史纪要、本轮已有发言与知识库；
// 角色允许调用搜索工具为论点找依据
func (e *Engine) speak(ctx context.Context, r role.Role, round *RoundRecord) (*llm.Completion, error) {
	systemPrompt := fmt.Sprintf(`你正在参加一场多专家研究讨论会。你的身份：
姓名: %s
职业: %s
性格: %s

发言要求：
1. 以该身份的专业视角发言，立场与性格保持一致
2. 对本轮先前发言明确表态（认同/质疑/反对），不回避分歧
3. 论点尽量用检索到的事实支撑，给出来源
4. 这是纯理论研讨，禁止声称自己做过实验、调研、访谈等任何实际行动
5. 发言控制在 500 字以内`, r.Name, r.Job, r.Personality)

	userPrompt := fmt.Sprintf(
		"用户诉求:\n%s\n\n用户需求画像:\n%s\n\n当前检索方向:\n%s\n\n历史轮次纪要:\n%s\n\n本轮已有发言:\n%s\n\n知识库:\n%s\n\n现在轮到你发言。",
		e.userRequest, e.base.UserNeedProfile, e.base.SearchFocusProfile,
		historyText(e.history), round.Transcript(), e.base.Knowledge,
	)

	return e.gateway.Complete(ctx, systemPrompt, userPrompt, llm.Options{Sink: e.sink})
}

// selfCheck 对角色发言做第二遍自查
// 核对事实与引用，改写所有暗示实际行动的表述，但保留对他人观点的原有立场
func (e *Engine) selfCheck(ctx context.Context, r role.Role, statement string) string {
	systemPrompt := `你是发言审校助手。对给定发言做两类修订：
1. 对照知识库与已核验证据，修正事实与引用错误
2. 讨论是纯理论研讨，删除或改写所有"我做了实验/调研/访谈/测试"之类暗示实际行动的表述
严格保留发言者对其他人观点的表态（认同/质疑/反对）原文。
只输出修订后的发言全文，不要输出说明。`

	userPrompt := fmt.Sprintf(
		"发言人: %s（%s）\n\n知识库:\n%s\n\n历史纪要:\n%s\n\n待审校发言:\n%s",
		r.Name, r.Job, e.base.Knowledge, historyText(e.history), statement,
	)

	completion, err := e.gateway.Complete(ctx, systemPrompt, userPrompt, llm.Options{NoSearch: true})
	if err != nil || strings.TrimSpace(completion.Answer) == "" {
		// 自查失败不拦截发言，保留原文继续
		klog.Warningf("发言自查失败，保留原始发言: role=%s, err=%v", r.Name, err)
		return statement
	}
	return completion.Answer
}

// runTurn 执行一个完整的角色回合：发言、自查、记录、按需更新知识库
func (e *Engine) runTurn(ctx context.Context, r role.Role, round *RoundRecord) error {
	completion, err := e.speak(ctx, r, round)
	if err != nil {
		return fmt.Errorf("role %s turn failed: %w", r.Name, err)
	}

	text := completion.Answer
	if e.selfCheckEnabled {
		text = e.selfCheck(ctx, r, text)
	}

	round.Statements = append(round.Statements, Statement{
		RecordID:   uuid.New().String(),
		RoleID:     r.ID,
		RoleName:   r.Name,
		Occupation: r.Job,
		Text:       text,
	})
	e.notify(Event{Type: "statement", Epoch: round.Epoch, RoleName: r.Name, Text: text})

	// 本回合没有新检索产出时不发起更新调用，知识库保持原样
	if len(completion.WebResults) == 0 {
		return nil
	}
	updated, err := e.curator.Update(ctx, e.base, completion.WebResults)
	if err != nil {
		klog.Warningf("知识库更新失败，保留旧版本: role=%s, err=%v", r.Name, err)
		return nil
	}
	e.base = updated
	return nil
}
