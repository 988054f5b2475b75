package role

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/polymind/polymind/internal/pkg/llm"
	"github.com/polymind/polymind/internal/utils"
	"k8s.io/klog/v2"
)

// ErrGeneration 角色生成失败，讨论无法开始
var ErrGeneration = errors.New("role generation failed")

// Role 参与讨论的虚拟专家
// ID 在解析后统一分配，是整个会话里唯一可信的身份键
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"role_name"`
	Job         string `json:"role_job"`
	Personality string `json:"personality"`
}

// Factory 根据议题生成一组互补的讨论角色
type Factory struct {
	gateway llm.Gateway
	count   int
}

func NewFactory(gateway llm.Gateway, count int) *Factory {
	if count <= 0 {
		count = 5
	}
	return &Factory{gateway: gateway, count: count}
}

// Generate 生成讨论角色
// 模型输出必须包含 JSON 数组，提取不到数组视为致命错误，没有静默兜底；
// 数量与配置不符时截断或补位，保证返回的角色数恒等于配置值
func (f *Factory) Generate(ctx context.Context, userRequest, userNeedProfile, knowledgeBase string) ([]Role, error) {
	systemPrompt := fmt.Sprintf(`你是研究讨论的组织者。针对给定议题设计 %d 位虚拟专家。
要求：
1. 职业必须真实存在，专业领域互不重叠
2. 至少 2 位具备跨领域或通才视角
3. 职业重复时性格必须明显不同
输出 JSON 数组，每个元素包含 role_name（中文姓名）、role_job（职业头衔）、
personality（性格与发言风格，50 字内）。只输出 JSON 数组，不要输出其它内容。`, f.count)

	var sb strings.Builder
	sb.WriteString("议题: " + userRequest)
	if strings.TrimSpace(userNeedProfile) != "" {
		sb.WriteString("\n用户需求画像: " + userNeedProfile)
	}
	if strings.TrimSpace(knowledgeBase) != "" {
		sb.WriteString("\n已有背景知识:\n" + knowledgeBase)
	}

	completion, err := f.gateway.Complete(ctx, systemPrompt, sb.String(), llm.Options{NoSearch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	var roles []Role
	if err := utils.DecodeArray(completion.Answer, &roles); err != nil {
		return nil, fmt.Errorf("%w: 角色列表不是合法 JSON 数组: %v", ErrGeneration, err)
	}

	roles = dropNameless(roles)
	if len(roles) == 0 {
		return nil, fmt.Errorf("%w: 角色列表为空", ErrGeneration)
	}

	if len(roles) > f.count {
		klog.V(6).Infof("角色数量超出配置，截断: got=%d, want=%d", len(roles), f.count)
		roles = roles[:f.count]
	}
	for len(roles) < f.count {
		// 模型少给时用通才研究员补齐，讨论结构不因此退化
		roles = append(roles, Role{
			Name:        fmt.Sprintf("特邀研究员%d", len(roles)+1),
			Job:         "跨领域研究员",
			Personality: "严谨克制，关注论证链条完整性与证据质量",
		})
	}

	for i := range roles {
		roles[i].ID = uuid.New().String()
	}
	return roles, nil
}

func dropNameless(roles []Role) []Role {
	kept := make([]Role, 0, len(roles))
	for _, r := range roles {
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" {
			continue
		}
		r.Job = strings.TrimSpace(r.Job)
		r.Personality = strings.TrimSpace(r.Personality)
		kept = append(kept, r)
	}
	return kept
}
