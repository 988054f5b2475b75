package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/polymind/polymind/internal/pkg/llm"
	"github.com/polymind/polymind/internal/utils"
	"k8s.io/klog/v2"
)

// ErrCuration 知识整编的前置调用失败，会话无法继续
var ErrCuration = errors.New("knowledge curation failed")

// adviceKeywords 命中任一关键词的行从知识库中剔除
// 知识库只保留事实与证据，所有倾向性表述都归入讨论环节
var adviceKeywords = []string{
	"推荐", "建议", "方案", "行动", "路径", "推广", "部署", "购买", "投资",
}

// Base 会话知识库三元组
type Base struct {
	Knowledge          string `json:"knowledge_base"`
	UserNeedProfile    string `json:"user_need_profile"`
	SearchFocusProfile string `json:"search_focus_profile"`
}

// curationResponse 整编调用的完整回包
type curationResponse struct {
	Base
	RemovalHints []string `json:"removal_hints"`
}

// Curator 知识库整编器，所有产出都经过脱敏与修剪
type Curator struct {
	gateway llm.Gateway
}

func NewCurator(gateway llm.Gateway) *Curator {
	return &Curator{gateway: gateway}
}

// SeedQuestions 从用户输入生成首轮检索问题
// 输出必须是严格的 JSON 数组，提取不到数组视为致命错误
func (c *Curator) SeedQuestions(ctx context.Context, userRequest string) ([]llm.SearchQuestion, error) {
	systemPrompt := `你是检索规划助手。根据用户输入拆解出 3~10 条互不重复的中文搜索问题。
输出 JSON 数组，每个元素包含 id（全局唯一）、question（具体问题，含必要的时间地点约束）、
time（none/week/month/semiyear/year 之一）。只输出 JSON 数组，不要输出其它内容。`

	completion, err := c.gateway.Complete(ctx, systemPrompt, userRequest, llm.Options{NoSearch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCuration, err)
	}

	var questions []llm.SearchQuestion
	if err := utils.DecodeArray(completion.Answer, &questions); err != nil {
		return nil, fmt.Errorf("%w: 检索问题不是合法 JSON 数组: %v", ErrCuration, err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: 检索问题列表为空", ErrCuration)
	}
	return questions, nil
}

// Curate 用首轮检索材料构建初始知识库，单次 LLM 调用
// 需求画像只能来自用户原文，检索材料再丰富也不改写用户要什么；
// 调用或解析失败都是致命错误，讨论不能在残缺知识库上开场
func (c *Curator) Curate(ctx context.Context, userRequest string, results []llm.QuestionResult, references []llm.Reference) (*Base, error) {
	systemPrompt := `你是研究资料整编助手。根据用户原始输入与检索材料，输出 JSON 对象，字段如下：
- knowledge_base: 整编后的知识库。只保留事实、定义与数据，每条事实至少标注 2 个来源标识；
  删除所有带推荐、行动倾向的表述
- user_need_profile: 用户需求画像。只能依据用户输入原文总结，禁止混入检索材料中的任何信息
- search_focus_profile: 为满足该需求接下来值得检索的方向
- removal_hints: 字符串数组，列出已被证伪或偏离主题、应删除的知识库原文片段（逐字摘抄）
只输出 JSON，不要输出其它内容。`

	userPrompt := fmt.Sprintf(
		"用户原始输入:\n%s\n\n检索材料:\n%s\n\n来源清单:\n%s",
		userRequest, formatResults(results), formatReferences(references),
	)

	completion, err := c.gateway.Complete(ctx, systemPrompt, userPrompt, llm.Options{NoSearch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCuration, err)
	}

	var resp curationResponse
	if err := utils.DecodeObject(completion.Answer, &resp); err != nil {
		return nil, fmt.Errorf("%w: 无法解析整编结果: %v", ErrCuration, err)
	}

	base := resp.Base
	base.Knowledge = ApplyRemovalHints(base.Knowledge, resp.RemovalHints)
	base.Knowledge = Sanitize(base.Knowledge)

	klog.V(6).Infof("初始知识库构建完成: knowledge=%d 字, hints=%d",
		len([]rune(base.Knowledge)), len(resp.RemovalHints))
	return &base, nil
}

// Update 把新的检索产出合并进知识库
// 只合并事实、定义与数据并保留来源，画像字段不受检索内容影响；
// 失败不致命，调用方保留旧知识库继续即可
func (c *Curator) Update(ctx context.Context, base *Base, results []llm.QuestionResult) (*Base, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: 知识库尚未初始化", ErrCuration)
	}
	if len(results) == 0 {
		return base, nil
	}

	systemPrompt := `你是研究资料整编助手。把新检索材料合并进现有知识库，输出 JSON 对象，字段如下：
- knowledge_base: 合并后的知识库。只吸收事实、定义与数据并保留来源标识，
  丢弃材料中的结论与推荐；去掉与现有内容重复的条目
- removal_hints: 字符串数组，列出被新材料证伪、应删除的知识库原文片段（逐字摘抄）
只输出 JSON，不要输出其它内容。`

	userPrompt := fmt.Sprintf("现有知识库:\n%s\n\n新检索材料:\n%s", base.Knowledge, formatResults(results))

	completion, err := c.gateway.Complete(ctx, systemPrompt, userPrompt, llm.Options{NoSearch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCuration, err)
	}

	var resp curationResponse
	if err := utils.DecodeObject(completion.Answer, &resp); err != nil {
		return nil, fmt.Errorf("%w: 无法解析合并结果: %v", ErrCuration, err)
	}

	updated := *base
	if strings.TrimSpace(resp.Knowledge) != "" {
		updated.Knowledge = resp.Knowledge
	}
	updated.Knowledge = ApplyRemovalHints(updated.Knowledge, resp.RemovalHints)
	updated.Knowledge = Sanitize(updated.Knowledge)
	return &updated, nil
}

// Prune 按修剪提示删除知识库片段并重新脱敏
func Prune(base *Base, hints []string) *Base {
	if base == nil {
		return nil
	}
	pruned := *base
	pruned.Knowledge = Sanitize(ApplyRemovalHints(pruned.Knowledge, hints))
	return &pruned
}

// ApplyRemovalHints 按片段逐字删除知识库内容
// 片段不存在时静默跳过，重复应用同一批提示结果不变
func ApplyRemovalHints(knowledge string, hints []string) string {
	for _, hint := range hints {
		hint = strings.TrimSpace(hint)
		if hint == "" {
			continue
		}
		knowledge = strings.ReplaceAll(knowledge, hint, "")
	}
	return strings.TrimSpace(knowledge)
}

// Sanitize 按行过滤倾向性表述，只留下事实陈述
func Sanitize(knowledge string) string {
	lines := strings.Split(knowledge, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if containsAdvice(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func containsAdvice(line string) bool {
	for _, keyword := range adviceKeywords {
		if strings.Contains(line, keyword) {
			return true
		}
	}
	return false
}

func formatResults(results []llm.QuestionResult) string {
	if len(results) == 0 {
		return "（无）"
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. 问题: %s\n   结果: %s\n", i+1, r.Question, r.Result)
	}
	return sb.String()
}

func formatReferences(references []llm.Reference) string {
	if len(references) == 0 {
		return "（无）"
	}
	var sb strings.Builder
	for i, ref := range references {
		fmt.Fprintf(&sb, "%d. %s（%s %s）%s\n", i+1, ref.Title, ref.Source, ref.PublishTime, ref.URL)
	}
	return sb.String()
}
