package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/polymind/polymind/config"
	"github.com/polymind/polymind/internal/pkg/llm"
	"github.com/polymind/polymind/internal/utils"
	"k8s.io/klog/v2"
)

// NoResultMarker 检索失败或无内容时回写给模型的占位结果
const NoResultMarker = "未找到相关信息"

// maxPageChars 单个来源投喂模型的正文上限（按 rune 计）
const maxPageChars = 6000

// maxFetchPerQuestion 每个问题实际抓取正文的来源数量
const maxFetchPerQuestion = 5

// Service 搜索服务，实现 web_search 工具
// 串联 检索 -> 排序 -> 抓取清洗 -> 汇总 的完整链路
type Service struct {
	provider Provider
	fetcher  *Fetcher
	cleaner  *Cleaner
	cache    *Cache
	gateway  llm.Gateway

	topK         int
	cooldown     time.Duration
	retryDelay   time.Duration
	longDocModel string
	sleep        func(time.Duration)
}

// NewService 创建搜索服务
// gateway 用于对抓取结果做归纳，须由调用方在构造后通过 SetExecutor 把本服务注册回客户端
func NewService(cfg *config.Config, provider Provider, cache *Cache, gateway llm.Gateway) *Service {
	if cache == nil {
		cache = NewCache()
	}
	return &Service{
		provider:     provider,
		fetcher:      NewFetcher(cfg.Search.FetchTimeout),
		cleaner:      NewCleaner(splitKeywords(cfg.Search.SensitiveKeywords)),
		cache:        cache,
		gateway:      gateway,
		topK:         cfg.Search.TopK,
		cooldown:     cfg.Search.Cooldown,
		retryDelay:   cfg.Search.RetryDelay,
		longDocModel: cfg.LLM.LongDocModel,
		sleep:        time.Sleep,
	}
}

// Execute 执行一批搜索问题并返回按问题聚合的结果
// 任一问题失败不会中断批次，失败的问题以占位结果回写
func (s *Service) Execute(ctx context.Context, toolCall llm.ToolCall) (llm.ToolResult, error) {
	questions := dedupeQuestions(llm.ParseToolArguments(toolCall.Function.Arguments))
	if len(questions) == 0 {
		return llm.ToolResult{Content: "[]"}, nil
	}

	klog.V(6).Infof("开始批量搜索: questions=%d", len(questions))

	var results []llm.QuestionResult
	var references []llm.Reference

	for i, question := range questions {
		if i > 0 && s.cooldown > 0 {
			s.sleep(s.cooldown)
		}

		answer, refs, err := s.answerQuestion(ctx, question)
		if err != nil {
			klog.Errorf("问题检索失败: question=%s, err=%v", question.Question, err)
			answer = NoResultMarker
		}
		if strings.TrimSpace(answer) == "" {
			answer = NoResultMarker
		}
		results = append(results, llm.QuestionResult{Question: question.Question, Result: answer})
		references = append(references, refs...)
	}

	return llm.ToolResult{
		Content:    utils.ToJSON(results),
		Results:    results,
		References: references,
	}, nil
}

// answerQuestion 处理单个问题：取回引用、抓取正文并归纳成回答
func (s *Service) answerQuestion(ctx context.Context, question llm.SearchQuestion) (string, []llm.Reference, error) {
	refs, err := s.lookup(ctx, question.Question, question.Time)
	if err != nil {
		return "", nil, err
	}
	if len(refs) == 0 {
		return NoResultMarker, nil, nil
	}

	materials := s.collectMaterials(ctx, refs)
	answer, err := s.synthesize(ctx, question.Question, materials)
	if err != nil {
		return "", refs, err
	}
	return answer, refs, nil
}

// lookup 带缓存与一次重试的检索
func (s *Service) lookup(ctx context.Context, question, timeFilter string) ([]llm.Reference, error) {
	if refs, ok := s.cache.Get(question, timeFilter); ok {
		klog.V(6).Infof("命中搜索缓存: question=%s", question)
		return refs, nil
	}

	refs, err := s.provider.Search(ctx, question, timeFilter)
	if err != nil {
		klog.Warningf("检索失败，等待 %v 后重试一次: question=%s, err=%v", s.retryDelay, question, err)
		if s.retryDelay > 0 {
			s.sleep(s.retryDelay)
		}
		refs, err = s.provider.Search(ctx, question, timeFilter)
		if err != nil {
			return nil, fmt.Errorf("search failed for %q: %w", question, err)
		}
	}

	refs = RankReferences(refs, s.topK)
	s.cache.Put(question, timeFilter, refs)
	return refs, nil
}

// RankReferences 按权威度优先、相关度其次排序并截取前 K 条
func RankReferences(refs []llm.Reference, topK int) []llm.Reference {
	ranked := make([]llm.Reference, len(refs))
	copy(ranked, refs)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].AuthorityScore != ranked[j].AuthorityScore {
			return ranked[i].AuthorityScore > ranked[j].AuthorityScore
		}
		return ranked[i].RerankScore > ranked[j].RerankScore
	})
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

// sourceMaterial 单个来源的正文素材，保留溯源字段
type sourceMaterial struct {
	Title       string
	Source      string
	PublishTime string
	URL         string
	Content     string
}

// collectMaterials 抓取排名靠前的来源正文，文档类走长文档归纳
// 抓取失败的来源退回摘要，保证每条引用都有素材
func (s *Service) collectMaterials(ctx context.Context, refs []llm.Reference) []sourceMaterial {
	materials := make([]sourceMaterial, 0, len(refs))
	for i, ref := range refs {
		material := sourceMaterial{
			Title:       ref.Title,
			Source:      ref.Source,
			PublishTime: ref.PublishTime,
			URL:         ref.URL,
			Content:     ref.Snippet,
		}

		if i < maxFetchPerQuestion && ref.URL != "" {
			if content := s.fetchContent(ctx, ref); content != "" {
				material.Content = content
			}
		}
		materials = append(materials, material)
	}
	return materials
}

func (s *Service) fetchContent(ctx context.Context, ref llm.Reference) string {
	if isDoc, ext := s.DetectDocument(ctx, ref.URL); isDoc {
		klog.V(6).Infof("文档类来源走长文档归纳: url=%s, ext=%s", ref.URL, ext)
		summary, err := s.summarizeDocument(ctx, ref.Title, ref.Snippet, ref.URL)
		if err != nil {
			klog.V(6).Infof("文档归纳失败，退回摘要: url=%s, err=%v", ref.URL, err)
			return ""
		}
		return summary
	}

	rawHTML, err := s.fetcher.Fetch(ctx, ref.URL)
	if err != nil {
		klog.V(6).Infof("正文抓取失败，退回摘要: url=%s, err=%v", ref.URL, err)
		return ""
	}
	return truncateRunes(s.cleaner.Clean(rawHTML), maxPageChars)
}

// synthesize 把多来源素材归纳成带出处的回答
func (s *Service) synthesize(ctx context.Context, question string, materials []sourceMaterial) (string, error) {
	var sb strings.Builder
	for i, m := range materials {
		fmt.Fprintf(&sb, "【来源%d】标题: %s\n", i+1, m.Title)
		if m.Source != "" {
			fmt.Fprintf(&sb, "网站: %s\n", m.Source)
		}
		if m.PublishTime != "" {
			fmt.Fprintf(&sb, "发布时间: %s\n", m.PublishTime)
		}
		if m.URL != "" {
			fmt.Fprintf(&sb, "链接: %s\n", m.URL)
		}
		fmt.Fprintf(&sb, "内容: %s\n\n", m.Content)
	}

	systemPrompt := "你是检索结果整理助手。根据提供的多个来源材料回答问题。" +
		"要求：1) 只使用材料中出现的信息，不要编造；2) 关键结论要标注来源编号（如【来源1】）；" +
		"3) 材料之间有冲突时并列呈现并指出分歧；4) 材料都无法回答时输出「" + NoResultMarker + "」。"
	userPrompt := "问题: " + question + "\n\n材料:\n" + sb.String()

	return s.gateway.Generate(ctx, "", systemPrompt, userPrompt)
}

// dedupeQuestions 按 (问题, 时效) 去重，保留首次出现的顺序
func dedupeQuestions(questions []llm.SearchQuestion) []llm.SearchQuestion {
	seen := make(map[string]bool, len(questions))
	deduped := make([]llm.SearchQuestion, 0, len(questions))
	for _, q := range questions {
		q.Question = strings.TrimSpace(q.Question)
		if q.Question == "" {
			continue
		}
		key := cacheKey(q.Question, q.Time)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, q)
	}
	return deduped
}

// splitKeywords 解析逗号分隔的敏感词配置
func splitKeywords(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	keywords := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			keywords = append(keywords, part)
		}
	}
	return keywords
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
