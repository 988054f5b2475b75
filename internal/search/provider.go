package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/polymind/polymind/config"
	"github.com/polymind/polymind/internal/pkg/llm"
	"k8s.io/klog/v2"
)

// ErrProvider 搜索提供方异常
var ErrProvider = errors.New("search provider error")

// Provider 搜索提供方接口
type Provider interface {
	Name() string
	Search(ctx context.Context, question, timeFilter string) ([]llm.Reference, error)
}

// BaiduProvider 百度 /v2/ai_search/web_search 纯检索提供方
type BaiduProvider struct {
	apiKey  string
	edition string // standard / lite，非法值不带、由服务端取默认
	url     string
	client  *http.Client
}

func NewBaiduProvider(cfg *config.Config) (*BaiduProvider, error) {
	if cfg.Search.APIKey == "" {
		return nil, fmt.Errorf("%w: 缺少百度 AI 搜索密钥", ErrProvider)
	}
	timeout := cfg.Search.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BaiduProvider{
		apiKey:  cfg.Search.APIKey,
		edition: cfg.Search.Edition,
		url:     "https://qianfan.baidubce.com/v2/ai_search/web_search",
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (p *BaiduProvider) Name() string { return "baidu" }

type baiduRequest struct {
	Messages            []baiduMessage    `json:"messages"`
	SearchSource        string            `json:"search_source"`
	ResourceTypeFilter  []baiduTypeFilter `json:"resource_type_filter"`
	Edition             string            `json:"edition,omitempty"`
	SearchRecencyFilter string            `json:"search_recency_filter,omitempty"`
}

type baiduMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type baiduTypeFilter struct {
	Type string `json:"type"`
	TopK int    `json:"top_k"`
}

type baiduResponse struct {
	References []struct {
		Title          string  `json:"title"`
		Snippet        string  `json:"snippet"`
		Content        string  `json:"content"`
		Date           string  `json:"date"`
		URL            string  `json:"url"`
		Website        string  `json:"website"`
		WebAnchor      string  `json:"web_anchor"`
		RerankScore    float64 `json:"rerank_score"`
		AuthorityScore float64 `json:"authority_score"`
	} `json:"references"`
}

func (p *BaiduProvider) Search(ctx context.Context, question, timeFilter string) ([]llm.Reference, error) {
	body := baiduRequest{
		Messages:     []baiduMessage{{Role: "user", Content: question}},
		SearchSource: "baidu_search_v2",
		ResourceTypeFilter: []baiduTypeFilter{
			{Type: "web", TopK: 50},
		},
		Edition: p.edition,
	}
	// 时效过滤使用官方参数，不在 query 里拼接中文提示
	switch timeFilter {
	case "week", "month", "semiyear", "year":
		body.SearchRecencyFilter = timeFilter
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// 文档里有两种写法，两个头都带上兼容性更好
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("X-Appbuilder-Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status=%d, body=%s", ErrProvider, resp.StatusCode, string(raw))
	}

	var payload baiduResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	items := make([]llm.Reference, 0, len(payload.References))
	for _, ref := range payload.References {
		snippet := ref.Snippet
		if snippet == "" {
			snippet = ref.Content
		}
		source := ref.Website
		if source == "" {
			source = ref.WebAnchor
		}
		items = append(items, llm.Reference{
			Title:          ref.Title,
			Snippet:        snippet,
			PublishTime:    ref.Date,
			URL:            ref.URL,
			Source:         source,
			RerankScore:    ref.RerankScore,
			AuthorityScore: ref.AuthorityScore,
		})
	}

	klog.V(6).Infof("百度搜索完成: question=%s, results=%d", question, len(items))
	return items, nil
}

// NewProvider 按配置构建搜索提供方
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.Search.Provider {
	case "", "baidu":
		return NewBaiduProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: 未知的搜索提供方 %s", ErrProvider, cfg.Search.Provider)
	}
}
