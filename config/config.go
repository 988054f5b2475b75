package config

import (
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Search  SearchConfig  `yaml:"search"`
	Meeting MeetingConfig `yaml:"meeting"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release
}

type LLMConfig struct {
	APIURL       string `yaml:"api_url"`
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	LongDocModel string `yaml:"long_doc_model"` // 文档解析使用的长文本模型
	MaxTokens    int    `yaml:"max_tokens"`
	// 累计 token 超过该值后进入冷却休眠，0 表示使用默认值
	TokenBudget    int           `yaml:"token_budget"`
	TokenCooldown  time.Duration `yaml:"token_cooldown"`
	RequestWarmup  time.Duration `yaml:"request_warmup"` // 每次请求前的节流等待
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	MaxRetries     int           `yaml:"max_retries"`
}

type SearchConfig struct {
	Provider          string        `yaml:"provider"` // baidu
	APIKey            string        `yaml:"api_key"`
	Edition           string        `yaml:"edition"` // standard, lite
	TopK              int           `yaml:"top_k"`
	Timeout           time.Duration `yaml:"timeout"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	Cooldown          time.Duration `yaml:"cooldown"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	SensitiveKeywords string        `yaml:"sensitive_keywords"` // 逗号分隔，覆盖默认敏感词
}

type MeetingConfig struct {
	MaxEpoch  int  `yaml:"max_epoch"`
	RoleCount int  `yaml:"role_count"`
	SelfCheck bool `yaml:"self_check"`
}

var (
	cfg  *Config
	once sync.Once
)

func GetConfig() *Config {
	once.Do(func() {
		cfg = loadConfig()
	})
	return cfg
}

func loadConfig() *Config {
	config := DefaultConfig()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err == nil {
		yaml.Unmarshal(data, config)
	}

	applyEnv(config)
	normalize(config)

	return config
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Mode: "debug",
		},
		LLM: LLMConfig{
			APIURL:         "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Model:          "qwen-plus-latest",
			LongDocModel:   "qwen-long",
			MaxTokens:      1024 * 16,
			TokenBudget:    50000,
			TokenCooldown:  120 * time.Second,
			RequestWarmup:  3 * time.Second,
			RetryBaseDelay: 5 * time.Second,
			MaxRetries:     6,
		},
		Search: SearchConfig{
			Provider:     "baidu",
			Edition:      "standard",
			TopK:         10,
			Timeout:      30 * time.Second,
			FetchTimeout: 20 * time.Second,
			Cooldown:     time.Second,
			RetryDelay:   30 * time.Second,
		},
		Meeting: MeetingConfig{
			MaxEpoch:  5,
			RoleCount: 5,
			SelfCheck: true,
		},
	}
}

// 环境变量优先级高于配置文件
func applyEnv(config *Config) {
	if apiKey := os.Getenv("QWEN_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("QWEN_BASE_URL"); baseURL != "" {
		config.LLM.APIURL = baseURL
	}
	if model := os.Getenv("QWEN_MODEL_NAME"); model != "" {
		config.LLM.Model = model
	}
	if searchKey := os.Getenv("BAIDU_SEARCH_KEY"); searchKey != "" {
		config.Search.APIKey = searchKey
	}
	if provider := os.Getenv("SEARCH_PROVIDER"); provider != "" {
		config.Search.Provider = provider
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		config.Server.Port = port
	}
}

func normalize(config *Config) {
	if config.Meeting.MaxEpoch <= 0 {
		config.Meeting.MaxEpoch = 5
	}
	if config.Meeting.RoleCount <= 0 {
		config.Meeting.RoleCount = 5
	}
	if config.Search.TopK <= 0 {
		config.Search.TopK = 10
	}
	edition := strings.ToLower(config.Search.Edition)
	if edition != "standard" && edition != "lite" {
		edition = ""
	}
	config.Search.Edition = edition
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
