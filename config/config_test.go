package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "qwen-plus-latest", cfg.LLM.Model)
	assert.Equal(t, "qwen-long", cfg.LLM.LongDocModel)
	assert.Equal(t, 50000, cfg.LLM.TokenBudget)
	assert.Equal(t, 120*time.Second, cfg.LLM.TokenCooldown)
	assert.Equal(t, 6, cfg.LLM.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.LLM.RetryBaseDelay)
	assert.Equal(t, 10, cfg.Search.TopK)
	assert.Equal(t, 5, cfg.Meeting.MaxEpoch)
	assert.Equal(t, 5, cfg.Meeting.RoleCount)
	assert.True(t, cfg.Meeting.SelfCheck)
}

func TestNormalizeClampsInvalidValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Meeting.MaxEpoch = -1
	cfg.Meeting.RoleCount = 0
	cfg.Search.TopK = -5
	cfg.Search.Edition = "ULTRA"

	normalize(cfg)

	assert.Equal(t, 5, cfg.Meeting.MaxEpoch)
	assert.Equal(t, 5, cfg.Meeting.RoleCount)
	assert.Equal(t, 10, cfg.Search.TopK)
	// 非法版本留空，由服务端取默认
	assert.Equal(t, "", cfg.Search.Edition)
}

func TestNormalizeKeepsValidEdition(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Search.Edition = "Lite"
	normalize(cfg)
	assert.Equal(t, "lite", cfg.Search.Edition)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("QWEN_API_KEY", "key-from-env")
	t.Setenv("QWEN_MODEL_NAME", "qwen-max")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SEARCH_PROVIDER", "baidu")

	cfg := DefaultConfig()
	applyEnv(cfg)

	assert.Equal(t, "key-from-env", cfg.LLM.APIKey)
	assert.Equal(t, "qwen-max", cfg.LLM.Model)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "baidu", cfg.Search.Provider)
}
