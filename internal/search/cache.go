package search

import (
	"fmt"
	"strings"
	"sync"

	"github.com/polymind/polymind/internal/pkg/llm"
)

// Cache 以 (问题, 时效) 为键的会话级结果缓存
// 作为显式对象注入 Service，避免进程级全局状态在长生命周期服务里跨会话泄漏
type Cache struct {
	mutex sync.RWMutex
	items map[string][]llm.Reference
}

func NewCache() *Cache {
	return &Cache{
		items: make(map[string][]llm.Reference),
	}
}

func cacheKey(question, timeFilter string) string {
	if timeFilter == "" {
		timeFilter = "none"
	}
	return fmt.Sprintf("%s|||%s", strings.TrimSpace(question), timeFilter)
}

func (c *Cache) Get(question, timeFilter string) ([]llm.Reference, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	refs, ok := c.items[cacheKey(question, timeFilter)]
	return refs, ok
}

func (c *Cache) Put(question, timeFilter string, refs []llm.Reference) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.items[cacheKey(question, timeFilter)] = refs
}

func (c *Cache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.items)
}
