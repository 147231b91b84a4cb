package rules

import (
	"regexp"
	"sync"
)

// regexCache 按模式缓存编译结果，编译失败也缓存
var regexCache = &patternCache{entries: make(map[string]cacheEntry)}

type cacheEntry struct {
	re  *regexp.Regexp
	err error
}

type patternCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func (c *patternCache) Get(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	e, ok := c.entries[pattern]
	c.mu.RUnlock()
	if ok {
		return e.re, e.err
	}

	re, err := regexp.Compile(pattern)
	c.mu.Lock()
	c.entries[pattern] = cacheEntry{re: re, err: err}
	c.mu.Unlock()
	return re, err
}

func matchRegex(s, pattern string) bool {
	re, err := regexCache.Get(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
