package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"republic/internal/agent/ports"
)

// CacheConfig tunes NewCacheExecutor. Zero fields take the defaults.
type CacheConfig struct {
	MaxSize int
	TTL     time.Duration
	// ExcludeTools are never cached even when their contract allows it.
	ExcludeTools []string
	Now          func() time.Time
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxSize:      256,
		TTL:          5 * time.Minute,
		ExcludeTools: []string{ToolRunCode, ToolScreenshot},
	}
}

// pageTools read or drive the browser session, so their results depend on
// the current page as well as their arguments. They are never cached.
var pageTools = []string{ToolOpenURL, ToolClick, ToolType, ToolScreenshot, ToolExtractText}

type cachedResult struct {
	result ports.ToolResult
	expiry time.Time
}

// resultCache memoizes successful calls to cacheable tools, keyed by tool
// and canonical arguments. A successful side-effecting call may change
// what a read would return, so it empties the cache.
type resultCache struct {
	ports.ToolExecutor
	entries *lru.Cache[string, cachedResult]
	ttl     time.Duration
	skip    map[string]struct{}
	now     func() time.Time
}

// NewCacheExecutor fronts next with a result cache. It returns nil for a
// nil next.
func NewCacheExecutor(next ports.ToolExecutor, cfg CacheConfig) ports.ToolExecutor {
	if next == nil {
		return nil
	}
	def := DefaultCacheConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	entries, err := lru.New[string, cachedResult](cfg.MaxSize)
	if err != nil {
		return next
	}
	skip := make(map[string]struct{}, len(cfg.ExcludeTools)+len(pageTools))
	for _, name := range append(append([]string(nil), pageTools...), cfg.ExcludeTools...) {
		skip[name] = struct{}{}
	}
	return &resultCache{ToolExecutor: next, entries: entries, ttl: cfg.TTL, skip: skip, now: cfg.Now}
}

func (c *resultCache) Execute(ctx context.Context, name string, args map[string]any, timeout time.Duration) (ports.ToolResult, error) {
	contract, known := c.Contract(name)
	_, excluded := c.skip[name]
	if !known || excluded || !contract.Cacheable() {
		res, err := c.ToolExecutor.Execute(ctx, name, args, timeout)
		if known && contract.SideEffects && err == nil && res.Succeeded() {
			c.entries.Purge()
		}
		return res, err
	}

	key := argsKey(name, args)
	hit, ok := c.entries.Get(key)
	if ok && c.now().Before(hit.expiry) {
		res := hit.result
		res.Duration = 0
		return res, nil
	}

	res, err := c.ToolExecutor.Execute(ctx, name, args, timeout)
	if err == nil && res.Succeeded() {
		c.entries.Add(key, cachedResult{result: res, expiry: c.now().Add(c.ttl)})
	} else if ok {
		c.entries.Remove(key)
	}
	return res, err
}

// argsKey relies on encoding/json writing map keys in sorted order.
func argsKey(name string, args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%s|%v", name, args)
	}
	return name + "|" + string(data)
}

var _ ports.ToolExecutor = (*resultCache)(nil)
