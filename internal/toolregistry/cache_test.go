package toolregistry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"republic/internal/agent/ports"
	agenterrors "republic/internal/errors"
)

type fakeExecutor struct {
	names     []string
	contracts map[string]ports.ToolContract
	calls     map[string]int
	fail      bool
}

func newFakeExecutor() *fakeExecutor {
	contracts := map[string]ports.ToolContract{}
	for _, c := range DefaultContracts() {
		if c.Name == ToolReadFile || c.Name == ToolWriteFile {
			contracts[c.Name] = c
		}
	}
	return &fakeExecutor{
		names:     []string{ToolReadFile, ToolWriteFile},
		contracts: contracts,
		calls:     map[string]int{},
	}
}

func (f *fakeExecutor) Execute(_ context.Context, name string, args map[string]any, _ time.Duration) (ports.ToolResult, error) {
	f.calls[name]++
	if f.fail {
		return ports.Failed(name, agenterrors.New(agenterrors.CodeToolError, "boom"), time.Millisecond), nil
	}
	return ports.OK(name, map[string]any{"n": f.calls[name], "path": args["path"]}, time.Millisecond), nil
}

func (f *fakeExecutor) Contract(name string) (ports.ToolContract, bool) {
	c, ok := f.contracts[name]
	return c, ok
}

func (f *fakeExecutor) ListTools() []string {
	return f.names
}

func TestCacheServesIdempotentReads(t *testing.T) {
	inner := newFakeExecutor()
	exec := NewCacheExecutor(inner, CacheConfig{})
	ctx := context.Background()

	first, err := exec.Execute(ctx, ToolReadFile, map[string]any{"path": "a.txt", "encoding": "utf-8"}, time.Second)
	require.NoError(t, err)
	second, err := exec.Execute(ctx, ToolReadFile, map[string]any{"encoding": "utf-8", "path": "a.txt"}, time.Second)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls[ToolReadFile])
	assert.Equal(t, first.Data, second.Data)
	assert.Zero(t, second.Duration)

	_, _ = exec.Execute(ctx, ToolReadFile, map[string]any{"path": "b.txt"}, time.Second)
	assert.Equal(t, 2, inner.calls[ToolReadFile])
}

func TestCacheNeverServesSideEffects(t *testing.T) {
	inner := newFakeExecutor()
	exec := NewCacheExecutor(inner, CacheConfig{})
	args := map[string]any{"path": "a.txt", "content": "x"}
	for i := 0; i < 3; i++ {
		_, err := exec.Execute(context.Background(), ToolWriteFile, args, time.Second)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, inner.calls[ToolWriteFile])
}

func TestCacheSkipsFailuresAndExpires(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	inner := newFakeExecutor()
	inner.fail = true
	exec := NewCacheExecutor(inner, CacheConfig{TTL: time.Minute, Now: func() time.Time { return now }})
	args := map[string]any{"path": "a.txt"}

	res, _ := exec.Execute(context.Background(), ToolReadFile, args, time.Second)
	assert.False(t, res.Succeeded())
	inner.fail = false
	_, _ = exec.Execute(context.Background(), ToolReadFile, args, time.Second)
	_, _ = exec.Execute(context.Background(), ToolReadFile, args, time.Second)
	assert.Equal(t, 2, inner.calls[ToolReadFile], "failed results are not cached")

	now = now.Add(2 * time.Minute)
	_, _ = exec.Execute(context.Background(), ToolReadFile, args, time.Second)
	assert.Equal(t, 3, inner.calls[ToolReadFile], "expired entries are refreshed")
}

func TestCacheDelegatesContracts(t *testing.T) {
	inner := newFakeExecutor()
	exec := NewCacheExecutor(inner, DefaultCacheConfig())
	_, ok := exec.Contract(ToolReadFile)
	assert.True(t, ok)
	assert.Equal(t, inner.names, exec.ListTools())
	assert.Nil(t, NewCacheExecutor(nil, CacheConfig{}))
}

func TestCacheDropsReadsAfterWrites(t *testing.T) {
	inner := newFakeExecutor()
	exec := NewCacheExecutor(inner, CacheConfig{})
	ctx := context.Background()
	read := map[string]any{"path": "a.txt"}

	_, _ = exec.Execute(ctx, ToolReadFile, read, time.Second)
	_, _ = exec.Execute(ctx, ToolReadFile, read, time.Second)
	require.Equal(t, 1, inner.calls[ToolReadFile])

	_, err := exec.Execute(ctx, ToolWriteFile, map[string]any{"path": "a.txt", "content": "new"}, time.Second)
	require.NoError(t, err)
	_, _ = exec.Execute(ctx, ToolReadFile, read, time.Second)
	assert.Equal(t, 2, inner.calls[ToolReadFile], "write invalidates cached reads")
}

func TestCacheNeverServesPageTools(t *testing.T) {
	inner := newFakeExecutor()
	for _, c := range DefaultContracts() {
		if c.Name == ToolOpenURL || c.Name == ToolExtractText {
			inner.contracts[c.Name] = c
		}
	}
	exec := NewCacheExecutor(inner, CacheConfig{})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _ = exec.Execute(ctx, ToolOpenURL, map[string]any{"url": "https://example.com/a"}, time.Second)
		_, _ = exec.Execute(ctx, ToolExtractText, map[string]any{"selector": "body"}, time.Second)
	}
	assert.Equal(t, 2, inner.calls[ToolOpenURL])
	assert.Equal(t, 2, inner.calls[ToolExtractText])
}
