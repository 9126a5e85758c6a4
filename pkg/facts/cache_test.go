package facts

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/AlexanderGrooff/converge/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()

	_, ok := c.Get("web1")
	assert.False(t, ok)

	require.NoError(t, c.Set("web1", map[string]interface{}{"ansible_system": "Linux"}))
	f, ok := c.Get("web1")
	require.True(t, ok)
	assert.Equal(t, "Linux", f["ansible_system"])

	// Returned maps are copies
	f["ansible_system"] = "Darwin"
	f, _ = c.Get("web1")
	assert.Equal(t, "Linux", f["ansible_system"])

	changed, err := c.Merge("web1", map[string]interface{}{"ansible_system": "Linux"})
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = c.Merge("web1", map[string]interface{}{"ansible_kernel": "6.1"})
	require.NoError(t, err)
	assert.True(t, changed)
	f, _ = c.Get("web1")
	assert.Equal(t, map[string]interface{}{"ansible_system": "Linux", "ansible_kernel": "6.1"}, f)

	require.NoError(t, c.Set("db1", nil))
	assert.Equal(t, []string{"db1", "web1"}, c.Hosts())
}

func TestSQLiteCachePersistsBetweenRuns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "facts.db")

	c, err := OpenSQLite(ctx, path, time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Set("web1", map[string]interface{}{"ansible_hostname": "web1"}))
	changed, err := c.Merge("web1", map[string]interface{}{"ansible_distribution": "Debian"})
	require.NoError(t, err)
	assert.True(t, changed)
	require.NoError(t, c.Close())

	reopened, err := OpenSQLite(ctx, path, time.Hour)
	require.NoError(t, err)
	defer reopened.Close()

	f, ok := reopened.Get("web1")
	require.True(t, ok)
	assert.Equal(t, "web1", f["ansible_hostname"])
	assert.Equal(t, "Debian", f["ansible_distribution"])
}

func TestSQLiteCacheSkipsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "facts.db")

	c, err := OpenSQLite(ctx, path, time.Minute)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	require.NoError(t, c.Set("stale", map[string]interface{}{"a": 1}))
	c.now = time.Now
	require.NoError(t, c.Set("fresh", map[string]interface{}{"a": 2}))
	require.NoError(t, c.Close())

	reopened, err := OpenSQLite(ctx, path, time.Minute)
	require.NoError(t, err)
	defer reopened.Close()

	_, ok := reopened.Get("stale")
	assert.False(t, ok)
	_, ok = reopened.Get("fresh")
	assert.True(t, ok)
}

func TestOpenSelectsBackend(t *testing.T) {
	c, err := Open(context.Background(), config.FactsConfig{Cache: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)

	c, err = Open(context.Background(), config.FactsConfig{Cache: "sqlite", Path: filepath.Join(t.TempDir(), "f.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteCache{}, c)
	require.NoError(t, c.Close())

	_, err = Open(context.Background(), config.FactsConfig{Cache: "redis"})
	assert.Error(t, err)
}
