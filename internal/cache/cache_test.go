package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/genealogy/internal/config"
	"github.com/smallbiznis/genealogy/internal/providers/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiresEntries(t *testing.T) {
	c := NewTTLCache[string, int](0).(*ttlCache[string, int])
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	v, ok = c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestTTLCacheBoundedSize(t *testing.T) {
	c := NewTTLCache[int, int](2)
	c.Set(1, 1, time.Hour)
	c.Set(2, 2, time.Hour)
	c.Set(3, 3, time.Hour)
	assert.Equal(t, 2, c.Len())
	v, ok := c.Get(3)
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

type countingLookup struct {
	catalog.Noop
	vendorCalls int
	fail        bool
}

func (l *countingLookup) Vendor(ctx context.Context, orgID, id string) (*catalog.Vendor, error) {
	l.vendorCalls++
	if l.fail {
		return nil, errors.New("catalog unavailable")
	}
	if id == "missing" {
		return nil, nil
	}
	return &catalog.Vendor{ID: id, Name: "Acme Steel"}, nil
}

func TestCatalogCacheMemoizesHitsAndMisses(t *testing.T) {
	remote := &countingLookup{}
	lookup := NewCatalogCache(remote, config.NewStaticGenealogyConfigHolder(config.DefaultGenealogyConfig()))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		vendor, err := lookup.Vendor(ctx, "1", "V-1")
		require.NoError(t, err)
		assert.Equal(t, "Acme Steel", vendor.Name)
	}
	for i := 0; i < 2; i++ {
		vendor, err := lookup.Vendor(ctx, "1", "missing")
		require.NoError(t, err)
		assert.Nil(t, vendor)
	}
	// tenant is part of the key
	_, err := lookup.Vendor(ctx, "2", "V-1")
	require.NoError(t, err)
	assert.Equal(t, 3, remote.vendorCalls)
}

func TestCatalogCacheDoesNotCacheErrors(t *testing.T) {
	remote := &countingLookup{fail: true}
	lookup := NewCatalogCache(remote, nil)
	ctx := context.Background()

	_, err := lookup.Vendor(ctx, "1", "V-1")
	require.Error(t, err)
	remote.fail = false
	vendor, err := lookup.Vendor(ctx, "1", "V-1")
	require.NoError(t, err)
	require.NotNil(t, vendor)
	assert.Equal(t, 2, remote.vendorCalls)
}

func TestCatalogCacheKeepsIDCase(t *testing.T) {
	remote := &countingLookup{}
	lookup := NewCatalogCache(remote, config.NewStaticGenealogyConfigHolder(config.DefaultGenealogyConfig()))
	ctx := context.Background()

	lower, err := lookup.Vendor(ctx, "1", "abc")
	require.NoError(t, err)
	upper, err := lookup.Vendor(ctx, "1", "ABC")
	require.NoError(t, err)

	assert.Equal(t, "abc", lower.ID)
	assert.Equal(t, "ABC", upper.ID)
	assert.Equal(t, 2, remote.vendorCalls)

	again, err := lookup.Vendor(ctx, "1", " ABC ")
	require.NoError(t, err)
	assert.Equal(t, "ABC", again.ID)
	assert.Equal(t, 2, remote.vendorCalls)
}
