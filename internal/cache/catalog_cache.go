package cache

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/genealogy/internal/config"
	"github.com/smallbiznis/genealogy/internal/providers/catalog"
	"go.uber.org/fx"
)

const defaultCatalogEntries = 10000

// CatalogCache memoizes catalog lookups, including misses, for the
// configured lookup TTL. Errors are never cached.
type CatalogCache struct {
	next    catalog.Lookup
	config  *config.GenealogyConfigHolder
	items   Cache[string, *catalog.Item]
	vendors Cache[string, *catalog.Vendor]
	orders  Cache[string, *catalog.PurchaseOrder]
	grns    Cache[string, *catalog.GRN]
}

type CatalogParams struct {
	fx.In

	Remote catalog.Lookup                `name:"catalog.remote"`
	Config *config.GenealogyConfigHolder `optional:"true"`
}

func NewCatalogLookup(p CatalogParams) catalog.Lookup {
	return NewCatalogCache(p.Remote, p.Config)
}

func NewCatalogCache(next catalog.Lookup, holder *config.GenealogyConfigHolder) *CatalogCache {
	return &CatalogCache{
		next:    next,
		config:  holder,
		items:   NewTTLCache[string, *catalog.Item](defaultCatalogEntries),
		vendors: NewTTLCache[string, *catalog.Vendor](defaultCatalogEntries),
		orders:  NewTTLCache[string, *catalog.PurchaseOrder](defaultCatalogEntries),
		grns:    NewTTLCache[string, *catalog.GRN](defaultCatalogEntries),
	}
}

func (c *CatalogCache) Item(ctx context.Context, orgID, id string) (*catalog.Item, error) {
	return cached(ctx, c.items, c.ttl(), orgID, id, c.next.Item)
}

func (c *CatalogCache) Vendor(ctx context.Context, orgID, id string) (*catalog.Vendor, error) {
	return cached(ctx, c.vendors, c.ttl(), orgID, id, c.next.Vendor)
}

func (c *CatalogCache) PurchaseOrder(ctx context.Context, orgID, id string) (*catalog.PurchaseOrder, error) {
	return cached(ctx, c.orders, c.ttl(), orgID, id, c.next.PurchaseOrder)
}

func (c *CatalogCache) GRN(ctx context.Context, orgID, id string) (*catalog.GRN, error) {
	return cached(ctx, c.grns, c.ttl(), orgID, id, c.next.GRN)
}

func (c *CatalogCache) ttl() time.Duration {
	return c.config.Get().Lookup.CacheTTL
}

func cached[V any](ctx context.Context, store Cache[string, *V], ttl time.Duration, orgID, id string, load func(context.Context, string, string) (*V, error)) (*V, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	if ttl <= 0 {
		return load(ctx, orgID, id)
	}

	key := cacheKey(orgID, strings.TrimSpace(id))
	if value, ok := store.Get(key); ok {
		return value, nil
	}
	value, err := load(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	store.Set(key, value, ttl)
	return value, nil
}

// Catalog ids are opaque and compared as given. Only the org part is folded.
func cacheKey(orgID, id string) string {
	return strings.ToLower(strings.TrimSpace(orgID)) + "|" + id
}
