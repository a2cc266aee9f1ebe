package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smallbiznis/genealogy/internal/config"
	obscontext "github.com/smallbiznis/genealogy/internal/observability/context"
	"go.uber.org/zap"
)

const (
	apiKeyHeader = "X-Api-Key"
	orgIDHeader  = "X-Org-Id"
)

type Client struct {
	http *resty.Client
	log  *zap.Logger
}

// NewClient builds a catalog client. An empty base URL yields a client
// that resolves nothing.
func NewClient(cfg config.Config, log *zap.Logger) Lookup {
	if strings.TrimSpace(cfg.Catalog.BaseURL) == "" {
		log.Named("catalog.client").Info("catalog base url not configured, lookups disabled")
		return Noop{}
	}
	return newClient(cfg.Catalog, log)
}

func newClient(cfg config.CatalogConfig, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(100*time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		httpClient.SetHeader(apiKeyHeader, cfg.APIKey)
	}
	return &Client{http: httpClient, log: log.Named("catalog.client")}
}

func (c *Client) Item(ctx context.Context, orgID, id string) (*Item, error) {
	var out Item
	found, err := c.get(ctx, orgID, "/items/", id, &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Vendor(ctx context.Context, orgID, id string) (*Vendor, error) {
	var out Vendor
	found, err := c.get(ctx, orgID, "/vendors/", id, &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PurchaseOrder(ctx context.Context, orgID, id string) (*PurchaseOrder, error) {
	var out PurchaseOrder
	found, err := c.get(ctx, orgID, "/purchase-orders/", id, &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GRN(ctx context.Context, orgID, id string) (*GRN, error) {
	var out GRN
	found, err := c.get(ctx, orgID, "/grns/", id, &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, orgID, path, id string, out any) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader(orgIDHeader, orgID).
		SetResult(out)
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		req.SetHeader("X-Request-Id", requestID)
	}

	resp, err := req.Get(path + url.PathEscape(id))
	if err != nil {
		c.log.Warn("catalog request failed", zap.String("path", path), zap.Error(err))
		return false, fmt.Errorf("catalog %s%s: %w", path, id, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return false, nil
	case resp.IsError():
		c.log.Warn("catalog returned error",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode()),
		)
		return false, fmt.Errorf("catalog %s%s: unexpected status %d", path, id, resp.StatusCode())
	}
	return true, nil
}
