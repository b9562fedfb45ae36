// Package catalog is the HTTP client for the product catalog service. Cart
// lines freeze name, SKU, and price at add time from what this client returns.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lacehub/storefront/pkg/httpclient"
)

// VariantInfo is the catalog's view of a sellable variant, used to freeze
// display fields onto cart lines.
type VariantInfo struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	Price     int64  `json:"price"`
	Currency  string `json:"currency"`
	Active    bool   `json:"active"`
}

// Client calls the catalog service over HTTP, behind a circuit breaker.
type Client struct {
	http    *httpclient.CircuitBreakerClient
	baseURL string
	logger  *slog.Logger
}

// NewClient creates a catalog client for the given base URL.
func NewClient(baseURL string, log *slog.Logger) *Client {
	base := httpclient.New(httpclient.DefaultConfig())
	cbCfg := httpclient.DefaultCircuitBreakerConfig("catalog")
	return &Client{
		http:    httpclient.NewCircuitBreakerClient(base, cbCfg, log),
		baseURL: baseURL,
		logger:  log,
	}
}

// GetVariant fetches one variant of a product.
func (c *Client) GetVariant(ctx context.Context, productID, variantID string) (*VariantInfo, error) {
	url := fmt.Sprintf("%s/api/v1/products/%s/variants/%s", c.baseURL, productID, variantID)

	resp, err := c.http.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("catalog get variant: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, "catalog")
	}

	var info VariantInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("catalog decode variant: %w", err)
	}

	return &info, nil
}
