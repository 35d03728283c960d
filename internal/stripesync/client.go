// Package stripesync exports active plans and their configurations to
// Stripe as products and prices.
//
// Plans map to products, fixed and usage configurations map to
// recurring prices. Hourly and bucket configurations are priced from
// recorded usage at invoicing time and are never exported. Sync is
// idempotent: prices are matched by configuration ID metadata and
// products are linked back onto the plan after creation.
package stripesync

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// API is the slice of the Stripe surface the syncer uses. Tests swap
// in a fake.
type API interface {
	CreateProduct(ctx context.Context, params *stripe.ProductParams) (*stripe.Product, error)
	CreatePrice(ctx context.Context, params *stripe.PriceParams) (*stripe.Price, error)
	ListPrices(ctx context.Context, productID string) ([]*stripe.Price, error)
}

// Client implements API against the live Stripe API.
type Client struct {
	sc *client.API
}

// NewClient creates a Stripe API client. The key prefix is checked up
// front so a misconfigured deployment fails at startup, not on the
// first sync.
func NewClient(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("stripesync: API key is empty")
	}
	if !strings.HasPrefix(apiKey, "sk_") && !strings.HasPrefix(apiKey, "rk_") {
		return nil, fmt.Errorf("stripesync: API key must be a secret key (sk_...) or restricted key (rk_...)")
	}
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &Client{sc: sc}, nil
}

func (c *Client) CreateProduct(ctx context.Context, params *stripe.ProductParams) (*stripe.Product, error) {
	params.Context = ctx
	return c.sc.Products.New(params)
}

func (c *Client) CreatePrice(ctx context.Context, params *stripe.PriceParams) (*stripe.Price, error) {
	params.Context = ctx
	return c.sc.Prices.New(params)
}

func (c *Client) ListPrices(ctx context.Context, productID string) ([]*stripe.Price, error) {
	params := &stripe.PriceListParams{Product: stripe.String(productID)}
	params.Context = ctx
	iter := c.sc.Prices.List(params)
	var prices []*stripe.Price
	for iter.Next() {
		prices = append(prices, iter.Price())
	}
	return prices, iter.Err()
}

var _ API = (*Client)(nil)
