// Package catalog implements product.Catalog against a remote catalog
// service. Deployments that keep the catalog in the core database use the
// postgres implementation instead; this client exists for setups where
// pricing lives in a separate system.
package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/openmart/storefront-core/internal/domain/product"
)

var _ product.Catalog = (*Client)(nil)

// Client fetches tenant-scoped product snapshots over HTTP.
type Client struct {
	http *resty.Client
}

// NewClient creates a catalog Client for the given base URL.
func NewClient(baseURL string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	return &Client{http: c}
}

type productPayload struct {
	ID        int64  `json:"id"`
	TenantID  int64  `json:"tenant_id"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Available bool   `json:"available"`
}

type productsResponse struct {
	Products []productPayload `json:"products"`
}

// GetByIDs returns the tenant's products among the requested ids. Products
// the remote omits are simply absent from the result. Rows claiming another
// tenant are dropped rather than trusted.
func (c *Client) GetByIDs(ctx context.Context, tenantID int64, ids []int64) ([]product.Product, error) {
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = strconv.FormatInt(id, 10)
	}

	var out productsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("ids", strings.Join(strIDs, ",")).
		SetResult(&out).
		Get(fmt.Sprintf("/tenants/%d/products", tenantID))
	if err != nil {
		return nil, errors.Wrap(err, "fetch products")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errors.Errorf("catalog responded %d", resp.StatusCode())
	}

	products := make([]product.Product, 0, len(out.Products))
	for _, p := range out.Products {
		if p.TenantID != tenantID {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, errors.Wrapf(err, "product %d price", p.ID)
		}
		products = append(products, product.Product{
			ID:        p.ID,
			TenantID:  p.TenantID,
			Name:      p.Name,
			Price:     price,
			Available: p.Available,
		})
	}
	return products, nil
}
