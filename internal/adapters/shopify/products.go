package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/target/catalog-sync/internal/core"
	"github.com/target/catalog-sync/internal/domain/catalog"
	"github.com/target/catalog-sync/internal/domain/model"
)

var _ core.CatalogClient = (*Client)(nil)

type productEnvelope struct {
	Product *catalog.RawProduct `json:"product"`
}

type variantEnvelope struct {
	Variant *catalog.RawVariant `json:"variant"`
}

type productsPage struct {
	Products []*catalog.RawProduct `json:"products"`
}

// ListProducts pages through the store's products following the Link header. It is fail-soft:
// once at least one page has been read, a failing page ends pagination and the partial listing is
// returned with Complete=false and Err set. Only a failure on the first page is returned as an error.
func (c *Client) ListProducts(
	ctx context.Context,
	store model.Credentials,
	opts core.ListOptions,
) (*model.Listing, error) {
	listing := &model.Listing{Products: []*model.Product{}, Complete: true}
	query := url.Values{"limit": {strconv.Itoa(c.opts.PageSize)}}

	for {
		page, next, err := c.listPage(ctx, store, query)
		if err != nil {
			if listing.Pages == 0 {
				return nil, fmt.Errorf("list products for %s: %w", store.Domain, err)
			}
			c.logger.WarnContext(ctx, "product listing stopped early",
				"store", store.Domain,
				"pages", listing.Pages,
				"products", len(listing.Products),
				"error", err)
			listing.Complete = false
			listing.Err = err
			return listing, nil
		}

		for _, raw := range page {
			if p := catalog.Normalize(raw); p != nil {
				listing.Products = append(listing.Products, p)
			}
		}
		listing.Pages++

		if next == "" {
			return listing, nil
		}
		if opts.MaxPages > 0 && listing.Pages >= opts.MaxPages {
			c.logger.InfoContext(ctx, "product listing reached page bound",
				"store", store.Domain,
				"max_pages", opts.MaxPages)
			listing.Complete = false
			return listing, nil
		}
		// Shopify rejects other filters alongside page_info.
		query = url.Values{
			"limit":     {strconv.Itoa(c.opts.PageSize)},
			"page_info": {next},
		}
	}
}

func (c *Client) listPage(
	ctx context.Context,
	store model.Credentials,
	query url.Values,
) ([]*catalog.RawProduct, string, error) {
	res, err := c.do(ctx, store, request{
		op:     "list_products",
		method: http.MethodGet,
		path:   "products.json",
		query:  query,
	})
	if err != nil {
		return nil, "", err
	}
	var page productsPage
	if err := json.Unmarshal(res.body, &page); err != nil {
		return nil, "", fmt.Errorf("decode products page: %w", err)
	}
	return page.Products, nextPageInfo(res.header.Get("Link")), nil
}

// CreateProduct creates a product on the store and returns it as stored.
func (c *Client) CreateProduct(
	ctx context.Context,
	store model.Credentials,
	product *catalog.RawProduct,
) (*model.Product, error) {
	if product == nil {
		return nil, errors.New("product is required")
	}
	return c.writeProduct(ctx, store, "create_product", http.MethodPost, "products.json", product)
}

// UpdateProduct applies patch to product id.
func (c *Client) UpdateProduct(
	ctx context.Context,
	store model.Credentials,
	id int64,
	patch *catalog.RawProduct,
) (*model.Product, error) {
	if patch == nil {
		return nil, errors.New("product patch is required")
	}
	body := *patch
	body.ID = id
	return c.writeProduct(ctx, store, "update_product", http.MethodPut, productPath(id), &body)
}

// UpdateProductStatus sets the publication status of product id.
func (c *Client) UpdateProductStatus(
	ctx context.Context,
	store model.Credentials,
	id int64,
	status model.ProductStatus,
) (*model.Product, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid product status %q", status)
	}
	body := &catalog.RawProduct{ID: id, Status: string(status)}
	return c.writeProduct(ctx, store, "update_product_status", http.MethodPut, productPath(id), body)
}

// UpdateVariant applies patch to variant id.
func (c *Client) UpdateVariant(
	ctx context.Context,
	store model.Credentials,
	id int64,
	patch *catalog.RawVariant,
) (*model.Variant, error) {
	if patch == nil {
		return nil, errors.New("variant patch is required")
	}
	body := *patch
	body.ID = id
	res, err := c.do(ctx, store, request{
		op:       "update_variant",
		method:   http.MethodPut,
		path:     "variants/" + strconv.FormatInt(id, 10) + ".json",
		body:     variantEnvelope{Variant: &body},
		mutating: true,
	})
	if err != nil {
		return nil, err
	}
	var env variantEnvelope
	if err := json.Unmarshal(res.body, &env); err != nil {
		return nil, fmt.Errorf("decode variant: %w", err)
	}
	return catalog.NormalizeVariant(env.Variant), nil
}

// DeleteProduct removes product id. It reports false without error when the product is already gone.
func (c *Client) DeleteProduct(ctx context.Context, store model.Credentials, id int64) (bool, error) {
	_, err := c.do(ctx, store, request{
		op:       "delete_product",
		method:   http.MethodDelete,
		path:     productPath(id),
		mutating: true,
	})
	if err != nil {
		if StatusCode(err) == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) writeProduct(
	ctx context.Context,
	store model.Credentials,
	op, method, path string,
	body *catalog.RawProduct,
) (*model.Product, error) {
	res, err := c.do(ctx, store, request{
		op:       op,
		method:   method,
		path:     path,
		body:     productEnvelope{Product: body},
		mutating: true,
	})
	if err != nil {
		return nil, err
	}
	var env productEnvelope
	if err := json.Unmarshal(res.body, &env); err != nil {
		return nil, fmt.Errorf("decode product: %w", err)
	}
	if env.Product == nil {
		return nil, fmt.Errorf("%s: response has no product", op)
	}
	return catalog.Normalize(env.Product), nil
}

func productPath(id int64) string {
	return "products/" + strconv.FormatInt(id, 10) + ".json"
}

// nextPageInfo extracts the page_info cursor of the rel="next" entry of a Link header.
func nextPageInfo(link string) string {
	for _, part := range strings.Split(link, ",") {
		target, params, ok := strings.Cut(strings.TrimSpace(part), ";")
		if !ok || !strings.Contains(strings.ReplaceAll(params, " ", ""), `rel="next"`) {
			continue
		}
		target = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(target), "<"), ">")
		u, err := url.Parse(target)
		if err != nil {
			return ""
		}
		return u.Query().Get("page_info")
	}
	return ""
}
