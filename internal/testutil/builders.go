// Package testutil provides testing utilities and helpers for the catalog sync engine.
package testutil

import (
	"strconv"
	"time"

	"github.com/target/catalog-sync/internal/domain/model"
)

// DefaultTestStore is the target store used by builders unless overridden.
const DefaultTestStore = "reseller.myshopify.com"

// EnqueueRequestBuilder provides a fluent interface for building EnqueueRequest values.
type EnqueueRequestBuilder struct {
	req *model.EnqueueRequest
}

// NewEnqueueRequest creates a full-sync request for DefaultTestStore.
func NewEnqueueRequest() *EnqueueRequestBuilder {
	return &EnqueueRequestBuilder{
		req: &model.EnqueueRequest{
			Type:        model.JobTypeFullSync,
			TargetStore: DefaultTestStore,
		},
	}
}

// WithType sets the job type.
func (b *EnqueueRequestBuilder) WithType(t model.JobType) *EnqueueRequestBuilder {
	b.req.Type = t
	return b
}

// WithStore sets the target store domain.
func (b *EnqueueRequestBuilder) WithStore(domain string) *EnqueueRequestBuilder {
	b.req.TargetStore = domain
	return b
}

// WithPriority sets the priority; lower values are claimed first.
func (b *EnqueueRequestBuilder) WithPriority(p int) *EnqueueRequestBuilder {
	b.req.Priority = p
	return b
}

// WithScheduledFor delays eligibility until t.
func (b *EnqueueRequestBuilder) WithScheduledFor(t time.Time) *EnqueueRequestBuilder {
	b.req.ScheduledFor = &t
	return b
}

// WithMaxAttempts overrides the queue attempt cap for this job.
func (b *EnqueueRequestBuilder) WithMaxAttempts(n int) *EnqueueRequestBuilder {
	b.req.MaxAttempts = n
	return b
}

// WithMarkup sets the payload markup override.
func (b *EnqueueRequestBuilder) WithMarkup(pct float64) *EnqueueRequestBuilder {
	b.req.Payload.MarkupPercentage = &pct
	return b
}

// WithFilter sets the payload product filter expression.
func (b *EnqueueRequestBuilder) WithFilter(expr string) *EnqueueRequestBuilder {
	b.req.Payload.Filter = expr
	return b
}

// Build returns a copy of the built request.
func (b *EnqueueRequestBuilder) Build() *model.EnqueueRequest {
	req := *b.req
	return &req
}

// ProductBuilder builds normalized products for reconciler and sync tests.
type ProductBuilder struct {
	p model.Product
}

// NewProduct starts an active product with the given id and title.
func NewProduct(id int64, title string) *ProductBuilder {
	return &ProductBuilder{p: model.Product{
		ID:     id,
		Title:  title,
		Status: model.ProductStatusActive,
		Tags:   []string{},
		Images: []string{},
	}}
}

// WithVariant appends a variant carrying sku and price. Variant ids derive from the product id.
func (b *ProductBuilder) WithVariant(sku string, price float64) *ProductBuilder {
	id := b.p.ID*100 + int64(len(b.p.Variants)) + 1
	b.p.Variants = append(b.p.Variants, model.Variant{
		ID:    id,
		Title: "Variant " + strconv.Itoa(len(b.p.Variants)+1),
		SKU:   sku,
		Price: price,
	})
	return b
}

// WithStatus sets the product status.
func (b *ProductBuilder) WithStatus(s model.ProductStatus) *ProductBuilder {
	b.p.Status = s
	return b
}

// WithVendor sets the vendor.
func (b *ProductBuilder) WithVendor(v string) *ProductBuilder {
	b.p.Vendor = v
	return b
}

// WithTags sets the tags.
func (b *ProductBuilder) WithTags(tags ...string) *ProductBuilder {
	b.p.Tags = tags
	return b
}

// Build returns a copy of the built product.
func (b *ProductBuilder) Build() *model.Product {
	p := b.p
	p.Variants = append([]model.Variant(nil), b.p.Variants...)
	return &p
}

// TestStore returns an installed store with a token derived from domain.
func TestStore(domain string) *model.Store {
	return &model.Store{
		Domain:      domain,
		AccessToken: "shpat_" + domain,
		Installed:   true,
		CreatedAt:   TestTime(),
		UpdatedAt:   TestTime(),
	}
}
