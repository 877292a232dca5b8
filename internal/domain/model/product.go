package model

import (
	"strings"
	"time"
)

// ProductStatus is the publication state of a product.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusDraft    ProductStatus = "draft"
	ProductStatusArchived ProductStatus = "archived"
)

// Valid returns true if the status is one the platform accepts.
func (s ProductStatus) Valid() bool {
	return s == ProductStatusActive || s == ProductStatusDraft || s == ProductStatusArchived
}

// Product is the normalized catalog shape shared by both sides of a sync.
type Product struct {
	// ID is the source-store id and is not portable across stores.
	ID          int64         `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Vendor      string        `json:"vendor"`
	ProductType string        `json:"product_type"`
	Tags        []string      `json:"tags"`
	Status      ProductStatus `json:"status"`
	PublishedAt *time.Time    `json:"published_at,omitempty"`
	Variants    []Variant     `json:"variants"`
	Images      []string      `json:"images"`
}

// Variant is one purchasable option of a product.
type Variant struct {
	ID                int64   `json:"id"`
	Title             string  `json:"title"`
	SKU               string  `json:"sku"`
	Price             float64 `json:"price"`
	InventoryQuantity int     `json:"inventory_quantity"`
	Weight            float64 `json:"weight"`
	WeightUnit        string  `json:"weight_unit"`
}

// SKUs returns the trimmed, non-empty variant SKUs in variant order.
func (p *Product) SKUs() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.Variants))
	for _, v := range p.Variants {
		if sku := strings.TrimSpace(v.SKU); sku != "" {
			out = append(out, sku)
		}
	}
	return out
}

// PrimarySKU returns the first variant's trimmed SKU, or "" when it has none.
func (p *Product) PrimarySKU() string {
	if p == nil || len(p.Variants) == 0 {
		return ""
	}
	return strings.TrimSpace(p.Variants[0].SKU)
}

// Matchable reports whether the product carries at least one SKU.
func (p *Product) Matchable() bool {
	return len(p.SKUs()) > 0
}

// Listing is the result of paging through a store's catalog.
type Listing struct {
	Products []*Product
	// Pages is the number of pages successfully fetched.
	Pages int
	// Complete is false when pagination stopped early on an error or page bound.
	Complete bool
	// Err is the failure that ended pagination early, if any.
	Err error
}
