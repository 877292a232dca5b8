// Package catalog converts between the upstream product wire shape and the normalized
// model, and plans the actions that align a target catalog with the main catalog.
package catalog

import "time"

// RawProduct is the commerce platform's product resource as sent and received over the wire.
// Zero-valued fields are omitted so the same type serves as an update patch.
type RawProduct struct {
	ID          int64        `json:"id,omitempty"`
	Title       string       `json:"title,omitempty"`
	BodyHTML    string       `json:"body_html,omitempty"`
	Vendor      string       `json:"vendor,omitempty"`
	ProductType string       `json:"product_type,omitempty"`
	Tags        string       `json:"tags,omitempty"`
	Status      string       `json:"status,omitempty"`
	PublishedAt *time.Time   `json:"published_at,omitempty"`
	Variants    []RawVariant `json:"variants,omitempty"`
	Images      []RawImage   `json:"images,omitempty"`
}

// RawVariant is the platform's variant resource.
type RawVariant struct {
	ID                int64    `json:"id,omitempty"`
	ProductID         int64    `json:"product_id,omitempty"`
	Title             string   `json:"title,omitempty"`
	Option1           string   `json:"option1,omitempty"`
	SKU               string   `json:"sku,omitempty"`
	Price             string   `json:"price,omitempty"`
	InventoryQuantity *int     `json:"inventory_quantity,omitempty"`
	Weight            *float64 `json:"weight,omitempty"`
	WeightUnit        string   `json:"weight_unit,omitempty"`
}

// RawImage is the platform's product image resource.
type RawImage struct {
	ID  int64  `json:"id,omitempty"`
	Src string `json:"src"`
}
