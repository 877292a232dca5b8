package catalog

import (
	"math"
	"strconv"
	"strings"

	"github.com/target/catalog-sync/internal/domain/model"
)

// defaultVariantTitle is what the platform names the only variant of a single-option product.
const defaultVariantTitle = "Default Title"

// Normalize converts an upstream product into the normalized model. A nil input yields nil.
func Normalize(raw *RawProduct) *model.Product {
	if raw == nil {
		return nil
	}

	p := &model.Product{
		ID:          raw.ID,
		Title:       strings.TrimSpace(raw.Title),
		Description: raw.BodyHTML,
		Vendor:      strings.TrimSpace(raw.Vendor),
		ProductType: strings.TrimSpace(raw.ProductType),
		Tags:        splitTags(raw.Tags),
		Status:      model.ProductStatus(strings.ToLower(strings.TrimSpace(raw.Status))),
		PublishedAt: raw.PublishedAt,
		Variants:    make([]model.Variant, 0, len(raw.Variants)),
		Images:      make([]string, 0, len(raw.Images)),
	}

	for _, rv := range raw.Variants {
		p.Variants = append(p.Variants, normalizeVariant(rv))
	}
	for _, img := range raw.Images {
		if src := strings.TrimSpace(img.Src); src != "" {
			p.Images = append(p.Images, src)
		}
	}
	return p
}

// NormalizeVariant converts a single upstream variant.
func NormalizeVariant(raw *RawVariant) *model.Variant {
	if raw == nil {
		return nil
	}
	v := normalizeVariant(*raw)
	return &v
}

func normalizeVariant(rv RawVariant) model.Variant {
	v := model.Variant{
		ID:         rv.ID,
		Title:      strings.TrimSpace(rv.Title),
		SKU:        strings.TrimSpace(rv.SKU),
		Price:      parsePrice(rv.Price),
		WeightUnit: rv.WeightUnit,
	}
	if rv.InventoryQuantity != nil {
		v.InventoryQuantity = *rv.InventoryQuantity
	}
	if rv.Weight != nil {
		v.Weight = *rv.Weight
	}
	return v
}

// Denormalize builds a creation payload for a target store, applying the markup to every
// variant price. Source ids are dropped since they are not portable across stores.
// Applying it to its own normalized output compounds the markup.
func Denormalize(p *model.Product, markupPercentage float64) *RawProduct {
	if p == nil {
		return nil
	}

	raw := PatchFromProduct(p)
	raw.Status = string(p.Status)
	raw.PublishedAt = p.PublishedAt

	raw.Variants = make([]RawVariant, 0, len(p.Variants))
	for _, v := range p.Variants {
		rv := VariantPatch(v, markupPercentage)
		qty := v.InventoryQuantity
		rv.InventoryQuantity = &qty
		if v.Title != "" && v.Title != defaultVariantTitle {
			rv.Title = v.Title
			rv.Option1 = v.Title
		}
		raw.Variants = append(raw.Variants, *rv)
	}

	if len(p.Images) > 0 {
		raw.Images = make([]RawImage, 0, len(p.Images))
		for _, src := range p.Images {
			raw.Images = append(raw.Images, RawImage{Src: src})
		}
	}
	return raw
}

// PatchFromProduct returns the shared product-level fields used when updating an existing
// target product. Variants and status are updated separately.
func PatchFromProduct(p *model.Product) *RawProduct {
	if p == nil {
		return nil
	}
	return &RawProduct{
		Title:       p.Title,
		BodyHTML:    p.Description,
		Vendor:      p.Vendor,
		ProductType: p.ProductType,
		Tags:        strings.Join(p.Tags, ", "),
	}
}

// VariantPatch returns the variant fields pushed to a target store, with markup applied to the price.
func VariantPatch(v model.Variant, markupPercentage float64) *RawVariant {
	rv := &RawVariant{
		SKU:        strings.TrimSpace(v.SKU),
		Price:      FormatPrice(ApplyMarkup(v.Price, markupPercentage)),
		WeightUnit: v.WeightUnit,
	}
	if v.Weight > 0 {
		w := v.Weight
		rv.Weight = &w
	}
	return rv
}

// ApplyMarkup inflates a price by the given percentage, rounded to cents.
func ApplyMarkup(price, markupPercentage float64) float64 {
	return roundCents(price * (1 + markupPercentage/100))
}

// FormatPrice renders a price with two decimals, the way the platform expects it.
func FormatPrice(price float64) string {
	return strconv.FormatFloat(roundCents(price), 'f', 2, 64)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func parsePrice(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
