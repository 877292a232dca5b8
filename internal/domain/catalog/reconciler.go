package catalog

import (
	"fmt"

	"github.com/target/catalog-sync/internal/domain/model"
)

// ActionKind identifies what a planned action does to the target store.
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
	ActionStatus ActionKind = "status"
)

// VariantPair links a main-catalog variant to the target variant it overwrites.
type VariantPair struct {
	Source   model.Variant
	TargetID int64
}

// Action is one mutation against the target store.
type Action struct {
	Kind ActionKind
	// Source is the main-catalog product. Nil for deletes.
	Source *model.Product
	// Target is the matched target product. Nil for creates.
	Target *model.Product
	// Variants lists the variant updates for ActionUpdate.
	Variants []VariantPair
	// Status is the status to apply for ActionStatus.
	Status model.ProductStatus
}

// Title names the product the action concerns, for result reporting.
func (a Action) Title() string {
	if a.Source != nil {
		return a.Source.Title
	}
	if a.Target != nil {
		return a.Target.Title
	}
	return ""
}

// SKU returns the primary SKU of the product the action concerns.
func (a Action) SKU() string {
	if a.Source != nil {
		return a.Source.PrimarySKU()
	}
	if a.Target != nil {
		return a.Target.PrimarySKU()
	}
	return ""
}

// Plan is the ordered list of actions for one sync run.
type Plan struct {
	Mode    model.SyncMode
	Actions []Action
	// Ignored counts products that needed no action or could not be matched, plus source variants
	// of updated products that had no target variant to overwrite.
	Ignored int
}

// BuildPlan computes the actions that apply mode to the target catalog. It performs no I/O;
// both catalogs must already be fetched and filtered. Matching is by SKU and the first match
// in target catalog order wins when a SKU appears on several products.
func BuildPlan(mode model.SyncMode, main, target []*model.Product) (*Plan, error) {
	plan := &Plan{Mode: mode}
	switch mode {
	case model.SyncModeCreateMissing:
		planCreate(plan, main)
	case model.SyncModeUpdateExisting:
		planUpdate(plan, main, target)
	case model.SyncModeDeleteObsolete:
		planDelete(plan, main, target)
	case model.SyncModeSyncStatus:
		planStatus(plan, main, target)
	default:
		return nil, fmt.Errorf("unknown sync mode %q", mode)
	}
	return plan, nil
}

// planCreate creates every main product. It does not check for existing matches, so
// re-running it duplicates products on the target.
func planCreate(plan *Plan, main []*model.Product) {
	for _, p := range main {
		if p == nil {
			continue
		}
		plan.Actions = append(plan.Actions, Action{Kind: ActionCreate, Source: p})
	}
}

func planUpdate(plan *Plan, main, target []*model.Product) {
	index := indexBySKU(target)
	for _, p := range main {
		if p == nil {
			continue
		}
		t := firstMatch(index, target, p.SKUs())
		if t == nil {
			plan.Ignored++
			continue
		}
		pairs, unpaired := pairVariants(p.Variants, t.Variants)
		plan.Ignored += unpaired
		plan.Actions = append(plan.Actions, Action{
			Kind:     ActionUpdate,
			Source:   p,
			Target:   t,
			Variants: pairs,
		})
	}
}

func planDelete(plan *Plan, main, target []*model.Product) {
	mainSKUs := make(map[string]struct{})
	for _, p := range main {
		for _, sku := range p.SKUs() {
			mainSKUs[sku] = struct{}{}
		}
	}
	for _, t := range target {
		if t == nil {
			continue
		}
		if sharesSKU(t, mainSKUs) {
			plan.Ignored++
			continue
		}
		plan.Actions = append(plan.Actions, Action{Kind: ActionDelete, Target: t})
	}
}

func planStatus(plan *Plan, main, target []*model.Product) {
	index := indexBySKU(target)
	for _, p := range main {
		if p == nil {
			continue
		}
		sku := p.PrimarySKU()
		if sku == "" || p.Status == "" {
			plan.Ignored++
			continue
		}
		i, ok := index[sku]
		if !ok || target[i].Status == p.Status {
			plan.Ignored++
			continue
		}
		plan.Actions = append(plan.Actions, Action{
			Kind:   ActionStatus,
			Source: p,
			Target: target[i],
			Status: p.Status,
		})
	}
}

// indexBySKU maps each SKU to the position of the first target product carrying it.
func indexBySKU(products []*model.Product) map[string]int {
	index := make(map[string]int)
	for i, p := range products {
		for _, sku := range p.SKUs() {
			if _, seen := index[sku]; !seen {
				index[sku] = i
			}
		}
	}
	return index
}

// firstMatch returns the earliest target product sharing any of skus.
func firstMatch(index map[string]int, target []*model.Product, skus []string) *model.Product {
	best := -1
	for _, sku := range skus {
		if i, ok := index[sku]; ok && (best < 0 || i < best) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	return target[best]
}

func sharesSKU(p *model.Product, skus map[string]struct{}) bool {
	for _, sku := range p.SKUs() {
		if _, ok := skus[sku]; ok {
			return true
		}
	}
	return false
}

// pairVariants matches source variants to target variants by SKU, falling back to position
// for source variants whose SKU is absent. A target variant is paired at most once. The second
// result counts source variants left without a target.
func pairVariants(source, target []model.Variant) ([]VariantPair, int) {
	bySKU := make(map[string]int, len(target))
	for i, v := range target {
		if v.SKU == "" {
			continue
		}
		if _, seen := bySKU[v.SKU]; !seen {
			bySKU[v.SKU] = i
		}
	}

	used := make([]bool, len(target))
	pairs := make([]VariantPair, 0, len(source))
	pending := make([]int, 0)
	for i, v := range source {
		if j, ok := bySKU[v.SKU]; ok && v.SKU != "" && !used[j] {
			used[j] = true
			pairs = append(pairs, VariantPair{Source: v, TargetID: target[j].ID})
			continue
		}
		pending = append(pending, i)
	}
	for _, i := range pending {
		if i < len(target) && !used[i] {
			used[i] = true
			pairs = append(pairs, VariantPair{Source: source[i], TargetID: target[i].ID})
		}
	}
	return pairs, len(source) - len(pairs)
}
