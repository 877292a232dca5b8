package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/target/catalog-sync/internal/domain/model"
)

// Filter selects main-catalog products by a JMESPath expression evaluated against the
// product's JSON form. The zero Filter matches everything.
type Filter struct {
	expr string
}

// CompileFilter validates expr and returns a Filter for it. An empty expression matches all products.
func CompileFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	if _, err := jmespath.Compile(expr); err != nil {
		return Filter{}, fmt.Errorf("invalid filter expression: %w", err)
	}
	return Filter{expr: expr}, nil
}

// Empty reports whether the filter matches everything.
func (f Filter) Empty() bool { return f.expr == "" }

// String returns the source expression.
func (f Filter) String() string { return f.expr }

// Match evaluates the filter against one product.
func (f Filter) Match(p *model.Product) (bool, error) {
	if p == nil {
		return false, nil
	}
	if f.Empty() {
		return true, nil
	}

	data, err := toDocument(p)
	if err != nil {
		return false, err
	}
	res, err := jmespath.Search(f.expr, data)
	if err != nil {
		return false, fmt.Errorf("evaluate filter: %w", err)
	}
	return truthy(res), nil
}

// Apply returns the products the filter matches, preserving order. Products the expression
// fails on are dropped and counted.
func (f Filter) Apply(products []*model.Product) ([]*model.Product, int) {
	if f.Empty() {
		return products, 0
	}
	out := make([]*model.Product, 0, len(products))
	errCount := 0
	for _, p := range products {
		ok, err := f.Match(p)
		if err != nil {
			errCount++
			continue
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, errCount
}

func toDocument(p *model.Product) (any, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal product: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return doc, nil
}

// truthy follows JMESPath truthiness: false, null, and empty strings or collections are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
