package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/use-agent/web2api/browser"
	"github.com/use-agent/web2api/recipe"
)

// errFieldMissing marks a field whose context root, selector match or
// attribute was absent. Optional fields swallow it; required fields
// fail the whole scrape.
var errFieldMissing = errors.New("field not found")

// extractItems walks every container element on the page and extracts
// the recipe's field map from each. A required field that cannot be
// resolved fails the extraction outright rather than emitting a
// half-filled item.
func extractItems(ctx context.Context, page browser.Page, items *recipe.Items, baseURL string) ([]map[string]any, error) {
	containers, err := page.Elements(ctx, items.Container)
	if err != nil {
		return nil, fmt.Errorf("query containers %q: %w", items.Container, err)
	}

	out := make([]map[string]any, 0, len(containers))
	for i, container := range containers {
		fields := make(map[string]any, len(items.Fields))
		for name, f := range items.Fields {
			value, err := extractField(ctx, container, f, baseURL)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if f.Optional {
					fields[name] = nil
					continue
				}
				return nil, fmt.Errorf("item %d: required field %q: %w", i, name, err)
			}
			fields[name] = value
		}
		out = append(out, fields)
	}
	return out, nil
}

// extractField resolves the field's context root relative to the
// container, locates its target element, reads the raw value and runs
// the transform.
func extractField(ctx context.Context, container browser.Element, f *recipe.Field, baseURL string) (any, error) {
	root, err := resolveContext(ctx, container, f.Context)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, errFieldMissing
	}

	target := root
	if f.Selector != "" {
		target, err = root.Element(ctx, f.Selector)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, errFieldMissing
		}
	}

	var raw string
	if f.Attribute == "text" {
		raw, err = target.Text(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		attr, err := target.Attribute(ctx, f.Attribute)
		if err != nil {
			return nil, err
		}
		if attr == nil {
			return nil, errFieldMissing
		}
		raw = *attr
	}

	// A transform failure degrades this one field to null; it never
	// sinks the item the way a failed selector does.
	value, ok := ApplyTransform(f.Transform, raw, baseURL)
	if !ok {
		return nil, nil
	}
	return value, nil
}

func resolveContext(ctx context.Context, container browser.Element, mode string) (browser.Element, error) {
	switch mode {
	case recipe.ContextNextSibling:
		return container.Next(ctx)
	case recipe.ContextParent:
		return container.Parent(ctx)
	default:
		return container, nil
	}
}
