package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/use-agent/web2api/browser"
	"github.com/use-agent/web2api/recipe"
)

// runActions executes the endpoint's pre-extraction actions in recipe
// order. The first failing action aborts the scrape; errors name the
// action index and type so recipe authors can locate the culprit.
func runActions(ctx context.Context, page browser.Page, actions []recipe.Action) error {
	for i := range actions {
		a := &actions[i]
		if err := runAction(ctx, page, a); err != nil {
			return fmt.Errorf("action %d (%s): %w", i, a.Type, err)
		}
	}
	return nil
}

func runAction(ctx context.Context, page browser.Page, a *recipe.Action) error {
	switch a.Type {
	case recipe.ActionWait:
		return page.WaitSelector(ctx, a.Selector, time.Duration(a.Timeout)*time.Millisecond)

	case recipe.ActionClick:
		return page.Click(ctx, a.Selector)

	case recipe.ActionType:
		return page.Type(ctx, a.Selector, a.Text)

	case recipe.ActionSleep:
		select {
		case <-time.After(time.Duration(a.Ms) * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

	case recipe.ActionEvaluate:
		return page.Eval(ctx, a.Script)

	case recipe.ActionScroll:
		return page.Eval(ctx, scrollScript(a))

	default:
		// Unknown types are rejected at recipe load time.
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

func scrollScript(a *recipe.Action) string {
	if a.Amount.Bottom {
		return `() => window.scrollTo(0, document.body.scrollHeight)`
	}
	pixels := a.Amount.Pixels
	if a.Direction == "up" {
		pixels = -pixels
	}
	return fmt.Sprintf(`() => window.scrollBy(0, %d)`, pixels)
}
