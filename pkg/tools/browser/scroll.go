package browser

import (
	"context"

	"github.com/entrhq/pagepilot/pkg/actions"
)

func scrollActions() []actions.Descriptor {
	return []actions.Descriptor{
		{
			Name:        "scroll",
			Description: "Scroll the page up or down, by amount pixels or one viewport",
			Params: actions.Schema{
				Properties: map[string]actions.Property{
					"direction": {Type: actions.TypeString, Enum: []string{"up", "down"}},
					"amount":    {Type: actions.TypeInteger, Description: "Pixels to scroll", Minimum: actions.Min(1), Aliases: []string{"pixels"}},
				},
				Required: []string{"direction"},
			},
			Handler: scroll,
		},
		{
			Name:        "scroll_to_text",
			Description: "Scroll to the first element containing text",
			Params: actions.Schema{
				Properties: map[string]actions.Property{
					"text": {Type: actions.TypeString, Aliases: []string{"query"}},
				},
				Required: []string{"text"},
			},
			Handler: scrollToText,
		},
	}
}

func scroll(ctx context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	c, err := controller(ectx)
	if err != nil {
		return actions.Result{}, err
	}
	amount := p.Int("amount")
	if amount <= 0 {
		amount = c.Options().Viewport.Height
	}
	dy := amount
	if p.String("direction") == "up" {
		dy = -amount
	}
	if err := c.Scroll(ctx, dy); err != nil {
		return actions.Result{}, err
	}
	return actions.Ok("scrolled %s by %d pixels", p.String("direction"), amount), nil
}

func scrollToText(ctx context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	c, err := controller(ectx)
	if err != nil {
		return actions.Result{}, err
	}
	text := p.String("text")
	found, err := c.ScrollToText(ctx, text)
	if err != nil {
		return actions.Result{}, err
	}
	if !found {
		return actions.Fail(actions.CodeActionError, "text %q not found on the page", text), nil
	}
	return actions.Ok("scrolled to %q", text), nil
}
