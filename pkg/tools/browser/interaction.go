package browser

import (
	"context"
	"fmt"

	"github.com/entrhq/pagepilot/pkg/actions"
)

func interactionActions() []actions.Descriptor {
	return []actions.Descriptor{
		{
			Name:        "click",
			Description: "Click the element at index",
			Params: actions.Schema{
				Properties: map[string]actions.Property{"index": indexParam},
				Required:   []string{"index"},
			},
			Handler: click,
		},
		{
			Name:        "type",
			Description: "Clear the input at index and type text into it",
			Params: actions.Schema{
				Properties: map[string]actions.Property{
					"index": indexParam,
					"text":  withDescription(textParam, "Text to type"),
				},
				Required: []string{"index", "text"},
			},
			Handler: typeText,
		},
		{
			Name:        "send_keys",
			Description: "Press keys or shortcuts on the page, e.g. Enter, Escape, Control+a",
			Params: actions.Schema{
				Properties: map[string]actions.Property{
					"keys": {Type: actions.TypeString, Description: "Key names joined with +", Aliases: []string{"key", "text"}},
				},
				Required: []string{"keys"},
			},
			Handler: sendKeys,
		},
		{
			Name:        "select_option",
			Description: "Select the option with the given label in the dropdown at index",
			Params: actions.Schema{
				Properties: map[string]actions.Property{
					"index": indexParam,
					"text":  withDescription(textParam, "Visible label of the option"),
				},
				Required: []string{"index", "text"},
			},
			Handler: selectOption,
		},
		{
			Name:        "hover",
			Description: "Move the mouse over the element at index",
			Params: actions.Schema{
				Properties: map[string]actions.Property{"index": indexParam},
				Required:   []string{"index"},
			},
			Handler: hover,
		},
	}
}

func click(ctx context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	c, err := controller(ectx)
	if err != nil {
		return actions.Result{}, err
	}
	i := p.Int("index")
	if err := c.ClickByIndex(ctx, i); err != nil {
		return actions.Result{}, err
	}
	return actions.Ok("clicked element %d", i), nil
}

func typeText(ctx context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	c, err := controller(ectx)
	if err != nil {
		return actions.Result{}, err
	}
	i, text := p.Int("index"), p.String("text")
	if err := c.TypeByIndex(ctx, i, text); err != nil {
		return actions.Result{}, err
	}
	return actions.Ok("typed %q into element %d", text, i), nil
}

func sendKeys(ctx context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	c, err := controller(ectx)
	if err != nil {
		return actions.Result{}, err
	}
	keys := p.String("keys")
	if err := c.PressKeys(ctx, keys); err != nil {
		return actions.Result{}, err
	}
	return actions.Ok("sent keys %s", keys), nil
}

func selectOption(ctx context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	c, err := controller(ectx)
	if err != nil {
		return actions.Result{}, err
	}
	i, text := p.Int("index"), p.String("text")
	if err := c.SelectOptionByIndex(ctx, i, text); err != nil {
		return actions.Result{}, fmt.Errorf("select %q: %w", text, err)
	}
	return actions.Ok("selected %q in element %d", text, i), nil
}

func hover(ctx context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	c, err := controller(ectx)
	if err != nil {
		return actions.Result{}, err
	}
	i := p.Int("index")
	if err := c.HoverByIndex(ctx, i); err != nil {
		return actions.Result{}, err
	}
	return actions.Ok("hovered element %d", i), nil
}
