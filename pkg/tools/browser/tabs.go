package browser

import (
	"context"

	"github.com/entrhq/pagepilot/pkg/actions"
)

func tabActions() []actions.Descriptor {
	tabOnly := actions.Schema{
		Properties: map[string]actions.Property{"tab": tabParam},
		Required:   []string{"tab"},
	}
	return []actions.Descriptor{
		{
			Name:        "open_tab",
			Description: "Open a URL in a new tab and switch to it",
			Params: actions.Schema{
				Properties: map[string]actions.Property{"url": urlParam},
				Required:   []string{"url"},
			},
			Handler: openTab,
		},
		{
			Name:        "switch_tab",
			Description: "Switch to the tab with the given id",
			Params:      tabOnly,
			Handler:     switchTab,
		},
		{
			Name:        "close_tab",
			Description: "Close the tab with the given id",
			Params:      tabOnly,
			Handler:     closeTab,
		},
	}
}

func openTab(ctx context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	c, err := controller(ectx)
	if err != nil {
		return actions.Result{}, err
	}
	target := normalizeURL(p.String("url"))
	if err := c.OpenTab(ctx, target); err != nil {
		return actions.Result{}, err
	}
	return actions.Ok("opened %s in a new tab", target), nil
}

func switchTab(ctx context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	c, err := controller(ectx)
	if err != nil {
		return actions.Result{}, err
	}
	id := p.Int("tab")
	if err := c.SwitchTab(ctx, id); err != nil {
		return actions.Result{}, err
	}
	return actions.Ok("switched to tab %d (%s)", id, c.CurrentURL()), nil
}

func closeTab(ctx context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	c, err := controller(ectx)
	if err != nil {
		return actions.Result{}, err
	}
	id := p.Int("tab")
	if err := c.CloseTab(ctx, id); err != nil {
		return actions.Result{}, err
	}
	return actions.Ok("closed tab %d", id), nil
}
