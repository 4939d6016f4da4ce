package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/entrhq/pagepilot/pkg/actions"
)

func navigationActions(opts Options) []actions.Descriptor {
	return []actions.Descriptor{
		{
			Name:        "navigate",
			Description: "Open a URL in the current tab",
			Params: actions.Schema{
				Properties: map[string]actions.Property{"url": urlParam},
				Required:   []string{"url"},
			},
			Handler: navigate,
		},
		{
			Name:        "search",
			Description: "Search the web for a query in the current tab",
			Params: actions.Schema{
				Properties: map[string]actions.Property{
					"query": {Type: actions.TypeString, Description: "Search terms", Aliases: []string{"q", "text"}},
				},
				Required: []string{"query"},
			},
			Handler: searchHandler(opts.SearchURL),
		},
		{
			Name:        "go_back",
			Description: "Go back to the previous page",
			Handler:     goBack,
		},
		{
			Name:        "reload",
			Description: "Reload the current page",
			Handler:     reload,
		},
	}
}

// normalizeURL adds https:// to bare hosts such as "example.com/path".
func normalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" || strings.Contains(u, "://") || strings.HasPrefix(u, "about:") || strings.HasPrefix(u, "data:") {
		return u
	}
	return "https://" + u
}

func navigate(ctx context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	c, err := controller(ectx)
	if err != nil {
		return actions.Result{}, err
	}
	target := normalizeURL(p.String("url"))
	if err := c.Navigate(ctx, target); err != nil {
		return actions.Result{}, err
	}
	return actions.Ok("navigated to %s", target), nil
}

func searchHandler(base string) actions.Handler {
	return func(ctx context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
		c, err := controller(ectx)
		if err != nil {
			return actions.Result{}, err
		}
		query := strings.TrimSpace(p.String("query"))
		if query == "" {
			return actions.Result{}, &actions.ValidationError{Action: "search", Field: "query", Reason: "cannot be empty"}
		}
		if err := c.Navigate(ctx, base+url.QueryEscape(query)); err != nil {
			return actions.Result{}, err
		}
		return actions.Ok("searched for %q", query), nil
	}
}

func goBack(ctx context.Context, _ actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	c, err := controller(ectx)
	if err != nil {
		return actions.Result{}, err
	}
	if err := c.GoBack(ctx); err != nil {
		return actions.Result{}, err
	}
	return actions.Ok("navigated back to %s", c.CurrentURL()), nil
}

func reload(ctx context.Context, _ actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	c, err := controller(ectx)
	if err != nil {
		return actions.Result{}, err
	}
	if err := c.Reload(ctx); err != nil {
		return actions.Result{}, fmt.Errorf("reload: %w", err)
	}
	return actions.Ok("reloaded %s", c.CurrentURL()), nil
}
