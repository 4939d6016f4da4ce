package browser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/entrhq/pagepilot/pkg/actions"
	pagebrowser "github.com/entrhq/pagepilot/pkg/browser"
	"github.com/entrhq/pagepilot/pkg/types"
)

func contentActions(opts Options) []actions.Descriptor {
	return []actions.Descriptor{
		{
			Name:        "screenshot",
			Description: "Capture the viewport, or the full page, as an image",
			Params: actions.Schema{
				Properties: map[string]actions.Property{
					"full_page": {Type: actions.TypeBoolean, Aliases: []string{"fullpage", "full"}},
				},
			},
			Handler: screenshotHandler(opts.ScreenshotDir),
		},
		{
			Name:        "extract_content",
			Description: "Read the page content; with a goal, return only the information the goal asks for",
			Params: actions.Schema{
				Properties: map[string]actions.Property{
					"format": {Type: actions.TypeString, Enum: []string{"markdown", "text", "html"}},
					"goal":   {Type: actions.TypeString, Description: "What to extract", Aliases: []string{"query", "instruction"}},
				},
			},
			Handler: extractHandler(opts.ExtractMaxLength),
		},
		{
			Name:        "save_pdf",
			Description: "Save the page as a PDF file in the workspace",
			Params: actions.Schema{
				Properties: map[string]actions.Property{
					"path": {Type: actions.TypeString, Description: "Workspace-relative file name", Aliases: []string{"file", "filename"}},
				},
				Required: []string{"path"},
			},
			Handler: savePDF,
		},
	}
}

func screenshotHandler(dir string) actions.Handler {
	return func(ctx context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
		c, err := controller(ectx)
		if err != nil {
			return actions.Result{}, err
		}
		full := p.Bool("full_page")
		png, err := c.Screenshot(ctx, full)
		if err != nil {
			return actions.Result{}, err
		}

		res := actions.Ok("captured screenshot of %s (%d bytes)", c.CurrentURL(), len(png))
		if ectx.Files == nil {
			return res, nil
		}
		name := path.Join(dir, fmt.Sprintf("step-%d-%s.png", ectx.State.Step, uuid.NewString()[:8]))
		saved, err := writeWorkspaceFile(ectx, name, png)
		if err != nil {
			return actions.Result{}, err
		}
		res.Attachments = []string{saved}
		res.Message += ", saved to " + saved
		return res, nil
	}
}

// writeWorkspaceFile writes data under the workspace and returns the
// workspace-relative path.
func writeWorkspaceFile(ectx *actions.ExecutionContext, name string, data []byte) (string, error) {
	abs, err := ectx.Files.Resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return ectx.Files.Rel(abs), nil
}

const extractSystemPrompt = `You extract information from web page content.
Answer only from the content given. If the information is not present, say so.
Keep the answer concise and factual.`

func extractHandler(maxLength int) actions.Handler {
	return func(ctx context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
		c, err := controller(ectx)
		if err != nil {
			return actions.Result{}, err
		}
		format, err := pagebrowser.ParseExtractFormat(p.String("format"))
		if err != nil {
			return actions.Result{}, &actions.ValidationError{Action: "extract_content", Field: "format", Reason: err.Error()}
		}

		html, err := c.Content(ctx)
		if err != nil {
			return actions.Result{}, err
		}
		pageURL := c.CurrentURL()
		ext, err := pagebrowser.ExtractContent(html, pageURL, format, maxLength)
		if err != nil {
			return actions.Result{}, err
		}

		goal := strings.TrimSpace(p.String("goal"))
		if goal == "" || ectx.Provider == nil {
			return actions.Memory(fmt.Sprintf("Content of %s (%s):\n%s", pageURL, ext.Format, ext.Content)), nil
		}

		reply, err := ectx.Provider.Complete(ctx, []*types.Message{
			types.NewSystemMessage(extractSystemPrompt),
			types.NewUserMessage(fmt.Sprintf("Goal: %s\n\nPage: %s\nTitle: %s\n\nContent:\n%s", goal, pageURL, ext.Title, ext.Content)),
		})
		if err != nil {
			if ctx.Err() != nil {
				return actions.Result{}, ctx.Err()
			}
			toolsLog.Warnf("goal extraction failed, returning raw content: %v", err)
			return actions.Memory(fmt.Sprintf("Content of %s (goal extraction failed: %v):\n%s", pageURL, err, ext.Content)), nil
		}
		return actions.Memory(fmt.Sprintf("Extracted from %s for goal %q:\n%s", pageURL, goal, strings.TrimSpace(reply.Content))), nil
	}
}

func savePDF(ctx context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	c, err := controller(ectx)
	if err != nil {
		return actions.Result{}, err
	}
	if ectx.Files == nil {
		return actions.Fail(actions.CodeNotAvailable, "save_pdf needs a workspace directory"), nil
	}
	name := strings.TrimSpace(p.String("path"))
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		name += ".pdf"
	}

	data, err := c.PDF(ctx)
	if err != nil {
		return actions.Result{}, err
	}
	pages, err := pdfPageCount(data)
	if err != nil {
		return actions.Fail(actions.CodeActionError, "page produced an invalid PDF: %v", err), nil
	}

	saved, err := writeWorkspaceFile(ectx, name, data)
	if err != nil {
		return actions.Result{}, err
	}
	res := actions.Ok("saved %s as %s (%d pages)", c.CurrentURL(), saved, pages)
	res.Attachments = []string{saved}
	return res, nil
}

// pdfPageCount validates a PDF document and returns its page count.
func pdfPageCount(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return 0, err
	}
	return pctx.PageCount, nil
}
