package main

import (
	"context"
	"fmt"
	"os"

	"pagechat/internal/chat"
)

// filePageProvider serves page text from a local file, standing in for
// whatever extraction pipeline feeds the real surface.
type filePageProvider struct {
	path string
}

func (f *filePageProvider) PageText(_ context.Context, _ int) (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("read page text: %w", err)
	}
	return string(data), nil
}

// pageContentTool exposes the same provider as a function tool for the
// legacy wire format, which fetches page text mid-conversation instead
// of inlining it up front.
type pageContentTool struct {
	provider *filePageProvider
	tabID    int
}

func (t *pageContentTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        "get_page_content",
			Description: "Returns the readable text of the page the user is currently viewing.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

func (t *pageContentTool) Execute(ctx context.Context, _ string) (string, error) {
	return t.provider.PageText(ctx, t.tabID)
}
