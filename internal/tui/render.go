package tui

import (
	"fmt"
	"strings"

	"pagechat/internal/chat"

	"github.com/charmbracelet/glamour"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// RenderTranscript 渲染整段对话 / RenderTranscript renders the message list:
// user turns as plain styled lines, assistant turns as markdown with any
// cited sources listed underneath.
func RenderTranscript(msgs []chat.Message, width int, theme Theme) string {
	var parts []string
	for _, msg := range msgs {
		switch msg.Role {
		case chat.RoleUser:
			parts = append(parts, theme.UserStyle.Render("You: ")+msg.Content)
		case chat.RoleAssistant:
			parts = append(parts, renderAssistant(msg, width, theme))
		}
		// System and function messages are plumbing, not transcript.
	}
	return strings.Join(parts, "\n\n")
}

func renderAssistant(msg chat.Message, width int, theme Theme) string {
	if msg.Metadata != nil && msg.Metadata.Error {
		return theme.ErrorStyle.Render(msg.Content)
	}

	body := RenderMarkdown(msg.Content, width)
	if msg.Metadata == nil {
		return body
	}

	var extra []string
	if msg.Metadata.WebSearchInProgress {
		extra = append(extra, theme.MutedStyle.Render("  ⟳ searching the web…"))
	}
	for i, src := range msg.Metadata.Sources {
		label := src.Title
		if label == "" {
			label = src.URL
		}
		extra = append(extra, theme.SourceStyle.Render(fmt.Sprintf("  [%d] %s · %s", i+1, label, src.URL)))
	}
	if len(extra) == 0 {
		return body
	}
	return body + "\n" + strings.Join(extra, "\n")
}
