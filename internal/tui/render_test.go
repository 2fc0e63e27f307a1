package tui

import (
	"strings"
	"testing"

	"pagechat/internal/chat"
)

func TestRenderMarkdownEmpty(t *testing.T) {
	if got := RenderMarkdown("   ", 80); got != "" {
		t.Fatalf("blank input should render empty, got %q", got)
	}
}

func TestRenderTranscript(t *testing.T) {
	theme := DarkTheme()
	msgs := []chat.Message{
		{Role: chat.RoleSystem, Content: "internal prompt"},
		{Role: chat.RoleUser, Content: "what is this page?"},
		{Role: chat.RoleAssistant, Content: "A **post** about Go.", Metadata: &chat.Metadata{
			Sources: []chat.Source{{URL: "https://go.dev", Title: "The Go site"}},
		}},
	}

	out := RenderTranscript(msgs, 80, theme)
	if !strings.Contains(out, "what is this page?") {
		t.Fatal("missing user turn")
	}
	if !strings.Contains(out, "https://go.dev") || !strings.Contains(out, "The Go site") {
		t.Fatalf("missing cited source: %q", out)
	}
	if strings.Contains(out, "internal prompt") {
		t.Fatal("system messages must not appear in the transcript")
	}
}

func TestRenderTranscriptErrorMessage(t *testing.T) {
	msgs := []chat.Message{
		{Role: chat.RoleAssistant, Content: "Something went wrong: boom", Metadata: &chat.Metadata{Error: true}},
	}
	out := RenderTranscript(msgs, 80, DarkTheme())
	if !strings.Contains(out, "Something went wrong: boom") {
		t.Fatalf("error reply not rendered: %q", out)
	}
}
