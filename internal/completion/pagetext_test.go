package completion

import (
	"strings"
	"testing"

	"pagechat/internal/chat"
)

func TestWithPageContentLastUserOnly(t *testing.T) {
	history := []chat.Message{
		{Role: chat.RoleSystem, Content: "system prompt"},
		{Role: chat.RoleUser, Content: "old question"},
		{Role: chat.RoleAssistant, Content: "old answer"},
		{Role: chat.RoleUser, Content: "new question"},
	}
	out := withPageContent(history, "PAGE_TEXT")

	if strings.Contains(out[1].Content, "PAGE_TEXT") {
		t.Fatalf("earlier user turn gained page content: %q", out[1].Content)
	}
	if !strings.Contains(out[3].Content, "new question") || !strings.Contains(out[3].Content, "PAGE_TEXT") {
		t.Fatalf("last user turn missing page content: %q", out[3].Content)
	}
	// Input slice must stay untouched.
	if history[3].Content != "new question" {
		t.Fatalf("original history mutated: %q", history[3].Content)
	}
}

func TestWithPageContentEmptyPage(t *testing.T) {
	history := []chat.Message{{Role: chat.RoleUser, Content: "q"}}
	out := withPageContent(history, "   ")
	if out[0].Content != "q" {
		t.Fatalf("content changed for empty page: %q", out[0].Content)
	}
}

func TestClipFallbackBounds(t *testing.T) {
	clip := &tokenClipper{fallback: true}

	long := strings.Repeat("word ", 10_000)
	clipped := clip.clip(long, 100)
	if len(clipped) >= len(long) {
		t.Fatal("long text was not clipped")
	}
	if len([]rune(clipped)) != 400 { // budget * 4 chars
		t.Fatalf("clipped length=%d, want 400", len([]rune(clipped)))
	}

	if got := clip.clip("short", 100); got != "short" {
		t.Fatalf("short text changed: %q", got)
	}
	if got := clip.clip("anything", 0); got != "" {
		t.Fatalf("zero budget should clip to empty, got %q", got)
	}
}

func TestSliceAround(t *testing.T) {
	text := "prefix CITED suffix"
	snippet := sliceAround(text, 7, 12)
	if !strings.Contains(snippet, "CITED") {
		t.Fatalf("snippet missing cited span: %q", snippet)
	}

	// Out-of-range offsets clamp instead of panicking.
	if got := sliceAround(text, -5, 1000); got == "" {
		t.Fatal("clamped slice should not be empty")
	}
	if got := sliceAround("", 0, 10); got != "" {
		t.Fatalf("empty text should slice to empty, got %q", got)
	}
}
