package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"pagechat/internal/chat"

	"go.uber.org/zap"
)

type fakeScrapeTool struct {
	calls atomic.Int32
	fail  bool
}

func (f *fakeScrapeTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        "get_page_content",
			Description: "Returns the text of the current page",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
}

func (f *fakeScrapeTool) Execute(ctx context.Context, arguments string) (string, error) {
	f.calls.Add(1)
	if f.fail {
		return "", fmt.Errorf("tab went away")
	}
	return "SCRAPED_TEXT", nil
}

// legacyServer replies from the queue in order and fails the test when
// called more often than the queue allows.
func legacyServer(t *testing.T, replies []string, requests *[]map[string]any) *httptest.Server {
	t.Helper()
	var call atomic.Int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(call.Add(1))
		if n > len(replies) {
			t.Errorf("unexpected request %d, only %d allowed", n, len(replies))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if requests != nil {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			*requests = append(*requests, body)
		}
		_, _ = w.Write([]byte(replies[n-1]))
	}))
}

func newLegacyClient(baseURL string, tools ...LocalTool) *Client {
	return NewClient(Config{
		Format:  FormatLegacy,
		BaseURL: baseURL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
	}, zap.NewNop(), tools...)
}

const toolCallReply = `{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
	{"id":"call_1","type":"function","function":{"name":"get_page_content","arguments":"{}"}}
]},"finish_reason":"tool_calls"}]}`

func TestLegacyPlainReply(t *testing.T) {
	server := legacyServer(t, []string{
		`{"choices":[{"message":{"role":"assistant","content":"plain"},"finish_reason":"stop"}]}`,
	}, nil)
	defer server.Close()

	client := newLegacyClient(server.URL)
	result, err := client.Send(context.Background(), Request{Messages: threeTurnHistory()})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Content != "plain" {
		t.Fatalf("content=%q, want plain", result.Content)
	}
}

func TestLegacyToolCallSingleFollowup(t *testing.T) {
	var requests []map[string]any
	server := legacyServer(t, []string{
		toolCallReply,
		`{"choices":[{"message":{"role":"assistant","content":"summarized"},"finish_reason":"stop"}]}`,
	}, &requests)
	defer server.Close()

	tool := &fakeScrapeTool{}
	client := newLegacyClient(server.URL, tool)
	result, err := client.Send(context.Background(), Request{Messages: threeTurnHistory()})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Content != "summarized" {
		t.Fatalf("content=%q, want summarized", result.Content)
	}
	if got := tool.calls.Load(); got != 1 {
		t.Fatalf("tool executed %d times, want 1", got)
	}
	if len(requests) != 2 {
		t.Fatalf("network calls=%d, want exactly 2", len(requests))
	}

	// The follow-up must carry the tool result as a tool-role message.
	followupMsgs := requests[1]["messages"].([]any)
	last := followupMsgs[len(followupMsgs)-1].(map[string]any)
	if last["role"] != "tool" || last["tool_call_id"] != "call_1" {
		t.Fatalf("follow-up tail unexpected: %+v", last)
	}
	if last["content"] != "SCRAPED_TEXT" {
		t.Fatalf("tool output missing from follow-up: %+v", last)
	}
}

func TestLegacyFollowupToolCallNotLooped(t *testing.T) {
	server := legacyServer(t, []string{
		toolCallReply,
		// Follow-up asks for another tool call; it must not be executed.
		`{"choices":[{"message":{"role":"assistant","content":"partial answer","tool_calls":[
			{"id":"call_2","type":"function","function":{"name":"get_page_content","arguments":"{}"}}
		]},"finish_reason":"tool_calls"}]}`,
	}, nil)
	defer server.Close()

	tool := &fakeScrapeTool{}
	client := newLegacyClient(server.URL, tool)
	result, err := client.Send(context.Background(), Request{Messages: threeTurnHistory()})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Content != "partial answer" {
		t.Fatalf("content=%q, want partial answer", result.Content)
	}
	if got := tool.calls.Load(); got != 1 {
		t.Fatalf("tool executed %d times, want 1 (no second round)", got)
	}
}

func TestLegacyToolFailureStillReplies(t *testing.T) {
	var requests []map[string]any
	server := legacyServer(t, []string{
		toolCallReply,
		`{"choices":[{"message":{"role":"assistant","content":"sorry, no page"},"finish_reason":"stop"}]}`,
	}, &requests)
	defer server.Close()

	tool := &fakeScrapeTool{fail: true}
	client := newLegacyClient(server.URL, tool)
	result, err := client.Send(context.Background(), Request{Messages: threeTurnHistory()})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.Content != "sorry, no page" {
		t.Fatalf("content=%q", result.Content)
	}
	followupMsgs := requests[1]["messages"].([]any)
	last := followupMsgs[len(followupMsgs)-1].(map[string]any)
	if content, _ := last["content"].(string); content == "" || content == "SCRAPED_TEXT" {
		t.Fatalf("tool failure should be reported as text, got %q", content)
	}
}
