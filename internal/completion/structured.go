package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pagechat/internal/chat"

	"go.uber.org/zap"
)

// Structured wire format: message content is an array of typed segments and
// the integrated web-search tool runs server-side, so a reply never needs
// local tool execution.

type structuredRequest struct {
	Model       string              `json:"model"`
	Input       []structuredInput   `json:"input"`
	Temperature *float64            `json:"temperature,omitempty"`
	Tools       []structuredToolDef `json:"tools,omitempty"`
}

type structuredInput struct {
	Role    string              `json:"role"`
	Content []structuredSegment `json:"content"`
}

type structuredSegment struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type structuredToolDef struct {
	Type string `json:"type"`
}

type structuredResponse struct {
	Output []structuredOutput `json:"output"`
	// Some deployments attach flat source/annotation arrays at the top
	// level in addition to per-segment annotations.
	Sources     []chat.Source   `json:"sources,omitempty"`
	Annotations []urlAnnotation `json:"annotations,omitempty"`
	Error       *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type structuredOutput struct {
	Type    string                 `json:"type"` // "message" or "web_search_call"
	Status  string                 `json:"status,omitempty"`
	Role    string                 `json:"role,omitempty"`
	Content []structuredOutSegment `json:"content,omitempty"`
}

type structuredOutSegment struct {
	Type        string          `json:"type"`
	Text        string          `json:"text"`
	Annotations []urlAnnotation `json:"annotations,omitempty"`
}

type urlAnnotation struct {
	Type       string `json:"type"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

func (c *Client) sendStructured(ctx context.Context, messages []chat.Message, webSearch bool) (Result, error) {
	payload := structuredRequest{
		Model: c.cfg.Model,
		Input: buildStructuredInput(messages),
	}
	if c.cfg.Temperature > 0 {
		temp := c.cfg.Temperature
		payload.Temperature = &temp
	}
	if webSearch {
		payload.Tools = []structuredToolDef{{Type: "web_search"}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal completion request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("send completion request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
	if err != nil {
		return Result{}, fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &RemoteError{
			Status:  resp.StatusCode,
			Message: remoteMessage(data),
		}
	}

	var parsed structuredResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Result{}, fmt.Errorf("parse completion response: %w", err)
	}
	return c.normalizeStructured(parsed), nil
}

func buildStructuredInput(messages []chat.Message) []structuredInput {
	input := make([]structuredInput, 0, len(messages))
	for _, msg := range messages {
		segType := "input_text"
		if msg.Role == chat.RoleAssistant {
			segType = "output_text"
		}
		input = append(input, structuredInput{
			Role:    msg.Role,
			Content: []structuredSegment{{Type: segType, Text: msg.Content}},
		})
	}
	return input
}

func (c *Client) normalizeStructured(resp structuredResponse) Result {
	var (
		content      strings.Builder
		sources      []chat.Source
		searchActive bool
	)
	for _, out := range resp.Output {
		switch out.Type {
		case "web_search_call":
			if out.Status != "" && out.Status != "completed" {
				searchActive = true
			}
		case "message", "":
			for _, seg := range out.Content {
				if seg.Type != "" && seg.Type != "output_text" && seg.Type != "text" {
					continue
				}
				content.WriteString(seg.Text)
				sources = append(sources, citationSources(seg.Text, seg.Annotations)...)
			}
		}
	}

	// Top-level arrays are merged after the per-segment citations; the
	// per-segment entries carry better snippets.
	text := content.String()
	sources = append(sources, citationSources(text, resp.Annotations)...)
	sources = append(sources, resp.Sources...)
	sources = dedupeSources(sources)

	if len(sources) > 0 {
		c.logger.Debug("citations extracted", zap.Int("count", len(sources)))
	}
	return Result{
		Content: text,
		Metadata: chat.Metadata{
			Sources:             sources,
			WebSearchInProgress: searchActive,
		},
	}
}

// remoteMessage pulls the human-readable error out of a failure body.
func remoteMessage(data []byte) string {
	var wrapped struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		if wrapped.Error != nil && wrapped.Error.Message != "" {
			return wrapped.Error.Message
		}
		if wrapped.Message != "" {
			return wrapped.Message
		}
	}
	return strings.TrimSpace(string(data))
}
