package completion

import (
	"context"
	"errors"
	"fmt"

	"pagechat/internal/chat"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Legacy wire format: classic role/content array with tools the client
// executes locally. A reply requesting a tool gets the tool's result
// appended as a function-role message and exactly one follow-up call; the
// follow-up is returned as-is even if it asks for another tool, bounding a
// turn to two round trips.

func (c *Client) sendLegacy(ctx context.Context, messages []chat.Message) (Result, error) {
	reply, err := c.legacyCall(ctx, messages)
	if err != nil {
		return Result{}, err
	}
	if len(reply.ToolCalls) == 0 {
		return Result{Content: reply.Content}, nil
	}

	followup := make([]chat.Message, len(messages), len(messages)+1+len(reply.ToolCalls))
	copy(followup, messages)
	followup = append(followup, chat.Message{
		Role:      chat.RoleAssistant,
		Content:   reply.Content,
		ToolCalls: reply.ToolCalls,
	})
	for _, call := range reply.ToolCalls {
		followup = append(followup, c.executeTool(ctx, call))
	}

	final, err := c.legacyCall(ctx, followup)
	if err != nil {
		return Result{}, err
	}
	if len(final.ToolCalls) > 0 {
		// One round only: a second tool request is dropped, not looped.
		c.logger.Warn("follow-up requested another tool call, ignoring",
			zap.Int("calls", len(final.ToolCalls)))
	}
	return Result{Content: final.Content}, nil
}

func (c *Client) executeTool(ctx context.Context, call chat.ToolCall) chat.Message {
	msg := chat.Message{
		Role:       chat.RoleFunction,
		Name:       call.Function.Name,
		ToolCallID: call.ID,
	}
	tool, ok := c.tools[call.Function.Name]
	if !ok {
		msg.Content = fmt.Sprintf("tool %q is not available", call.Function.Name)
		return msg
	}
	output, err := tool.Execute(ctx, call.Function.Arguments)
	if err != nil {
		// Tool failures go back to the model as text; the turn still
		// produces a reply instead of aborting.
		msg.Content = fmt.Sprintf("tool %q failed: %v", call.Function.Name, err)
		return msg
	}
	msg.Content = output
	return msg
}

func (c *Client) legacyCall(ctx context.Context, messages []chat.Message) (chat.Message, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: convertMessages(messages),
	}
	if c.cfg.Temperature > 0 {
		req.Temperature = float32(c.cfg.Temperature)
	}
	if len(c.tools) > 0 {
		req.Tools = c.toolDefs()
		req.ToolChoice = "auto"
	}

	resp, err := c.sdk.CreateChatCompletion(ctx, req)
	if err != nil {
		return chat.Message{}, wrapSDKError(err)
	}
	if len(resp.Choices) == 0 {
		return chat.Message{}, fmt.Errorf("completion response has no choices")
	}
	return convertReply(resp.Choices[0].Message), nil
}

func (c *Client) toolDefs() []openai.Tool {
	defs := make([]openai.Tool, 0, len(c.tools))
	for _, tool := range c.tools {
		def := tool.Definition()
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Function.Name,
				Description: def.Function.Description,
				Parameters:  def.Function.Parameters,
			},
		})
	}
	return defs
}

func convertMessages(messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		}
		// Function-role results ride the tools mechanism on the wire.
		if m.Role == chat.RoleFunction {
			msg.Role = openai.ChatMessageRoleTool
			msg.ToolCallID = m.ToolCallID
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolType(tc.Type),
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func convertReply(msg openai.ChatCompletionMessage) chat.Message {
	reply := chat.Message{Role: chat.RoleAssistant, Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		kind := string(tc.Type)
		if kind == "" {
			kind = "function"
		}
		reply.ToolCalls = append(reply.ToolCalls, chat.ToolCall{
			ID:   tc.ID,
			Type: kind,
			Function: chat.ToolCallFunction{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return reply
}

func wrapSDKError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &RemoteError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &RemoteError{Status: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return fmt.Errorf("completion request: %w", err)
}
