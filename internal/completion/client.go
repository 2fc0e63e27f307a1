package completion

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"pagechat/internal/chat"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Format selects the hosted completion wire format. It is fixed per
// deployment, not negotiated per request.
type Format string

const (
	// FormatStructured sends content as typed segments and may request
	// server-executed web search. No local tool execution happens.
	FormatStructured Format = "structured"
	// FormatLegacy sends a classic role/content array with tools the
	// client must execute locally.
	FormatLegacy Format = "legacy"
)

// Config 完成服务客户端配置 / Config for the completion client.
type Config struct {
	Format      Format
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	TimeoutMS   int
}

// LocalTool is a function tool executed on this side of the wire when the
// legacy format's reply requests it.
type LocalTool interface {
	Definition() chat.ToolDef
	Execute(ctx context.Context, arguments string) (string, error)
}

// Request is one user turn against the service.
type Request struct {
	Messages []chat.Message
	// PageContent, when non-empty, is appended to the latest user message.
	PageContent string
	// WebSearch asks the structured format for the server-side search
	// tool. Ignored by the legacy format.
	WebSearch bool
}

// Result is the normalized reply shape shared by both wire formats.
type Result struct {
	Content  string
	Metadata chat.Metadata
}

// Client adapts the internal message list to the configured wire format
// and normalizes heterogeneous responses. Sends are strictly sequential: a
// second Send while one is in flight fails with ErrBusy.
type Client struct {
	cfg        Config
	httpClient *http.Client
	sdk        *openai.Client
	tools      map[string]LocalTool
	logger     *zap.Logger
	inFlight   atomic.Bool
}

func NewClient(cfg Config, logger *zap.Logger, tools ...LocalTool) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Format == "" {
		cfg.Format = FormatStructured
	}

	httpClient := &http.Client{}
	if cfg.TimeoutMS > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}

	sdkCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkCfg.BaseURL = cfg.BaseURL
	}
	sdkCfg.HTTPClient = httpClient

	registry := make(map[string]LocalTool, len(tools))
	for _, tool := range tools {
		registry[tool.Definition().Function.Name] = tool
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		sdk:        openai.NewClientWithConfig(sdkCfg),
		tools:      registry,
		logger:     logger,
	}
}

// Send runs one user turn. Precondition failures are rejected before any
// network call; non-2xx replies surface as *RemoteError for the
// orchestration boundary to turn into a visible error message.
func (c *Client) Send(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return Result{}, ErrMissingAPIKey
	}
	if len(req.Messages) == 0 {
		return Result{}, ErrEmptyMessages
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	defer c.inFlight.Store(false)

	messages := withPageContent(req.Messages, req.PageContent)

	switch c.cfg.Format {
	case FormatLegacy:
		return c.sendLegacy(ctx, messages)
	default:
		return c.sendStructured(ctx, messages, req.WebSearch)
	}
}
