// Package envelope 定义组件间消息的类型化信封 / typed envelopes for
// messages passed between the surfaces and the core.
//
// Every message on the wire is a JSON object with a "kind" tag and a
// "payload" object. Decoding yields a concrete payload type so handlers
// switch on Go types rather than raw strings.
package envelope

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pagechat/internal/chat"
)

// Kind tags a payload variant on the wire.
type Kind string

const (
	KindAsk             Kind = "ask"
	KindAskResult       Kind = "ask_result"
	KindKeyObserved     Kind = "key_observed"
	KindSurfaceHello    Kind = "surface_hello"
	KindSurfaceClose    Kind = "surface_close"
	KindPageTextRequest Kind = "page_text_request"
	KindPageTextResult  Kind = "page_text_result"
	KindSettingsChanged Kind = "settings_changed"
)

// Payload is implemented by every message variant.
type Payload interface {
	Kind() Kind
}

// Ask asks the core to run one chat turn against a page session.
type Ask struct {
	SessionID string `json:"sessionId,omitempty"`
	Text      string `json:"text"`
	TabID     int    `json:"tabId"`
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
}

// AskResult carries the assistant reply back to the asking surface.
type AskResult struct {
	SessionID string       `json:"sessionId"`
	Message   chat.Message `json:"message"`
}

// KeyObserved reports a modifier key transition seen on a page.
type KeyObserved struct {
	TabID   int  `json:"tabId"`
	Pressed bool `json:"pressed"`
}

// SurfaceHello announces a surface opening on a tab. ModifierHeld is the
// surface's own observation at open time.
type SurfaceHello struct {
	Surface      string `json:"surface"`
	TabID        int    `json:"tabId"`
	URL          string `json:"url"`
	ModifierHeld bool   `json:"modifierHeld"`
}

// SurfaceClose announces the surface on a tab going away.
type SurfaceClose struct {
	Surface string `json:"surface"`
	TabID   int    `json:"tabId"`
}

// PageTextRequest asks whoever owns the page for its readable text.
type PageTextRequest struct {
	TabID int `json:"tabId"`
}

// PageTextResult answers a PageTextRequest.
type PageTextResult struct {
	TabID int    `json:"tabId"`
	Text  string `json:"text"`
	Err   string `json:"err,omitempty"`
}

// SettingsChanged broadcasts a settings update so surfaces can re-render.
type SettingsChanged struct {
	TriggerMode         string  `json:"triggerMode"`
	ModelName           string  `json:"modelName"`
	Temperature         float64 `json:"temperature"`
	WebSearchEnabled    bool    `json:"webSearchEnabled"`
	PageScrapingEnabled bool    `json:"pageScrapingEnabled"`
}

func (Ask) Kind() Kind             { return KindAsk }
func (AskResult) Kind() Kind       { return KindAskResult }
func (KeyObserved) Kind() Kind     { return KindKeyObserved }
func (SurfaceHello) Kind() Kind    { return KindSurfaceHello }
func (SurfaceClose) Kind() Kind    { return KindSurfaceClose }
func (PageTextRequest) Kind() Kind { return KindPageTextRequest }
func (PageTextResult) Kind() Kind  { return KindPageTextResult }
func (SettingsChanged) Kind() Kind { return KindSettingsChanged }

type wire struct {
	Kind    Kind            `json:"kind"`
	SentAt  time.Time       `json:"sentAt"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps a payload in its tagged envelope.
func Encode(p Payload) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	return json.Marshal(wire{Kind: p.Kind(), SentAt: time.Now().UTC(), Payload: raw})
}

// Decode reads a tagged envelope back into its concrete payload type.
// An unknown kind is an error so senders and receivers cannot drift
// silently.
func Decode(data []byte) (Payload, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}

	var p Payload
	switch w.Kind {
	case KindAsk:
		p = &Ask{}
	case KindAskResult:
		p = &AskResult{}
	case KindKeyObserved:
		p = &KeyObserved{}
	case KindSurfaceHello:
		p = &SurfaceHello{}
	case KindSurfaceClose:
		p = &SurfaceClose{}
	case KindPageTextRequest:
		p = &PageTextRequest{}
	case KindPageTextResult:
		p = &PageTextResult{}
	case KindSettingsChanged:
		p = &SettingsChanged{}
	default:
		return nil, fmt.Errorf("unknown envelope kind %q", w.Kind)
	}
	if err := json.Unmarshal(w.Payload, p); err != nil {
		return nil, fmt.Errorf("parse %s payload: %w", w.Kind, err)
	}
	return deref(p), nil
}

// deref returns the value behind the decode scratch pointer so callers
// always see the same concrete types Encode accepts.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *Ask:
		return *v
	case *AskResult:
		return *v
	case *KeyObserved:
		return *v
	case *SurfaceHello:
		return *v
	case *SurfaceClose:
		return *v
	case *PageTextRequest:
		return *v
	case *PageTextResult:
		return *v
	case *SettingsChanged:
		return *v
	}
	return p
}

// Handler holds one callback per payload variant. Nil callbacks make
// Dispatch return ErrUnhandled for that kind.
type Handler struct {
	OnAsk             func(context.Context, Ask) (Payload, error)
	OnAskResult       func(context.Context, AskResult) (Payload, error)
	OnKeyObserved     func(context.Context, KeyObserved) (Payload, error)
	OnSurfaceHello    func(context.Context, SurfaceHello) (Payload, error)
	OnSurfaceClose    func(context.Context, SurfaceClose) (Payload, error)
	OnPageTextRequest func(context.Context, PageTextRequest) (Payload, error)
	OnPageTextResult  func(context.Context, PageTextResult) (Payload, error)
	OnSettingsChanged func(context.Context, SettingsChanged) (Payload, error)
}

// ErrUnhandled reports a payload kind the handler has no callback for.
type ErrUnhandled struct {
	Kind Kind
}

func (e *ErrUnhandled) Error() string {
	return fmt.Sprintf("no handler for envelope kind %q", e.Kind)
}

// Dispatch routes a decoded payload to its handler callback. The returned
// payload, when non-nil, is the reply the transport should send back.
func Dispatch(ctx context.Context, h Handler, p Payload) (Payload, error) {
	switch v := p.(type) {
	case Ask:
		if h.OnAsk != nil {
			return h.OnAsk(ctx, v)
		}
	case AskResult:
		if h.OnAskResult != nil {
			return h.OnAskResult(ctx, v)
		}
	case KeyObserved:
		if h.OnKeyObserved != nil {
			return h.OnKeyObserved(ctx, v)
		}
	case SurfaceHello:
		if h.OnSurfaceHello != nil {
			return h.OnSurfaceHello(ctx, v)
		}
	case SurfaceClose:
		if h.OnSurfaceClose != nil {
			return h.OnSurfaceClose(ctx, v)
		}
	case PageTextRequest:
		if h.OnPageTextRequest != nil {
			return h.OnPageTextRequest(ctx, v)
		}
	case PageTextResult:
		if h.OnPageTextResult != nil {
			return h.OnPageTextResult(ctx, v)
		}
	case SettingsChanged:
		if h.OnSettingsChanged != nil {
			return h.OnSettingsChanged(ctx, v)
		}
	}
	return nil, &ErrUnhandled{Kind: p.Kind()}
}
