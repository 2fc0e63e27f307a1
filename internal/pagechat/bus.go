package pagechat

import (
	"context"

	"pagechat/internal/envelope"
)

// Bus builds the envelope handler for one connected surface. The sender
// is that surface's own return channel, captured so a SurfaceHello can
// register it for later pushes.
func (a *App) Bus(send envelope.Sender) envelope.Handler {
	return envelope.Handler{
		OnAsk: func(ctx context.Context, ask envelope.Ask) (envelope.Payload, error) {
			tab := Tab{ID: ask.TabID, URL: ask.URL, Title: ask.Title}
			reply, err := a.RunTurn(ctx, tab, ask.Text)
			if err != nil && reply.Content == "" {
				return nil, err
			}
			a.mu.Lock()
			id := a.sessionByTab[ask.TabID]
			a.mu.Unlock()
			return envelope.AskResult{SessionID: id, Message: reply}, nil
		},
		OnKeyObserved: func(ctx context.Context, k envelope.KeyObserved) (envelope.Payload, error) {
			if a.trig == nil {
				return nil, nil
			}
			return nil, a.trig.ObserveKey(ctx, k.TabID, k.Pressed)
		},
		OnSurfaceHello: func(ctx context.Context, hello envelope.SurfaceHello) (envelope.Payload, error) {
			if err := a.SurfaceOpened(ctx, hello, send); err != nil {
				return nil, err
			}
			st, err := a.currentSettings(ctx)
			if err != nil {
				return nil, err
			}
			return settingsPayload(st), nil
		},
		OnSurfaceClose: func(_ context.Context, close envelope.SurfaceClose) (envelope.Payload, error) {
			a.SurfaceClosed(close)
			return nil, nil
		},
		OnPageTextRequest: func(ctx context.Context, req envelope.PageTextRequest) (envelope.Payload, error) {
			result := envelope.PageTextResult{TabID: req.TabID}
			if a.pages == nil {
				result.Err = "no page content provider"
				return result, nil
			}
			text, err := a.pages.PageText(ctx, req.TabID)
			if err != nil {
				result.Err = err.Error()
				return result, nil
			}
			result.Text = text
			return result, nil
		},
		OnSettingsChanged: func(ctx context.Context, sc envelope.SettingsChanged) (envelope.Payload, error) {
			if a.settings == nil {
				return nil, nil
			}
			cur, err := a.currentSettings(ctx)
			if err != nil {
				return nil, err
			}
			next := settingsFromPayload(cur, sc)
			if err := a.settings.Save(ctx, next); err != nil {
				return nil, err
			}
			if a.registry != nil {
				a.registry.Broadcast(settingsPayload(next))
			}
			return nil, nil
		},
	}
}
