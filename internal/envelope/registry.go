package envelope

import (
	"sync"

	"go.uber.org/zap"
)

// Sender delivers an encoded payload to one connected surface.
type Sender func(Payload) error

// Registry 记录每个标签页上当前活跃的表层 / tracks the active surface per
// tab. Only one surface per tab receives pushes; a newer registration
// silently replaces the previous one, which matches a popup reopening
// before its close notification arrived.
type Registry struct {
	mu       sync.Mutex
	surfaces map[int]registration
	logger   *zap.Logger
}

type registration struct {
	surface string
	send    Sender
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{surfaces: make(map[int]registration), logger: logger}
}

// Register installs the sender for a tab, displacing any earlier one.
// The displaced surface is asked to close over its own channel; this is
// last-writer-wins, not mutual exclusion, so both may briefly be open.
func (r *Registry) Register(tabID int, surface string, send Sender) {
	r.mu.Lock()
	prev, hadPrev := r.surfaces[tabID]
	r.surfaces[tabID] = registration{surface: surface, send: send}
	r.mu.Unlock()

	if hadPrev && prev.surface != surface {
		r.logger.Debug("surface replaced",
			zap.Int("tabId", tabID), zap.String("old", prev.surface), zap.String("new", surface))
		if err := prev.send(SurfaceClose{Surface: prev.surface, TabID: tabID}); err != nil {
			r.logger.Debug("close request to displaced surface failed",
				zap.Int("tabId", tabID), zap.Error(err))
		}
	}
}

// Unregister removes a tab's surface, but only if it is still the one
// named; a stale close from a replaced surface is a no-op.
func (r *Registry) Unregister(tabID int, surface string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.surfaces[tabID]; ok && cur.surface == surface {
		delete(r.surfaces, tabID)
	}
}

// Send pushes a payload to the tab's active surface. A tab with no
// surface reports false without error.
func (r *Registry) Send(tabID int, p Payload) (bool, error) {
	r.mu.Lock()
	reg, ok := r.surfaces[tabID]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := reg.send(p); err != nil {
		return true, err
	}
	return true, nil
}

// Broadcast pushes a payload to every active surface. Send failures are
// logged and skipped so one dead surface cannot block the rest.
func (r *Registry) Broadcast(p Payload) {
	r.mu.Lock()
	regs := make(map[int]registration, len(r.surfaces))
	for id, reg := range r.surfaces {
		regs[id] = reg
	}
	r.mu.Unlock()

	for id, reg := range regs {
		if err := reg.send(p); err != nil {
			r.logger.Warn("broadcast failed",
				zap.Int("tabId", id), zap.String("surface", reg.surface), zap.Error(err))
		}
	}
}
