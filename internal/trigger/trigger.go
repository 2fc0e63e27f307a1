// Package trigger decides, each time the UI surface opens, whether the most
// recently stored query should be resent automatically. The modifier-key
// signal arrives from three contexts with independent delays; one fused
// snapshot drives the whole decision flow.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pagechat/internal/kvstore"
	"pagechat/internal/scheduler"

	"go.uber.org/zap"
)

// Mode is the user-configured auto-execution policy.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeManual   Mode = "manual"
	ModeDisabled Mode = "disabled"
)

const (
	// pendingTTL bounds how long a stray key press can affect a later
	// decision; the pending flag clears itself even without a click.
	pendingTTL = 5 * time.Second
	// staleAfter expires a stored command outright.
	staleAfter = 30 * time.Second
)

// KeyState 每标签页的修饰键瞬态记录 / KeyState is the per-tab transient
// modifier-key record.
type KeyState struct {
	Pressed   bool      `json:"pressed"`
	Pending   bool      `json:"pending"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingCommand is the previously stored query a decision may replay.
type PendingCommand struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	TabID     int       `json:"tabId"`
	URL       string    `json:"url"`
}

const pendingCommandKey = "pending_command"

func keyStateKey(tabID int) string {
	return fmt.Sprintf("keystate_%d", tabID)
}

// Machine owns key-state records and pending-command consumption. All
// state lives in the shared kv store; nothing is read from ambient scope.
type Machine struct {
	kv     kvstore.Store
	sched  *scheduler.Scheduler
	logger *zap.Logger
	now    func() time.Time
}

func NewMachine(kv kvstore.Store, sched *scheduler.Scheduler, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{kv: kv, sched: sched, logger: logger, now: time.Now}
}

// ObserveKey records a modifier press or release for a tab. A press also
// sets the pending flag, which auto-clears after pendingTTL.
func (m *Machine) ObserveKey(ctx context.Context, tabID int, pressed bool) error {
	state := KeyState{
		Pressed:   pressed,
		Pending:   pressed,
		Timestamp: m.now().UTC(),
	}
	if err := m.saveKeyState(ctx, tabID, state); err != nil {
		return err
	}
	if pressed && m.sched != nil {
		timerName := fmt.Sprintf("keystate_pending_%d", tabID)
		m.sched.Schedule(timerName, pendingTTL, func() {
			m.expirePending(tabID)
		})
	}
	return nil
}

func (m *Machine) expirePending(tabID int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, ok, err := m.KeyState(ctx, tabID)
	if err != nil || !ok || !state.Pending {
		return
	}
	state.Pending = false
	if err := m.saveKeyState(ctx, tabID, state); err != nil {
		m.logger.Warn("pending flag expiry failed", zap.Int("tabId", tabID), zap.Error(err))
	}
}

// KeyState reads a tab's record; absence is not an error.
func (m *Machine) KeyState(ctx context.Context, tabID int) (KeyState, bool, error) {
	data, ok, err := m.kv.Get(ctx, keyStateKey(tabID))
	if err != nil || !ok {
		return KeyState{}, false, err
	}
	var state KeyState
	if err := json.Unmarshal(data, &state); err != nil {
		return KeyState{}, false, fmt.Errorf("parse key state %d: %w", tabID, err)
	}
	return state, true, nil
}

// ClearKeyState deletes a tab's record once a decision consumed it or the
// tab closed.
func (m *Machine) ClearKeyState(ctx context.Context, tabID int) error {
	if m.sched != nil {
		m.sched.Cancel(fmt.Sprintf("keystate_pending_%d", tabID))
	}
	return m.kv.Delete(ctx, keyStateKey(tabID))
}

func (m *Machine) saveKeyState(ctx context.Context, tabID int, state KeyState) error {
	data, err := json.Marshal(&state)
	if err != nil {
		return fmt.Errorf("marshal key state %d: %w", tabID, err)
	}
	return m.kv.Set(ctx, keyStateKey(tabID), data)
}

// SetPendingCommand stores the query a later surface open may replay.
func (m *Machine) SetPendingCommand(ctx context.Context, cmd PendingCommand) error {
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = m.now().UTC()
	}
	data, err := json.Marshal(&cmd)
	if err != nil {
		return fmt.Errorf("marshal pending command: %w", err)
	}
	return m.kv.Set(ctx, pendingCommandKey, data)
}

// PendingCommand reads the stored command; absence is not an error.
func (m *Machine) PendingCommand(ctx context.Context) (*PendingCommand, bool, error) {
	data, ok, err := m.kv.Get(ctx, pendingCommandKey)
	if err != nil || !ok {
		return nil, false, err
	}
	var cmd PendingCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, false, fmt.Errorf("parse pending command: %w", err)
	}
	return &cmd, true, nil
}

func (m *Machine) clearPendingCommand(ctx context.Context) error {
	return m.kv.Delete(ctx, pendingCommandKey)
}

// decide is the mode × modifier table. The modifier inverts the mode's
// default: in auto mode holding the key suppresses execution, in manual
// mode holding it requests execution, and disabled never executes.
func decide(mode Mode, modifierHeld bool) bool {
	switch mode {
	case ModeAuto:
		return !modifierHeld
	case ModeManual:
		return modifierHeld
	default:
		return false
	}
}

// Evaluate applies the decision table plus the staleness override and the
// consumption rules. When the decision is execute, the command is cleared
// before it is returned so a reopened surface cannot retrigger it. A
// rejected command is cleared only in disabled mode; in auto/manual it
// stays for a later manual invocation.
func (m *Machine) Evaluate(ctx context.Context, mode Mode, modifierHeld bool) (*PendingCommand, bool, error) {
	cmd, ok, err := m.PendingCommand(ctx)
	if err != nil || !ok {
		return nil, false, err
	}

	now := m.now().UTC()
	if now.Sub(cmd.Timestamp) > staleAfter {
		// Expired commands can never execute again; drop them.
		if err := m.clearPendingCommand(ctx); err != nil {
			return nil, false, err
		}
		m.logger.Debug("pending command expired",
			zap.Time("storedAt", cmd.Timestamp), zap.Duration("age", now.Sub(cmd.Timestamp)))
		return nil, false, nil
	}

	if !decide(mode, modifierHeld) {
		if mode == ModeDisabled {
			if err := m.clearPendingCommand(ctx); err != nil {
				return nil, false, err
			}
		}
		return cmd, false, nil
	}

	if err := m.clearPendingCommand(ctx); err != nil {
		return nil, false, err
	}
	m.logger.Info("auto-execution triggered",
		zap.String("mode", string(mode)), zap.Int("tabId", cmd.TabID))
	return cmd, true, nil
}
