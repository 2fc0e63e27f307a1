package trigger

import (
	"context"
	"sync"
)

// Channel identifies which observation context reported the modifier key.
type Channel string

const (
	ChannelPage       Channel = "page"
	ChannelPopup      Channel = "popup"
	ChannelBackground Channel = "background"
)

// Flow is one surface-open decision flow. The modifier snapshot is taken
// from whichever channel reports first and reused for every re-validation
// in the flow: re-reading live state between checks could let a key
// release flip the outcome mid-flight.
type Flow struct {
	machine *Machine
	mode    Mode

	mu      sync.Mutex
	taken   bool
	held    bool
	channel Channel
}

func (m *Machine) NewFlow(mode Mode) *Flow {
	return &Flow{machine: m, mode: mode}
}

// Report offers one channel's observation. Only the first report becomes
// the snapshot; the return value says whether this one won.
func (f *Flow) Report(ch Channel, held bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taken {
		return false
	}
	f.taken = true
	f.held = held
	f.channel = ch
	return true
}

// ReportFromKeyState offers the background-relayed observation by reading
// the tab's stored key state. Pressed or still-pending both count as held.
func (f *Flow) ReportFromKeyState(ctx context.Context, tabID int) (bool, error) {
	state, ok, err := f.machine.KeyState(ctx, tabID)
	if err != nil {
		return false, err
	}
	held := ok && (state.Pressed || state.Pending)
	return f.Report(ChannelBackground, held), nil
}

// Snapshot returns the fused modifier value. Before any channel reports,
// the snapshot is (false, false).
func (f *Flow) Snapshot() (held, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held, f.taken
}

// Revalidate re-checks the decision without consuming the command. The
// flow may be revalidated several times before dispatch; every check runs
// against the first snapshot, never a fresh read.
func (f *Flow) Revalidate(ctx context.Context) (bool, error) {
	held, _ := f.Snapshot()
	cmd, ok, err := f.machine.PendingCommand(ctx)
	if err != nil || !ok {
		return false, err
	}
	if f.machine.now().UTC().Sub(cmd.Timestamp) > staleAfter {
		return false, nil
	}
	return decide(f.mode, held), nil
}

// Finalize makes the consuming decision: an executed command is cleared
// from storage first, so reopening the surface cannot retrigger it.
func (f *Flow) Finalize(ctx context.Context) (*PendingCommand, bool, error) {
	held, _ := f.Snapshot()
	return f.machine.Evaluate(ctx, f.mode, held)
}
