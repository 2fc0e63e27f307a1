package trigger

import (
	"context"
	"testing"
	"time"

	"pagechat/internal/kvstore"
	"pagechat/internal/scheduler"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	sched := scheduler.New(zap.NewNop())
	t.Cleanup(sched.Stop)
	return NewMachine(kvstore.NewMemoryStore(), sched, zap.NewNop())
}

func TestDecisionTable(t *testing.T) {
	cases := []struct {
		mode    Mode
		held    bool
		execute bool
	}{
		{ModeAuto, false, true},
		{ModeAuto, true, false},
		{ModeManual, true, true},
		{ModeManual, false, false},
		{ModeDisabled, false, false},
		{ModeDisabled, true, false},
	}
	for _, tc := range cases {
		if got := decide(tc.mode, tc.held); got != tc.execute {
			t.Fatalf("decide(%s, %v)=%v, want %v", tc.mode, tc.held, got, tc.execute)
		}
	}
}

func TestEvaluateExecutesAndConsumes(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t)

	require.NoError(t, m.SetPendingCommand(ctx, PendingCommand{Text: "replay me", TabID: 3}))

	cmd, execute, err := m.Evaluate(ctx, ModeAuto, false)
	require.NoError(t, err)
	require.True(t, execute)
	require.Equal(t, "replay me", cmd.Text)

	// Consumed: a reopened surface finds nothing to retrigger.
	_, execute, err = m.Evaluate(ctx, ModeAuto, false)
	require.NoError(t, err)
	require.False(t, execute)
}

func TestEvaluateRejectedKeepsCommandInAutoManual(t *testing.T) {
	ctx := context.Background()
	for _, mode := range []Mode{ModeAuto, ModeManual} {
		m := newTestMachine(t)
		require.NoError(t, m.SetPendingCommand(ctx, PendingCommand{Text: "later"}))

		held := mode == ModeAuto // pick the rejecting row for each mode
		_, execute, err := m.Evaluate(ctx, mode, held)
		require.NoError(t, err)
		require.False(t, execute)

		// Deliberately left in place for a later manual invocation.
		_, ok, err := m.PendingCommand(ctx)
		require.NoError(t, err)
		require.True(t, ok, "mode %s should keep a rejected command", mode)
	}
}

func TestEvaluateDisabledClearsCommand(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t)
	require.NoError(t, m.SetPendingCommand(ctx, PendingCommand{Text: "gone"}))

	_, execute, err := m.Evaluate(ctx, ModeDisabled, true)
	require.NoError(t, err)
	require.False(t, execute)

	_, ok, err := m.PendingCommand(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStaleCommandNeverExecutes(t *testing.T) {
	ctx := context.Background()
	for _, mode := range []Mode{ModeAuto, ModeManual, ModeDisabled} {
		for _, held := range []bool{false, true} {
			m := newTestMachine(t)
			require.NoError(t, m.SetPendingCommand(ctx, PendingCommand{
				Text:      "old",
				Timestamp: time.Now().UTC().Add(-31 * time.Second),
			}))

			_, execute, err := m.Evaluate(ctx, mode, held)
			require.NoError(t, err)
			require.False(t, execute, "mode=%s held=%v", mode, held)
		}
	}
}

func TestPendingFlagAutoClears(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	sched := scheduler.New(zap.NewNop())
	t.Cleanup(sched.Stop)
	m := NewMachine(kv, sched, zap.NewNop())

	require.NoError(t, m.ObserveKey(ctx, 7, true))
	state, ok, err := m.KeyState(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, state.Pressed)
	require.True(t, state.Pending)

	// Force expiry directly instead of waiting out the 5s timer.
	m.expirePending(7)
	state, ok, err = m.KeyState(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, state.Pending)
	require.True(t, state.Pressed, "expiry clears only the pending flag")
}

func TestClearKeyState(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t)

	require.NoError(t, m.ObserveKey(ctx, 9, true))
	require.NoError(t, m.ClearKeyState(ctx, 9))
	_, ok, err := m.KeyState(ctx, 9)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFlowFirstReportWins(t *testing.T) {
	m := newTestMachine(t)
	flow := m.NewFlow(ModeAuto)

	require.True(t, flow.Report(ChannelPopup, true))
	require.False(t, flow.Report(ChannelPage, false), "later channels must not replace the snapshot")

	held, ok := flow.Snapshot()
	require.True(t, ok)
	require.True(t, held)
}

func TestFlowSnapshotStableAcrossRevalidation(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t)
	require.NoError(t, m.SetPendingCommand(ctx, PendingCommand{Text: "replay", TabID: 1}))

	flow := m.NewFlow(ModeAuto)
	require.True(t, flow.Report(ChannelPage, false))

	// A key release arriving between checks must not flip the outcome.
	for i := 0; i < 3; i++ {
		flow.Report(ChannelPopup, true)
		execute, err := flow.Revalidate(ctx)
		require.NoError(t, err)
		require.True(t, execute, "revalidation %d flipped", i)
	}

	cmd, execute, err := flow.Finalize(ctx)
	require.NoError(t, err)
	require.True(t, execute)
	require.Equal(t, "replay", cmd.Text)
}

func TestFlowReportFromKeyState(t *testing.T) {
	ctx := context.Background()
	m := newTestMachine(t)
	require.NoError(t, m.ObserveKey(ctx, 4, true))

	flow := m.NewFlow(ModeManual)
	won, err := flow.ReportFromKeyState(ctx, 4)
	require.NoError(t, err)
	require.True(t, won)

	held, ok := flow.Snapshot()
	require.True(t, ok)
	require.True(t, held)
}
