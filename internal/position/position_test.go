package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	p := New("BTCUSDT", SideLong, 0.5, 3)
	require.Equal(t, StateNone, p.State)

	steps := []struct {
		target State
		reason string
	}{
		{StateOpening, "decision accepted"},
		{StateOpen, "fill confirmed"},
		{StateClosing, "exit decision"},
		{StateClosed, "close confirmed"},
	}
	for _, s := range steps {
		require.NoError(t, p.Transition(s.target, s.reason))
	}
	assert.Equal(t, StateClosed, p.State)
	assert.True(t, p.State.Terminal())
	assert.Len(t, p.History, len(steps), "history length must equal accepted transitions")
	for i, s := range steps {
		assert.Equal(t, s.target, p.History[i].To)
		assert.Equal(t, s.reason, p.History[i].Reason)
	}
	assert.False(t, p.OpenedAt.IsZero())
}

func TestTransitionRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		from State
		to   State
	}{
		{"none to open", StateNone, StateOpen},
		{"none to closed", StateNone, StateClosed},
		{"opening to closing", StateOpening, StateClosing},
		{"open to closed", StateOpen, StateClosed},
		{"open to failed", StateOpen, StateFailed},
		{"closing to open", StateClosing, StateOpen},
		{"closed is terminal", StateClosed, StateOpening},
		{"liquidated is terminal", StateLiquidated, StateClosing},
		{"failed is terminal", StateFailed, StateOpening},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := New("ETHUSDT", SideShort, 1, 2)
			p.State = tc.from
			err := p.Transition(tc.to, "should not happen")

			var ite *InvalidTransitionError
			require.ErrorAs(t, err, &ite)
			assert.Equal(t, tc.from, ite.From)
			assert.Equal(t, tc.to, ite.To)
			assert.Equal(t, tc.from, p.State, "rejected transition must leave state unchanged")
			assert.Empty(t, p.History, "rejected transition must not touch history")
		})
	}
}

func TestTransitionRejectionIsIdempotent(t *testing.T) {
	p := New("BTCUSDT", SideLong, 1, 1)
	require.NoError(t, p.Transition(StateOpening, "accepted"))

	for i := 0; i < 3; i++ {
		err := p.Transition(StateClosed, "nope")
		require.Error(t, err)
	}
	assert.Equal(t, StateOpening, p.State)
	assert.Len(t, p.History, 1)
}

func TestOpenToLiquidated(t *testing.T) {
	p := New("BTCUSDT", SideLong, 1, 10)
	require.NoError(t, p.Transition(StateOpening, "accepted"))
	require.NoError(t, p.Transition(StateOpen, "filled"))
	require.NoError(t, p.Transition(StateLiquidated, "venue forced liquidation"))
	assert.True(t, p.State.Terminal())
}

func TestCheckInvariants(t *testing.T) {
	p := New("BTCUSDT", SideLong, 0, 1)
	p.State = StateOpen
	assert.Error(t, p.CheckInvariants(), "open with zero quantity")

	p.Quantity = 1
	assert.NoError(t, p.CheckInvariants())

	p.ExitPrice = 100
	assert.Error(t, p.CheckInvariants(), "exit price while open")

	p.State = StateClosed
	assert.NoError(t, p.CheckInvariants())
}

func TestLossRatioAndStopBreach(t *testing.T) {
	long := New("BTCUSDT", SideLong, 1, 1)
	long.EntryPrice = 100
	long.StopPrice = 95

	assert.InDelta(t, 0.10, long.LossRatio(90), 1e-9)
	assert.Zero(t, long.LossRatio(110), "profit is not a loss")
	assert.True(t, long.StopBreached(95))
	assert.True(t, long.StopBreached(90))
	assert.False(t, long.StopBreached(96))

	short := New("ETHUSDT", SideShort, 1, 1)
	short.EntryPrice = 100
	short.StopPrice = 105

	assert.InDelta(t, 0.10, short.LossRatio(110), 1e-9)
	assert.Zero(t, short.LossRatio(90))
	assert.True(t, short.StopBreached(105))
	assert.False(t, short.StopBreached(104))
}

func TestParseSide(t *testing.T) {
	side, ok := ParseSide(" LONG ")
	require.True(t, ok)
	assert.Equal(t, SideLong, side)

	side, ok = ParseSide("sell")
	require.True(t, ok)
	assert.Equal(t, SideShort, side)

	_, ok = ParseSide("sideways")
	assert.False(t, ok)
}
