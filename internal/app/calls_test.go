package app

import (
	"testing"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestCallOfferAnswer(t *testing.T) {
	ct := NewCallTracker(nil)

	ini, err := ct.Initiate("a", "b", t0)
	require.NoError(t, err)
	assert.Nil(t, ini.Replaced)
	assert.Nil(t, ini.Revoked)
	assert.Equal(t, core.ConnID("a"), ini.Edge.Initiator)
	assert.Equal(t, domain.CallOfferSent, ct.State("b", "a"))
	assert.True(t, ct.CanRelay("b", "a"))

	_, err = ct.Accept("a", "b", "", t0)
	assert.ErrorIs(t, err, domain.ErrStaleAnswer, "initiator cannot answer its own offer")

	edge, err := ct.Accept("b", "a", "", t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, domain.CallConnected, edge.State)

	_, err = ct.Accept("b", "a", "", t0)
	assert.ErrorIs(t, err, domain.ErrStaleAnswer, "second answer is stale")
}

func TestCallAcceptWithoutOffer(t *testing.T) {
	ct := NewCallTracker(nil)
	_, err := ct.Accept("b", "a", "", t0)
	assert.ErrorIs(t, err, domain.ErrStaleAnswer)
	assert.False(t, ct.CanRelay("a", "b"))
}

func TestCallSelf(t *testing.T) {
	ct := NewCallTracker(nil)
	_, err := ct.Initiate("a", "a", t0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCallReinitiateReplaces(t *testing.T) {
	ct := NewCallTracker(nil)
	first, err := ct.Initiate("a", "b", t0)
	require.NoError(t, err)
	_, err = ct.Accept("b", "a", "", t0)
	require.NoError(t, err)

	second, err := ct.Initiate("b", "a", t0)
	require.NoError(t, err)
	require.NotNil(t, second.Replaced)
	assert.Equal(t, first.Edge.ID, second.Replaced.ID)
	assert.Equal(t, domain.CallOfferSent, ct.State("a", "b"))
	assert.Equal(t, 1, ct.Len())
}

func TestCallAcceptSupersededOffer(t *testing.T) {
	ct := NewCallTracker(nil)
	first, err := ct.Initiate("a", "b", t0)
	require.NoError(t, err)
	second, err := ct.Initiate("a", "b", t0.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, second.Replaced)
	assert.Equal(t, first.Edge.ID, second.Replaced.ID)

	_, err = ct.Accept("b", "a", first.Edge.ID, t0)
	require.ErrorIs(t, err, domain.ErrStaleAnswer)
	assert.Equal(t, domain.CallOfferSent, ct.State("a", "b"))

	edge, err := ct.Accept("b", "a", second.Edge.ID, t0)
	require.NoError(t, err)
	assert.Equal(t, domain.CallConnected, edge.State)
}

func TestCallGlare(t *testing.T) {
	t.Run("loser calls second", func(t *testing.T) {
		ct := NewCallTracker(LowerIDWins{})
		_, err := ct.Initiate("a", "b", t0)
		require.NoError(t, err)
		_, err = ct.Initiate("b", "a", t0)
		assert.ErrorIs(t, err, domain.ErrCallGlare)
		e, ok := ct.Get("a", "b")
		require.True(t, ok)
		assert.Equal(t, core.ConnID("a"), e.Initiator)
	})
	t.Run("winner calls second", func(t *testing.T) {
		ct := NewCallTracker(LowerIDWins{})
		first, err := ct.Initiate("b", "a", t0)
		require.NoError(t, err)
		ini, err := ct.Initiate("a", "b", t0)
		require.NoError(t, err)
		require.NotNil(t, ini.Revoked)
		assert.Equal(t, first.Edge.ID, ini.Revoked.ID)
		assert.Equal(t, core.ConnID("a"), ini.Edge.Initiator)
		assert.Equal(t, 1, ct.Len())
	})
}

func TestCallCloseAndIndex(t *testing.T) {
	ct := NewCallTracker(nil)
	_, _ = ct.Initiate("a", "b", t0)
	_, _ = ct.Initiate("a", "c", t0)
	_, _ = ct.Initiate("d", "b", t0)

	edges := ct.EdgesOf("a")
	require.Len(t, edges, 2)
	assert.Equal(t, core.ConnID("b"), edges[0].Peer("a"))
	assert.Equal(t, core.ConnID("c"), edges[1].Peer("a"))

	closed, ok := ct.Close("b", "a")
	require.True(t, ok)
	assert.Equal(t, domain.CallClosed, closed.State)
	_, ok = ct.Close("a", "b")
	assert.False(t, ok, "close is idempotent")

	assert.Len(t, ct.EdgesOf("a"), 1)
	assert.Len(t, ct.EdgesOf("b"), 1)
	assert.Len(t, ct.Snapshot(), 2)
}

func TestCallExpire(t *testing.T) {
	ct := NewCallTracker(nil)
	ini, _ := ct.Initiate("a", "b", t0)

	_, ok := ct.Expire("a", "b", "other")
	assert.False(t, ok)

	_, err := ct.Accept("b", "a", "", t0)
	require.NoError(t, err)
	_, ok = ct.Expire("a", "b", ini.Edge.ID)
	assert.False(t, ok, "connected edge does not expire")

	again, _ := ct.Initiate("a", "b", t0)
	_, ok = ct.Expire("b", "a", again.Edge.ID)
	assert.True(t, ok)
	assert.Equal(t, domain.CallNone, ct.State("a", "b"))
}
