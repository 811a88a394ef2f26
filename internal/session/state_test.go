package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_HydratesFromStore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Store(true, testPayload(t)))

	state := NewState(s)

	user, ok := state.User()
	require.True(t, ok)
	assert.Contains(t, string(user), "admin")

	_, ok = state.LoginInfo()
	assert.True(t, ok)

	assert.True(t, state.IsAuthenticated(), "valid persisted session must not force a logout on restart")
}

func TestState_EmptyStoreIsUnauthenticated(t *testing.T) {
	state := NewState(newTestStore(t))

	assert.False(t, state.IsAuthenticated())

	_, ok := state.User()
	assert.False(t, ok)
}

func TestState_UpdateAndClear(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Store(true, testPayload(t)))

	state := NewState(s)
	state.UpdateSession([]byte(`{"id":"u2"}`), []byte(`["ops"]`), []byte(`{}`))

	user, ok := state.User()
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"u2"}`, string(user))

	rights, ok := state.Rights()
	require.True(t, ok)
	assert.JSONEq(t, `["ops"]`, string(rights))

	state.ClearSession()

	_, ok = state.User()
	assert.False(t, ok)
	_, ok = state.Rights()
	assert.False(t, ok)
	_, ok = state.LoginInfo()
	assert.False(t, ok)
}

func TestState_IsAuthenticatedRequiresAllThree(t *testing.T) {
	s := newTestStore(t)
	state := NewState(s)

	// user snapshot but no token
	state.UpdateSession([]byte(`{"id":"u1"}`), nil, nil)
	assert.False(t, state.IsAuthenticated())

	// token but expired
	require.NoError(t, s.persistent.Set(tokenKey, []byte(mintToken(t, -time.Minute))))
	assert.False(t, state.IsAuthenticated())

	// valid token + user
	require.NoError(t, s.persistent.Set(tokenKey, []byte(mintToken(t, time.Hour))))
	assert.True(t, state.IsAuthenticated())

	// token expires out from under the cached snapshot
	require.NoError(t, s.persistent.Set(tokenKey, []byte(mintToken(t, time.Second))))
	assert.False(t, state.IsAuthenticated(), "expiry must be recomputed per call, not cached")
}

func TestState_SubscribeDeliversCurrentValueImmediately(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Store(true, testPayload(t)))

	state := NewState(s)

	ch, cancel := state.Subscribe()
	defer cancel()

	select {
	case snap := <-ch:
		assert.True(t, snap.Authenticated)
		assert.Contains(t, string(snap.User), "admin")
	default:
		t.Fatal("subscriber did not receive the current snapshot immediately")
	}
}

func TestState_SubscribeDeliversSubsequentChanges(t *testing.T) {
	state := NewState(newTestStore(t))

	ch, cancel := state.Subscribe()
	defer cancel()

	<-ch // initial snapshot

	state.UpdateSession([]byte(`{"id":"u9"}`), nil, nil)

	select {
	case snap := <-ch:
		assert.JSONEq(t, `{"id":"u9"}`, string(snap.User))
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the update")
	}
}

func TestState_SlowSubscriberGetsLatestValue(t *testing.T) {
	state := NewState(newTestStore(t))

	ch, cancel := state.Subscribe()
	defer cancel()

	// Never drained the initial snapshot; publish twice more. The
	// channel conflates to the newest value.
	state.UpdateSession([]byte(`{"id":"stale"}`), nil, nil)
	state.UpdateSession([]byte(`{"id":"fresh"}`), nil, nil)

	snap := <-ch
	assert.JSONEq(t, `{"id":"fresh"}`, string(snap.User))
}

func TestState_UnsubscribeStopsDelivery(t *testing.T) {
	state := NewState(newTestStore(t))

	ch, cancel := state.Subscribe()
	<-ch
	cancel()

	state.UpdateSession([]byte(`{"id":"u1"}`), nil, nil)

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("cancelled subscriber still received a snapshot")
		}
	default:
	}
}
