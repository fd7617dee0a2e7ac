package ws

import (
	"math/rand/v2"
	"runtime"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_OnlineTracking(t *testing.T) {
	r := NewRegistry()
	rng := rand.New(rand.NewPCG(1, 2))

	users := []string{"u1", "u2", "u3"}
	live := map[string][]*Session{}

	for i := 0; i < 500; i++ {
		user := users[rng.IntN(len(users))]
		if len(live[user]) == 0 || rng.IntN(2) == 0 {
			s := NewSession(r, newMockWS(), user, SessionConfig{}, nil)
			r.Register(user, s)
			live[user] = append(live[user], s)
		} else {
			idx := rng.IntN(len(live[user]))
			r.Unregister(user, live[user][idx])
			live[user] = slices.Delete(live[user], idx, idx+1)
		}

		for _, u := range users {
			if got, want := r.IsOnline(u), len(live[u]) > 0; got != want {
				t.Fatalf("step %d: IsOnline(%s) = %v, want %v", i, u, got, want)
			}
			if got := len(r.Sessions(u)); got != len(live[u]) {
				t.Fatalf("step %d: %s has %d sessions, want %d", i, u, got, len(live[u]))
			}
		}
	}
}

func TestRegistry_MultiSession(t *testing.T) {
	r, announcer := newRecordingRegistry()

	s1 := NewSession(r, newMockWS(), "alice", SessionConfig{}, nil)
	s2 := NewSession(r, newMockWS(), "alice", SessionConfig{}, nil)

	r.Register("alice", s1)
	r.Register("alice", s2)
	require.True(t, r.IsOnline("alice"))
	assert.Equal(t, 2, r.SessionCount())

	r.Unregister("alice", s1)
	assert.True(t, r.IsOnline("alice"), "one session left, user must stay online")

	r.Unregister("alice", s2)
	assert.False(t, r.IsOnline("alice"))
	assert.Empty(t, r.OnlineIdentities())

	// Duplicate disconnects are swallowed and announce nothing.
	r.Unregister("alice", s2)
	r.Unregister("alice", s1)
	r.Unregister("nobody", s1)

	require.Equal(t, 4, announcer.count())
	offline := 0
	for i := 1; i < len(announcer.snapshots); i++ {
		was := slices.Contains(announcer.snapshots[i-1], "alice")
		now := slices.Contains(announcer.snapshots[i], "alice")
		if was && !now {
			offline++
		}
	}
	assert.Equal(t, 1, offline, "offline transition must be announced exactly once")
}

func TestRegistry_DoubleUnregisterKeepsOthers(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r, nil)

	gone := NewSession(r, newMockWS(), "alice", SessionConfig{}, nil)
	stay := NewSession(r, newMockWS(), "bob", SessionConfig{}, nil)
	r.Register("alice", gone)
	r.Register("bob", stay)

	r.Unregister("alice", gone)
	r.Unregister("alice", gone)

	drain(stay)
	require.Equal(t, 1, b.PushToUser("bob", newMessageEvent("hi")))
	ev := <-stay.send
	assert.Equal(t, "hi", ev.Message.Content.Text)
}

func TestRegistry_OnlineIdentitiesSnapshot(t *testing.T) {
	r := NewRegistry()
	for _, u := range []string{"c", "a", "b"} {
		r.Register(u, NewSession(r, newMockWS(), u, SessionConfig{}, nil))
	}

	snapshot := r.OnlineIdentities()
	assert.Equal(t, []string{"a", "b", "c"}, snapshot)

	snapshot[0] = "mutated"
	assert.Equal(t, []string{"a", "b", "c"}, r.OnlineIdentities(), "snapshot must be a copy")
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, r.SessionCounts())
}

func TestRegistry_ConnectDisconnectStorm(t *testing.T) {
	r := NewRegistry()
	rng := rand.New(rand.NewPCG(7, 7))

	var live []*Session
	for i := 0; i < 1000; i++ {
		if len(live) > 0 && rng.IntN(2) == 0 {
			idx := rng.IntN(len(live))
			s := live[idx]
			r.Unregister(s.UserID(), s)
			live = slices.Delete(live, idx, idx+1)
			continue
		}
		user := []string{"u1", "u2", "u3", "u4"}[rng.IntN(4)]
		s := NewSession(r, newMockWS(), user, SessionConfig{}, nil)
		r.Register(user, s)
		live = append(live, s)
	}

	assert.Equal(t, len(live), r.SessionCount())
	got := r.AllSessions()
	assert.ElementsMatch(t, live, got)
}

func TestRegistry_ConcurrentSessionsStorm(t *testing.T) {
	r := NewRegistry()
	NewBroadcaster(r, nil)

	const n = 1000
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		user := []string{"u1", "u2", "u3"}[i%3]
		ws := newMockWS()
		s := NewSession(r, ws, user, SessionConfig{QueueSize: 4}, nil)

		done := make(chan error, 1)
		go func() { done <- s.Run(t.Context()) }()

		wg.Go(func() {
			for s.State() == StateConnecting {
				runtime.Gosched()
			}
			s.Close()
			<-done
		})
	}
	wg.Wait()

	assert.Zero(t, r.SessionCount(), "no session may leak")
	assert.Empty(t, r.OnlineIdentities())
}
