package ws

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

type presenceAnnouncer interface {
	announce()
}

// Registry maps user identities to their live sessions. An identity is
// online while it has at least one registered session.
type Registry struct {
	// userID -> set of sessions
	sessions map[string]map[*Session]struct{}
	mu       sync.RWMutex

	// Set by NewBroadcaster. Called after every effective mutation,
	// outside of mu.
	announcer presenceAnnouncer
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[*Session]struct{}),
	}
}

func (r *Registry) Register(userID string, s *Session) {
	r.mu.Lock()
	set, ok := r.sessions[userID]
	if !ok {
		set = make(map[*Session]struct{})
		r.sessions[userID] = set
	}
	set[s] = struct{}{}
	r.mu.Unlock()

	r.notify()
}

// Unregister removes the session. Removing a session that is not
// registered is a no-op and does not trigger an announcement.
func (r *Registry) Unregister(userID string, s *Session) {
	r.mu.Lock()
	set, ok := r.sessions[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := set[s]; !ok {
		r.mu.Unlock()
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()

	r.notify()
}

func (r *Registry) notify() {
	if r.announcer != nil {
		r.announcer.announce()
	}
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID]) > 0
}

// OnlineIdentities returns a sorted point-in-time copy of online users.
func (r *Registry) OnlineIdentities() []string {
	r.mu.RLock()
	ids := lo.Keys(r.sessions)
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Sessions returns a snapshot of the sessions owned by userID.
func (r *Registry) Sessions(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.sessions[userID])
}

// AllSessions returns a snapshot of every registered session.
func (r *Registry) AllSessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Session, 0, len(r.sessions))
	for _, set := range r.sessions {
		for s := range set {
			all = append(all, s)
		}
	}
	return all
}

// SessionCounts returns the number of live sessions per online user.
func (r *Registry) SessionCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.MapValues(r.sessions, func(set map[*Session]struct{}, _ string) int {
		return len(set)
	})
}

func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, set := range r.sessions {
		n += len(set)
	}
	return n
}
