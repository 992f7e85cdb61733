package realtime

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/saranga-ayurveda/backend/internal/logging"
	"github.com/saranga-ayurveda/backend/internal/metrics"
)

// FanoutResult counts per-socket outcomes of one Fanout.
type FanoutResult struct {
	Delivered int
	Failed    int
}

// Registry maps users to their live sockets. A socket belongs to at most one
// user; registering it under another user moves it. Users with no sockets
// are removed immediately.
type Registry struct {
	logger *zerolog.Logger

	mu    sync.RWMutex
	users map[UserID]map[string]Socket
	owner map[string]UserID
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		logger: logging.OrDefault(logger),
		users:  make(map[UserID]map[string]Socket),
		owner:  make(map[string]UserID),
	}
}

// Register adds s to userID's set. If s was registered under another user
// it is moved, and that user's previous identity is returned with moved set.
func (r *Registry) Register(userID UserID, s Socket) (previous UserID, moved bool) {
	id := s.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owner[id]; ok {
		if prev == userID {
			return "", false
		}
		r.removeLocked(prev, id)
		previous, moved = prev, true
	}

	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]Socket)
		r.users[userID] = set
	}
	set[id] = s
	r.owner[id] = userID
	return previous, moved
}

// Unregister removes s from whichever user holds it.
func (r *Registry) Unregister(s Socket) (UserID, bool) {
	id := s.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owner[id]
	if !ok {
		return "", false
	}
	r.removeLocked(userID, id)
	return userID, true
}

func (r *Registry) removeLocked(userID UserID, socketID string) {
	delete(r.owner, socketID)
	set := r.users[userID]
	delete(set, socketID)
	if len(set) == 0 {
		delete(r.users, userID)
	}
}

// Fanout sends data to every socket of userID. Sends happen outside the lock
// and independently: one failing socket does not affect the others.
func (r *Registry) Fanout(userID UserID, data []byte) FanoutResult {
	r.mu.RLock()
	set := r.users[userID]
	targets := make([]Socket, 0, len(set))
	for _, s := range set {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	var res FanoutResult
	for _, s := range targets {
		if err := s.Send(data); err != nil {
			res.Failed++
			r.logger.Warn().Err(err).Str("user", string(userID)).Str("socket", s.ID()).Msg("fanout send failed")
			continue
		}
		res.Delivered++
	}

	metrics.RecordFanout(res.Delivered, res.Failed)
	return res
}

// Count returns the number of sockets registered under userID.
func (r *Registry) Count(userID UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// Has reports whether userID has an entry.
func (r *Registry) Has(userID UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// Users returns the number of users with at least one socket.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Sockets returns the number of registered sockets.
func (r *Registry) Sockets() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owner)
}
