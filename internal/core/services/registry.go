package services

import (
	"sync"

	"peercast/internal/core/domain"
	"peercast/internal/core/ports"

	"go.uber.org/zap"
)

// Registry tracks the set of viewer data channels attached to the host's
// identity. Membership is a set; arrival order is kept for display only.
// Add and Remove are idempotent.
type Registry struct {
	mu      sync.Mutex
	order   []domain.PeerID
	members map[domain.PeerID]struct{}
	watches []func()

	metrics ports.Metrics
	logger  *zap.SugaredLogger
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(metrics ports.Metrics, logger *zap.SugaredLogger) *Registry {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Registry{
		members: make(map[domain.PeerID]struct{}),
		metrics: metrics,
		logger:  logger,
	}
}

// Watch registers a change observer, called after every effective membership
// change. Observers run outside the registry lock.
func (r *Registry) Watch(onChange func()) {
	r.mu.Lock()
	r.watches = append(r.watches, onChange)
	r.mu.Unlock()
}

// Bind attaches a data channel's lifecycle to the registry: the remote
// identity joins when the channel opens and leaves on error or close.
func (r *Registry) Bind(conn ports.DataConn) {
	remote := conn.RemoteID()
	conn.OnOpen(func() {
		r.Add(remote)
	})
	conn.OnError(func(err error) {
		r.logger.Warnw("viewer connection error", "peer_id", remote, "error", err)
		r.Remove(remote)
	})
	conn.OnClose(func() {
		r.Remove(remote)
	})
}

// Add inserts an identity; no-op if already present. Reports whether the
// membership changed.
func (r *Registry) Add(id domain.PeerID) bool {
	r.mu.Lock()
	if _, ok := r.members[id]; ok {
		r.mu.Unlock()
		return false
	}
	r.members[id] = struct{}{}
	r.order = append(r.order, id)
	watches := append(([]func())(nil), r.watches...)
	r.mu.Unlock()

	r.metrics.ViewerJoined()
	r.logger.Infow("viewer joined", "peer_id", id)
	for _, w := range watches {
		w()
	}
	return true
}

// Remove deletes an identity; no-op if absent. Reports whether the
// membership changed.
func (r *Registry) Remove(id domain.PeerID) bool {
	r.mu.Lock()
	if _, ok := r.members[id]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.members, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	watches := append(([]func())(nil), r.watches...)
	r.mu.Unlock()

	r.metrics.ViewerLeft()
	r.logger.Infow("viewer left", "peer_id", id)
	for _, w := range watches {
		w()
	}
	return true
}

// Contains reports membership.
func (r *Registry) Contains(id domain.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[id]
	return ok
}

// Peers returns the members in arrival order.
func (r *Registry) Peers() []domain.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PeerID, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the member count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Clear empties the registry without firing observers; used on session end.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.order = nil
	r.members = make(map[domain.PeerID]struct{})
	r.mu.Unlock()
}
