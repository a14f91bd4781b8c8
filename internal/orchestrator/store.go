package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rpattn/fleetquery/internal/domain"
)

// statusStore holds one ExecutionStatus per request id. Terminal records are
// never modified again.
type statusStore struct {
	mu      sync.RWMutex
	entries map[string]domain.ExecutionStatus
}

func newStatusStore() *statusStore {
	return &statusStore{entries: map[string]domain.ExecutionStatus{}}
}

// update creates the record on first use and reports whether the transition
// was applied.
func (s *statusStore) update(id string, state domain.ExecutionState, message string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[id]
	if ok && current.Status.Terminal() {
		return false
	}
	if !ok {
		started := now
		current = domain.ExecutionStatus{RequestID: id, StartedAt: &started}
	}
	current.Status = state
	current.Message = message
	if state.Terminal() {
		completed := now
		current.CompletedAt = &completed
		current.Progress = 100
	}
	s.entries[id] = current
	return true
}

func (s *statusStore) get(id string) (domain.ExecutionStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.entries[id]
	return status, ok
}

// sweep drops terminal records completed before cutoff.
func (s *statusStore) sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, status := range s.entries {
		if status.CompletedAt != nil && status.CompletedAt.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

type storedResult struct {
	response domain.QueryResponse
	storedAt time.Time
}

// resultStore holds the final response of each finished request.
type resultStore struct {
	mu      sync.RWMutex
	entries map[string]storedResult
}

func newResultStore() *resultStore {
	return &resultStore{entries: map[string]storedResult{}}
}

func (s *resultStore) put(response domain.QueryResponse, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[response.RequestID]; exists {
		return
	}
	s.entries[response.RequestID] = storedResult{response: response, storedAt: now}
}

func (s *resultStore) get(id string) (domain.QueryResponse, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.entries[id]
	return stored.response, ok
}

func (s *resultStore) sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, stored := range s.entries {
		if stored.storedAt.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// cancelRegistry maps in-flight request ids to their cancel funcs.
type cancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{cancels: map[string]context.CancelFunc{}}
}

func (r *cancelRegistry) register(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[id] = cancel
}

func (r *cancelRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, id)
}

func (r *cancelRegistry) cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	delete(r.cancels, id)
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

func (r *cancelRegistry) cancelAll() int {
	r.mu.Lock()
	pending := r.cancels
	r.cancels = map[string]context.CancelFunc{}
	r.mu.Unlock()

	for _, cancel := range pending {
		cancel()
	}
	return len(pending)
}

func (r *cancelRegistry) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.cancels))
	for id := range r.cancels {
		ids = append(ids, id)
	}
	return ids
}
