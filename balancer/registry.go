package balancer

import (
	"sync"

	"github.com/ldv-klever/klever-scheduler/domain"
)

// Registry is the job-scoped catalogue of work items. It grows as the
// decomposition stage discovers items and never shrinks.
// Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	pairs map[domain.PairKey]map[string]domain.ItemState
	n     int
}

func NewRegistry() *Registry {
	return &Registry{pairs: make(map[domain.PairKey]map[string]domain.ItemState)}
}

// Add registers a new item as NotDispatched. Returns false if it was already known.
func (r *Registry) Add(key domain.WorkItemKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	pair := key.Pair()
	names, ok := r.pairs[pair]
	if !ok {
		names = make(map[string]domain.ItemState)
		r.pairs[pair] = names
	}
	if _, ok := names[key.RequirementName]; ok {
		return false
	}
	names[key.RequirementName] = domain.NotDispatched
	r.n++
	return true
}

// MarkPending records that the item was handed to a worker.
// Final items stay final.
func (r *Registry) MarkPending(key domain.WorkItemKey) bool {
	return r.transition(key, domain.Pending)
}

// MarkFinal records that the item will never be dispatched again.
func (r *Registry) MarkFinal(key domain.WorkItemKey) bool {
	return r.transition(key, domain.Final)
}

func (r *Registry) transition(key domain.WorkItemKey, to domain.ItemState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	names, ok := r.pairs[key.Pair()]
	if !ok {
		return false
	}
	from, ok := names[key.RequirementName]
	if !ok || from == domain.Final {
		return false
	}
	names[key.RequirementName] = to
	return true
}

func (r *Registry) State(key domain.WorkItemKey) (domain.ItemState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.pairs[key.Pair()][key.RequirementName]
	return st, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}

// Counts returns the number of items in each state.
func (r *Registry) Counts() map[domain.ItemState]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := map[domain.ItemState]int{}
	for _, names := range r.pairs {
		for _, st := range names {
			counts[st]++
		}
	}
	return counts
}

// EachPair calls fn for every (fragment, class) pair until fn returns false.
// names must not be modified or retained, and fn must not call back into the
// Registry.
func (r *Registry) EachPair(fn func(pair domain.PairKey, names map[string]domain.ItemState) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for pair, names := range r.pairs {
		if !fn(pair, names) {
			return
		}
	}
}
