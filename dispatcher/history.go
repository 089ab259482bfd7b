package dispatcher

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
	uuid "github.com/nu7hatch/gouuid"

	"github.com/ldv-klever/klever-scheduler/domain"
	"github.com/ldv-klever/klever-scheduler/workerapi"
)

const DefaultHistorySize = 10000

// AttemptRecord describes one finished attempt of a work item.
type AttemptRecord struct {
	Attempt  int                   `json:"attempt"`
	Nonce    string                `json:"nonce"`
	TaskID   workerapi.TaskID      `json:"task_id"`
	Limits   domain.ResourceLimits `json:"limits"`
	Status   domain.TaskStatus     `json:"status"`
	Outcome  domain.Outcome        `json:"outcome"`
	Started  time.Time             `json:"started"`
	Finished time.Time             `json:"finished"`
}

// history keeps the attempts of the most recently active items.
// Slices stored in the cache are never modified, add replaces them.
type history struct {
	cache *lru.Cache
}

func newHistory(size int) (*history, error) {
	if size <= 0 {
		size = DefaultHistorySize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &history{cache: cache}, nil
}

func (h *history) get(key domain.WorkItemKey) []AttemptRecord {
	if v, ok := h.cache.Get(key); ok {
		if records, ok := v.([]AttemptRecord); ok {
			return records
		}
	}
	return nil
}

func (h *history) add(key domain.WorkItemKey, rec AttemptRecord) {
	prev := h.get(key)
	records := make([]AttemptRecord, len(prev), len(prev)+1)
	copy(records, prev)
	h.cache.Add(key, append(records, rec))
}

// newNonce returns a unique id for a submission so workers can tell a
// resubmitted attempt from a duplicate.
func newNonce() string {
	// uuid.NewV4() should never actually return an error, but retry if it does.
	for {
		if id, err := uuid.NewV4(); err == nil {
			return id.String()
		}
	}
}
