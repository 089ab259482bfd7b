package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"
)

// FakeSubmission is a task as the fake worker pool received it.
// Durations are in seconds, as on the wire.
type FakeSubmission struct {
	Fragment         string `json:"fragment"`
	RequirementClass string `json:"requirement_class"`
	RequirementName  string `json:"requirement_name"`
	Limits           struct {
		CPUTime    float64 `json:"cpu_time"`
		WallTime   float64 `json:"wall_time"`
		MemorySize int64   `json:"memory_size"`
	} `json:"limits"`
	Attempt int    `json:"attempt"`
	Nonce   string `json:"nonce"`
}

// FakeResult is what a finished fake task reports. A zero CPUTime with an
// Error reports no resource usage.
type FakeResult struct {
	CPUTime     float64
	LimitReason string
	Error       string
}

// Script decides the result of a submitted task.
type Script func(sub FakeSubmission) FakeResult

// SolveAll uses a tenth of the CPU limit on every task.
func SolveAll(sub FakeSubmission) FakeResult {
	return FakeResult{CPUTime: sub.Limits.CPUTime / 10}
}

// FakeWorkerPool speaks the worker pool HTTP protocol. Every task is done on
// its first status poll.
type FakeWorkerPool struct {
	*httptest.Server

	script Script

	mu          sync.Mutex
	submissions []FakeSubmission
	tasks       map[string]FakeSubmission
	cancelled   []string
}

func NewFakeWorkerPool(script Script) *FakeWorkerPool {
	if script == nil {
		script = SolveAll
	}
	p := &FakeWorkerPool{script: script, tasks: map[string]FakeSubmission{}}

	r := chi.NewRouter()
	r.Post("/tasks", p.submit)
	r.Get("/tasks/{id}/status", p.status)
	r.Get("/tasks/{id}/result", p.result)
	r.Delete("/tasks/{id}", p.cancel)
	p.Server = httptest.NewServer(r)
	return p
}

// Submissions returns the tasks received so far.
func (p *FakeWorkerPool) Submissions() []FakeSubmission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]FakeSubmission(nil), p.submissions...)
}

func (p *FakeWorkerPool) Cancelled() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cancelled...)
}

func (p *FakeWorkerPool) submit(w http.ResponseWriter, r *http.Request) {
	var sub FakeSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	id := fmt.Sprintf("task-%d", len(p.submissions))
	p.submissions = append(p.submissions, sub)
	p.tasks[id] = sub
	p.mu.Unlock()
	writeJSON(w, map[string]string{"id": id})
}

func (p *FakeWorkerPool) lookup(w http.ResponseWriter, r *http.Request) (FakeSubmission, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.tasks[chi.URLParam(r, "id")]
	if !ok {
		http.Error(w, "no such task", http.StatusNotFound)
	}
	return sub, ok
}

func (p *FakeWorkerPool) status(w http.ResponseWriter, r *http.Request) {
	if _, ok := p.lookup(w, r); ok {
		writeJSON(w, map[string]string{"status": "FINISHED"})
	}
}

func (p *FakeWorkerPool) result(w http.ResponseWriter, r *http.Request) {
	sub, ok := p.lookup(w, r)
	if !ok {
		return
	}
	res := p.script(sub)
	doc := map[string]interface{}{"limit_reason": "none"}
	if res.LimitReason != "" {
		doc["limit_reason"] = res.LimitReason
	}
	if res.Error != "" {
		doc["error"] = res.Error
	}
	if res.CPUTime > 0 {
		doc["resources"] = map[string]interface{}{
			"cpu_time":    res.CPUTime,
			"wall_time":   res.CPUTime,
			"memory_size": 1 << 20,
		}
	}
	writeJSON(w, doc)
}

func (p *FakeWorkerPool) cancel(w http.ResponseWriter, r *http.Request) {
	if _, ok := p.lookup(w, r); !ok {
		return
	}
	p.mu.Lock()
	p.cancelled = append(p.cancelled, chi.URLParam(r, "id"))
	p.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, doc interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}
