package endpoints

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ldv-klever/klever-scheduler/balancer"
	"github.com/ldv-klever/klever-scheduler/common/stats"
	"github.com/ldv-klever/klever-scheduler/dispatcher"
	"github.com/ldv-klever/klever-scheduler/domain"
)

// How often rendered stats are latched.
const statsLatch = 15 * time.Second

type StatScope string

// MakeStatsReceiver returns a latched finagle-style receiver. cancelFn stops
// its latching goroutine.
func MakeStatsReceiver(scope StatScope) (stat stats.StatsReceiver, cancelFn func()) {
	s, cancel := stats.NewCustomStatsReceiver(stats.NewFinagleStatsRegistry, statsLatch)
	return s.Scope(string(scope)).Precision(time.Millisecond), cancel
}

// SchedulerState is what the admin endpoints read from a running job.
type SchedulerState interface {
	Snapshot() dispatcher.Snapshot
	History(key domain.WorkItemKey) []dispatcher.AttemptRecord
}

// InstallScheduler exports the state of a job on s:
// /status (loop snapshot), /history?fragment=&class=&name= (attempts of one
// item) and prometheus gauges fed from the balancer snapshot.
func InstallScheduler(s *AdminServer, state SchedulerState) {
	s.HandleJSON("/status", func(*http.Request) (interface{}, error) {
		return state.Snapshot(), nil
	})
	s.HandleJSON("/history", func(r *http.Request) (interface{}, error) {
		q := r.URL.Query()
		key := domain.NewWorkItemKey(q.Get("fragment"), q.Get("class"), q.Get("name"))
		if key.Fragment == "" || key.RequirementClass == "" || key.RequirementName == "" {
			return nil, fmt.Errorf("fragment, class and name are required")
		}
		records := state.History(key)
		if records == nil {
			records = []dispatcher.AttemptRecord{}
		}
		return records, nil
	})

	bal := func() balancer.Snapshot { return state.Snapshot().Balancer }
	s.AddGauge("tracked_items", "Items held in the limit ledger.", func() float64 {
		return float64(bal().Tracked)
	})
	s.AddGauge("waiting_items", "Tracked items waiting for a rescheduling decision.", func() float64 {
		return float64(bal().Waiting)
	})
	s.AddGauge("solved_items", "Items whose latest attempt reported resource usage.", func() float64 {
		return float64(bal().Solved)
	})
	s.AddGauge("total_items", "Items of the job.", func() float64 {
		return float64(bal().Total)
	})
	s.AddGauge("time_remaining_seconds", "Wall clock budget left for the job.", func() float64 {
		return bal().TimeRemaining.Seconds()
	})
	s.AddGauge("escalation_factor", "Escalation factor of the last scheduling pass.", func() float64 {
		return bal().LastFactor
	})
	s.AddGauge("first_pass_complete", "1 once every item was tried at the QoS limits.", func() float64 {
		if bal().FirstPassComplete {
			return 1
		}
		return 0
	})
	s.AddGauge("in_flight_attempts", "Attempts running on the worker pool.", func() float64 {
		return float64(state.Snapshot().InFlight)
	})
	s.AddGauge("queued_items", "Items waiting for their first attempt.", func() float64 {
		return float64(state.Snapshot().Queued)
	})
}
