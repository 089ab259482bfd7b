package balancer

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ldv-klever/klever-scheduler/common/stats"
	"github.com/ldv-klever/klever-scheduler/domain"
)

// The smallest multiplicative CPU time increase worth a retry when the budget
// is not tight.
const DefaultMinStepFactor = 1.5

// Config holds the per-job settings of a Balancer.
// WallTimeBudget of zero means the job has no wall clock budget, in which
// case nothing is ever rescheduled.
type Config struct {
	QoS            domain.ResourceLimits
	WallTimeBudget time.Duration
	MinStepFactor  float64
}

func (c Config) String() string {
	return fmt.Sprintf("BalancerConfig: QoS: {%s}, WallTimeBudget: %s, MinStepFactor: %.2f",
		c.QoS, c.WallTimeBudget, c.MinStepFactor)
}

type Option func(*Balancer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Balancer) { b.now = now }
}

// WithStartTime anchors the wall clock budget, defaults to construction time.
func WithStartTime(start time.Time) Option {
	return func(b *Balancer) { b.start = start }
}

func WithStats(stat stats.StatsReceiver) Option {
	return func(b *Balancer) { b.stat = stat }
}

// Balancer issues resource limits for work items and decides which items that
// violated a limit get another attempt with larger limits.
type Balancer struct {
	mu sync.Mutex

	registry *Registry
	ledger   *ledger

	qos         domain.ResourceLimits
	minStep     float64
	start       time.Time
	deadline    time.Time
	hasDeadline bool

	totalItems int
	solved     int

	// latched by FirstPassComplete.
	reschedulingUnlocked bool

	// epoch advances whenever the set of waiting items changes, a scheduling
	// pass is the span of one epoch.
	epoch uint64
	pass  escalationPass

	// first bookkeeping bug, see Err.
	err error

	now  func() time.Time
	stat stats.StatsReceiver
}

// New creates the Balancer for one job.
func New(cfg Config, registry *Registry, opts ...Option) (*Balancer, error) {
	if cfg.MinStepFactor == 0 {
		cfg.MinStepFactor = DefaultMinStepFactor
	}
	if cfg.MinStepFactor < 1 {
		return nil, fmt.Errorf("min increase step must be >= 1.0, got %v", cfg.MinStepFactor)
	}
	if cfg.WallTimeBudget < 0 {
		return nil, fmt.Errorf("wall time budget must not be negative, got %s", cfg.WallTimeBudget)
	}
	if cfg.QoS.CPUTime < 0 {
		return nil, fmt.Errorf("qos cpu time must not be negative, got %s", cfg.QoS.CPUTime)
	}
	if registry == nil {
		registry = NewRegistry()
	}

	b := &Balancer{
		registry: registry,
		ledger:   newLedger(),
		qos:      cfg.QoS,
		minStep:  cfg.MinStepFactor,
		now:      time.Now,
		stat:     stats.NilStatsReceiver(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.start.IsZero() {
		b.start = b.now()
	}
	if cfg.WallTimeBudget > 0 {
		b.deadline = b.start.Add(cfg.WallTimeBudget)
		b.hasDeadline = true
	}

	log.WithFields(
		log.Fields{
			"qos":           cfg.QoS.String(),
			"wallBudget":    cfg.WallTimeBudget,
			"minStepFactor": b.minStep,
			"deadline":      b.deadline,
		}).Info("Created balancer")
	return b, nil
}

// IssueLimits returns the limits for the next attempt of key and records them.
// Untracked items get the QoS limits. Tracked items get their stored (maybe
// escalated) limits and are marked running.
func (b *Balancer) IssueLimits(key domain.WorkItemKey) domain.ResourceLimits {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := b.ledger.get(key)
	if rec == nil {
		limits := b.qos
		b.ledger.issue(key, limits)
		return limits
	}
	if rec.Running {
		log.WithFields(
			log.Fields{
				"item":    key.String(),
				"attempt": rec.Attempt,
			}).Error("Limits requested for an item that is already running")
		return rec.Limits
	}

	b.ledger.setRunning(rec, true)
	rec.Attempt++
	rec.approved = false
	b.ledger.issue(key, rec.Limits)
	b.epoch++
	b.updateGauges()

	log.WithFields(
		log.Fields{
			"item":    key.String(),
			"attempt": rec.Attempt,
			"limits":  rec.Limits.String(),
		}).Info("Issued escalated limits")
	return rec.Limits
}

// Running reports whether key has an attempt in flight.
func (b *Balancer) Running(key domain.WorkItemKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec := b.ledger.get(key); rec != nil {
		return rec.Running
	}
	_, ok := b.ledger.issued(key)
	return ok
}

// FirstPassComplete reports whether escalation may start. Every (fragment,
// class) pair must be settled: each of its items that is not final must be
// tracked in the ledger. Once true it stays true.
func (b *Balancer) FirstPassComplete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.firstPassComplete()
}

func (b *Balancer) firstPassComplete() bool {
	if b.reschedulingUnlocked {
		return true
	}

	complete := true
	b.registry.EachPair(func(pair domain.PairKey, names map[string]domain.ItemState) bool {
		// A pair whose items are all final has nothing left to track and counts
		// as settled, otherwise a fully solved pair would block escalation.
		open := 0
		for name, st := range names {
			if st == domain.Final {
				continue
			}
			open++
			if b.ledger.get(domain.NewWorkItemKey(pair.Fragment, pair.RequirementClass, name)) == nil {
				complete = false
				return false
			}
		}
		// A pair with open items needs at least one tracked item. That is
		// implied above, the explicit check guards against a ledger that lost
		// its per-pair count.
		if open > 0 && b.ledger.trackedInPair(pair) == 0 {
			complete = false
			return false
		}
		return true
	})
	if !complete {
		return false
	}

	b.reschedulingUnlocked = true
	b.stat.Gauge(stats.BalancerFirstPassCompleteGauge).Update(1)
	log.WithFields(
		log.Fields{
			"items":   b.registry.Len(),
			"tracked": b.ledger.len(),
		}).Info("First pass complete, rescheduling unlocked")
	return true
}

// TimeRemaining returns the wall clock budget left for the job. With a limit,
// the budget only counts if one more attempt at limit times the minimal step
// still fits. Zero means no retry is possible, which is always the case when
// the job has no budget.
func (b *Balancer) TimeRemaining(limit *domain.ResourceLimits) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timeRemaining(limit)
}

func (b *Balancer) timeRemaining(limit *domain.ResourceLimits) time.Duration {
	if !b.hasDeadline {
		return 0
	}
	rest := b.deadline.Sub(b.now())
	if limit != nil {
		if float64(rest) > float64(limit.CPUTime)*b.minStep {
			return rest
		}
		return 0
	}
	if rest > 0 {
		return rest
	}
	return 0
}

// ShouldKeepTracking is true while the item runs or can still be retried.
// Otherwise the item is given up on: its record is dropped and false returned.
func (b *Balancer) ShouldKeepTracking(key domain.WorkItemKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := b.ledger.get(key)
	if rec == nil {
		return false
	}
	if rec.Running {
		return true
	}
	if b.qos.CPUTime != 0 && b.timeRemaining(&rec.Limits) > 0 {
		return true
	}
	b.giveUp(key, rec, "No budget left to retry item, giving up")
	return false
}

// GiveUp drops a tracked item that is not running, for callers that know no
// further attempt will be made. It returns false if there was nothing to drop.
func (b *Balancer) GiveUp(key domain.WorkItemKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := b.ledger.get(key)
	if rec == nil || rec.Running {
		return false
	}
	b.giveUp(key, rec, "Giving up on item")
	return true
}

func (b *Balancer) giveUp(key domain.WorkItemKey, rec *LimitRecord, msg string) {
	log.WithFields(
		log.Fields{
			"item":    key.String(),
			"attempt": rec.Attempt,
			"status":  rec.Status,
			"limits":  rec.Limits.String(),
		}).Info(msg)
	log.Debugf("Ledger before giving up on %s: %s", key, b.ledger.dump())
	if rec.approved {
		// RequestRescheduling counted it as unsolved, its last attempt did report.
		b.solved++
	}
	b.ledger.forget(key)
	b.ledger.clearIssued(key)
	b.epoch++
	b.stat.Counter(stats.BalancerGivenUpCounter).Inc(1)
	b.updateGauges()
}

// RecordOutcome feeds the terminal result of an attempt back and returns
// whether the item is final. Limit violations keep the item tracked so it may
// be retried; everything else is final.
func (b *Balancer) RecordOutcome(key domain.WorkItemKey, outcome domain.Outcome) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.updateGauges()

	rec := b.ledger.get(key)
	if outcome.Resources == nil {
		if b.ledger.forget(key) {
			b.epoch++
		}
		b.ledger.clearIssued(key)
		log.WithFields(
			log.Fields{
				"item":    key.String(),
				"tracked": rec != nil,
				"err":     outcome.Error,
			}).Info("Attempt ended without resource usage, item is final")
		return true
	}

	b.solved++
	b.stat.Counter(stats.BalancerSolvedCounter).Inc(1)
	b.checkProgress("RecordOutcome")

	switch {
	case outcome.LimitReason.IsLimitViolation():
		if rec == nil {
			limits, ok := b.ledger.issued(key)
			if !ok {
				limits = b.qos
			}
			rec = b.ledger.track(key, limits)
		}
		rec.Status = outcome.LimitReason
		b.ledger.setRunning(rec, false)
		b.epoch++
		if outcome.LimitReason == domain.OutOfMemory {
			b.stat.Counter(stats.BalancerOutOfMemoryCounter).Inc(1)
		} else {
			b.stat.Counter(stats.BalancerTimeoutCounter).Inc(1)
		}
		log.WithFields(
			log.Fields{
				"item":    key.String(),
				"attempt": rec.Attempt,
				"reason":  outcome.LimitReason,
				"limits":  rec.Limits.String(),
				"cpu":     outcome.Resources.CPUTime,
				"wall":    outcome.Resources.WallTime,
			}).Info("Attempt hit a resource limit")
		return false
	case rec != nil:
		b.ledger.forget(key)
		b.ledger.clearIssued(key)
		b.epoch++
		log.WithFields(
			log.Fields{
				"item":    key.String(),
				"attempt": rec.Attempt,
				"limits":  rec.Limits.String(),
			}).Info("Item solved after escalation")
		return true
	default:
		b.ledger.clearIssued(key)
		return true
	}
}

// SetTotalItems fixes the number of items of the job. Until it is called the
// registry size is used.
func (b *Balancer) SetTotalItems(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalItems = n
	b.checkProgress("SetTotalItems")
}

// Progress returns the total number of items, how many reported resource
// usage for their latest attempt and how many have not.
func (b *Balancer) Progress() (total, solved, rest int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	total = b.total()
	rest = total - b.solved
	if rest < 0 {
		return total, b.solved, rest, b.invariant("Progress", "solved %d items of %d", b.solved, total)
	}
	return total, b.solved, rest, nil
}

func (b *Balancer) total() int {
	if b.totalItems > 0 {
		return b.totalItems
	}
	return b.registry.Len()
}

func (b *Balancer) checkProgress(op string) {
	total := b.total()
	if total > 0 && b.solved > total {
		b.invariant(op, "solved count %d exceeds total items %d", b.solved, total)
	}
}

// Err returns the first bookkeeping error the Balancer ran into. Such an error
// means the ledger can no longer be trusted and the job should be aborted.
func (b *Balancer) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Waiting returns tracked items without an attempt in flight, ordered by key.
func (b *Balancer) Waiting() []domain.WorkItemKey {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledger.waiting()
}

// Tracked returns a copy of the limit record of key.
func (b *Balancer) Tracked(key domain.WorkItemKey) (LimitRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.ledger.get(key)
	if rec == nil {
		return LimitRecord{}, false
	}
	return *rec, true
}

// Snapshot is a point-in-time view used by status endpoints.
type Snapshot struct {
	Tracked           int           `json:"tracked"`
	Waiting           int           `json:"waiting"`
	RunningTracked    int           `json:"running_tracked"`
	InFlight          int           `json:"in_flight"`
	Total             int           `json:"total"`
	Solved            int           `json:"solved"`
	FirstPassComplete bool          `json:"first_pass_complete"`
	TimeRemaining     time.Duration `json:"time_remaining"`
	LastFactor        float64       `json:"last_factor"`
	Deadline          *time.Time    `json:"deadline,omitempty"`
}

func (b *Balancer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{
		Tracked:           b.ledger.len(),
		RunningTracked:    b.ledger.numRunning(),
		InFlight:          b.ledger.numInFlight(),
		Total:             b.total(),
		Solved:            b.solved,
		FirstPassComplete: b.reschedulingUnlocked,
		TimeRemaining:     b.timeRemaining(nil),
		LastFactor:        b.pass.factor,
	}
	s.Waiting = s.Tracked - s.RunningTracked
	if b.hasDeadline {
		d := b.deadline
		s.Deadline = &d
	}
	return s
}

func (b *Balancer) updateGauges() {
	b.stat.Gauge(stats.BalancerTrackedItemsGauge).Update(int64(b.ledger.len()))
	b.stat.Gauge(stats.BalancerWaitingItemsGauge).Update(int64(b.ledger.len() - b.ledger.numRunning()))
	b.stat.Gauge(stats.BalancerTimeRemainingGauge_s).Update(int64(b.timeRemaining(nil) / time.Second))
}

// InvariantError reports a bookkeeping bug. It is never a runtime condition.
type InvariantError struct {
	Op  string
	Msg string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("balancer invariant violated in %s: %s", e.Op, e.Msg)
}

// invariant latches the first violation and returns it.
func (b *Balancer) invariant(op, format string, args ...interface{}) error {
	err := &InvariantError{Op: op, Msg: fmt.Sprintf(format, args...)}
	log.WithFields(
		log.Fields{
			"op":  op,
			"err": err,
		}).Error("Balancer bookkeeping error")
	log.Debugf("Ledger at bookkeeping error: %s", b.ledger.dump())
	if b.err == nil {
		b.err = err
	}
	return err
}
