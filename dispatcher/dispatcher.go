// Package dispatcher runs the verification work items of one job on the
// worker pool. It hands every item to the workers once at the QoS limits,
// feeds the outcomes to the balancer and re-dispatches the items the balancer
// grants a retry with larger limits, until every item is final.
package dispatcher

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ldv-klever/klever-scheduler/async"
	"github.com/ldv-klever/klever-scheduler/balancer"
	"github.com/ldv-klever/klever-scheduler/common/stats"
	"github.com/ldv-klever/klever-scheduler/domain"
	"github.com/ldv-klever/klever-scheduler/jobtracker"
	"github.com/ldv-klever/klever-scheduler/workerapi"
)

const (
	DefaultTickRate            = 250 * time.Millisecond
	DefaultPollInterval        = 5 * time.Second
	DefaultSubmitRetryTimeout  = time.Minute
	DefaultTaskTimeoutOverhead = 5 * time.Minute

	// Longest time spent sending the job report once the loop ended.
	jobReportTimeout = 30 * time.Second
)

// Config of a Dispatcher. Zero durations take the defaults above.
// MaxInFlight of zero does not bound the number of running attempts and a
// zero SubmitRate does not limit how fast attempts are submitted.
type Config struct {
	TickRate            time.Duration
	PollInterval        time.Duration
	SubmitRetryTimeout  time.Duration
	TaskTimeoutOverhead time.Duration
	MaxInFlight         int
	SubmitRate          rate.Limit
	HistorySize         int

	Verifier    workerapi.VerifierConfig
	ArchiveRoot string
}

func (c Config) String() string {
	return fmt.Sprintf("DispatcherConfig: TickRate: %s, PollInterval: %s, SubmitRetryTimeout: %s, "+
		"TaskTimeoutOverhead: %s, MaxInFlight: %d, SubmitRate: %v, HistorySize: %d, Verifier: %s, ArchiveRoot: %s",
		c.TickRate, c.PollInterval, c.SubmitRetryTimeout, c.TaskTimeoutOverhead, c.MaxInFlight,
		c.SubmitRate, c.HistorySize, c.Verifier.Name, c.ArchiveRoot)
}

func (c Config) withDefaults() Config {
	if c.TickRate <= 0 {
		c.TickRate = DefaultTickRate
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SubmitRetryTimeout <= 0 {
		c.SubmitRetryTimeout = DefaultSubmitRetryTimeout
	}
	if c.TaskTimeoutOverhead <= 0 {
		c.TaskTimeoutOverhead = DefaultTaskTimeoutOverhead
	}
	if c.SubmitRate <= 0 {
		c.SubmitRate = rate.Inf
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// Snapshot is a point-in-time view of the dispatch loop for status endpoints.
type Snapshot struct {
	Received       int               `json:"received"`
	Queued         int               `json:"queued"`
	Retrying       int               `json:"retrying"`
	InFlight       int               `json:"in_flight"`
	Solved         int               `json:"solved"`
	LimitExhausted int               `json:"limit_exhausted"`
	Errors         int               `json:"errors"`
	InputClosed    bool              `json:"input_closed"`
	Finished       bool              `json:"finished"`
	Balancer       balancer.Snapshot `json:"balancer"`
}

// Dispatcher drives one job. All loop state is owned by the goroutine that
// calls Run; attempts run on their own goroutines and report back through
// the async runner, whose callbacks also run on the loop goroutine.
type Dispatcher struct {
	cfg      Config
	balancer *balancer.Balancer
	registry *balancer.Registry
	workers  workerapi.Client
	tracker  jobtracker.Client
	stat     stats.StatsReceiver

	asyncRunner async.Runner
	limiter     *rate.Limiter
	history     *history

	// ctx of the running loop, cancelled to abandon running attempts.
	ctx   context.Context
	items <-chan domain.WorkItemKey

	queue       []domain.WorkItemKey // never dispatched
	retries     []domain.WorkItemKey // granted a retry, not issued yet
	retrying    map[domain.WorkItemKey]bool
	inFlight    map[domain.WorkItemKey]*attempt
	attempts    map[domain.WorkItemKey]int
	lastAttempt map[domain.WorkItemKey]*attempt
	inputClosed bool
	finishing   bool
	aborting    bool

	received       int
	solved         int
	limitExhausted int
	errs           int

	mu   sync.Mutex
	snap Snapshot
}

// New creates a Dispatcher for one job. The registry must be the one the
// balancer was created with.
func New(
	cfg Config,
	b *balancer.Balancer,
	reg *balancer.Registry,
	workers workerapi.Client,
	tracker jobtracker.Client,
	stat stats.StatsReceiver,
) (*Dispatcher, error) {
	if b == nil || reg == nil {
		return nil, fmt.Errorf("dispatcher needs a balancer and its registry")
	}
	if workers == nil || tracker == nil {
		return nil, fmt.Errorf("dispatcher needs a worker pool client and a job tracker client")
	}
	if cfg.MaxInFlight < 0 {
		return nil, fmt.Errorf("max in flight must not be negative, got %d", cfg.MaxInFlight)
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	cfg = cfg.withDefaults()

	h, err := newHistory(cfg.HistorySize)
	if err != nil {
		return nil, err
	}
	burst := 1
	if cfg.MaxInFlight > 0 {
		burst = cfg.MaxInFlight
	}

	log.Infof("Created dispatcher with %s", cfg)
	return &Dispatcher{
		cfg:         cfg,
		balancer:    b,
		registry:    reg,
		workers:     workers,
		tracker:     tracker,
		stat:        stat,
		asyncRunner: async.NewRunner(),
		limiter:     rate.NewLimiter(cfg.SubmitRate, burst),
		history:     h,
		retrying:    map[domain.WorkItemKey]bool{},
		inFlight:    map[domain.WorkItemKey]*attempt{},
		attempts:    map[domain.WorkItemKey]int{},
		lastAttempt: map[domain.WorkItemKey]*attempt{},
	}, nil
}

// Run dispatches the items read from items until the channel is closed and
// every item received is final, then reports the job to the tracker.
//
// Cancelling ctx or a balancer bookkeeping error stops the loop early:
// running attempts are cancelled, the items that are not final are counted
// as incomplete and the returned error says why the job failed.
// Run must be called only once.
func (d *Dispatcher) Run(ctx context.Context, items <-chan domain.WorkItemKey) (Summary, error) {
	start := time.Now()
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.ctx = loopCtx
	d.items = items

	ticker := time.NewTicker(d.cfg.TickRate)
	defer ticker.Stop()

	var abortErr error
	for abortErr == nil {
		d.step()
		if err := d.balancer.Err(); err != nil {
			abortErr = err
			break
		}
		if d.done() {
			break
		}

		select {
		case <-ctx.Done():
			abortErr = ctx.Err()
		case key, ok := <-d.items:
			d.receive(key, ok)
		case <-d.asyncRunner.Ready():
		case <-ticker.C:
		}
	}

	if abortErr != nil {
		d.abort(cancel, abortErr)
	}
	summary := d.summarize(abortErr, time.Since(start))
	d.reportJob(summary)
	return summary, abortErr
}

// run one loop iteration
func (d *Dispatcher) step() {
	defer d.stat.Latency(stats.DispatcherStepLatency_ms).Time().Stop()

	d.receiveItems()
	d.asyncRunner.ProcessMessages()
	d.reschedule()
	d.dispatch()
	d.checkForCompletion()

	d.updateStats()
}

// receiveItems drains the items that arrived since the last step.
func (d *Dispatcher) receiveItems() {
	for !d.inputClosed {
		select {
		case key, ok := <-d.items:
			d.receive(key, ok)
		default:
			return
		}
	}
}

func (d *Dispatcher) receive(key domain.WorkItemKey, ok bool) {
	if !ok {
		d.inputClosed = true
		d.items = nil
		d.balancer.SetTotalItems(d.registry.Len())
		log.WithFields(
			log.Fields{
				"received": d.received,
				"total":    d.registry.Len(),
			}).Info("Work item feed closed")
		return
	}
	if !d.registry.Add(key) {
		log.Infof("Ignoring duplicate work item %s", key)
		return
	}
	d.received++
	d.queue = append(d.queue, key)
	d.stat.Counter(stats.DispatcherItemsReceivedCounter).Inc(1)
	log.Debugf("Received work item %s", key)
}

// reschedule walks the items waiting after a limit violation. Items the
// balancer no longer keeps are given up on, items granted a retry are queued.
func (d *Dispatcher) reschedule() {
	for _, key := range d.balancer.Waiting() {
		if d.retrying[key] {
			continue
		}
		if !d.balancer.ShouldKeepTracking(key) {
			d.finalizeExhausted(key)
			continue
		}
		if attempt, ok := d.balancer.RequestRescheduling(key); ok {
			log.WithFields(
				log.Fields{
					"item":    key.String(),
					"attempt": attempt,
				}).Info("Queueing retry")
			d.retrying[key] = true
			d.retries = append(d.retries, key)
		}
	}
}

// dispatch starts queued attempts, retries first, as far as the in flight
// bound and the submission rate allow.
func (d *Dispatcher) dispatch() {
	for len(d.retries) > 0 || len(d.queue) > 0 {
		if d.cfg.MaxInFlight > 0 && len(d.inFlight) >= d.cfg.MaxInFlight {
			return
		}
		if !d.limiter.Allow() {
			return
		}

		var key domain.WorkItemKey
		if len(d.retries) > 0 {
			key, d.retries = d.retries[0], d.retries[1:]
			delete(d.retrying, key)
		} else {
			key, d.queue = d.queue[0], d.queue[1:]
		}
		d.startAttempt(key)
	}
}

func (d *Dispatcher) startAttempt(key domain.WorkItemKey) {
	limits := d.balancer.IssueLimits(key)
	d.registry.MarkPending(key)

	attemptNum := 1
	if rec, ok := d.balancer.Tracked(key); ok {
		attemptNum = rec.Attempt
		d.stat.Counter(stats.DispatcherRetriesCounter).Inc(1)
	}
	d.attempts[key] = attemptNum

	a := &attempt{
		sub: workerapi.Submission{
			Key:          key,
			Limits:       limits,
			Verifier:     d.cfg.Verifier,
			InputArchive: d.archivePath(key),
			Attempt:      attemptNum,
			Nonce:        newNonce(),
		},
		workers:            d.workers,
		stat:               d.stat,
		pollInterval:       d.cfg.PollInterval,
		submitRetryTimeout: d.cfg.SubmitRetryTimeout,
		overhead:           d.cfg.TaskTimeoutOverhead,
	}
	d.inFlight[key] = a
	d.stat.Counter(stats.DispatcherAttemptsCounter).Inc(1)
	log.WithFields(
		log.Fields{
			"item":    key.String(),
			"attempt": attemptNum,
			"limits":  limits.String(),
			"nonce":   a.sub.Nonce,
		}).Info("Dispatching attempt")

	ctx := d.ctx
	d.asyncRunner.RunAsync(
		func() error {
			return a.run(ctx)
		},
		func(err error) {
			d.attemptDone(key, a)
		})
}

// attemptDone runs on the loop goroutine once an attempt returned.
func (d *Dispatcher) attemptDone(key domain.WorkItemKey, a *attempt) {
	delete(d.inFlight, key)
	d.lastAttempt[key] = a
	d.history.add(key, AttemptRecord{
		Attempt:  a.sub.Attempt,
		Nonce:    a.sub.Nonce,
		TaskID:   a.taskID,
		Limits:   a.sub.Limits,
		Status:   a.status,
		Outcome:  a.outcome,
		Started:  a.started,
		Finished: a.finished,
	})
	if d.aborting {
		return
	}

	if a.outcome.Resources == nil {
		d.stat.Counter(stats.DispatcherInfraFailureCounter).Inc(1)
	}
	if !d.balancer.RecordOutcome(key, a.outcome) {
		// waits in the ledger for the next rescheduling pass
		return
	}
	d.registry.MarkFinal(key)

	status := jobtracker.ItemSolved
	if a.outcome.Resources == nil {
		status = jobtracker.ItemError
		d.errs++
	} else {
		d.solved++
	}
	d.reportItem(key, status)
}

// finalizeExhausted records an item the balancer gave up on.
func (d *Dispatcher) finalizeExhausted(key domain.WorkItemKey) {
	d.registry.MarkFinal(key)
	d.limitExhausted++
	d.reportItem(key, jobtracker.ItemLimitExhausted)
}

// checkForCompletion gives up on the items still waiting once nothing else
// can happen: the feed is closed and nothing is queued or running.
func (d *Dispatcher) checkForCompletion() {
	if d.finishing || !d.inputClosed {
		return
	}
	if len(d.queue) > 0 || len(d.retries) > 0 || len(d.inFlight) > 0 {
		return
	}
	for _, key := range d.balancer.Waiting() {
		if d.balancer.GiveUp(key) {
			d.finalizeExhausted(key)
		}
	}
	d.finishing = true
	log.Info("All work items dispatched, waiting for pending reports")
}

// done is true once the loop finished and every report was sent.
func (d *Dispatcher) done() bool {
	return d.finishing && d.asyncRunner.NumRunning() == 0
}

func (d *Dispatcher) reportItem(key domain.WorkItemKey, status jobtracker.ItemStatus) {
	report := jobtracker.ItemReport{
		Key:      key,
		Status:   status,
		Attempts: d.attempts[key],
	}
	if a := d.lastAttempt[key]; a != nil {
		report.Limits = a.sub.Limits
		report.Resources = a.outcome.Resources
		report.LimitReason = a.outcome.LimitReason
		report.Error = a.outcome.Error
	}
	delete(d.lastAttempt, key)
	delete(d.attempts, key)

	log.WithFields(
		log.Fields{
			"item":     key.String(),
			"status":   status,
			"attempts": report.Attempts,
			"limits":   report.Limits.String(),
		}).Info("Item final")

	ctx := d.ctx
	d.asyncRunner.RunAsync(
		func() error {
			return d.tracker.ReportItem(ctx, report)
		},
		func(err error) {
			if err != nil {
				d.stat.Counter(stats.DispatcherReportErrCounter).Inc(1)
				log.Errorf("Reporting %s: %v", report, err)
			}
		})
}

// abort cancels the running attempts and waits for them to return.
func (d *Dispatcher) abort(cancel context.CancelFunc, err error) {
	log.WithFields(
		log.Fields{
			"inFlight": len(d.inFlight),
			"queued":   len(d.queue) + len(d.retries),
			"err":      err,
		}).Error("Aborting dispatch loop")
	d.aborting = true
	cancel()
	for d.asyncRunner.NumRunning() > 0 {
		<-d.asyncRunner.Ready()
		d.asyncRunner.ProcessMessages()
	}
	d.updateStats()
}

func (d *Dispatcher) summarize(abortErr error, elapsed time.Duration) Summary {
	s := Summary{
		Total:          d.registry.Len(),
		Solved:         d.solved,
		LimitExhausted: d.limitExhausted,
		Errors:         d.errs,
		Elapsed:        elapsed,
	}
	s.Incomplete = s.Total - s.Solved - s.LimitExhausted - s.Errors
	if abortErr != nil {
		s.Diagnostic = abortErr.Error()
	}
	s.Status = jobStatus(abortErr != nil, s.Incomplete, s.LimitExhausted)
	log.Infof("Dispatch loop ended: %s", s)

	d.mu.Lock()
	d.snap.Finished = true
	d.mu.Unlock()
	return s
}

// reportJob runs detached from the loop's context so a cancelled job is
// still reported.
func (d *Dispatcher) reportJob(s Summary) {
	ctx, cancel := context.WithTimeout(context.Background(), jobReportTimeout)
	defer cancel()
	if err := d.tracker.ReportJob(ctx, s.jobReport()); err != nil {
		d.stat.Counter(stats.DispatcherReportErrCounter).Inc(1)
		log.Errorf("Reporting job status %s: %v", s.Status, err)
	}
}

func (d *Dispatcher) archivePath(key domain.WorkItemKey) string {
	return path.Join(d.cfg.ArchiveRoot, key.Fragment, key.RequirementClass, key.RequirementName)
}

func (d *Dispatcher) updateStats() {
	d.stat.Gauge(stats.DispatcherInFlightGauge).Update(int64(len(d.inFlight)))
	d.stat.Gauge(stats.DispatcherQueuedGauge).Update(int64(len(d.queue)))

	snap := Snapshot{
		Received:       d.received,
		Queued:         len(d.queue),
		Retrying:       len(d.retries),
		InFlight:       len(d.inFlight),
		Solved:         d.solved,
		LimitExhausted: d.limitExhausted,
		Errors:         d.errs,
		InputClosed:    d.inputClosed,
		Balancer:       d.balancer.Snapshot(),
	}
	d.mu.Lock()
	d.snap = snap
	d.mu.Unlock()
}

// Snapshot returns the state as of the last loop iteration. Safe to call from
// any goroutine.
func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snap
}

// History returns the finished attempts of key, oldest first, as long as the
// item is among the most recently active ones. Safe to call from any goroutine.
func (d *Dispatcher) History(key domain.WorkItemKey) []AttemptRecord {
	return d.history.get(key)
}
