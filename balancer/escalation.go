package balancer

import (
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ldv-klever/klever-scheduler/common/stats"
	"github.com/ldv-klever/klever-scheduler/domain"
)

// escalationPass caches the factor shared by every item re-queued while the
// set of waiting items stays the same.
type escalationPass struct {
	epoch    uint64
	computed bool
	factor   float64
	waiting  time.Duration
	budget   time.Duration
}

// RequestRescheduling decides whether a tracked, waiting item gets another
// attempt. On yes its CPU time limit is multiplied by the pass's escalation
// factor (wall time scaled by the same ratio) and its attempt count is
// returned; the new limits are handed out by the next IssueLimits.
//
// Asking twice before the item is issued does not escalate it twice.
func (b *Balancer) RequestRescheduling(key domain.WorkItemKey) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := b.ledger.get(key)
	if rec == nil || rec.Running {
		return 0, false
	}
	if rec.approved {
		return rec.Attempt, true
	}
	if !b.firstPassComplete() || b.qos.CPUTime == 0 {
		return 0, false
	}
	if b.timeRemaining(nil) <= 0 {
		return 0, false
	}

	factor, err := b.escalationFactor()
	if err != nil {
		return 0, false
	}
	if factor <= 1 {
		log.WithFields(
			log.Fields{
				"item":    key.String(),
				"factor":  factor,
				"waiting": b.pass.waiting,
				"budget":  b.pass.budget,
			}).Debug("Remaining budget too small to escalate item")
		return 0, false
	}

	old := rec.Limits
	newCPU := scaleDuration(old.CPUTime, factor)
	if newCPU <= old.CPUTime {
		return 0, false
	}
	// Every waiting item counted as solved when its last attempt reported.
	if b.solved == 0 {
		b.invariant("RequestRescheduling", "no solved item to re-queue %s from", key)
		return 0, false
	}
	rec.Limits.CPUTime = newCPU
	if old.WallTime > 0 {
		rec.Limits.WallTime = time.Duration(float64(old.WallTime) * float64(newCPU) / float64(old.CPUTime))
	}
	rec.approved = true

	// The item goes back to unsolved until its next attempt reports.
	b.solved--

	b.stat.Counter(stats.BalancerRescheduledCounter).Inc(1)
	log.WithFields(
		log.Fields{
			"item":    key.String(),
			"attempt": rec.Attempt,
			"status":  rec.Status,
			"factor":  factor,
			"oldCPU":  old.CPUTime,
			"newCPU":  rec.Limits.CPUTime,
			"newWall": rec.Limits.WallTime,
		}).Info("Rescheduling item with escalated limits")
	return rec.Attempt, true
}

// escalationFactor returns the factor of the current pass, computing it on
// the first request of the pass.
func (b *Balancer) escalationFactor() (float64, error) {
	if b.pass.computed && b.pass.epoch == b.epoch {
		return b.pass.factor, nil
	}

	waiting := b.ledger.waitingCPU()
	budget := b.timeRemaining(nil)
	if waiting <= 0 {
		return 0, b.invariant("escalationFactor", "no cpu time accounted to %d waiting items", len(b.ledger.waiting()))
	}
	if budget < 0 {
		return 0, b.invariant("escalationFactor", "negative time remaining %s", budget)
	}

	factor := b.minStep
	if float64(waiting)*b.minStep >= float64(budget) {
		factor = float64(budget) / float64(waiting)
	}

	b.pass = escalationPass{
		epoch:    b.epoch,
		computed: true,
		factor:   factor,
		waiting:  waiting,
		budget:   budget,
	}
	b.stat.GaugeFloat(stats.BalancerEscalationFactorGauge).Update(factor)
	log.WithFields(
		log.Fields{
			"factor":  factor,
			"waiting": waiting,
			"budget":  budget,
			"items":   b.ledger.len() - b.ledger.numRunning(),
		}).Info("Computed escalation factor")
	return factor, nil
}

// scaleDuration multiplies d by f rounding to whole seconds, or to
// milliseconds for sub-second limits.
func scaleDuration(d time.Duration, f float64) time.Duration {
	unit := time.Second
	if d < time.Second {
		unit = time.Millisecond
	}
	return time.Duration(math.Round(float64(d)*f/float64(unit))) * unit
}
