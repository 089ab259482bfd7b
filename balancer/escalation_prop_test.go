package balancer

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ldv-klever/klever-scheduler/domain"
)

type escalationCase struct {
	b     *Balancer
	reg   *Registry
	clock *fakeClock
	keys  []domain.WorkItemKey
}

func makeEscalationCase(items, cpuSec, budgetSec int, step float64) *escalationCase {
	clock := &fakeClock{now: epoch}
	reg := NewRegistry()
	var keys []domain.WorkItemKey
	for i := 0; i < items; i++ {
		k := key(fmt.Sprintf("fragment%d", i%3), "class", fmt.Sprintf("item%d", i))
		reg.Add(k)
		keys = append(keys, k)
	}
	b, _ := New(Config{
		QoS:            domain.ResourceLimits{CPUTime: time.Duration(cpuSec) * time.Second},
		WallTimeBudget: time.Duration(budgetSec) * time.Second,
		MinStepFactor:  step,
	}, reg, WithClock(clock.Now))

	for _, k := range keys {
		reg.MarkPending(k)
		limits := b.IssueLimits(k)
		b.RecordOutcome(k, timedOut(limits.CPUTime))
	}
	return &escalationCase{b: b, reg: reg, clock: clock, keys: keys}
}

// pass asks for rescheduling of every waiting item and checks that limits
// only grow and that the sum of escalated limits fits the budget.
func (c *escalationCase) pass() bool {
	budget := c.b.TimeRemaining(nil)
	var granted time.Duration
	rescheduled := 0
	for _, k := range c.b.Waiting() {
		before, _ := c.b.Tracked(k)
		_, ok := c.b.RequestRescheduling(k)
		after, _ := c.b.Tracked(k)
		if !ok {
			if after.Limits != before.Limits {
				return false
			}
			continue
		}
		if after.Limits.CPUTime <= before.Limits.CPUTime {
			return false
		}
		granted += after.Limits.CPUTime
		rescheduled++
	}
	slack := time.Duration(rescheduled) * time.Second
	return granted <= budget+slack && c.b.Err() == nil
}

// rerun issues every approved item and times it out again.
func (c *escalationCase) rerun(elapsed time.Duration) {
	for _, k := range c.b.Waiting() {
		if rec, ok := c.b.Tracked(k); ok && rec.approved {
			limits := c.b.IssueLimits(k)
			c.b.RecordOutcome(k, timedOut(limits.CPUTime))
		}
	}
	c.clock.Advance(elapsed)
	for _, k := range c.b.Waiting() {
		c.b.ShouldKeepTracking(k)
	}
}

func Test_Escalation_MonotonicWithinBudget(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("escalated limits grow and fit the remaining budget", prop.ForAll(
		func(items, cpuSec, budgetSec int, step float64, elapsedPct int) bool {
			c := makeEscalationCase(items, cpuSec, budgetSec, step)
			elapsed := time.Duration(budgetSec) * time.Second * time.Duration(elapsedPct) / 100
			c.clock.Advance(elapsed / 2)
			if !c.pass() {
				return false
			}
			c.rerun(elapsed / 2)
			return c.pass()
		},
		gen.IntRange(1, 12),
		gen.IntRange(1, 300),
		gen.IntRange(1, 5000),
		gen.Float64Range(1.0, 3.0),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func Test_Escalation_SolvedNeverExceedsTotal(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("solved count stays within total", prop.ForAll(
		func(items, budgetSec int) bool {
			c := makeEscalationCase(items, 10, budgetSec, 1.5)
			c.pass()
			c.rerun(0)
			c.pass()
			for _, k := range c.b.Waiting() {
				if _, ok := c.b.RequestRescheduling(k); ok {
					c.b.IssueLimits(k)
					c.b.RecordOutcome(k, solved(time.Second))
				}
			}
			total, solvedCount, rest, err := c.b.Progress()
			return err == nil && solvedCount <= total && rest >= 0
		},
		gen.IntRange(1, 12),
		gen.IntRange(1, 2000),
	))

	properties.TestingRun(t)
}
