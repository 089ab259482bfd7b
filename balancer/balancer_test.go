package balancer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldv-klever/klever-scheduler/common/stats"
	"github.com/ldv-klever/klever-scheduler/domain"
)

var (
	itemA = key("fragment1", "class1", "a")
	itemB = key("fragment1", "class1", "b")
)

func Test_New_RejectsBadConfig(t *testing.T) {
	_, err := New(Config{MinStepFactor: 0.5}, nil)
	assert.Error(t, err)
	_, err = New(Config{WallTimeBudget: -time.Second}, nil)
	assert.Error(t, err)
	_, err = New(Config{QoS: domain.ResourceLimits{CPUTime: -time.Second}}, nil)
	assert.Error(t, err)

	b, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMinStepFactor, b.minStep)
	assert.NotNil(t, b.registry)
}

// No wall budget means no retries, whatever the first pass says.
func Test_Balancer_NoBudgetNeverReschedules(t *testing.T) {
	qos := domain.ResourceLimits{CPUTime: 600 * time.Second}
	b, reg, _ := newTestBalancer(t, Config{QoS: qos}, itemA)

	assert.Equal(t, qos, b.IssueLimits(itemA))
	assert.Equal(t, time.Duration(0), b.TimeRemaining(nil))

	reg.MarkPending(itemA)
	assert.False(t, b.RecordOutcome(itemA, timedOut(600*time.Second)))
	assert.True(t, b.FirstPassComplete())

	_, ok := b.RequestRescheduling(itemA)
	assert.False(t, ok)
	assert.False(t, b.ShouldKeepTracking(itemA))
	_, tracked := b.Tracked(itemA)
	assert.False(t, tracked)

	assert.Equal(t, qos, b.IssueLimits(itemA))
}

func Test_Balancer_EscalatesByMinStep(t *testing.T) {
	cfg := Config{
		QoS:            domain.ResourceLimits{CPUTime: 100 * time.Second},
		WallTimeBudget: 1000 * time.Second,
		MinStepFactor:  2.0,
	}
	b, reg, _ := newTestBalancer(t, cfg, itemA, itemB)
	assert.Equal(t, 1000*time.Second, b.TimeRemaining(nil))

	timeOutAll(t, b, reg, itemA, itemB)
	require.True(t, b.FirstPassComplete())

	for _, k := range []domain.WorkItemKey{itemA, itemB} {
		attempt, ok := b.RequestRescheduling(k)
		require.True(t, ok, k.String())
		assert.Equal(t, 1, attempt)
		rec, _ := b.Tracked(k)
		assert.Equal(t, 200*time.Second, rec.Limits.CPUTime)
	}
	assert.Equal(t, 2.0, b.Snapshot().LastFactor)
}

func Test_Balancer_EscalationShrinksToBudget(t *testing.T) {
	cfg := Config{
		QoS:            domain.ResourceLimits{CPUTime: 100 * time.Second},
		WallTimeBudget: 1000 * time.Second,
		MinStepFactor:  2.0,
	}
	b, reg, clock := newTestBalancer(t, cfg, itemA, itemB)
	timeOutAll(t, b, reg, itemA, itemB)
	clock.Advance(750 * time.Second)
	require.Equal(t, 250*time.Second, b.TimeRemaining(nil))

	for _, k := range []domain.WorkItemKey{itemA, itemB} {
		_, ok := b.RequestRescheduling(k)
		require.True(t, ok)
		rec, _ := b.Tracked(k)
		assert.Equal(t, 125*time.Second, rec.Limits.CPUTime)
	}
}

func Test_Balancer_WallTimeScaledWithCPU(t *testing.T) {
	cfg := Config{
		QoS:            domain.ResourceLimits{CPUTime: 100 * time.Second, WallTime: 300 * time.Second},
		WallTimeBudget: 1000 * time.Second,
		MinStepFactor:  2.0,
	}
	b, reg, _ := newTestBalancer(t, cfg, itemA)
	timeOutAll(t, b, reg, itemA)

	_, ok := b.RequestRescheduling(itemA)
	require.True(t, ok)
	rec, _ := b.Tracked(itemA)
	assert.Equal(t, 200*time.Second, rec.Limits.CPUTime)
	assert.Equal(t, 600*time.Second, rec.Limits.WallTime)
}

func Test_Balancer_OutOfMemoryEscalatesCPU(t *testing.T) {
	cfg := Config{
		QoS:            domain.ResourceLimits{CPUTime: 100 * time.Second, MemorySize: 1 << 30},
		WallTimeBudget: 1000 * time.Second,
		MinStepFactor:  2.0,
	}
	b, reg, _ := newTestBalancer(t, cfg, itemA)
	reg.MarkPending(itemA)
	b.IssueLimits(itemA)
	assert.False(t, b.RecordOutcome(itemA, domain.Outcome{
		Terminated:  true,
		Resources:   usage(10 * time.Second),
		LimitReason: domain.OutOfMemory,
	}))

	rec, ok := b.Tracked(itemA)
	require.True(t, ok)
	assert.Equal(t, domain.OutOfMemory, rec.Status)

	_, ok = b.RequestRescheduling(itemA)
	require.True(t, ok)
	rec, _ = b.Tracked(itemA)
	assert.Equal(t, 200*time.Second, rec.Limits.CPUTime)
	assert.Equal(t, int64(1<<30), rec.Limits.MemorySize)
}

func Test_Balancer_FirstPassGate(t *testing.T) {
	cfg := Config{
		QoS:            domain.ResourceLimits{CPUTime: 100 * time.Second},
		WallTimeBudget: 1000 * time.Second,
	}
	itemC := key("fragment2", "class1", "c")
	b, reg, _ := newTestBalancer(t, cfg, itemA, itemB, itemC)

	timeOutAll(t, b, reg, itemA)
	assert.False(t, b.FirstPassComplete(), "b is neither final nor tracked")
	_, ok := b.RequestRescheduling(itemA)
	assert.False(t, ok)

	reg.MarkPending(itemB)
	b.IssueLimits(itemB)
	assert.True(t, b.RecordOutcome(itemB, solved(time.Second)))
	reg.MarkFinal(itemB)
	assert.False(t, b.FirstPassComplete(), "pair of c is still open")

	reg.MarkPending(itemC)
	b.IssueLimits(itemC)
	b.RecordOutcome(itemC, infraFailure())
	reg.MarkFinal(itemC)
	assert.True(t, b.FirstPassComplete())

	// latched
	reg.Add(key("fragment3", "class1", "d"))
	assert.True(t, b.FirstPassComplete())
	_, ok = b.RequestRescheduling(itemA)
	assert.True(t, ok)
}

func Test_Balancer_RequestTwiceDoesNotCompound(t *testing.T) {
	cfg := Config{
		QoS:            domain.ResourceLimits{CPUTime: 100 * time.Second},
		WallTimeBudget: 1000 * time.Second,
		MinStepFactor:  2.0,
	}
	b, reg, _ := newTestBalancer(t, cfg, itemA)
	timeOutAll(t, b, reg, itemA)

	_, ok := b.RequestRescheduling(itemA)
	require.True(t, ok)
	attempt, ok := b.RequestRescheduling(itemA)
	require.True(t, ok)
	assert.Equal(t, 1, attempt)

	limits := b.IssueLimits(itemA)
	assert.Equal(t, 200*time.Second, limits.CPUTime)
	rec, _ := b.Tracked(itemA)
	assert.Equal(t, 2, rec.Attempt)
	assert.True(t, rec.Running)
	assert.True(t, b.Running(itemA))
	assert.Empty(t, b.Waiting())

	// running items are never rescheduled
	_, ok = b.RequestRescheduling(itemA)
	assert.False(t, ok)
}

func Test_Balancer_IssueWhileRunningKeepsAttempt(t *testing.T) {
	cfg := Config{
		QoS:            domain.ResourceLimits{CPUTime: 100 * time.Second},
		WallTimeBudget: 1000 * time.Second,
		MinStepFactor:  2.0,
	}
	b, reg, _ := newTestBalancer(t, cfg, itemA)
	timeOutAll(t, b, reg, itemA)
	b.RequestRescheduling(itemA)

	first := b.IssueLimits(itemA)
	second := b.IssueLimits(itemA)
	assert.Equal(t, first, second)
	rec, _ := b.Tracked(itemA)
	assert.Equal(t, 2, rec.Attempt)
}

func Test_Balancer_SolvedAfterEscalation(t *testing.T) {
	cfg := Config{
		QoS:            domain.ResourceLimits{CPUTime: 100 * time.Second},
		WallTimeBudget: 1000 * time.Second,
		MinStepFactor:  2.0,
	}
	b, reg, _ := newTestBalancer(t, cfg, itemA, itemB)
	timeOutAll(t, b, reg, itemA, itemB)

	_, solvedCount, rest, err := b.Progress()
	require.NoError(t, err)
	assert.Equal(t, 2, solvedCount)
	assert.Equal(t, 0, rest)

	b.RequestRescheduling(itemA)
	_, solvedCount, rest, _ = b.Progress()
	assert.Equal(t, 1, solvedCount)
	assert.Equal(t, 1, rest)

	b.IssueLimits(itemA)
	assert.True(t, b.RecordOutcome(itemA, solved(150*time.Second)))
	_, tracked := b.Tracked(itemA)
	assert.False(t, tracked)
	assert.False(t, b.Running(itemA))
	assert.Equal(t, []domain.WorkItemKey{itemB}, b.Waiting())

	total, solvedCount, rest, err := b.Progress()
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, solvedCount)
	assert.Equal(t, 0, rest)
	assert.NoError(t, b.Err())
}

func Test_Balancer_GivesUpWhenBudgetRunsOut(t *testing.T) {
	cfg := Config{
		QoS:            domain.ResourceLimits{CPUTime: 100 * time.Second},
		WallTimeBudget: 1000 * time.Second,
		MinStepFactor:  2.0,
	}
	b, reg, clock := newTestBalancer(t, cfg, itemA, itemB)
	timeOutAll(t, b, reg, itemA, itemB)
	assert.True(t, b.ShouldKeepTracking(itemA))

	_, ok := b.RequestRescheduling(itemA)
	require.True(t, ok)

	// a now needs 200s * 2 of budget, b needs 100s * 2
	clock.Advance(700 * time.Second)
	assert.False(t, b.ShouldKeepTracking(itemA))
	assert.True(t, b.ShouldKeepTracking(itemB))
	assert.False(t, b.ShouldKeepTracking(itemA), "forgotten items are not tracked")

	_, solvedCount, _, err := b.Progress()
	require.NoError(t, err)
	assert.Equal(t, 2, solvedCount, "given up item counts as settled again")
	assert.Equal(t, []domain.WorkItemKey{itemB}, b.Waiting())
}

func Test_Balancer_RunningItemIsKeptTracking(t *testing.T) {
	cfg := Config{
		QoS:            domain.ResourceLimits{CPUTime: 100 * time.Second},
		WallTimeBudget: 1000 * time.Second,
		MinStepFactor:  2.0,
	}
	b, reg, clock := newTestBalancer(t, cfg, itemA)
	timeOutAll(t, b, reg, itemA)
	b.RequestRescheduling(itemA)
	b.IssueLimits(itemA)

	clock.Advance(2000 * time.Second)
	assert.True(t, b.ShouldKeepTracking(itemA))
	assert.Equal(t, time.Duration(0), b.TimeRemaining(nil))
}

func Test_Balancer_InfraFailureIsFinal(t *testing.T) {
	cfg := Config{
		QoS:            domain.ResourceLimits{CPUTime: 100 * time.Second},
		WallTimeBudget: 1000 * time.Second,
		MinStepFactor:  2.0,
	}
	b, reg, _ := newTestBalancer(t, cfg, itemA)
	timeOutAll(t, b, reg, itemA)
	b.RequestRescheduling(itemA)
	b.IssueLimits(itemA)

	assert.True(t, b.RecordOutcome(itemA, infraFailure()))
	_, tracked := b.Tracked(itemA)
	assert.False(t, tracked)
	assert.False(t, b.Running(itemA))
}

func Test_Balancer_TimeRemainingForLimit(t *testing.T) {
	cfg := Config{
		QoS:            domain.ResourceLimits{CPUTime: 100 * time.Second},
		WallTimeBudget: 1000 * time.Second,
		MinStepFactor:  2.0,
	}
	b, _, clock := newTestBalancer(t, cfg)

	limit := &domain.ResourceLimits{CPUTime: 400 * time.Second}
	assert.Equal(t, 1000*time.Second, b.TimeRemaining(limit))
	clock.Advance(200 * time.Second)
	assert.Equal(t, time.Duration(0), b.TimeRemaining(limit))
	assert.Equal(t, 800*time.Second, b.TimeRemaining(nil))

	clock.Advance(900 * time.Second)
	assert.Equal(t, time.Duration(0), b.TimeRemaining(nil))
}

func Test_Balancer_StartTimeAnchorsDeadline(t *testing.T) {
	clock := &fakeClock{now: epoch}
	b, err := New(Config{WallTimeBudget: time.Hour}, nil,
		WithClock(clock.Now), WithStartTime(epoch.Add(-20*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, 40*time.Minute, b.TimeRemaining(nil))

	snap := b.Snapshot()
	require.NotNil(t, snap.Deadline)
	assert.Equal(t, epoch.Add(40*time.Minute), *snap.Deadline)
}

func Test_Balancer_SolvedBeyondTotalLatchesError(t *testing.T) {
	b, reg, _ := newTestBalancer(t, Config{}, itemA, itemB)
	for _, k := range []domain.WorkItemKey{itemA, itemB} {
		reg.MarkPending(k)
		b.IssueLimits(k)
		b.RecordOutcome(k, solved(time.Second))
	}
	require.NoError(t, b.Err())

	b.SetTotalItems(1)
	var invErr *InvariantError
	require.True(t, errors.As(b.Err(), &invErr))
	assert.Equal(t, "SetTotalItems", invErr.Op)

	_, _, rest, err := b.Progress()
	assert.Equal(t, -1, rest)
	assert.Error(t, err)

	// the first error stays
	assert.Equal(t, "SetTotalItems", b.Err().(*InvariantError).Op)
}

func Test_Balancer_RequeueWithoutSolvedLatchesError(t *testing.T) {
	cfg := Config{
		QoS:            domain.ResourceLimits{CPUTime: 100 * time.Second},
		WallTimeBudget: 1000 * time.Second,
	}
	b, reg, _ := newTestBalancer(t, cfg, itemA)
	timeOutAll(t, b, reg, itemA)
	require.Equal(t, 1, b.solved)

	// lose the count the timeout reported
	b.solved = 0
	_, ok := b.RequestRescheduling(itemA)
	assert.False(t, ok)

	var invErr *InvariantError
	require.True(t, errors.As(b.Err(), &invErr))
	assert.Equal(t, "RequestRescheduling", invErr.Op)
	assert.Equal(t, 0, b.solved)
	rec, _ := b.Tracked(itemA)
	assert.Equal(t, 100*time.Second, rec.Limits.CPUTime)
}

func Test_Balancer_SolvedPairDoesNotBlockFirstPass(t *testing.T) {
	cfg := Config{
		QoS:            domain.ResourceLimits{CPUTime: 100 * time.Second},
		WallTimeBudget: 1000 * time.Second,
	}
	other := key("fragment2", "class1", "a")
	b, reg, _ := newTestBalancer(t, cfg, itemA, other)

	reg.MarkPending(other)
	b.IssueLimits(other)
	require.True(t, b.RecordOutcome(other, solved(time.Second)))
	reg.MarkFinal(other)
	assert.False(t, b.FirstPassComplete())

	timeOutAll(t, b, reg, itemA)
	assert.True(t, b.FirstPassComplete())
	_, ok := b.RequestRescheduling(itemA)
	assert.True(t, ok)
}

func Test_Balancer_Stats(t *testing.T) {
	stat, cancel := stats.NewCustomStatsReceiver(nil, 0)
	defer cancel()

	cfg := Config{
		QoS:            domain.ResourceLimits{CPUTime: 100 * time.Second},
		WallTimeBudget: 1000 * time.Second,
		MinStepFactor:  2.0,
	}
	reg := NewRegistry()
	reg.Add(itemA)
	clock := &fakeClock{now: epoch}
	b, err := New(cfg, reg, WithClock(clock.Now), WithStats(stat))
	require.NoError(t, err)

	timeOutAll(t, b, reg, itemA)
	b.RequestRescheduling(itemA)

	assert.Equal(t, int64(1), stat.Counter(stats.BalancerSolvedCounter).Count())
	assert.Equal(t, int64(1), stat.Counter(stats.BalancerTimeoutCounter).Count())
	assert.Equal(t, int64(1), stat.Counter(stats.BalancerRescheduledCounter).Count())
	assert.Equal(t, int64(1), stat.Gauge(stats.BalancerTrackedItemsGauge).Value())
	assert.Equal(t, int64(1), stat.Gauge(stats.BalancerFirstPassCompleteGauge).Value())
	assert.Equal(t, 2.0, stat.GaugeFloat(stats.BalancerEscalationFactorGauge).Value())
}

func Test_ScaleDuration(t *testing.T) {
	assert.Equal(t, 125*time.Second, scaleDuration(100*time.Second, 1.25))
	assert.Equal(t, 3*time.Second, scaleDuration(3*time.Second, 1.1))
	assert.Equal(t, 625*time.Millisecond, scaleDuration(500*time.Millisecond, 1.25))
}

func Test_Balancer_GiveUp(t *testing.T) {
	cfg := Config{
		QoS:            domain.ResourceLimits{CPUTime: 100 * time.Second},
		WallTimeBudget: 1000 * time.Second,
		MinStepFactor:  2.0,
	}
	b, reg, _ := newTestBalancer(t, cfg, itemA, itemB)
	timeOutAll(t, b, reg, itemA, itemB)
	b.RequestRescheduling(itemB)
	b.IssueLimits(itemB)

	assert.True(t, b.GiveUp(itemA))
	assert.False(t, b.GiveUp(itemA))
	assert.False(t, b.GiveUp(itemB), "running items are not given up")
	assert.Empty(t, b.Waiting())
}
