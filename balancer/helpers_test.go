package balancer

import (
	"testing"
	"time"

	klog "github.com/ldv-klever/klever-scheduler/common/log"
	"github.com/ldv-klever/klever-scheduler/domain"
)

func init() {
	klog.ConfigureFromEnv()
}

var epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func key(fragment, class, name string) domain.WorkItemKey {
	return domain.NewWorkItemKey(fragment, class, name)
}

func usage(cpu time.Duration) *domain.ResourceUsage {
	return &domain.ResourceUsage{CPUTime: cpu, WallTime: cpu, MemorySize: 1 << 20}
}

func timedOut(cpu time.Duration) domain.Outcome {
	return domain.Outcome{Terminated: true, Resources: usage(cpu), LimitReason: domain.Timeout}
}

func solved(cpu time.Duration) domain.Outcome {
	return domain.Outcome{Resources: usage(cpu)}
}

func infraFailure() domain.Outcome {
	return domain.Outcome{Error: "worker lost"}
}

// newTestBalancer registers keys and returns a balancer on a frozen clock.
func newTestBalancer(t *testing.T, cfg Config, keys ...domain.WorkItemKey) (*Balancer, *Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: epoch}
	reg := NewRegistry()
	for _, k := range keys {
		reg.Add(k)
	}
	b, err := New(cfg, reg, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("failed to create balancer: %v", err)
	}
	return b, reg, clock
}

// timeOutAll runs a first attempt of every key that ends on the cpu limit.
func timeOutAll(t *testing.T, b *Balancer, reg *Registry, keys ...domain.WorkItemKey) {
	t.Helper()
	for _, k := range keys {
		reg.MarkPending(k)
		limits := b.IssueLimits(k)
		if final := b.RecordOutcome(k, timedOut(limits.CPUTime)); final {
			t.Fatalf("timeout of %s should not be final", k)
		}
	}
}
