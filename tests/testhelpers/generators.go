package testhelpers

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/ldv-klever/klever-scheduler/domain"
)

// generates a new random number seeded with
func NewRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// Test Helpers that are useful for generating work items of a job
// to help with testing the balancer and the dispatcher

// GenWorkItems returns every combination of the given number of fragments,
// requirement classes and requirement names, ordered by fragment, class, name.
func GenWorkItems(fragments, classes, names int) []domain.WorkItemKey {
	items := make([]domain.WorkItemKey, 0, fragments*classes*names)
	for f := 0; f < fragments; f++ {
		for c := 0; c < classes; c++ {
			for n := 0; n < names; n++ {
				items = append(items, domain.NewWorkItemKey(
					fmt.Sprintf("drivers/fragment%d.ko", f),
					fmt.Sprintf("class%d", c),
					fmt.Sprintf("req%d", n)))
			}
		}
	}
	return items
}

// GenRandomWorkItems returns n distinct work items spread over a random
// number of (fragment, class) pairs, in random order.
func GenRandomWorkItems(rng *rand.Rand, n int) []domain.WorkItemKey {
	pairs := rng.Intn(n) + 1
	seen := map[domain.WorkItemKey]bool{}
	items := make([]domain.WorkItemKey, 0, n)
	for len(items) < n {
		p := rng.Intn(pairs)
		k := domain.NewWorkItemKey(
			fmt.Sprintf("drivers/fragment%d.ko", p),
			fmt.Sprintf("class%d", p%3),
			"rand-"+GenRandomAlphaNumericString(rng))
		if seen[k] {
			continue
		}
		seen[k] = true
		items = append(items, k)
	}
	return items
}

// GenResourceUsage returns a usage with a CPU time in (0, max].
func GenResourceUsage(rng *rand.Rand, max time.Duration) *domain.ResourceUsage {
	cpu := time.Duration(rng.Int63n(int64(max))) + 1
	return &domain.ResourceUsage{
		CPUTime:    cpu,
		WallTime:   cpu + time.Duration(rng.Int63n(int64(cpu))),
		MemorySize: rng.Int63n(1<<30) + 1,
	}
}

// Generates an AlphaNumericString of random length (0, 21]
func GenRandomAlphaNumericString(rng *rand.Rand) string {
	const chars = "abcdefghijklmnopqrstuvwxyz0123456789"
	length := rng.Intn(20) + 1
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		result[i] = chars[rng.Intn(len(chars))]
	}

	return string(result)
}
