package balancer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ldv-klever/klever-scheduler/domain"
)

func Test_Registry_AddIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	assert.True(t, reg.Add(key("f1", "c1", "n1")))
	assert.False(t, reg.Add(key("f1", "c1", "n1")))
	assert.True(t, reg.Add(key("f1", "c1", "n2")))
	assert.Equal(t, 2, reg.Len())

	st, ok := reg.State(key("f1", "c1", "n1"))
	assert.True(t, ok)
	assert.Equal(t, domain.NotDispatched, st)

	_, ok = reg.State(key("f1", "c2", "n1"))
	assert.False(t, ok)
}

func Test_Registry_FinalIsTerminal(t *testing.T) {
	reg := NewRegistry()
	k := key("f1", "c1", "n1")
	reg.Add(k)

	assert.True(t, reg.MarkPending(k))
	assert.True(t, reg.MarkFinal(k))
	assert.False(t, reg.MarkPending(k))
	assert.False(t, reg.MarkFinal(k))

	st, _ := reg.State(k)
	assert.Equal(t, domain.Final, st)

	assert.False(t, reg.MarkFinal(key("unknown", "c", "n")))
}

func Test_Registry_CountsAndPairs(t *testing.T) {
	reg := NewRegistry()
	reg.Add(key("f1", "c1", "a"))
	reg.Add(key("f1", "c1", "b"))
	reg.Add(key("f1", "c2", "a"))
	reg.Add(key("f2", "c1", "a"))
	reg.MarkPending(key("f1", "c1", "a"))
	reg.MarkFinal(key("f2", "c1", "a"))

	assert.Equal(t, map[domain.ItemState]int{
		domain.NotDispatched: 2,
		domain.Pending:       1,
		domain.Final:         1,
	}, reg.Counts())

	pairs := map[domain.PairKey]int{}
	reg.EachPair(func(pair domain.PairKey, names map[string]domain.ItemState) bool {
		pairs[pair] = len(names)
		return true
	})
	assert.Equal(t, map[domain.PairKey]int{
		{Fragment: "f1", RequirementClass: "c1"}: 2,
		{Fragment: "f1", RequirementClass: "c2"}: 1,
		{Fragment: "f2", RequirementClass: "c1"}: 1,
	}, pairs)

	visited := 0
	reg.EachPair(func(domain.PairKey, map[string]domain.ItemState) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}

func Test_Registry_ConcurrentAdd(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Add(key("f", string(rune('a'+i)), string(rune('a'+j%26))+string(rune('a'+j/26))))
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 800, reg.Len())
}
