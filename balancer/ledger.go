package balancer

import (
	"sort"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/ldv-klever/klever-scheduler/domain"
)

// LimitRecord is kept for an item from its first limit violation until it
// reaches a final outcome or is given up on.
type LimitRecord struct {
	Status  domain.LimitReason
	Running bool
	Attempt int
	Limits  domain.ResourceLimits

	// set when the item was granted a retry and cleared when it is issued.
	approved bool
}

// ledger holds the mutable per-item state of the Balancer. Not synchronized,
// the Balancer's mutex owns it.
type ledger struct {
	records map[domain.WorkItemKey]*LimitRecord

	// Limits handed out for attempts that have not reported back yet, plus the
	// last issued limits of tracked items.
	issuedLimits map[domain.WorkItemKey]domain.ResourceLimits

	// Number of tracked items per (fragment, class). Zero entries are deleted.
	perPair map[domain.PairKey]int

	running int
}

func newLedger() *ledger {
	return &ledger{
		records:      make(map[domain.WorkItemKey]*LimitRecord),
		issuedLimits: make(map[domain.WorkItemKey]domain.ResourceLimits),
		perPair:      make(map[domain.PairKey]int),
	}
}

func (l *ledger) get(key domain.WorkItemKey) *LimitRecord {
	return l.records[key]
}

// track creates the record for an item that just failed its first attempt.
func (l *ledger) track(key domain.WorkItemKey, limits domain.ResourceLimits) *LimitRecord {
	if rec, ok := l.records[key]; ok {
		return rec
	}
	rec := &LimitRecord{Attempt: 1, Limits: limits}
	l.records[key] = rec
	l.perPair[key.Pair()]++
	return rec
}

// forget drops the record and returns whether there was one.
func (l *ledger) forget(key domain.WorkItemKey) bool {
	rec, ok := l.records[key]
	if !ok {
		return false
	}
	if rec.Running {
		l.running--
	}
	delete(l.records, key)
	pair := key.Pair()
	if l.perPair[pair]--; l.perPair[pair] <= 0 {
		delete(l.perPair, pair)
	}
	return true
}

func (l *ledger) setRunning(rec *LimitRecord, running bool) {
	if rec.Running == running {
		return
	}
	rec.Running = running
	if running {
		l.running++
	} else {
		l.running--
	}
}

func (l *ledger) issue(key domain.WorkItemKey, limits domain.ResourceLimits) {
	l.issuedLimits[key] = limits
}

func (l *ledger) issued(key domain.WorkItemKey) (domain.ResourceLimits, bool) {
	limits, ok := l.issuedLimits[key]
	return limits, ok
}

func (l *ledger) clearIssued(key domain.WorkItemKey) {
	delete(l.issuedLimits, key)
}

func (l *ledger) trackedInPair(pair domain.PairKey) int {
	return l.perPair[pair]
}

func (l *ledger) len() int {
	return len(l.records)
}

func (l *ledger) numRunning() int {
	return l.running
}

func (l *ledger) numInFlight() int {
	n := 0
	for key := range l.issuedLimits {
		if rec, ok := l.records[key]; !ok || rec.Running {
			n++
		}
	}
	return n
}

// waiting returns tracked items that are not running, ordered by key.
func (l *ledger) waiting() []domain.WorkItemKey {
	keys := make([]domain.WorkItemKey, 0, len(l.records)-l.running)
	for key, rec := range l.records {
		if !rec.Running {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
	return keys
}

// waitingCPU is the CPU time every waiting item would consume if it were
// retried once at its current limits.
func (l *ledger) waitingCPU() time.Duration {
	var sum time.Duration
	for _, rec := range l.records {
		if !rec.Running {
			sum += rec.Limits.CPUTime
		}
	}
	return sum
}

func (l *ledger) dump() string {
	return spew.Sdump(l.records)
}

func lessKey(a, b domain.WorkItemKey) bool {
	if a.Fragment != b.Fragment {
		return a.Fragment < b.Fragment
	}
	if a.RequirementClass != b.RequirementClass {
		return a.RequirementClass < b.RequirementClass
	}
	return a.RequirementName < b.RequirementName
}
