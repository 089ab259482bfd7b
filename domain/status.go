package domain

import (
	"fmt"
	"strings"
)

// LimitReason says which resource limit, if any, stopped an attempt.
type LimitReason int

const (
	NoLimit LimitReason = iota
	Timeout
	OutOfMemory
)

var limitReasonNames = [...]string{"none", "timeout", "out_of_memory"}

func (r LimitReason) String() string {
	if r < 0 || int(r) >= len(limitReasonNames) {
		return fmt.Sprintf("LimitReason(%d)", int(r))
	}
	return limitReasonNames[r]
}

// IsLimitViolation is true for the reasons that make an item a candidate for
// rescheduling with larger limits.
func (r LimitReason) IsLimitViolation() bool {
	return r == Timeout || r == OutOfMemory
}

func (r LimitReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *LimitReason) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "none":
		*r = NoLimit
	case "timeout", "cpu time exhausted", "wall time exhausted":
		*r = Timeout
	case "out_of_memory", "oom", "memory exhausted":
		*r = OutOfMemory
	default:
		return fmt.Errorf("unknown limit reason %q", string(text))
	}
	return nil
}

// TaskStatus is the state of a submitted attempt at the worker pool.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskProcessing
	TaskFinished
	TaskError
	TaskCancelled
)

var taskStatusNames = [...]string{"PENDING", "PROCESSING", "FINISHED", "ERROR", "CANCELLED"}

func (s TaskStatus) String() string {
	if s < 0 || int(s) >= len(taskStatusNames) {
		return fmt.Sprintf("TaskStatus(%d)", int(s))
	}
	return taskStatusNames[s]
}

// IsDone is true once the worker pool will not change the status again.
func (s TaskStatus) IsDone() bool {
	return s == TaskFinished || s == TaskError || s == TaskCancelled
}

func (s TaskStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TaskStatus) UnmarshalText(text []byte) error {
	for i, n := range taskStatusNames {
		if strings.EqualFold(n, string(text)) {
			*s = TaskStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown task status %q", string(text))
}

// JobStatus summarizes a finished dispatch loop.
type JobStatus int

const (
	// Every item reached a final outcome without running out of budget.
	AllSolved JobStatus = iota

	// Every item is final but some were given up after exhausting their limits.
	SolvedWithSomeBudgetExhausted

	// The loop stopped with items still in flight or on a bookkeeping error.
	Failed
)

func (s JobStatus) String() string {
	switch s {
	case AllSolved:
		return "AllSolved"
	case SolvedWithSomeBudgetExhausted:
		return "SolvedWithSomeBudgetExhausted"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("JobStatus(%d)", int(s))
}

func (s JobStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *JobStatus) UnmarshalText(text []byte) error {
	for _, st := range []JobStatus{AllSolved, SolvedWithSomeBudgetExhausted, Failed} {
		if strings.EqualFold(st.String(), string(text)) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown job status %q", string(text))
}
