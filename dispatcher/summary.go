package dispatcher

import (
	"fmt"
	"time"

	"github.com/ldv-klever/klever-scheduler/common/errors"
	"github.com/ldv-klever/klever-scheduler/domain"
	"github.com/ldv-klever/klever-scheduler/jobtracker"
)

// Summary is the outcome of one dispatch loop.
// Total = Solved + LimitExhausted + Errors + Incomplete.
type Summary struct {
	Status         domain.JobStatus
	Total          int
	Solved         int
	LimitExhausted int
	Errors         int
	Incomplete     int
	Elapsed        time.Duration
	Diagnostic     string
}

func (s Summary) String() string {
	return fmt.Sprintf("Summary: %s, total: %d, solved: %d, limitExhausted: %d, errors: %d, incomplete: %d, elapsed: %s",
		s.Status, s.Total, s.Solved, s.LimitExhausted, s.Errors, s.Incomplete, s.Elapsed)
}

func (s Summary) ExitCode() errors.ExitCode {
	return errors.ExitCodeFor(s.Status)
}

func (s Summary) jobReport() jobtracker.JobReport {
	return jobtracker.JobReport{
		Status:         s.Status,
		Total:          s.Total,
		Solved:         s.Solved,
		LimitExhausted: s.LimitExhausted,
		Errors:         s.Errors,
		Incomplete:     s.Incomplete,
		Elapsed:        s.Elapsed,
		Diagnostic:     s.Diagnostic,
	}
}

// jobStatus derives the status of a job whose loop has ended.
func jobStatus(aborted bool, incomplete, limitExhausted int) domain.JobStatus {
	switch {
	case aborted || incomplete > 0:
		return domain.Failed
	case limitExhausted > 0:
		return domain.SolvedWithSomeBudgetExhausted
	default:
		return domain.AllSolved
	}
}
