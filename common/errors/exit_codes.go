package errors

import (
	"github.com/ldv-klever/klever-scheduler/domain"
)

type ExitCode int

const (
	SuccessExitCode ExitCode = 0

	// Every item final, but some ran out of budget.
	BudgetExhaustedExitCode ExitCode = 3

	// Dispatch loop stopped with incomplete items or a bookkeeping bug.
	JobFailedExitCode ExitCode = 4

	ConfigFailureExitCode ExitCode = 70

	JobTrackerFailureExitCode ExitCode = 80

	WorkItemsFailureExitCode ExitCode = 90
)

// ExitCodeFor maps the status of a finished job to the process exit code.
func ExitCodeFor(status domain.JobStatus) ExitCode {
	switch status {
	case domain.AllSolved:
		return SuccessExitCode
	case domain.SolvedWithSomeBudgetExhausted:
		return BudgetExhaustedExitCode
	default:
		return JobFailedExitCode
	}
}
