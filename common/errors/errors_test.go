package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ldv-klever/klever-scheduler/domain"
)

func TestExitCodeError(t *testing.T) {
	assert.Nil(t, NewError(nil, ConfigFailureExitCode))

	base := errors.New("bad config")
	err := NewError(base, ConfigFailureExitCode)
	assert.Equal(t, ConfigFailureExitCode, err.GetExitCode())
	assert.True(t, errors.Is(err, base))

	var nilErr *ExitCodeError
	assert.Equal(t, ExitCode(0), nilErr.GetExitCode())
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, SuccessExitCode, ExitCodeFor(domain.AllSolved))
	assert.Equal(t, BudgetExhaustedExitCode, ExitCodeFor(domain.SolvedWithSomeBudgetExhausted))
	assert.Equal(t, JobFailedExitCode, ExitCodeFor(domain.Failed))
}
