package dispatcher

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldv-klever/klever-scheduler/common/httpjson"
	"github.com/ldv-klever/klever-scheduler/common/stats"
	"github.com/ldv-klever/klever-scheduler/domain"
	"github.com/ldv-klever/klever-scheduler/workerapi"
)

func newTestAttempt(workers workerapi.Client, limits domain.ResourceLimits) *attempt {
	return &attempt{
		sub: workerapi.Submission{
			Key:     itemA,
			Limits:  limits,
			Attempt: 1,
			Nonce:   newNonce(),
		},
		workers:            workers,
		stat:               stats.NilStatsReceiver(),
		pollInterval:       time.Millisecond,
		submitRetryTimeout: 10 * time.Millisecond,
		overhead:           20 * time.Millisecond,
	}
}

func Test_Attempt_Deadline(t *testing.T) {
	a := newTestAttempt(nil, domain.ResourceLimits{CPUTime: time.Minute})
	assert.Equal(t, time.Minute+20*time.Millisecond, a.deadline())

	a.sub.Limits.WallTime = 2 * time.Minute
	assert.Equal(t, 2*time.Minute+20*time.Millisecond, a.deadline())

	a.sub.Limits = domain.ResourceLimits{}
	assert.Equal(t, time.Duration(0), a.deadline())
}

func Test_Attempt_RetriesStatusErrors(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	workers := workerapi.NewMockClient(mockCtrl)
	gomock.InOrder(
		workers.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(workerapi.TaskID("t1"), nil),
		workers.EXPECT().Status(gomock.Any(), workerapi.TaskID("t1")).Return(domain.TaskPending, assert.AnError),
		workers.EXPECT().Status(gomock.Any(), workerapi.TaskID("t1")).Return(domain.TaskProcessing, nil),
		workers.EXPECT().Status(gomock.Any(), workerapi.TaskID("t1")).Return(domain.TaskFinished, nil),
		workers.EXPECT().Result(gomock.Any(), workerapi.TaskID("t1")).Return(timeoutResult(time.Minute), nil),
	)

	a := newTestAttempt(workers, domain.ResourceLimits{CPUTime: time.Minute})
	require.NoError(t, a.run(context.Background()))
	assert.Equal(t, workerapi.TaskID("t1"), a.taskID)
	assert.Equal(t, domain.TaskFinished, a.status)
	assert.True(t, a.outcome.Terminated)
	assert.Equal(t, domain.Timeout, a.outcome.LimitReason)
	assert.False(t, a.finished.Before(a.started))
}

func Test_Attempt_TimeoutCancelsTask(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	workers := workerapi.NewMockClient(mockCtrl)
	workers.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(workerapi.TaskID("t1"), nil)
	workers.EXPECT().Status(gomock.Any(), workerapi.TaskID("t1")).Return(domain.TaskProcessing, nil).AnyTimes()
	workers.EXPECT().Cancel(gomock.Any(), workerapi.TaskID("t1")).Return(nil)

	a := newTestAttempt(workers, domain.ResourceLimits{CPUTime: 10 * time.Millisecond})
	err := a.run(context.Background())
	require.Error(t, err)
	assert.IsType(t, &attemptTimeoutError{}, err)
	assert.Nil(t, a.outcome.Resources)
	assert.Contains(t, a.outcome.Error, "not done after")
}

func Test_Attempt_LostTaskIsNotRetried(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	workers := workerapi.NewMockClient(mockCtrl)
	workers.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(workerapi.TaskID("t1"), nil)
	workers.EXPECT().Status(gomock.Any(), workerapi.TaskID("t1")).Return(domain.TaskPending,
		&httpjson.StatusError{Op: "status", URI: "tasks/t1/status", Code: http.StatusNotFound})
	workers.EXPECT().Cancel(gomock.Any(), workerapi.TaskID("t1")).Return(nil)

	a := newTestAttempt(workers, domain.ResourceLimits{})
	err := a.run(context.Background())
	require.Error(t, err)
	assert.True(t, httpjson.IsNotFound(err))
	assert.Contains(t, a.outcome.Error, "lost")
}

func Test_Attempt_RejectedSubmitIsNotRetried(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	workers := workerapi.NewMockClient(mockCtrl)
	workers.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(workerapi.TaskID(""),
		&httpjson.StatusError{Op: "submit", URI: "tasks", Code: http.StatusBadRequest}).Times(1)

	a := newTestAttempt(workers, domain.ResourceLimits{CPUTime: time.Minute})
	a.submitRetryTimeout = time.Minute
	start := time.Now()
	err := a.run(context.Background())
	require.Error(t, err)
	assert.True(t, httpjson.IsPermanent(err))
	assert.Less(t, int64(time.Since(start)), int64(time.Second))
}

func Test_Attempt_ThrottledSubmitIsRetried(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	workers := workerapi.NewMockClient(mockCtrl)
	gomock.InOrder(
		workers.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(workerapi.TaskID(""),
			&httpjson.StatusError{Op: "submit", URI: "tasks", Code: http.StatusTooManyRequests}),
		workers.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(workerapi.TaskID("t1"), nil),
	)
	workers.EXPECT().Status(gomock.Any(), workerapi.TaskID("t1")).Return(domain.TaskFinished, nil)
	workers.EXPECT().Result(gomock.Any(), workerapi.TaskID("t1")).Return(solvedResult(time.Second), nil)

	a := newTestAttempt(workers, domain.ResourceLimits{CPUTime: time.Minute})
	a.submitRetryTimeout = time.Minute
	require.NoError(t, a.run(context.Background()))
	assert.Equal(t, workerapi.TaskID("t1"), a.taskID)
}

func Test_Attempt_ParallelRunsShareLatency(t *testing.T) {
	pool := newFakePool(nil)
	stat := stats.DefaultStatsReceiver()

	const n = 8
	attempts := make([]*attempt, n)
	var wg sync.WaitGroup
	for i := range attempts {
		a := newTestAttempt(pool, domain.ResourceLimits{CPUTime: time.Minute})
		a.stat = stat
		attempts[i] = a
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, a.run(context.Background()))
		}()
	}
	wg.Wait()

	for _, a := range attempts {
		assert.NotNil(t, a.outcome.Resources)
		assert.False(t, a.finished.Before(a.started))
	}
	latency, ok := stat.Latency(stats.DispatcherAttemptLatency_ms).(interface{ Count() int64 })
	require.True(t, ok)
	assert.Equal(t, int64(n), latency.Count())
	assert.Len(t, pool.submitted(), n)
}

func Test_Attempt_ResultError(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	workers := workerapi.NewMockClient(mockCtrl)
	workers.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(workerapi.TaskID("t1"), nil)
	workers.EXPECT().Status(gomock.Any(), workerapi.TaskID("t1")).Return(domain.TaskFinished, nil)
	workers.EXPECT().Result(gomock.Any(), workerapi.TaskID("t1")).Return(workerapi.Result{}, assert.AnError)

	a := newTestAttempt(workers, domain.ResourceLimits{CPUTime: time.Minute})
	err := a.run(context.Background())
	require.Error(t, err)
	assert.Nil(t, a.outcome.Resources)
	assert.Equal(t, domain.TaskFinished, a.status)
}

func Test_History(t *testing.T) {
	h, err := newHistory(1)
	require.NoError(t, err)

	h.add(itemA, AttemptRecord{Attempt: 1})
	first := h.get(itemA)
	h.add(itemA, AttemptRecord{Attempt: 2})
	require.Len(t, first, 1)
	assert.Len(t, h.get(itemA), 2)

	h.add(itemB, AttemptRecord{Attempt: 1})
	assert.Nil(t, h.get(itemA))
	assert.Len(t, h.get(itemB), 1)
}

func Test_NewNonce(t *testing.T) {
	assert.NotEqual(t, newNonce(), newNonce())
	assert.Len(t, newNonce(), 36)
}
