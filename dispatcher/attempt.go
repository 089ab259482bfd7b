package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ldv-klever/klever-scheduler/common/httpjson"
	"github.com/ldv-klever/klever-scheduler/common/stats"
	"github.com/ldv-klever/klever-scheduler/domain"
	"github.com/ldv-klever/klever-scheduler/workerapi"
)

// How long a task cancellation may take once an attempt is abandoned.
const cancelTimeout = 10 * time.Second

// attemptTimeoutError is returned when the worker pool did not finish a task
// within its limits plus the configured overhead.
type attemptTimeoutError struct {
	taskID   workerapi.TaskID
	deadline time.Duration
}

func (e *attemptTimeoutError) Error() string {
	return fmt.Sprintf("task %s not done after %s", e.taskID, e.deadline)
}

// attempt runs one submission of a work item on its own goroutine. Its fields
// are written by run and read by the loop only after run returned.
type attempt struct {
	sub     workerapi.Submission
	workers workerapi.Client
	stat    stats.StatsReceiver

	pollInterval       time.Duration
	submitRetryTimeout time.Duration
	overhead           time.Duration

	taskID   workerapi.TaskID
	status   domain.TaskStatus
	outcome  domain.Outcome
	started  time.Time
	finished time.Time
}

// deadline is how long to wait for the task once submitted, zero for no
// deadline.
func (a *attempt) deadline() time.Duration {
	limit := a.sub.Limits.WallTime
	if limit == 0 {
		limit = a.sub.Limits.CPUTime
	}
	if limit == 0 {
		return 0
	}
	return limit + a.overhead
}

// run submits the task, waits for it and fetches its result. The outcome is
// always set. A returned error means the worker pool failed the attempt, the
// outcome then carries no resources.
func (a *attempt) run(ctx context.Context) error {
	a.started = time.Now()
	defer func() {
		a.finished = time.Now()
		// The latency is shared by parallel attempts, only Record is safe on it.
		a.stat.Latency(stats.DispatcherAttemptLatency_ms).Record(a.finished.Sub(a.started))
	}()

	err := a.execute(ctx)
	if err != nil {
		a.outcome = domain.Outcome{Error: err.Error()}
		log.WithFields(
			log.Fields{
				"item":    a.sub.Key.String(),
				"attempt": a.sub.Attempt,
				"taskID":  a.taskID,
				"err":     err,
			}).Error("Attempt failed")
	}
	return err
}

func (a *attempt) execute(ctx context.Context) error {
	if err := a.submit(ctx); err != nil {
		return err
	}
	status, err := a.await(ctx)
	if err != nil {
		a.cancel()
		return err
	}
	a.status = status

	result, err := a.workers.Result(ctx, a.taskID)
	if err != nil {
		return errors.Wrapf(err, "fetching result of task %s", a.taskID)
	}
	a.outcome = result.Outcome(status)
	log.WithFields(
		log.Fields{
			"item":    a.sub.Key.String(),
			"attempt": a.sub.Attempt,
			"taskID":  a.taskID,
			"status":  status,
			"outcome": a.outcome.String(),
		}).Info("Attempt done")
	return nil
}

// submit retries with exponential backoff until SubmitRetryTimeout elapsed.
// A submission the pool rejects as invalid is not retried.
func (a *attempt) submit(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = a.submitRetryTimeout

	try := 1
	var err error
	backoff.Retry(func() error {
		if try > 1 {
			log.Debugf("Submit of %s, try #%d", a.sub.Key, try)
		}
		try++
		a.taskID, err = a.workers.Submit(ctx, a.sub)
		if httpjson.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return errors.Wrapf(err, "submitting %s", a.sub)
	}
	return nil
}

// await polls the task status every pollInterval until it is done.
// Errors on single polls are retried, a task the pool does not know is not.
func (a *attempt) await(ctx context.Context) (domain.TaskStatus, error) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	var timeout <-chan time.Time
	if d := a.deadline(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return domain.TaskPending, ctx.Err()
		case <-timeout:
			return domain.TaskPending, &attemptTimeoutError{taskID: a.taskID, deadline: a.deadline()}
		case <-ticker.C:
		}

		status, err := a.workers.Status(ctx, a.taskID)
		if err != nil {
			if httpjson.IsNotFound(err) {
				return domain.TaskPending, errors.Wrapf(err, "task %s lost", a.taskID)
			}
			log.Infof("Status of task %s unavailable, will retry: %v", a.taskID, err)
			continue
		}
		if status.IsDone() {
			return status, nil
		}
	}
}

// cancel asks the pool to drop the task. It runs detached from the attempt's
// context since it is also used when that context is done.
func (a *attempt) cancel() {
	if a.taskID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := a.workers.Cancel(ctx, a.taskID); err != nil {
		log.Errorf("Cancelling task %s of %s: %v", a.taskID, a.sub.Key, err)
	}
}
