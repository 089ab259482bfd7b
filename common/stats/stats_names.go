package stats

/*
This file defines all the metrics being collected. As new metrics are added please follow this pattern.
*/

const (
	/************************* Balancer metrics **************************/
	/*
		number of limit records currently held in the ledger
	*/
	BalancerTrackedItemsGauge = "trackedItemsGauge"

	/*
		number of tracked items that are waiting (not running) for a rescheduling decision
	*/
	BalancerWaitingItemsGauge = "waitingItemsGauge"

	/*
		number of attempts that reported resource usage
	*/
	BalancerSolvedCounter = "solvedCounter"

	/*
		number of attempts stopped by a cpu or wall time limit
	*/
	BalancerTimeoutCounter = "timeoutCounter"

	/*
		number of attempts stopped by the memory limit
	*/
	BalancerOutOfMemoryCounter = "outOfMemoryCounter"

	/*
		number of items re-queued with escalated limits
	*/
	BalancerRescheduledCounter = "rescheduledCounter"

	/*
		number of tracked items dropped because no budget is left to retry them
	*/
	BalancerGivenUpCounter = "givenUpCounter"

	/*
		last escalation factor computed for a scheduling pass
	*/
	BalancerEscalationFactorGauge = "escalationFactorGauge"

	/*
		1 once the first pass over all items has completed
	*/
	BalancerFirstPassCompleteGauge = "firstPassCompleteGauge"

	/*
		wall clock budget left for the job, in seconds
	*/
	BalancerTimeRemainingGauge_s = "timeRemainingGauge_s"

	/************************* Dispatcher metrics **************************/
	/*
		number of new work items received from the decomposition feed
	*/
	DispatcherItemsReceivedCounter = "itemsReceivedCounter"

	/*
		number of attempts submitted to the worker pool (first attempts and retries)
	*/
	DispatcherAttemptsCounter = "attemptsCounter"

	/*
		number of attempts that were retries with escalated limits
	*/
	DispatcherRetriesCounter = "retriesCounter"

	/*
		number of attempts currently in flight
	*/
	DispatcherInFlightGauge = "inFlightGauge"

	/*
		number of items queued for their first attempt
	*/
	DispatcherQueuedGauge = "queuedGauge"

	/*
		number of attempts that ended without resource usage (infrastructure failures)
	*/
	DispatcherInfraFailureCounter = "infraFailureCounter"

	/*
		number of failed item or job reports to the job tracking backend
	*/
	DispatcherReportErrCounter = "reportErrCounter"

	/*
		time spent in one iteration of the dispatch loop
	*/
	DispatcherStepLatency_ms = "stepLatency_ms"

	/*
		time from submission to final status for one attempt
	*/
	DispatcherAttemptLatency_ms = "attemptLatency_ms"

	/************************* Worker client metrics **************************/
	/*
		number of submissions sent to the worker pool
	*/
	WorkerSubmitCounter = "submitCounter"

	/*
		number of failed submissions
	*/
	WorkerSubmitErrCounter = "submitErrCounter"

	/*
		number of status polls
	*/
	WorkerStatusCounter = "statusCounter"

	/*
		number of failed status polls
	*/
	WorkerStatusErrCounter = "statusErrCounter"

	/*
		number of fetched results
	*/
	WorkerResultCounter = "resultCounter"

	/************************* Job tracker metrics **************************/
	/*
		number of item reports sent
	*/
	TrackerItemReportCounter = "itemReportCounter"

	/*
		number of job status reports sent
	*/
	TrackerJobReportCounter = "jobReportCounter"

	/************************* Admin endpoint metrics **************************/
	/*
		number of requests served by the admin endpoint
	*/
	AdminRequestCounter = "adminRequestCounter"
)
