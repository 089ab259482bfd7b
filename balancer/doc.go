/*
Package balancer decides which resource limits each verification work item
is dispatched with, and whether an item that ran out of CPU time or memory is
worth another attempt with larger limits.

* Concepts *
Registry:
  Every work item of the job, grouped by (fragment, requirement class), with
  its state: NotDispatched, Pending or Final. Fed by the decomposition stage
  and the dispatcher; the Balancer only reads it.

Ledger:
  A limit record per item that failed on a limit at least once: the limits it
  was last issued, why it stopped, whether an attempt is in flight and how
  many attempts it had. Items that succeed or fail for unrelated reasons are
  never tracked.

QoS ceiling:
  The limits of a first attempt. Retried items may be issued more.

First pass:
  Escalation is locked until every item of every (fragment, class) pair is
  either final or tracked, i.e. everything has been tried once at the QoS
  limits. The check latches: once true it stays true.

Escalation factor:
  S = sum of issued CPU time over tracked items that are not running.
  B = wall clock budget left for the job.
  f = B / S          if S * MinStepFactor >= B
  f = MinStepFactor  otherwise
  f is computed once per scheduling pass and shared by every item re-queued in
  that pass, so the retries that are granted together fit the remaining budget
  together instead of the first item claiming all of it.

* Concurrency *
All Balancer methods are serialized by one mutex. The escalation factor reads
aggregate ledger state that must not be observed mid-update.
*/
package balancer
