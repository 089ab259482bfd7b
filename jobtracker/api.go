// Package jobtracker reports work item and job results to the job-tracking
// backend and fetches the job's scheduling configuration from it.
package jobtracker

//go:generate mockgen -source=api.go -package=jobtracker -destination=api_mock.go

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ldv-klever/klever-scheduler/domain"
	"github.com/ldv-klever/klever-scheduler/workerapi"
)

// JobConfiguration is what the backend knows about how a job is scheduled.
// Zero fields are unset and leave the local configuration in place.
type JobConfiguration struct {
	JobID           string
	QoS             domain.ResourceLimits
	WallTimeBudget  time.Duration
	MinIncreaseStep float64
	Verifier        workerapi.VerifierConfig
	ArchiveRoot     string
}

func (c JobConfiguration) String() string {
	return fmt.Sprintf("JobConfiguration: job: %s, qos: {%s}, wallBudget: %s, minIncreaseStep: %.2f, verifier: %s",
		c.JobID, c.QoS, c.WallTimeBudget, c.MinIncreaseStep, c.Verifier.Name)
}

// ItemStatus is the final state of a work item as seen by the backend.
type ItemStatus int

const (
	ItemSolved ItemStatus = iota
	ItemLimitExhausted
	ItemError
)

var itemStatusNames = [...]string{"solved", "limit_exhausted", "error"}

func (s ItemStatus) String() string {
	if s < 0 || int(s) >= len(itemStatusNames) {
		return fmt.Sprintf("ItemStatus(%d)", int(s))
	}
	return itemStatusNames[s]
}

func (s ItemStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ItemStatus) UnmarshalText(text []byte) error {
	for i, n := range itemStatusNames {
		if strings.EqualFold(n, string(text)) {
			*s = ItemStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown item status %q", string(text))
}

// ItemReport is sent once per work item when it becomes final.
type ItemReport struct {
	Key         domain.WorkItemKey
	Status      ItemStatus
	Attempts    int
	Limits      domain.ResourceLimits
	Resources   *domain.ResourceUsage
	LimitReason domain.LimitReason
	Error       string
}

func (r ItemReport) String() string {
	return fmt.Sprintf("ItemReport: %s, status: %s, attempts: %d, limits: {%s}, reason: %s",
		r.Key, r.Status, r.Attempts, r.Limits, r.LimitReason)
}

// JobReport is sent once when the dispatch loop ends.
type JobReport struct {
	Status         domain.JobStatus
	Total          int
	Solved         int
	LimitExhausted int
	Errors         int
	Incomplete     int
	Elapsed        time.Duration
	Diagnostic     string
}

type Client interface {
	JobConfiguration(ctx context.Context) (JobConfiguration, error)
	ReportItem(ctx context.Context, report ItemReport) error
	ReportJob(ctx context.Context, report JobReport) error
}
