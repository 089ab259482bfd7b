// Package workerapi is the client side of the remote worker pool protocol:
// submit a verification task with resource limits, poll its status, fetch the
// resource usage it reported and cancel it.
package workerapi

//go:generate mockgen -source=api.go -package=workerapi -destination=api_mock.go

import (
	"context"
	"fmt"
	"time"

	"github.com/ldv-klever/klever-scheduler/domain"
)

type TaskID string

// VerifierConfig names the verifier a worker runs on the input archive.
type VerifierConfig struct {
	Name    string            `json:"name" yaml:"name"`
	Version string            `json:"version,omitempty" yaml:"version,omitempty"`
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Submission is one attempt of a work item.
// InputArchive is a reference to an archive the worker fetches itself.
type Submission struct {
	Key          domain.WorkItemKey
	Limits       domain.ResourceLimits
	Verifier     VerifierConfig
	InputArchive string
	Attempt      int
	Nonce        string
}

func (s Submission) String() string {
	return fmt.Sprintf("Submission: %s, attempt: %d, limits: {%s}, verifier: %s, nonce: %s",
		s.Key, s.Attempt, s.Limits, s.Verifier.Name, s.Nonce)
}

// Result is what a worker reports for a task that is done.
// Resources is nil when the verifier never ran to completion.
type Result struct {
	Resources        *domain.ResourceUsage
	LimitReason      domain.LimitReason
	ResultArchive    string
	ErrorDescription string
}

// Outcome maps a result to what the balancer consumes.
func (r Result) Outcome(status domain.TaskStatus) domain.Outcome {
	out := domain.Outcome{
		Resources:   r.Resources,
		LimitReason: r.LimitReason,
		Error:       r.ErrorDescription,
	}
	if r.LimitReason.IsLimitViolation() {
		out.Terminated = true
	}
	if out.Resources == nil && out.Error == "" {
		out.Error = fmt.Sprintf("task ended in status %s without resource usage", status)
	}
	return out
}

type Client interface {
	Submit(ctx context.Context, sub Submission) (TaskID, error)
	Status(ctx context.Context, id TaskID) (domain.TaskStatus, error)
	Result(ctx context.Context, id TaskID) (Result, error)
	Cancel(ctx context.Context, id TaskID) error
}

//
// Translation between domain objects and the JSON wire format. Durations
// travel as fractional seconds, sizes as bytes.
//

type wireLimits struct {
	CPUTime    float64 `json:"cpu_time"`
	WallTime   float64 `json:"wall_time,omitempty"`
	MemorySize int64   `json:"memory_size,omitempty"`
	DiskSize   int64   `json:"disk_size,omitempty"`
}

type wireSubmission struct {
	Fragment         string         `json:"fragment"`
	RequirementClass string         `json:"requirement_class"`
	RequirementName  string         `json:"requirement_name"`
	Limits           wireLimits     `json:"limits"`
	Verifier         VerifierConfig `json:"verifier"`
	InputArchive     string         `json:"input_archive,omitempty"`
	Attempt          int            `json:"attempt"`
	Nonce            string         `json:"nonce,omitempty"`
}

type wireTask struct {
	ID TaskID `json:"id"`
}

type wireStatus struct {
	Status domain.TaskStatus `json:"status"`
}

type wireResources struct {
	CPUTime    float64 `json:"cpu_time"`
	WallTime   float64 `json:"wall_time"`
	MemorySize int64   `json:"memory_size"`
}

type wireResult struct {
	Resources        *wireResources     `json:"resources,omitempty"`
	LimitReason      domain.LimitReason `json:"limit_reason"`
	ResultArchive    string             `json:"result_archive,omitempty"`
	ErrorDescription string             `json:"error,omitempty"`
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}

func fromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func domainLimitsToWire(l domain.ResourceLimits) wireLimits {
	return wireLimits{
		CPUTime:    seconds(l.CPUTime),
		WallTime:   seconds(l.WallTime),
		MemorySize: l.MemorySize,
		DiskSize:   l.DiskSize,
	}
}

func wireLimitsToDomain(w wireLimits) domain.ResourceLimits {
	return domain.ResourceLimits{
		CPUTime:    fromSeconds(w.CPUTime),
		WallTime:   fromSeconds(w.WallTime),
		MemorySize: w.MemorySize,
		DiskSize:   w.DiskSize,
	}
}

func domainSubmissionToWire(s Submission) wireSubmission {
	return wireSubmission{
		Fragment:         s.Key.Fragment,
		RequirementClass: s.Key.RequirementClass,
		RequirementName:  s.Key.RequirementName,
		Limits:           domainLimitsToWire(s.Limits),
		Verifier:         s.Verifier,
		InputArchive:     s.InputArchive,
		Attempt:          s.Attempt,
		Nonce:            s.Nonce,
	}
}

func wireSubmissionToDomain(w wireSubmission) Submission {
	return Submission{
		Key:          domain.NewWorkItemKey(w.Fragment, w.RequirementClass, w.RequirementName),
		Limits:       wireLimitsToDomain(w.Limits),
		Verifier:     w.Verifier,
		InputArchive: w.InputArchive,
		Attempt:      w.Attempt,
		Nonce:        w.Nonce,
	}
}

func wireResultToDomain(w wireResult) Result {
	r := Result{
		LimitReason:      w.LimitReason,
		ResultArchive:    w.ResultArchive,
		ErrorDescription: w.ErrorDescription,
	}
	if w.Resources != nil {
		r.Resources = &domain.ResourceUsage{
			CPUTime:    fromSeconds(w.Resources.CPUTime),
			WallTime:   fromSeconds(w.Resources.WallTime),
			MemorySize: w.Resources.MemorySize,
		}
	}
	return r
}

func domainResultToWire(r Result) wireResult {
	w := wireResult{
		LimitReason:      r.LimitReason,
		ResultArchive:    r.ResultArchive,
		ErrorDescription: r.ErrorDescription,
	}
	if r.Resources != nil {
		w.Resources = &wireResources{
			CPUTime:    seconds(r.Resources.CPUTime),
			WallTime:   seconds(r.Resources.WallTime),
			MemorySize: r.Resources.MemorySize,
		}
	}
	return w
}
