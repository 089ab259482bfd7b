// Package domain provides definitions for verification work items, the
// resource limits they run under and the outcomes workers report for them.
package domain

import (
	"fmt"
	"time"
)

// WorkItemKey identifies one verifier invocation for the lifetime of a job.
// It is comparable and is used directly as a map key.
type WorkItemKey struct {
	Fragment         string `json:"fragment" yaml:"fragment"`
	RequirementClass string `json:"requirement_class" yaml:"requirement_class"`
	RequirementName  string `json:"requirement_name" yaml:"requirement_name"`
}

func NewWorkItemKey(fragment, class, name string) WorkItemKey {
	return WorkItemKey{Fragment: fragment, RequirementClass: class, RequirementName: name}
}

// Pair returns the (fragment, requirement class) group the item belongs to.
func (k WorkItemKey) Pair() PairKey {
	return PairKey{Fragment: k.Fragment, RequirementClass: k.RequirementClass}
}

func (k WorkItemKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Fragment, k.RequirementClass, k.RequirementName)
}

// PairKey groups all requirement names checked against one fragment for one
// requirement class.
type PairKey struct {
	Fragment         string
	RequirementClass string
}

func (p PairKey) String() string {
	return fmt.Sprintf("%s/%s", p.Fragment, p.RequirementClass)
}

// ResourceLimits handed to a worker for one attempt.
// Zero WallTime, MemorySize or DiskSize mean the resource is not limited.
type ResourceLimits struct {
	CPUTime    time.Duration `json:"cpu_time"`
	WallTime   time.Duration `json:"wall_time,omitempty"`
	MemorySize int64         `json:"memory_size,omitempty"`
	DiskSize   int64         `json:"disk_size,omitempty"`
}

func (l ResourceLimits) String() string {
	return fmt.Sprintf("cpu:%s, wall:%s, mem:%d, disk:%d", l.CPUTime, l.WallTime, l.MemorySize, l.DiskSize)
}

// ResourceUsage reported by a worker for a finished attempt.
type ResourceUsage struct {
	CPUTime    time.Duration `json:"cpu_time"`
	WallTime   time.Duration `json:"wall_time"`
	MemorySize int64         `json:"memory_size"`
}

// Outcome is the terminal result of one attempt as seen by the scheduler.
// A nil Resources means the worker never reported usage, i.e. the attempt
// failed for reasons unrelated to resource limits.
type Outcome struct {
	Terminated  bool
	Resources   *ResourceUsage
	LimitReason LimitReason
	Error       string
}

func (o Outcome) String() string {
	if o.Resources == nil {
		return fmt.Sprintf("terminated:%t, no resources, err:%q", o.Terminated, o.Error)
	}
	return fmt.Sprintf("terminated:%t, cpu:%s, wall:%s, mem:%d, limit:%s",
		o.Terminated, o.Resources.CPUTime, o.Resources.WallTime, o.Resources.MemorySize, o.LimitReason)
}

// ItemState is the registry view of a work item.
type ItemState int

const (
	// Known but never handed to a worker.
	NotDispatched ItemState = iota

	// Dispatched at least once, no final outcome yet.
	Pending

	// Solved, failed permanently or given up on. Never changes again.
	Final
)

func (s ItemState) String() string {
	switch s {
	case NotDispatched:
		return "NotDispatched"
	case Pending:
		return "Pending"
	case Final:
		return "Final"
	}
	return fmt.Sprintf("ItemState(%d)", int(s))
}
