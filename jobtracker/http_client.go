package jobtracker

import (
	"context"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ldv-klever/klever-scheduler/common/httpjson"
	"github.com/ldv-klever/klever-scheduler/common/stats"
	"github.com/ldv-klever/klever-scheduler/domain"
	"github.com/ldv-klever/klever-scheduler/workerapi"
)

type wireLimits struct {
	CPUTime    float64 `json:"cpu_time"`
	WallTime   float64 `json:"wall_time,omitempty"`
	MemorySize int64   `json:"memory_size,omitempty"`
	DiskSize   int64   `json:"disk_size,omitempty"`
}

type wireJobConfiguration struct {
	QoS             *wireLimits              `json:"qos_limit,omitempty"`
	WallTimeBudget  float64                  `json:"wall_time_budget,omitempty"`
	MinIncreaseStep float64                  `json:"min_increase_step,omitempty"`
	Verifier        workerapi.VerifierConfig `json:"verifier"`
	ArchiveRoot     string                   `json:"archive_root,omitempty"`
}

type wireResources struct {
	CPUTime    float64 `json:"cpu_time"`
	WallTime   float64 `json:"wall_time"`
	MemorySize int64   `json:"memory_size"`
}

type wireItemReport struct {
	Fragment         string             `json:"fragment"`
	RequirementClass string             `json:"requirement_class"`
	RequirementName  string             `json:"requirement_name"`
	Status           ItemStatus         `json:"status"`
	Attempts         int                `json:"attempts"`
	Limits           wireLimits         `json:"limits"`
	Resources        *wireResources     `json:"resources,omitempty"`
	LimitReason      domain.LimitReason `json:"limit_reason"`
	Error            string             `json:"error,omitempty"`
}

type wireJobReport struct {
	Status         domain.JobStatus `json:"status"`
	Total          int              `json:"total"`
	Solved         int              `json:"solved"`
	LimitExhausted int              `json:"limit_exhausted"`
	Errors         int              `json:"errors"`
	Incomplete     int              `json:"incomplete"`
	Elapsed        float64          `json:"elapsed"`
	Diagnostic     string           `json:"diagnostic,omitempty"`
}

func fromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func domainLimitsToWire(l domain.ResourceLimits) wireLimits {
	return wireLimits{
		CPUTime:    l.CPUTime.Seconds(),
		WallTime:   l.WallTime.Seconds(),
		MemorySize: l.MemorySize,
		DiskSize:   l.DiskSize,
	}
}

func wireConfigurationToDomain(job string, w wireJobConfiguration) JobConfiguration {
	c := JobConfiguration{
		JobID:           job,
		WallTimeBudget:  fromSeconds(w.WallTimeBudget),
		MinIncreaseStep: w.MinIncreaseStep,
		Verifier:        w.Verifier,
		ArchiveRoot:     w.ArchiveRoot,
	}
	if w.QoS != nil {
		c.QoS = domain.ResourceLimits{
			CPUTime:    fromSeconds(w.QoS.CPUTime),
			WallTime:   fromSeconds(w.QoS.WallTime),
			MemorySize: w.QoS.MemorySize,
			DiskSize:   w.QoS.DiskSize,
		}
	}
	return c
}

func domainItemReportToWire(r ItemReport) wireItemReport {
	w := wireItemReport{
		Fragment:         r.Key.Fragment,
		RequirementClass: r.Key.RequirementClass,
		RequirementName:  r.Key.RequirementName,
		Status:           r.Status,
		Attempts:         r.Attempts,
		Limits:           domainLimitsToWire(r.Limits),
		LimitReason:      r.LimitReason,
		Error:            r.Error,
	}
	if r.Resources != nil {
		w.Resources = &wireResources{
			CPUTime:    r.Resources.CPUTime.Seconds(),
			WallTime:   r.Resources.WallTime.Seconds(),
			MemorySize: r.Resources.MemorySize,
		}
	}
	return w
}

func domainJobReportToWire(r JobReport) wireJobReport {
	return wireJobReport{
		Status:         r.Status,
		Total:          r.Total,
		Solved:         r.Solved,
		LimitExhausted: r.LimitExhausted,
		Errors:         r.Errors,
		Incomplete:     r.Incomplete,
		Elapsed:        r.Elapsed.Seconds(),
		Diagnostic:     r.Diagnostic,
	}
}

type httpClient struct {
	http *httpjson.Client
	job  string
	stat stats.StatsReceiver
}

// NewHTTPClient reports to the backend at rootURI under the given job id.
func NewHTTPClient(rootURI, job string, doer httpjson.Doer, stat stats.StatsReceiver) Client {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	c := &httpClient{http: httpjson.NewClient(rootURI, doer), job: job, stat: stat}
	log.Infof("Making new job tracker client for job %s with root URI: %s", job, c.http.RootURI())
	return c
}

func (c *httpClient) jobPath(rest string) string {
	return "jobs/" + url.PathEscape(c.job) + "/" + rest
}

func (c *httpClient) JobConfiguration(ctx context.Context) (JobConfiguration, error) {
	var w wireJobConfiguration
	if err := c.http.RoundTrip(ctx, "JobConfiguration", http.MethodGet, c.jobPath("configuration"), nil, &w); err != nil {
		return JobConfiguration{}, err
	}
	cfg := wireConfigurationToDomain(c.job, w)
	log.Infof("Fetched %s", cfg)
	return cfg, nil
}

func (c *httpClient) ReportItem(ctx context.Context, report ItemReport) error {
	c.stat.Counter(stats.TrackerItemReportCounter).Inc(1)
	return c.http.RoundTrip(ctx, "ReportItem", http.MethodPost, c.jobPath("items"), domainItemReportToWire(report), nil)
}

func (c *httpClient) ReportJob(ctx context.Context, report JobReport) error {
	c.stat.Counter(stats.TrackerJobReportCounter).Inc(1)
	return c.http.RoundTrip(ctx, "ReportJob", http.MethodPost, c.jobPath("status"), domainJobReportToWire(report), nil)
}
