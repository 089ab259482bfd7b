package jobtracker

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// LogClient is a Client for running without a backend: it hands out a fixed
// configuration and logs the reports it receives.
type LogClient struct {
	cfg JobConfiguration

	mu    sync.Mutex
	items []ItemReport
	job   *JobReport
}

func NewLogClient(cfg JobConfiguration) *LogClient {
	return &LogClient{cfg: cfg}
}

func (c *LogClient) JobConfiguration(ctx context.Context) (JobConfiguration, error) {
	return c.cfg, nil
}

func (c *LogClient) ReportItem(ctx context.Context, report ItemReport) error {
	log.WithFields(
		log.Fields{
			"job":      c.cfg.JobID,
			"item":     report.Key.String(),
			"status":   report.Status,
			"attempts": report.Attempts,
			"limits":   report.Limits.String(),
			"reason":   report.LimitReason,
			"err":      report.Error,
		}).Info("Item report")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, report)
	return nil
}

func (c *LogClient) ReportJob(ctx context.Context, report JobReport) error {
	log.WithFields(
		log.Fields{
			"job":            c.cfg.JobID,
			"status":         report.Status,
			"total":          report.Total,
			"solved":         report.Solved,
			"limitExhausted": report.LimitExhausted,
			"errors":         report.Errors,
			"incomplete":     report.Incomplete,
			"elapsed":        report.Elapsed,
			"diagnostic":     report.Diagnostic,
		}).Info("Job report")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.job = &report
	return nil
}

// Items returns the item reports received so far.
func (c *LogClient) Items() []ItemReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ItemReport(nil), c.items...)
}

// Job returns the job report, nil until one was received.
func (c *LogClient) Job() *JobReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job
}
