package workerapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/luci/go-render/render"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ldv-klever/klever-scheduler/common/httpjson"
	"github.com/ldv-klever/klever-scheduler/common/stats"
	"github.com/ldv-klever/klever-scheduler/domain"
)

type httpClient struct {
	http *httpjson.Client
	stat stats.StatsReceiver
}

// NewHTTPClient talks JSON to the worker pool at rootURI. A nil doer gets a
// pester client with retries.
func NewHTTPClient(rootURI string, doer httpjson.Doer, stat stats.StatsReceiver) Client {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	c := &httpClient{http: httpjson.NewClient(rootURI, doer), stat: stat}
	log.Infof("Making new worker pool client with root URI: %s", c.http.RootURI())
	return c
}

func (c *httpClient) Submit(ctx context.Context, sub Submission) (TaskID, error) {
	c.stat.Counter(stats.WorkerSubmitCounter).Inc(1)
	wire := domainSubmissionToWire(sub)
	log.Debugf("Submitting %s", render.Render(wire))

	var task wireTask
	if err := c.http.RoundTrip(ctx, "Submit", http.MethodPost, "tasks", wire, &task); err != nil {
		c.stat.Counter(stats.WorkerSubmitErrCounter).Inc(1)
		return "", err
	}
	if task.ID == "" {
		c.stat.Counter(stats.WorkerSubmitErrCounter).Inc(1)
		return "", errors.Errorf("worker pool accepted %s without a task id", sub.Key)
	}
	log.WithFields(
		log.Fields{
			"item":    sub.Key.String(),
			"attempt": sub.Attempt,
			"taskID":  task.ID,
			"nonce":   sub.Nonce,
		}).Info("Submitted task")
	return task.ID, nil
}

func (c *httpClient) Status(ctx context.Context, id TaskID) (domain.TaskStatus, error) {
	c.stat.Counter(stats.WorkerStatusCounter).Inc(1)
	var st wireStatus
	if err := c.http.RoundTrip(ctx, "Status", http.MethodGet, taskPath(id, "status"), nil, &st); err != nil {
		c.stat.Counter(stats.WorkerStatusErrCounter).Inc(1)
		return domain.TaskPending, err
	}
	return st.Status, nil
}

func (c *httpClient) Result(ctx context.Context, id TaskID) (Result, error) {
	c.stat.Counter(stats.WorkerResultCounter).Inc(1)
	var res wireResult
	if err := c.http.RoundTrip(ctx, "Result", http.MethodGet, taskPath(id, "result"), nil, &res); err != nil {
		return Result{}, err
	}
	return wireResultToDomain(res), nil
}

// Cancel of a task the pool no longer knows is not an error.
func (c *httpClient) Cancel(ctx context.Context, id TaskID) error {
	err := c.http.RoundTrip(ctx, "Cancel", http.MethodDelete, taskPath(id), nil, nil)
	if httpjson.IsNotFound(err) {
		log.Infof("Cancel of unknown task %s ignored", id)
		return nil
	}
	return err
}

func taskPath(id TaskID, rest ...string) string {
	parts := append([]string{"tasks", url.PathEscape(string(id))}, rest...)
	return strings.Join(parts, "/")
}
