// Package httpjson is the JSON-over-HTTP plumbing shared by the worker pool
// and job tracker clients.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"
)

// ~2min total of trying with exponential backoff (0 and 1 both mean 1 try total)
const DefaultHTTPTries = 7

// Limit on error bodies kept in a StatusError.
const maxErrorBody = 4 << 10

type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

func MakePesterClient(tries int) *pester.Client {
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = tries
	client.LogHook = func(e pester.ErrEntry) {
		log.Errorf("Retrying after failed attempt: %+v", e)
	}
	return client
}

// StatusError is returned when the server answers with a non 2xx code.
type StatusError struct {
	Op     string
	URI    string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Op, e.URI, e.Code, e.Detail)
}

// IsNotFound reports whether err is a StatusError with code 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// IsPermanent reports whether err is a StatusError that a retry of the same
// request cannot fix: a 4xx other than 408 and 429.
func IsPermanent(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return se.Code >= 400 && se.Code < 500
}

type Client struct {
	rootURI string
	doer    Doer
}

// NewClient resolves request paths against rootURI. A nil doer gets a pester
// client with DefaultHTTPTries.
func NewClient(rootURI string, doer Doer) *Client {
	if !strings.HasSuffix(rootURI, "/") {
		rootURI = rootURI + "/"
	}
	if doer == nil {
		doer = MakePesterClient(DefaultHTTPTries)
	}
	return &Client{rootURI: rootURI, doer: doer}
}

func (c *Client) RootURI() string {
	return c.rootURI
}

// RoundTrip sends in as JSON (when not nil) and decodes the answer into out
// (when not nil). op names the call in errors and logs.
func (c *Client) RoundTrip(ctx context.Context, op, method, path string, in, out interface{}) error {
	uri := c.rootURI + path

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "%s: encoding request", op)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, uri, body)
	if err != nil {
		return errors.Wrapf(err, "%s: building request for %s", op, uri)
	}
	req = req.WithContext(ctx)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.doer.Do(req)
	if err != nil {
		log.Infof("%s error: %s %v", op, uri, err)
		return errors.Wrapf(err, "%s %s", op, uri)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := ioutil.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Errorf("%s response status error: %s %v", op, uri, resp.Status)
		return &StatusError{Op: op, URI: uri, Code: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "%s %s: decoding response", op, uri)
	}
	return nil
}
