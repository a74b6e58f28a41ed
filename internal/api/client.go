package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/banshee-data/coverage.explorer/internal/db"
	"github.com/banshee-data/coverage.explorer/internal/httputil"
	"github.com/banshee-data/coverage.explorer/internal/version"
)

// Client talks to a running explorer.
type Client struct {
	base string
	http httputil.HTTPClient
}

// NewClient returns a client for the explorer at baseURL. A nil c uses
// http.DefaultClient.
func NewClient(baseURL string, c httputil.HTTPClient) *Client {
	if c == nil {
		c = httputil.NewStandardClient(nil)
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: c}
}

func (c *Client) url(path string) string { return c.base + path }

// Start submits a task. A task already running yields a
// *httputil.StatusError with StatusCode 409.
func (c *Client) Start(req TaskRequest) (StartResponse, error) {
	var resp StartResponse
	err := httputil.DoJSON(c.http, http.MethodPost, c.url("/api/explore"), req, &resp)
	return resp, err
}

// Preempt stops the running task and reports whether there was one.
func (c *Client) Preempt() (bool, error) {
	var resp PreemptResponse
	if err := httputil.DoJSON(c.http, http.MethodPost, c.url("/api/explore/preempt"), nil, &resp); err != nil {
		return false, err
	}
	return resp.Preempted, nil
}

func (c *Client) Status() (StatusResponse, error) {
	var resp StatusResponse
	err := httputil.DoJSON(c.http, http.MethodGet, c.url("/api/explore/status"), nil, &resp)
	return resp, err
}

// Plan asks the explorer to plan req without running it.
func (c *Client) Plan(req TaskRequest) (PlanResponse, error) {
	var resp PlanResponse
	err := httputil.DoJSON(c.http, http.MethodPost, c.url("/api/plan"), req, &resp)
	return resp, err
}

func (c *Client) Runs(limit int) ([]db.RunRecord, error) {
	var runs []db.RunRecord
	err := httputil.DoJSON(c.http, http.MethodGet, c.url(fmt.Sprintf("/api/runs?limit=%d", limit)), nil, &runs)
	return runs, err
}

func (c *Client) Version() (version.Info, error) {
	var info version.Info
	err := httputil.DoJSON(c.http, http.MethodGet, c.url("/api/version"), nil, &info)
	return info, err
}
