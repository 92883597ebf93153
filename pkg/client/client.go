package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"androcompute/pkg/model"
)

// APIError is a non-2xx answer from the coordinator.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Details    map[string]any
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("coordinator returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("coordinator returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsCode reports whether err is an *APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request made by the client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// Client talks to one coordinator.
type Client struct {
	base *url.URL
	http *http.Client
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse coordinator url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("coordinator url %q: scheme must be http or https", baseURL)
	}
	c := &Client{base: u, http: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) Register(ctx context.Context, nodeID string, res model.Resources) (model.RegisterResponse, error) {
	var out model.RegisterResponse
	err := c.do(ctx, http.MethodPost, "/register", model.RegisterRequest{NodeID: nodeID, Resources: res}, &out)
	return out, err
}

// NextJob polls for work. An empty assignment means there is none.
func (c *Client) NextJob(ctx context.Context, nodeID string) (model.JobAssignment, error) {
	var out model.JobAssignment
	err := c.do(ctx, http.MethodGet, "/get_job/"+url.PathEscape(nodeID), nil, &out)
	return out, err
}

func (c *Client) SubmitResult(ctx context.Context, req model.SubmitResultRequest) (model.SubmitResultResponse, error) {
	var out model.SubmitResultResponse
	err := c.do(ctx, http.MethodPost, "/submit_result", req, &out)
	return out, err
}

func (c *Client) SubmitJob(ctx context.Context, jobType string) (model.SubmitJobResponse, error) {
	var out model.SubmitJobResponse
	err := c.do(ctx, http.MethodPost, "/submit_job", model.SubmitJobRequest{Type: jobType}, &out)
	return out, err
}

func (c *Client) Nodes(ctx context.Context) ([]model.NodeView, error) {
	var out []model.NodeView
	err := c.do(ctx, http.MethodGet, "/nodes", nil, &out)
	return out, err
}

func (c *Client) Results(ctx context.Context) ([]model.Result, error) {
	var out []model.Result
	err := c.do(ctx, http.MethodGet, "/results", nil, &out)
	return out, err
}

func (c *Client) Jobs(ctx context.Context) ([]model.Job, error) {
	var out []model.Job
	err := c.do(ctx, http.MethodGet, "/jobs", nil, &out)
	return out, err
}

func (c *Client) JobStatus(ctx context.Context, jobID string) (model.Job, error) {
	var out model.Job
	err := c.do(ctx, http.MethodGet, "/job_status/"+url.PathEscape(jobID), nil, &out)
	return out, err
}

func (c *Client) ClearCompleted(ctx context.Context) (model.ClearCompletedResponse, error) {
	var out model.ClearCompletedResponse
	err := c.do(ctx, http.MethodPost, "/clear_completed", nil, &out)
	return out, err
}

func (c *Client) CleanupNodes(ctx context.Context) (model.CleanupNodesResponse, error) {
	var out model.CleanupNodesResponse
	err := c.do(ctx, http.MethodPost, "/cleanup_nodes", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status}
	var env model.ErrorResponse
	if err := json.Unmarshal(data, &env); err == nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.RequestID = env.Error.RequestID
		apiErr.Details = env.Error.Details
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(data))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
