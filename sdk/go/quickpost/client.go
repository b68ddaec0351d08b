package quickpost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// DefaultPollInterval is the delay between job status checks in WaitForJob.
const DefaultPollInterval = 2 * time.Second

// Job statuses reported by the API.
const (
	StatusWorking = "working"
	StatusReady   = "ready"
	StatusFailed  = "failed"
)

// ErrJobFailed is returned by WaitForJob when the job ends in the failed state.
var ErrJobFailed = errors.New("quickpost: job failed")

// Client wraps the HTTP interactions with the QuickPostKit REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu         sync.RWMutex
	adminToken string
}

// Inputs holds the questionnaire answers a plan is generated from.
// ContentBalance is the educational share in percent; the rest is promotional.
// Leave it nil to use the server default. Use Balance to set it.
type Inputs struct {
	Niche               string `json:"niche"`
	Audience            string `json:"audience"`
	ProductOrService    string `json:"product_or_service"`
	PrimaryPlatform     string `json:"primary_platform"`
	Tone                string `json:"tone"`
	MonthlyGoal         string `json:"monthly_goal"`
	VideoComfort        string `json:"video_comfort"`
	ContentBalance      *int   `json:"content_balance,omitempty"`
	HashtagStyle        string `json:"hashtag_style"`
	SpecialInstructions string `json:"special_instructions,omitempty"`
	Location            string `json:"location,omitempty"`
}

// Balance returns a ContentBalance value. Balance(0) asks for an all
// promotional plan.
func Balance(percent int) *int { return &percent }

// CheckoutSession is the hosted payment page created for a questionnaire.
type CheckoutSession struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

// Verification reports whether a checkout session has been paid.
type Verification struct {
	Verified bool   `json:"verified"`
	Paid     bool   `json:"paid"`
	Status   string `json:"status,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Submission is returned when a generation job has been accepted.
type Submission struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	PollURL string `json:"poll_url"`
}

// Job is the public view of a generation job.
type Job struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Filename    string `json:"filename,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	Error       string `json:"error,omitempty"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Done reports whether the job reached a terminal state.
func (j Job) Done() bool {
	return j.Status == StatusReady || j.Status == StatusFailed
}

// Stats aggregates job counts for the admin endpoints.
type Stats struct {
	Total   int `json:"total"`
	Working int `json:"working"`
	Running int `json:"running"`
	Ready   int `json:"ready"`
	Failed  int `json:"failed"`
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string            `json:"error"`
	Message    string            `json:"message,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("quickpost api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("quickpost api error (%d): %s", e.StatusCode, e.Code)
}

// NewClient instantiates a client for the QuickPostKit API. When httpClient is
// nil, a default client with a short timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAdminToken sets the bearer token used by the admin calls.
func (c *Client) SetAdminToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adminToken = token
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.adminToken
}

// Checkout validates the questionnaire server-side and opens a checkout session.
func (c *Client) Checkout(ctx context.Context, in Inputs) (CheckoutSession, error) {
	var sess CheckoutSession
	if err := c.post(ctx, "/api/checkout", in, &sess, false); err != nil {
		return CheckoutSession{}, err
	}
	return sess, nil
}

// Verify asks whether the session has been paid. An empty session id is
// reported by the server through Verification.Reason rather than an error.
func (c *Client) Verify(ctx context.Context, sessionID string) (Verification, error) {
	var v Verification
	body := map[string]string{"session_id": sessionID}
	if err := c.post(ctx, "/api/verify", body, &v, false); err != nil {
		return Verification{}, err
	}
	return v, nil
}

// Generate submits a paid session for plan generation. Repeated calls for the
// same session return the same job.
func (c *Client) Generate(ctx context.Context, sessionID string, in *Inputs) (Submission, error) {
	body := struct {
		SessionID string  `json:"session_id"`
		Inputs    *Inputs `json:"inputs,omitempty"`
	}{SessionID: sessionID, Inputs: in}
	var sub Submission
	if err := c.post(ctx, "/api/generate", body, &sub, false); err != nil {
		return Submission{}, err
	}
	return sub, nil
}

// Job fetches a job by identifier.
func (c *Client) Job(ctx context.Context, jobID string) (Job, error) {
	var j Job
	if err := c.get(ctx, "/api/jobs/"+url.PathEscape(jobID), nil, &j, false); err != nil {
		return Job{}, err
	}
	return j, nil
}

// JobBySession fetches the job created for a checkout session.
func (c *Client) JobBySession(ctx context.Context, sessionID string) (Job, error) {
	var j Job
	query := url.Values{"session_id": {sessionID}}
	if err := c.get(ctx, "/api/jobs", query, &j, false); err != nil {
		return Job{}, err
	}
	return j, nil
}

// WaitForJob polls until the job is ready or failed, or ctx is done.
// A failed job is returned together with ErrJobFailed.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		j, err := c.Job(ctx, jobID)
		if err != nil {
			return Job{}, err
		}
		switch j.Status {
		case StatusReady:
			return j, nil
		case StatusFailed:
			return j, ErrJobFailed
		}
		select {
		case <-ctx.Done():
			return j, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Download streams a generated document into w and returns the bytes written.
func (c *Client) Download(ctx context.Context, filename string, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/download/"+url.PathEscape(filename), nil, nil, false)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, decodeAPIError(resp)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("read document: %w", err)
	}
	return n, nil
}

// ListJobs returns jobs visible to the admin API. query accepts the same
// parameters as the endpoint: status, limit, offset, since, until, q, order.
func (c *Client) ListJobs(ctx context.Context, query url.Values) ([]Job, error) {
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.get(ctx, "/api/admin/jobs", query, &out, true); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// JobStats returns aggregate job counts from the admin API.
func (c *Client) JobStats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/admin/jobs/stats", nil, &stats, true); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// RetryJob requeues a failed job through the admin API.
func (c *Client) RetryJob(ctx context.Context, jobID string) (Job, error) {
	var j Job
	if err := c.post(ctx, "/api/admin/jobs/"+url.PathEscape(jobID)+"/retry", nil, &j, true); err != nil {
		return Job{}, err
	}
	return j, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, withAuth bool) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, body, withAuth)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any, withAuth bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil, withAuth)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, withAuth bool) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if withAuth {
		token := c.token()
		if token == "" {
			return nil, errors.New("quickpost: admin token is not set")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, apiErr); err != nil {
			apiErr.Code = string(bytes.TrimSpace(data))
		}
	}
	if apiErr.Code == "" {
		apiErr.Code = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
