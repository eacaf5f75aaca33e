package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kiranshivaraju/jobsync/pkg/models"
)

// Sentinel errors for gateway failures.
var (
	ErrGatewayUnreachable = errors.New("gateway unreachable")
	ErrGatewayTimeout     = errors.New("gateway timeout")
	ErrGatewayRejected    = errors.New("gateway rejected request")
	ErrGatewayError       = errors.New("gateway error")
	ErrNotFound           = errors.New("gateway resource not found")
)

// Client is the interface for the remote job gateway.
type Client interface {
	SubmitJob(ctx context.Context, req models.JobRequest) (string, error)
	ListTasks(ctx context.Context, q models.TaskQuery) ([]models.Task, error)
	TaskStatus(ctx context.Context, taskType models.TaskType, id string) (*models.TaskStatusDetail, error)

	ListModels(ctx context.Context) ([]models.Model, error)
	GetModel(ctx context.Context, id string) (*models.Model, error)
	UpdateModel(ctx context.Context, id string, upd models.ResourceUpdate) (*models.Model, error)
	DeleteModel(ctx context.Context, id string) error

	ListDatasets(ctx context.Context) ([]models.Dataset, error)
	GetDataset(ctx context.Context, id string) (*models.Dataset, error)
	UpdateDataset(ctx context.Context, id string, upd models.ResourceUpdate) (*models.Dataset, error)
	DeleteDataset(ctx context.Context, id string) error

	UploadFile(ctx context.Context, f File, progress chan<- float64) (string, error)
	Ready(ctx context.Context) error
}

// HTTPClient implements Client over the gateway's JSON HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	upload  *http.Client
}

// NewHTTPClient creates a gateway client. Uploads use their own timeout since
// a single file body can take far longer than a status read.
func NewHTTPClient(baseURL string, timeout, uploadTimeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		upload:  &http.Client{Timeout: uploadTimeout},
	}
}

func (c *HTTPClient) SubmitJob(ctx context.Context, req models.JobRequest) (string, error) {
	kind, err := kindSegment(req.Type)
	if err != nil {
		return "", err
	}

	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/jobs/"+kind, req.Params, &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		return "", fmt.Errorf("%w: submit response missing task_id", ErrGatewayError)
	}
	return out.TaskID, nil
}

func (c *HTTPClient) ListTasks(ctx context.Context, q models.TaskQuery) ([]models.Task, error) {
	params := url.Values{}
	if q.WindowHours > 0 {
		params.Set("window_hours", strconv.Itoa(q.WindowHours))
	}
	if q.Type != "" {
		params.Set("task_type", string(q.Type))
	}
	if q.Tag != "" {
		params.Set("tag", q.Tag)
	}

	path := "/tasks"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var tasks []models.Task
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		return []models.Task{}, nil
	}
	return tasks, nil
}

func (c *HTTPClient) TaskStatus(ctx context.Context, taskType models.TaskType, id string) (*models.TaskStatusDetail, error) {
	path, err := statusPath(taskType, id)
	if err != nil {
		return nil, err
	}

	var detail models.TaskStatusDetail
	if err := c.do(ctx, http.MethodGet, path, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// --- Models ---

func (c *HTTPClient) ListModels(ctx context.Context) ([]models.Model, error) {
	var out []models.Model
	if err := c.do(ctx, http.MethodGet, "/models", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return []models.Model{}, nil
	}
	return out, nil
}

func (c *HTTPClient) GetModel(ctx context.Context, id string) (*models.Model, error) {
	var m models.Model
	if err := c.do(ctx, http.MethodGet, "/models/"+url.PathEscape(id), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *HTTPClient) UpdateModel(ctx context.Context, id string, upd models.ResourceUpdate) (*models.Model, error) {
	var m models.Model
	if err := c.do(ctx, http.MethodPut, "/models/"+url.PathEscape(id), upd, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *HTTPClient) DeleteModel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/models/"+url.PathEscape(id), nil, nil)
}

// --- Datasets ---

func (c *HTTPClient) ListDatasets(ctx context.Context) ([]models.Dataset, error) {
	var out []models.Dataset
	if err := c.do(ctx, http.MethodGet, "/datasets", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return []models.Dataset{}, nil
	}
	return out, nil
}

func (c *HTTPClient) GetDataset(ctx context.Context, id string) (*models.Dataset, error) {
	var d models.Dataset
	if err := c.do(ctx, http.MethodGet, "/datasets/"+url.PathEscape(id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) UpdateDataset(ctx context.Context, id string, upd models.ResourceUpdate) (*models.Dataset, error) {
	var d models.Dataset
	if err := c.do(ctx, http.MethodPut, "/datasets/"+url.PathEscape(id), upd, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) DeleteDataset(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/datasets/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: gateway not ready (status %d)", ErrGatewayUnreachable, resp.StatusCode)
	}
	return nil
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrGatewayError, err)
	}
	return nil
}

// checkStatus maps non-2xx responses to sentinel errors.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg := readErrorMessage(resp.Body)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &RejectedError{StatusCode: resp.StatusCode, Message: msg}
	default:
		return fmt.Errorf("%w: status %d: %s", ErrGatewayError, resp.StatusCode, msg)
	}
}

// RejectedError carries the gateway's explanation for a 4xx response.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrGatewayRejected, e.StatusCode, e.Message)
}

func (e *RejectedError) Unwrap() error { return ErrGatewayRejected }

// readErrorMessage extracts "detail" or "message" from an error body, falling
// back to the raw (truncated) text.
func readErrorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if s, ok := body.Detail.(string); ok && s != "" {
			return s
		}
		if body.Message != "" {
			return body.Message
		}
	}
	if len(raw) == 0 {
		return "no response body"
	}
	return string(raw)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
