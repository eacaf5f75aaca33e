package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/jobsync/internal/api"
	"github.com/kiranshivaraju/jobsync/internal/api/handler"
	mw "github.com/kiranshivaraju/jobsync/internal/api/middleware"
	"github.com/kiranshivaraju/jobsync/internal/cache"
	"github.com/kiranshivaraju/jobsync/internal/gateway"
	"github.com/kiranshivaraju/jobsync/internal/upload"
	"github.com/kiranshivaraju/jobsync/pkg/models"
	"github.com/stretchr/testify/require"
)

// ─── test fixtures ───────────────────────────────────────────────────────────

var (
	base      = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testTasks = []models.Task{
		{ID: "t3", Type: models.TaskTypeTraining, Status: models.TaskStatusRunning, Tag: "exp", CreatedAt: base.Add(3 * time.Minute)},
		{ID: "t2", Type: models.TaskTypeEvaluation, Status: models.TaskStatusFailed, ErrorMsg: "OOM", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "t1", Type: models.TaskTypeDatasetUpload, Status: models.TaskStatusDone, CreatedAt: base.Add(time.Minute)},
	}
	testModel   = models.Model{ID: "m1", Name: "llama-ft", CreatedAt: base}
	testDataset = models.Dataset{ID: "d1", Name: "support-chats", NumSamples: 1200, CreatedAt: base}
)

// ─── fakes ───────────────────────────────────────────────────────────────────

type fakeTasks struct {
	tasks   []models.Task
	err     error
	windows []int
}

func (f *fakeTasks) Tasks(_ context.Context, windowHours int) ([]models.Task, error) {
	f.windows = append(f.windows, windowHours)
	return f.tasks, f.err
}

type fakeResolver struct {
	seen []models.Task
}

func (f *fakeResolver) Resolve(_ context.Context, task models.Task) string {
	f.seen = append(f.seen, task)
	if task.Status != models.TaskStatusFailed {
		return ""
	}
	if task.ErrorMsg != "" {
		return task.ErrorMsg
	}
	return "Failure details are unavailable."
}

type fakeJobs struct {
	mu   sync.Mutex
	reqs []models.JobRequest
	err  error

	// entered and release, when set, hold Submit open until the test lets go.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeJobs) Submit(_ context.Context, req models.JobRequest) (string, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	f.reqs = append(f.reqs, req)
	return "task-new", nil
}

func (f *fakeJobs) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeJobs) submitted() []models.JobRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.JobRequest(nil), f.reqs...)
}

type fakeResources struct {
	models   map[string]models.Model
	datasets map[string]models.Dataset
	history  map[string][]models.Task
	err      error
	deleted  []string
}

func newFakeResources() *fakeResources {
	return &fakeResources{
		models:   map[string]models.Model{testModel.ID: testModel},
		datasets: map[string]models.Dataset{testDataset.ID: testDataset},
		history: map[string][]models.Task{
			testModel.ID:   {testTasks[0]},
			testDataset.ID: {testTasks[2]},
		},
	}
}

func (f *fakeResources) Models(_ context.Context) ([]models.Model, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Model
	for _, m := range f.models {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeResources) Model(_ context.Context, id string) (*models.Model, error) {
	m, ok := f.models[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return &m, nil
}

func (f *fakeResources) ModelHistory(_ context.Context, id string) ([]models.Task, error) {
	return f.history[id], nil
}

func (f *fakeResources) Datasets(_ context.Context) ([]models.Dataset, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Dataset
	for _, d := range f.datasets {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeResources) Dataset(_ context.Context, id string) (*models.Dataset, error) {
	d, ok := f.datasets[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return &d, nil
}

func (f *fakeResources) DatasetHistory(_ context.Context, id string) ([]models.Task, error) {
	return f.history[id], nil
}

func (f *fakeResources) UpdateModel(_ context.Context, id string, upd models.ResourceUpdate) (*models.Model, error) {
	m, ok := f.models[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	if upd.Name != nil {
		m.Name = *upd.Name
	}
	if upd.Description != nil {
		m.Description = *upd.Description
	}
	f.models[id] = m
	return &m, nil
}

func (f *fakeResources) DeleteModel(_ context.Context, id string) error {
	if _, ok := f.models[id]; !ok {
		return gateway.ErrNotFound
	}
	delete(f.models, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeResources) UpdateDataset(_ context.Context, id string, upd models.ResourceUpdate) (*models.Dataset, error) {
	d, ok := f.datasets[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	if upd.Name != nil {
		d.Name = *upd.Name
	}
	if upd.Description != nil {
		d.Description = *upd.Description
	}
	f.datasets[id] = d
	return &d, nil
}

func (f *fakeResources) DeleteDataset(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.datasets[id]; !ok {
		return gateway.ErrNotFound
	}
	delete(f.datasets, id)
	f.deleted = append(f.deleted, id)
	return nil
}

// instantUploader finishes every upload immediately. Files whose name starts
// with "bad" fail.
type instantUploader struct{}

func (instantUploader) UploadFile(_ context.Context, f gateway.File, progress chan<- float64) (string, error) {
	progress <- 0.5
	if strings.HasPrefix(f.Name, "bad") {
		return "", errors.New("connection reset")
	}
	progress <- 1
	return "file-" + f.Name, nil
}

// ─── test harness ────────────────────────────────────────────────────────────

type testServer struct {
	server    *httptest.Server
	tasks     *fakeTasks
	resolver  *fakeResolver
	jobs      *fakeJobs
	resources *fakeResources
	sessions  *upload.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		tasks:     &fakeTasks{tasks: testTasks},
		resolver:  &fakeResolver{},
		jobs:      &fakeJobs{},
		resources: newFakeResources(),
		sessions:  upload.NewRegistry(instantUploader{}),
	}
	res := handler.NewResources(ts.resources, ts.resources)
	up := handler.NewUploads(ts.sessions, ts.jobs)

	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(cache.NewMemoryStore(), 100),

		ListTasks:      handler.NewListTasksHandler(ts.tasks, 24),
		FailureHandler: handler.NewFailureHandler(ts.tasks, ts.resolver, 24),
		SubmitJob:      handler.NewSubmitJobHandler(ts.jobs),

		ListModels:    res.ListModels,
		GetModel:      res.GetModel,
		UpdateModel:   res.UpdateModel,
		DeleteModel:   res.DeleteModel,
		ModelTasks:    res.ModelTasks,
		ListDatasets:  res.ListDatasets,
		GetDataset:    res.GetDataset,
		UpdateDataset: res.UpdateDataset,
		DeleteDataset: res.DeleteDataset,
		DatasetTasks:  res.DatasetTasks,

		CreateUpload:   up.Create,
		GetUpload:      up.Get,
		AddUploadFiles: up.AddFiles,
		RemoveUpload:   up.RemoveFile,
		RetryUpload:    up.RetryFile,
		FinalizeUpload: up.Finalize,
		DiscardUpload:  up.Discard,
	}

	srv := httptest.NewServer(api.NewRouter(deps))
	t.Cleanup(srv.Close)
	ts.server = srv
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// multipartBody builds a form with the given fields and one "files" part per
// file name.
func multipartBody(t *testing.T, fields map[string]string, files ...string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mp := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mp.WriteField(k, v))
	}
	for _, name := range files {
		part, err := mp.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte("contents of " + name))
		require.NoError(t, err)
	}
	require.NoError(t, mp.Close())
	return &buf, mp.FormDataContentType()
}

func (ts *testServer) postMultipart(t *testing.T, path string, fields map[string]string, files ...string) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, fields, files...)
	resp, err := http.Post(ts.server.URL+path, contentType, body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func parseBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	errObj, ok := parseBody(t, resp)["error"].(map[string]any)
	require.True(t, ok, "response should have error object")
	return errObj["code"].(string)
}
