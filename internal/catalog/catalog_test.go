package catalog_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/jobsync/internal/cache"
	"github.com/kiranshivaraju/jobsync/internal/catalog"
	"github.com/kiranshivaraju/jobsync/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fake source ---

type fakeSource struct {
	mu       sync.Mutex
	tasks    map[models.TaskQuery][]models.Task
	models   []models.Model
	datasets []models.Dataset
	err      error
	calls    map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{tasks: make(map[models.TaskQuery][]models.Task), calls: make(map[string]int)}
}

func (f *fakeSource) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.err
}

func (f *fakeSource) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeSource) ListTasks(_ context.Context, q models.TaskQuery) ([]models.Task, error) {
	if err := f.record("ListTasks"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[q], nil
}

func (f *fakeSource) ListModels(_ context.Context) ([]models.Model, error) {
	if err := f.record("ListModels"); err != nil {
		return nil, err
	}
	return f.models, nil
}

func (f *fakeSource) GetModel(_ context.Context, id string) (*models.Model, error) {
	if err := f.record("GetModel"); err != nil {
		return nil, err
	}
	for _, m := range f.models {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeSource) ListDatasets(_ context.Context) ([]models.Dataset, error) {
	if err := f.record("ListDatasets"); err != nil {
		return nil, err
	}
	return f.datasets, nil
}

func (f *fakeSource) GetDataset(_ context.Context, id string) (*models.Dataset, error) {
	if err := f.record("GetDataset"); err != nil {
		return nil, err
	}
	for _, d := range f.datasets {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func TestTasks_SortedAndCached(t *testing.T) {
	src := newFakeSource()
	src.tasks[models.TaskQuery{WindowHours: 24}] = []models.Task{
		{ID: "old", CreatedAt: t0},
		{ID: "new", CreatedAt: t0.Add(time.Hour)},
	}
	qc := cache.NewQueryCache(cache.NewMemoryStore())
	c := catalog.New(src, qc)

	tasks, err := c.Tasks(context.Background(), 24)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "new", tasks[0].ID)

	_, err = c.Tasks(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 1, src.count("ListTasks"))

	qc.InvalidatePrefix(cache.TasksPrefix())
	_, err = c.Tasks(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 2, src.count("ListTasks"))
}

func TestRefreshTasks_AlwaysFetches(t *testing.T) {
	src := newFakeSource()
	c := catalog.New(src, cache.NewQueryCache(cache.NewMemoryStore()))

	for i := 0; i < 3; i++ {
		_, err := c.RefreshTasks(context.Background(), 24)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, src.count("ListTasks"))
}

func TestModels_ServesStaleOnError(t *testing.T) {
	src := newFakeSource()
	src.models = []models.Model{{ID: "m1", Name: "base"}}
	qc := cache.NewQueryCache(cache.NewMemoryStore())
	c := catalog.New(src, qc)

	_, err := c.Models(context.Background())
	require.NoError(t, err)

	qc.Invalidate(cache.ModelsKey())
	src.setErr(errors.New("gateway down"))

	out, err := c.Models(context.Background())
	require.NoError(t, err, "stale value should be served")
	assert.Equal(t, "m1", out[0].ID)
}

func TestDatasets_ErrorWithoutCachedValue(t *testing.T) {
	src := newFakeSource()
	src.setErr(errors.New("gateway down"))
	c := catalog.New(src, cache.NewQueryCache(cache.NewMemoryStore()))

	_, err := c.Datasets(context.Background())
	assert.Error(t, err)
}

func TestDatasetHistory_OwnTasksWin(t *testing.T) {
	src := newFakeSource()
	// The training task references d1 and is also reported, with fresher
	// fields, by the dataset's own upload query.
	src.tasks[models.TaskQuery{Type: models.TaskTypeTraining, Tag: "d1"}] = []models.Task{
		{ID: "train-1", Type: models.TaskTypeTraining, Status: models.TaskStatusRunning, Tag: "d1", CreatedAt: t0.Add(2 * time.Hour)},
	}
	src.tasks[models.TaskQuery{Type: models.TaskTypeEvaluation, Tag: "d1"}] = []models.Task{
		{ID: "eval-1", Type: models.TaskTypeEvaluation, Status: models.TaskStatusFailed, Tag: "d1", CreatedAt: t0.Add(3 * time.Hour)},
	}
	src.tasks[models.TaskQuery{Type: models.TaskTypeDatasetUpload, Tag: "d1"}] = []models.Task{
		{ID: "upload-1", Type: models.TaskTypeDatasetUpload, Status: models.TaskStatusDone, Tag: "d1", CreatedAt: t0},
		{ID: "train-1", Type: models.TaskTypeTraining, Status: models.TaskStatusDone, Tag: "d1", CreatedAt: t0.Add(2 * time.Hour)},
	}
	c := catalog.New(src, cache.NewQueryCache(cache.NewMemoryStore()))

	tasks, err := c.DatasetHistory(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	assert.Equal(t, "eval-1", tasks[0].ID)
	assert.Equal(t, "train-1", tasks[1].ID)
	assert.Equal(t, models.TaskStatusDone, tasks[1].Status)
	assert.Equal(t, "upload-1", tasks[2].ID)
}

func TestModelHistory(t *testing.T) {
	src := newFakeSource()
	src.tasks[models.TaskQuery{Type: models.TaskTypeTraining, Tag: "m1"}] = []models.Task{
		{ID: "train-1", CreatedAt: t0},
	}
	src.tasks[models.TaskQuery{Type: models.TaskTypeModelUpload, Tag: "m1"}] = []models.Task{
		{ID: "up-1", CreatedAt: t0.Add(-time.Hour)},
	}
	c := catalog.New(src, cache.NewQueryCache(cache.NewMemoryStore()))

	tasks, err := c.ModelHistory(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "train-1", tasks[0].ID)
	assert.Equal(t, 3, src.count("ListTasks"))
}

func TestEntityReads(t *testing.T) {
	src := newFakeSource()
	src.models = []models.Model{{ID: "m1", Name: "base"}}
	src.datasets = []models.Dataset{{ID: "d1", Name: "corpus"}}
	c := catalog.New(src, cache.NewQueryCache(cache.NewMemoryStore()))

	m, err := c.Model(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "base", m.Name)

	d, err := c.Dataset(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "corpus", d.Name)

	_, _ = c.Model(context.Background(), "m1")
	assert.Equal(t, 1, src.count("GetModel"))
}
