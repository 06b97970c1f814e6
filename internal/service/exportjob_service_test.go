package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-core-api/internal/models"
	"github.com/noah-isme/attendance-core-api/internal/repository"
	appErrors "github.com/noah-isme/attendance-core-api/pkg/errors"
	"github.com/noah-isme/attendance-core-api/pkg/jobs"
)

type exportJobStoreStub struct {
	jobs    map[string]*models.ExportJob
	updates []repository.UpdateExportJobParams
}

func newExportJobStoreStub() *exportJobStoreStub {
	return &exportJobStoreStub{jobs: map[string]*models.ExportJob{}}
}

func (s *exportJobStoreStub) Create(ctx context.Context, job *models.ExportJob) error {
	job.ID = "job-1"
	s.jobs[job.ID] = job
	return nil
}

func (s *exportJobStoreStub) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.New("missing job")
	}
	return job, nil
}

func (s *exportJobStoreStub) Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error {
	s.updates = append(s.updates, params)
	job := s.jobs[id]
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	return nil
}

func (s *exportJobStoreStub) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	return nil, nil
}

func (s *exportJobStoreStub) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	return nil, nil
}

type dispatcherStub struct {
	enqueued []jobs.Job
	err      error
}

func (s *dispatcherStub) Enqueue(job jobs.Job) error {
	if s.err != nil {
		return s.err
	}
	s.enqueued = append(s.enqueued, job)
	return nil
}

type generatorStub struct {
	result *ExportResult
	err    error
}

func (s *generatorStub) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func TestExportJobCreateEnqueues(t *testing.T) {
	store := newExportJobStoreStub()
	queue := &dispatcherStub{}
	svc := NewExportJobService(store, queue, nil, nil, ExportJobConfig{})

	status, err := svc.CreateJob(context.Background(), CreateExportRequest{
		Type:   "unresolved",
		Date:   "2026-03-02",
		Format: "csv",
	}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, status.Status)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, "job-1", queue.enqueued[0].ID)
}

func TestExportJobCreateRejectsBadRequest(t *testing.T) {
	svc := NewExportJobService(newExportJobStoreStub(), &dispatcherStub{}, nil, nil, ExportJobConfig{})

	cases := []CreateExportRequest{
		{Type: "everything", Date: "2026-03-02", Format: "csv"},
		{Type: "unresolved", Date: "2026-03-02", Format: "xlsx"},
		{Type: "unresolved", Date: "yesterday", Format: "csv"},
	}
	for _, req := range cases {
		_, err := svc.CreateJob(context.Background(), req, "admin-1")
		assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	}
}

func TestExportJobCreateMarksFailedWhenEnqueueFails(t *testing.T) {
	store := newExportJobStoreStub()
	queue := &dispatcherStub{err: errors.New("queue stopped")}
	svc := NewExportJobService(store, queue, nil, nil, ExportJobConfig{})

	_, err := svc.CreateJob(context.Background(), CreateExportRequest{
		Type:   "day_log",
		Date:   "2026-03-02",
		Format: "pdf",
	}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, models.ExportStatusFailed, store.jobs["job-1"].Status)
}

func TestExportWorkerFinishesJob(t *testing.T) {
	store := newExportJobStoreStub()
	store.jobs["job-1"] = &models.ExportJob{
		ID:     "job-1",
		Type:   models.ExportTypeUnresolved,
		Status: models.ExportStatusQueued,
		Params: models.ExportJobParams{Date: "2026-03-02", Format: models.ExportFormatCSV},
	}
	worker := NewExportWorker(store, &generatorStub{result: &ExportResult{
		URL:    "/api/v1/export/tok-abc",
		Format: models.ExportFormatCSV,
	}}, 3, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 1})
	require.NoError(t, err)

	job := store.jobs["job-1"]
	assert.Equal(t, models.ExportStatusFinished, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.ResultURL)
	assert.Equal(t, "/api/v1/export/tok-abc", *job.ResultURL)
}

func TestExportWorkerRequeuesUntilRetriesExhausted(t *testing.T) {
	store := newExportJobStoreStub()
	store.jobs["job-1"] = &models.ExportJob{ID: "job-1", Status: models.ExportStatusQueued}
	worker := NewExportWorker(store, &generatorStub{err: errors.New("render failed")}, 3, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 1})
	require.Error(t, err)
	assert.Equal(t, models.ExportStatusQueued, store.jobs["job-1"].Status)

	err = worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 3})
	require.Error(t, err)
	assert.Equal(t, models.ExportStatusFailed, store.jobs["job-1"].Status)
	assert.Equal(t, 100, store.jobs["job-1"].Progress)
}
