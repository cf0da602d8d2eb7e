package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"z-doc-extract-api/internal/domain/entity"
	"z-doc-extract-api/internal/domain/repository"
	apperrors "z-doc-extract-api/pkg/errors"
)

func newJob(id string) *entity.ExtractionJob {
	job := entity.NewExtractionJob([]string{"https://example.com"}, "extract", nil, nil)
	job.ID = id
	return job
}

func TestJobRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()

	require.NoError(t, repo.Create(ctx, newJob("job-1")))

	job, err := repo.GetByID(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, entity.JobStatusPending, job.Status)

	require.NoError(t, repo.Transition(ctx, "job-1", entity.JobStatusRunning, nil, ""))
	result := json.RawMessage(`[{"url":"https://example.com","status":"success"}]`)
	require.NoError(t, repo.Transition(ctx, "job-1", entity.JobStatusCompleted, result, ""))

	job, err = repo.GetByID(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, entity.JobStatusCompleted, job.Status)
	require.JSONEq(t, string(result), string(job.Result))
	require.NotNil(t, job.CompletedAt)
}

func TestJobRepositoryGetMissingReturnsNil(t *testing.T) {
	repo := NewJobRepository()
	job, err := repo.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestJobRepositoryRejectsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()
	require.NoError(t, repo.Create(ctx, newJob("job-1")))

	// pending 不能直接到 completed
	err := repo.Transition(ctx, "job-1", entity.JobStatusCompleted, nil, "")
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	require.NoError(t, repo.Transition(ctx, "job-1", entity.JobStatusRunning, nil, ""))
	require.NoError(t, repo.Transition(ctx, "job-1", entity.JobStatusFailed, nil, "boom"))

	// 终态后状态不再前进
	err = repo.Transition(ctx, "job-1", entity.JobStatusCompleted, nil, "")
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestJobRepositoryCancelPendingJob(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()
	require.NoError(t, repo.Create(ctx, newJob("job-1")))

	require.NoError(t, repo.Cancel(ctx, "job-1"))
	job, err := repo.GetByID(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, entity.JobStatusCancelled, job.Status)
}

func TestJobRepositoryCancelRunningSetsFlag(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()
	require.NoError(t, repo.Create(ctx, newJob("job-1")))
	require.NoError(t, repo.Transition(ctx, "job-1", entity.JobStatusRunning, nil, ""))

	require.NoError(t, repo.Cancel(ctx, "job-1"))

	requested, err := repo.IsCancelRequested(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, requested)

	// running 任务不会被直接置为终态，由编排器收敛
	job, _ := repo.GetByID(ctx, "job-1")
	require.Equal(t, entity.JobStatusRunning, job.Status)
}

func TestJobRepositoryCancelCompletedReturnsAlreadyDone(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()
	require.NoError(t, repo.Create(ctx, newJob("job-1")))
	require.NoError(t, repo.Transition(ctx, "job-1", entity.JobStatusRunning, nil, ""))
	require.NoError(t, repo.Transition(ctx, "job-1", entity.JobStatusCompleted, nil, ""))

	err := repo.Cancel(ctx, "job-1")
	require.ErrorIs(t, err, apperrors.ErrJobAlreadyDone)

	job, _ := repo.GetByID(ctx, "job-1")
	require.Equal(t, entity.JobStatusCompleted, job.Status)
}

func TestJobRepositoryIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()

	job := newJob("job-1")
	job.IdempotencyKey = "key-1"
	require.NoError(t, repo.Create(ctx, job))

	found, err := repo.GetByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "job-1", found.ID)

	missing, err := repo.GetByIdempotencyKey(ctx, "other")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestJobRepositoryList(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository()
	require.NoError(t, repo.Create(ctx, newJob("job-1")))
	require.NoError(t, repo.Create(ctx, newJob("job-2")))
	require.NoError(t, repo.Transition(ctx, "job-2", entity.JobStatusRunning, nil, ""))

	page, err := repo.List(ctx, &repository.JobFilter{Status: entity.JobStatusRunning}, repository.NewPagination(1, 10))
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)
	require.Equal(t, "job-2", page.Items[0].ID)

	all, err := repo.List(ctx, nil, repository.NewPagination(1, 10))
	require.NoError(t, err)
	require.Equal(t, int64(2), all.Total)
}
