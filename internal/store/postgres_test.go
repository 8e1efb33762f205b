package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/zipatlas/internal/pipeline"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := s.CreateJob(context.Background(), testParams())
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	resultJSON := []byte(`{"rows":120,"matched_codes":118}`)
	rows := pgxmock.NewRows([]string{"id", "params", "status", "error", "result", "created_at", "updated_at"}).
		AddRow("job-1", []byte(`{"input_file":"input.csv","zip_column":"zip","group_column":"state"}`),
			"complete", nil, &resultJSON, now, now)

	mock.ExpectQuery(`SELECT id, params, status, error, result, created_at, updated_at FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, JobStatusComplete, job.Status)
	assert.Equal(t, "zip", job.Params.ZIPColumn)
	require.NotNil(t, job.Result)
	assert.Equal(t, 120, job.Result.Rows)
	assert.Equal(t, 118, job.Result.Matched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, params, status, error, result, created_at, updated_at FROM jobs WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJobStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("running", pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateJobStatus(context.Background(), "job-1", JobStatusRunning)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJobStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("running", pgxmock.AnyArg(), "nonexistent").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateJobStatus(context.Background(), "nonexistent", JobStatusRunning)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJobResult(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET result = \$1, status = \$2, updated_at = \$3 WHERE id = \$4`).
		WithArgs(pgxmock.AnyArg(), "complete", pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateJobResult(context.Background(), "job-1", &pipeline.Result{Rows: 120, Matched: 118})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1, error = \$2, result = \$3, updated_at = \$4 WHERE id = \$5`).
		WithArgs("failed", "boundary source unavailable", pgxmock.AnyArg(), pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.FailJob(context.Background(), "job-1", "boundary source unavailable", &pipeline.Result{Rows: 120})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListJobs_FilterByStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	errText := "bad input"
	rows := pgxmock.NewRows([]string{"id", "params", "status", "error", "result", "created_at", "updated_at"}).
		AddRow("job-2", []byte(`{"zip_column":"zip"}`), "failed", &errText, nil, now, now)

	mock.ExpectQuery(`SELECT id, params, status, error, result, created_at, updated_at FROM jobs WHERE true AND status = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("failed", 100).
		WillReturnRows(rows)

	jobs, err := s.ListJobs(context.Background(), JobFilter{Status: JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-2", jobs[0].ID)
	assert.Equal(t, "bad input", jobs[0].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}
