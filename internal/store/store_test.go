package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/reelforge/reelforge/internal/store"
	"github.com/reelforge/reelforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("reelforge_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// createTestJob inserts a pending job with the given unit count.
func createTestJob(t *testing.T, s store.Store, unitCount int) *models.Job {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	job := &models.Job{
		ID:        uuid.New(),
		Status:    models.JobStatusPending,
		UnitCount: unitCount,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

// --- Job Tests ---

func TestJob_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	job := createTestJob(t, s, 12)

	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, 12, got.UnitCount)
	assert.Nil(t, got.CompletedAt)
}

func TestJob_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_DuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	job := createTestJob(t, s, 3)
	err := s.CreateJob(context.Background(), job)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestJob_UpdateStatusCompleted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := createTestJob(t, s, 2)
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestJob_UpdateStatusNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.UpdateJobStatus(context.Background(), uuid.New(), models.JobStatusRunning)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- History Tests ---

func historyEntry(jobID uuid.UUID, seq int, status string) *models.HistoryEntry {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.HistoryEntry{
		UnitID:         uuid.New(),
		JobID:          jobID,
		SequenceNumber: seq,
		Prompt:         "a clip",
		AspectRatio:    "16:9",
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestHistory_UpsertInsertAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := createTestJob(t, s, 1)
	entry := historyEntry(job.ID, 1, models.UnitStatusGenerating)
	require.NoError(t, s.UpsertHistoryEntry(ctx, entry))

	got, err := s.GetHistoryEntry(ctx, entry.UnitID)
	require.NoError(t, err)
	assert.Equal(t, entry.UnitID, got.UnitID)
	assert.Equal(t, models.UnitStatusGenerating, got.Status)
	assert.Nil(t, got.ArtifactURL)
}

func TestHistory_UpsertUpdatesStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := createTestJob(t, s, 1)
	entry := historyEntry(job.ID, 1, models.UnitStatusGenerating)
	require.NoError(t, s.UpsertHistoryEntry(ctx, entry))

	url := "https://cdn.example.com/clip-1.mp4"
	entry.Status = models.UnitStatusCompleted
	entry.ArtifactURL = &url
	entry.UpdatedAt = entry.UpdatedAt.Add(time.Minute)
	require.NoError(t, s.UpsertHistoryEntry(ctx, entry))

	got, err := s.GetHistoryEntry(ctx, entry.UnitID)
	require.NoError(t, err)
	assert.Equal(t, models.UnitStatusCompleted, got.Status)
	require.NotNil(t, got.ArtifactURL)
	assert.Equal(t, url, *got.ArtifactURL)
}

func TestHistory_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetHistoryEntry(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHistory_ListByJobOrdered(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := createTestJob(t, s, 3)
	for _, seq := range []int{3, 1, 2} {
		require.NoError(t, s.UpsertHistoryEntry(ctx, historyEntry(job.ID, seq, models.UnitStatusCompleted)))
	}

	entries, err := s.ListHistoryByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 1, entries[0].SequenceNumber)
	assert.Equal(t, 2, entries[1].SequenceNumber)
	assert.Equal(t, 3, entries[2].SequenceNumber)
}

func TestHistory_ListWithFilters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	jobA := createTestJob(t, s, 2)
	jobB := createTestJob(t, s, 1)
	require.NoError(t, s.UpsertHistoryEntry(ctx, historyEntry(jobA.ID, 1, models.UnitStatusCompleted)))
	require.NoError(t, s.UpsertHistoryEntry(ctx, historyEntry(jobA.ID, 2, models.UnitStatusFailed)))
	require.NoError(t, s.UpsertHistoryEntry(ctx, historyEntry(jobB.ID, 1, models.UnitStatusCompleted)))

	entries, total, err := s.ListHistory(ctx, store.HistoryFilter{
		JobID: &jobA.ID, Page: 1, Limit: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, entries, 2)

	entries, total, err = s.ListHistory(ctx, store.HistoryFilter{
		Status: models.UnitStatusFailed, Page: 1, Limit: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, models.UnitStatusFailed, entries[0].Status)
}

func TestHistory_ListPagination(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := createTestJob(t, s, 5)
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.UpsertHistoryEntry(ctx, historyEntry(job.ID, i, models.UnitStatusCompleted)))
	}

	entries, total, err := s.ListHistory(ctx, store.HistoryFilter{Page: 1, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, entries, 3)

	entries, _, err = s.ListHistory(ctx, store.HistoryFilter{Page: 2, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestHistory_DeleteCascadesWithJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := createTestJob(t, s, 1)
	entry := historyEntry(job.ID, 1, models.UnitStatusCompleted)
	require.NoError(t, s.UpsertHistoryEntry(ctx, entry))

	_, err := pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, job.ID)
	require.NoError(t, err)

	_, err = s.GetHistoryEntry(ctx, entry.UnitID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Credential Tests ---

func testCredential(label string) *models.Credential {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Credential{
		ID:        uuid.New(),
		Label:     label,
		Secret:    "sk-" + uuid.NewString(),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCredential_CreateAndList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	require.NoError(t, s.CreateCredential(ctx, testCredential("primary")))
	require.NoError(t, s.CreateCredential(ctx, testCredential("backup")))

	creds, err := s.ListCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, "primary", creds[0].Label)
	assert.Equal(t, "backup", creds[1].Label)
}

func TestCredential_Delete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	cred := testCredential("doomed")
	require.NoError(t, s.CreateCredential(ctx, cred))
	require.NoError(t, s.DeleteCredential(ctx, cred.ID))

	creds, err := s.ListCredentials(ctx)
	require.NoError(t, err)
	assert.Empty(t, creds)

	err = s.DeleteCredential(ctx, cred.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCredential_SetActive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	cred := testCredential("toggle")
	require.NoError(t, s.CreateCredential(ctx, cred))
	require.NoError(t, s.SetCredentialActive(ctx, cred.ID, false))

	creds, err := s.ListCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.False(t, creds[0].IsActive)
}

func TestCredential_SetActiveNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.SetCredentialActive(context.Background(), uuid.New(), false)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCredential_UpdateUsage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	cred := testCredential("used")
	require.NoError(t, s.CreateCredential(ctx, cred))

	usedAt := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, s.UpdateCredentialUsage(ctx, cred.ID, 7, usedAt))

	creds, err := s.ListCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, 7, creds[0].RequestCount)
	require.NotNil(t, creds[0].LastUsedAt)
	assert.Equal(t, usedAt, creds[0].LastUsedAt.UTC().Truncate(time.Microsecond))
}

func TestCredential_Replace(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	require.NoError(t, s.CreateCredential(ctx, testCredential("old-1")))
	require.NoError(t, s.CreateCredential(ctx, testCredential("old-2")))

	replacement := []*models.Credential{testCredential("new-1"), testCredential("new-2"), testCredential("new-3")}
	require.NoError(t, s.ReplaceCredentials(ctx, replacement))

	creds, err := s.ListCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, creds, 3)
	for _, c := range creds {
		assert.Contains(t, []string{"new-1", "new-2", "new-3"}, c.Label)
	}
}

// --- Rotation Policy Tests ---

func TestRotationPolicy_SeededDefaults(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	policy, err := s.GetRotationPolicy(context.Background())
	require.NoError(t, err)
	assert.True(t, policy.Enabled)
	assert.Equal(t, 10, policy.IntervalMinutes)
	assert.Equal(t, 30, policy.MaxRequestsPerCredential)
	assert.Equal(t, 5, policy.UnitsPerBatch)
	assert.Equal(t, 20, policy.BatchDelaySeconds)
}

func TestRotationPolicy_SaveAndReload(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	policy := &models.RotationPolicy{
		Enabled:                  false,
		IntervalMinutes:          15,
		MaxRequestsPerCredential: 50,
		UnitsPerBatch:            8,
		BatchDelaySeconds:        45,
	}
	require.NoError(t, s.SaveRotationPolicy(ctx, policy))

	got, err := s.GetRotationPolicy(ctx)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, 15, got.IntervalMinutes)
	assert.Equal(t, 50, got.MaxRequestsPerCredential)
	assert.Equal(t, 8, got.UnitsPerBatch)
	assert.Equal(t, 45, got.BatchDelaySeconds)
}

// --- Ping Test ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.Ping(context.Background())
	assert.NoError(t, err)
}
