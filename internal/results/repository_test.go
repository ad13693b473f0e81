package results

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skarveli/tradebook/internal/domain"
	tbtesting "github.com/skarveli/tradebook/internal/testing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo := NewRepository(tbtesting.NewTestDB(t), zerolog.Nop())
	tbtesting.MustMigrate(t, repo)
	return repo
}

func pendingResult(userID string) *AnalysisResult {
	return &AnalysisResult{
		RequestID:    uuid.New().String(),
		UserID:       userID,
		AnalysisType: domain.AnalysisPerformance,
		Period:       domain.PeriodMonthly,
		WindowStart:  time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestOpenPendingThenComplete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	result := pendingResult("user-1")
	require.NoError(t, repo.OpenPending(ctx, result))

	found, err := repo.FindByRequestID(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultPending, found.Status)
	assert.Nil(t, found.CompletedAt)

	require.NoError(t, repo.Complete(ctx, result.RequestID, `{"win_rate":0.5}`, 42))

	found, err = repo.FindByRequestID(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultCompleted, found.Status)
	assert.Equal(t, `{"win_rate":0.5}`, found.Data)
	assert.Equal(t, int64(42), found.CalculationTimeMs)
	require.NotNil(t, found.CompletedAt)
}

func TestOpenPendingThenFail(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	result := pendingResult("user-1")
	require.NoError(t, repo.OpenPending(ctx, result))
	require.NoError(t, repo.Fail(ctx, result.RequestID, "engine blew up", 10))

	found, err := repo.FindByRequestID(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultFailed, found.Status)
	assert.Equal(t, "engine blew up", found.ErrorMessage)
	assert.Empty(t, found.Data)
	require.NotNil(t, found.CompletedAt)
}

func TestRetryReopensSameRow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	result := pendingResult("user-1")
	require.NoError(t, repo.OpenPending(ctx, result))
	require.NoError(t, repo.Fail(ctx, result.RequestID, "transient", 5))

	// A broker retry reuses the queue job id, so the same request id arrives
	// again and must reset the existing row instead of inserting a second one.
	retry := pendingResult("user-1")
	retry.RequestID = result.RequestID
	require.NoError(t, repo.OpenPending(ctx, retry))

	found, err := repo.FindByRequestID(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultPending, found.Status)
	assert.Empty(t, found.ErrorMessage)
	assert.Nil(t, found.CompletedAt)

	require.NoError(t, repo.Complete(ctx, result.RequestID, `{"ok":true}`, 7))

	// Still exactly one row for this request
	list, err := repo.ListForUser(ctx, "user-1", nil, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, domain.ResultCompleted, list[0].Status)
}

func TestTerminalStatesAreExclusive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	result := pendingResult("user-1")
	require.NoError(t, repo.OpenPending(ctx, result))
	require.NoError(t, repo.Complete(ctx, result.RequestID, `{}`, 1))

	// A second transition finds no pending row
	assert.ErrorIs(t, repo.Fail(ctx, result.RequestID, "late failure", 1), domain.ErrNotFound)
	assert.ErrorIs(t, repo.Complete(ctx, result.RequestID, `{}`, 1), domain.ErrNotFound)

	found, err := repo.FindByRequestID(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultCompleted, found.Status)
}

func TestListForUserFiltersByType(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	perf := pendingResult("user-1")
	require.NoError(t, repo.OpenPending(ctx, perf))

	risk := pendingResult("user-1")
	risk.AnalysisType = domain.AnalysisRisk
	require.NoError(t, repo.OpenPending(ctx, risk))

	other := pendingResult("user-2")
	require.NoError(t, repo.OpenPending(ctx, other))

	all, err := repo.ListForUser(ctx, "user-1", nil, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	riskType := domain.AnalysisRisk
	filtered, err := repo.ListForUser(ctx, "user-1", &riskType, 10)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, risk.RequestID, filtered[0].RequestID)
}

func TestLatestReturnsNewestCompleted(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	older := pendingResult("user-1")
	require.NoError(t, repo.OpenPending(ctx, older))
	require.NoError(t, repo.Complete(ctx, older.RequestID, `{"version":1}`, 1))

	time.Sleep(5 * time.Millisecond)

	newer := pendingResult("user-1")
	require.NoError(t, repo.OpenPending(ctx, newer))
	require.NoError(t, repo.Complete(ctx, newer.RequestID, `{"version":2}`, 1))

	stillPending := pendingResult("user-1")
	require.NoError(t, repo.OpenPending(ctx, stillPending))

	latest, err := repo.Latest(ctx, "user-1", domain.AnalysisPerformance, domain.PeriodMonthly)
	require.NoError(t, err)
	assert.Equal(t, `{"version":2}`, latest.Data)

	_, err = repo.Latest(ctx, "user-1", domain.AnalysisForecast, domain.PeriodMonthly)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
