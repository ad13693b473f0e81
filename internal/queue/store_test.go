package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tbtesting "github.com/skarveli/tradebook/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(tbtesting.NewTestDB(t), zerolog.Nop())
	tbtesting.MustMigrate(t, store)
	return store
}

func testJob(priority Priority) *Job {
	return &Job{
		ID:       uuid.New().String(),
		Type:     JobTypeAnalysisRun,
		Priority: priority,
		Payload:  []byte("payload"),
	}
}

func TestClaimNextOrdersByPriorityThenFIFO(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	low := testJob(PriorityLow)
	low.CreatedAt = now.Add(-3 * time.Minute)
	highOld := testJob(PriorityHigh)
	highOld.CreatedAt = now.Add(-2 * time.Minute)
	highNew := testJob(PriorityHigh)
	highNew.CreatedAt = now.Add(-1 * time.Minute)

	for _, j := range []*Job{low, highNew, highOld} {
		j.AvailableAt = now
		require.NoError(t, store.Enqueue(j))
	}

	first, err := store.ClaimNext(now)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, highOld.ID, first.ID)
	assert.Equal(t, StateActive, first.State)
	assert.Equal(t, 1, first.Attempts)

	second, err := store.ClaimNext(now)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, highNew.ID, second.ID)

	third, err := store.ClaimNext(now)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, low.ID, third.ID)

	none, err := store.ClaimNext(now)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestClaimNextHonorsDelay(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	delayed := testJob(PriorityMedium)
	delayed.AvailableAt = now.Add(time.Hour)
	require.NoError(t, store.Enqueue(delayed))

	job, err := store.ClaimNext(now)
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = store.ClaimNext(now.Add(2 * time.Hour))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, delayed.ID, job.ID)
}

func TestMarkFailedReschedulesWhileAttemptsRemain(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	j := testJob(PriorityMedium)
	j.MaxAttempts = 2
	j.AvailableAt = now
	require.NoError(t, store.Enqueue(j))

	claimed, err := store.ClaimNext(now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	retryAt := now.Add(time.Minute)
	retried, err := store.MarkFailed(claimed, "boom", retryAt)
	require.NoError(t, err)
	assert.True(t, retried)

	stored, err := store.GetJob(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, stored.State)
	assert.Equal(t, "boom", stored.LastError)

	// Not claimable before the retry time
	job, err := store.ClaimNext(now.Add(30 * time.Second))
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = store.ClaimNext(now.Add(2 * time.Minute))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Attempts)
}

func TestMarkFailedDeadLettersOnExhaustion(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	j := testJob(PriorityMedium)
	j.MaxAttempts = 1
	j.AvailableAt = now
	require.NoError(t, store.Enqueue(j))

	claimed, err := store.ClaimNext(now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	retried, err := store.MarkFailed(claimed, "fatal", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, retried)

	stored, err := store.GetJob(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDead, stored.State)
	assert.Equal(t, "fatal", stored.LastError)

	dead, err := store.CountByState(StateDead)
	require.NoError(t, err)
	assert.Equal(t, 1, dead)
}

func TestMarkCompletedKeepsOrRemovesRow(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	kept := testJob(PriorityMedium)
	kept.AvailableAt = now
	require.NoError(t, store.Enqueue(kept))
	removed := testJob(PriorityMedium)
	removed.RemoveOnComplete = true
	removed.AvailableAt = now
	require.NoError(t, store.Enqueue(removed))

	for i := 0; i < 2; i++ {
		claimed, err := store.ClaimNext(now)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		require.NoError(t, store.MarkCompleted(claimed))
	}

	stored, err := store.GetJob(kept.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, stored.State)

	_, err = store.GetJob(removed.ID)
	assert.Error(t, err)
}

func TestRepeatRegistrationLifecycle(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	reg := &RepeatRegistration{
		ID:        uuid.New().String(),
		RepeatKey: "repeat:" + uuid.New().String(),
		Type:      JobTypeAnalysisRun,
		Expr:      "0 0 * * 1",
		Priority:  PriorityMedium,
		Payload:   []byte("payload"),
		NextFire:  now.Add(time.Hour),
	}
	require.NoError(t, store.RegisterRepeat(reg))

	key, err := store.RepeatKey(reg.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.RepeatKey, key)

	all, err := store.ListRepeats()
	require.NoError(t, err)
	require.Len(t, all, 1)

	// Not due yet
	due, err := store.DueRepeats(now)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = store.DueRepeats(now.Add(2 * time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, reg.ID, due[0].ID)

	require.NoError(t, store.AdvanceRepeat(reg.ID, now.Add(24*time.Hour)))
	due, err = store.DueRepeats(now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, store.CancelRepeatByKey(key))
	assert.ErrorIs(t, store.CancelRepeatByKey(key), ErrRepeatNotFound)

	_, err = store.RepeatKey(reg.ID)
	assert.ErrorIs(t, err, ErrRepeatNotFound)
}
