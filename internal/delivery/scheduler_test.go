package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/asmiverse/capsule-server/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu       sync.Mutex
	capsules map[uuid.UUID]*models.Capsule
	findErr  error
	markErr  error
}

func newFakeRepo(capsules ...*models.Capsule) *fakeRepo {
	r := &fakeRepo{capsules: make(map[uuid.UUID]*models.Capsule)}
	for _, c := range capsules {
		r.capsules[c.ID] = c
	}
	return r
}

func (r *fakeRepo) FindDueUndelivered(ctx context.Context, now time.Time) ([]models.Capsule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	var due []models.Capsule
	for _, c := range r.capsules {
		if !c.UnlockAt.After(now) && !c.IsDelivered {
			due = append(due, *c)
		}
	}
	return due, nil
}

func (r *fakeRepo) MarkDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return false, r.markErr
	}
	c, ok := r.capsules[id]
	if !ok || c.IsDelivered {
		return false, nil
	}
	c.IsDelivered = true
	at := deliveredAt
	c.DeliveredAt = &at
	return true, nil
}

func (r *fakeRepo) get(id uuid.UUID) models.Capsule {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.capsules[id]
}

type fakeSender struct {
	mu      sync.Mutex
	sends   map[uuid.UUID]int
	failFor map[uuid.UUID]error

	// beforeSend, when set, runs outside the lock before each send is
	// recorded; used to synchronize racing passes.
	beforeSend func()
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		sends:   make(map[uuid.UUID]int),
		failFor: make(map[uuid.UUID]error),
	}
}

func (s *fakeSender) SendCapsule(ctx context.Context, toEmail string, c *models.Capsule) error {
	if s.beforeSend != nil {
		s.beforeSend()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failFor[c.ID]; ok {
		return err
	}
	s.sends[c.ID]++
	return nil
}

func (s *fakeSender) sendCount(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends[id]
}

func (s *fakeSender) totalSends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.sends {
		total += n
	}
	return total
}

func dueCapsule(unlockAt time.Time) *models.Capsule {
	return &models.Capsule{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		Title:          "to future me",
		Message:        "hello from the past",
		RecipientName:  "Future Me",
		RecipientEmail: "future@example.com",
		UnlockAt:       unlockAt,
	}
}

func newTestScheduler(repo Repository, sender Sender, now time.Time) *Scheduler {
	s := NewScheduler(repo, sender)
	s.now = func() time.Time { return now }
	return s
}

func statusByID(results []Result) map[uuid.UUID]Outcome {
	m := make(map[uuid.UUID]Outcome, len(results))
	for _, r := range results {
		m[r.ID] = r.Status
	}
	return m
}

func TestRunPass_DeliversDueCapsule(t *testing.T) {
	unlockAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	passTime := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	capsule := dueCapsule(unlockAt)
	repo := newFakeRepo(capsule)
	sender := newFakeSender()

	s := newTestScheduler(repo, sender, passTime)
	summary, err := s.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ProcessedCount)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, capsule.ID, summary.Results[0].ID)
	assert.Equal(t, OutcomeDelivered, summary.Results[0].Status)

	stored := repo.get(capsule.ID)
	assert.True(t, stored.IsDelivered)
	require.NotNil(t, stored.DeliveredAt)
	assert.Equal(t, passTime, *stored.DeliveredAt)
	assert.False(t, stored.DeliveredAt.Before(stored.UnlockAt), "delivered before unlock time")
	assert.Equal(t, 1, sender.sendCount(capsule.ID))
}

func TestRunPass_FutureCapsuleNotSelected(t *testing.T) {
	passTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	future := dueCapsule(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	repo := newFakeRepo(future)
	sender := newFakeSender()

	s := newTestScheduler(repo, sender, passTime)
	summary, err := s.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.ProcessedCount)
	assert.Empty(t, summary.Results)
	assert.Zero(t, sender.totalSends())
	assert.False(t, repo.get(future.ID).IsDelivered)
}

func TestRunPass_CapsuleDueExactlyNowIsSelected(t *testing.T) {
	passTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	capsule := dueCapsule(passTime)

	repo := newFakeRepo(capsule)
	sender := newFakeSender()

	s := newTestScheduler(repo, sender, passTime)
	summary, err := s.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ProcessedCount)
}

func TestRunPass_SecondPassSendsNothing(t *testing.T) {
	now := time.Now()
	repo := newFakeRepo(dueCapsule(now.Add(-time.Hour)), dueCapsule(now.Add(-24*time.Hour)))
	sender := newFakeSender()

	s := NewScheduler(repo, sender)

	first, err := s.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.ProcessedCount)
	assert.Equal(t, 2, sender.totalSends())

	second, err := s.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.ProcessedCount)
	assert.Equal(t, 2, sender.totalSends(), "second pass must not re-send")
}

func TestRunPass_FailedSendIsIsolatedAndRetried(t *testing.T) {
	now := time.Now()
	first := dueCapsule(now.Add(-3 * time.Hour))
	second := dueCapsule(now.Add(-2 * time.Hour))
	third := dueCapsule(now.Add(-1 * time.Hour))

	repo := newFakeRepo(first, second, third)
	sender := newFakeSender()
	sender.failFor[second.ID] = errors.New("smtp: 451 try again later")

	s := NewScheduler(repo, sender)
	summary, err := s.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ProcessedCount)

	statuses := statusByID(summary.Results)
	assert.Equal(t, OutcomeDelivered, statuses[first.ID])
	assert.Equal(t, OutcomeError, statuses[second.ID])
	assert.Equal(t, OutcomeDelivered, statuses[third.ID])

	assert.False(t, repo.get(second.ID).IsDelivered)
	assert.Nil(t, repo.get(second.ID).DeliveredAt)

	// The failed capsule stays eligible: a later pass retries it.
	delete(sender.failFor, second.ID)
	retry, err := s.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, retry.ProcessedCount)
	assert.Equal(t, OutcomeDelivered, retry.Results[0].Status)
	assert.True(t, repo.get(second.ID).IsDelivered)
}

func TestRunPass_QueryFailureAbortsPass(t *testing.T) {
	repo := newFakeRepo(dueCapsule(time.Now().Add(-time.Hour)))
	repo.findErr = errors.New("connection refused")
	sender := newFakeSender()

	s := NewScheduler(repo, sender)
	summary, err := s.RunPass(context.Background())
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.Zero(t, sender.totalSends(), "no capsule may be attempted after a failed query")
}

func TestRunPass_MarkFailureAfterSendReportsError(t *testing.T) {
	capsule := dueCapsule(time.Now().Add(-time.Hour))
	repo := newFakeRepo(capsule)
	repo.markErr = errors.New("connection reset")
	sender := newFakeSender()

	s := NewScheduler(repo, sender)
	summary, err := s.RunPass(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, OutcomeError, summary.Results[0].Status)
	assert.Equal(t, 1, sender.sendCount(capsule.ID), "the send itself happened")
	assert.False(t, repo.get(capsule.ID).IsDelivered, "state must stay pending so the capsule is retried")
}

func TestRunPass_ConcurrentPassesMarkOnce(t *testing.T) {
	capsule := dueCapsule(time.Now().Add(-time.Hour))
	repo := newFakeRepo(capsule)

	// Hold both passes at the send until each has issued its own send, so
	// neither can mark before the other has read is_delivered=false.
	var gate sync.WaitGroup
	gate.Add(2)
	sender := newFakeSender()
	sender.beforeSend = func() {
		gate.Done()
		gate.Wait()
	}

	s1 := NewScheduler(repo, sender)
	s2 := NewScheduler(repo, sender)

	var wg sync.WaitGroup
	summaries := make([]*Summary, 2)
	for i, s := range []*Scheduler{s1, s2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			summary, err := s.RunPass(context.Background())
			assert.NoError(t, err)
			summaries[i] = summary
		}()
	}
	wg.Wait()

	outcomes := map[Outcome]int{}
	for _, summary := range summaries {
		require.NotNil(t, summary)
		require.Len(t, summary.Results, 1)
		outcomes[summary.Results[0].Status]++
	}

	// Exactly one pass wins the conditional mark; the other observes the
	// race and backs off without error.
	assert.Equal(t, 1, outcomes[OutcomeDelivered])
	assert.Equal(t, 1, outcomes[OutcomeAlreadyHandled])

	// Both sends firing is accepted; the stored state changes only once.
	assert.Equal(t, 2, sender.sendCount(capsule.ID))
	assert.True(t, repo.get(capsule.ID).IsDelivered)
}

func TestRunPass_CancelledContextSkipsRemainingCapsules(t *testing.T) {
	capsule := dueCapsule(time.Now().Add(-time.Hour))
	repo := newFakeRepo(capsule)
	sender := newFakeSender()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScheduler(repo, sender)
	summary, err := s.RunPass(ctx)
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, OutcomeError, summary.Results[0].Status)
	assert.Zero(t, sender.totalSends())
	assert.False(t, repo.get(capsule.ID).IsDelivered, "capsule stays eligible for the next pass")
}

func TestRunPass_OldCapsulesStillEligible(t *testing.T) {
	// No expiry: a capsule due long ago is still delivered.
	capsule := dueCapsule(time.Now().AddDate(-1, 0, 0))
	repo := newFakeRepo(capsule)
	sender := newFakeSender()

	s := NewScheduler(repo, sender)
	summary, err := s.RunPass(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, OutcomeDelivered, summary.Results[0].Status)
}
