package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/asmiverse/capsule-server/internal/models"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// The production schema relies on postgres' uuid_generate_v4() default, which
// sqlite can't express, so the test schema is created by hand. Tests always
// insert explicit IDs.
const capsuleSchema = `
CREATE TABLE capsules (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	title           TEXT NOT NULL,
	message         TEXT,
	recipient_name  TEXT NOT NULL,
	recipient_email TEXT NOT NULL,
	media_url       TEXT,
	password        TEXT,
	unlock_at       DATETIME NOT NULL,
	is_delivered    NUMERIC DEFAULT false,
	delivered_at    DATETIME,
	created_at      DATETIME,
	updated_at      DATETIME
)`

func newTestStore(t *testing.T) *CapsuleStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// Every pooled connection to :memory: would otherwise see its own
	// empty database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec(capsuleSchema).Error)
	return NewCapsuleStore(db)
}

func insertCapsule(t *testing.T, s *CapsuleStore, unlockAt time.Time, delivered bool) uuid.UUID {
	t.Helper()
	c := models.Capsule{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		Title:          "sealed letter",
		RecipientName:  "Recipient",
		RecipientEmail: "recipient@example.com",
		UnlockAt:       unlockAt,
		IsDelivered:    delivered,
	}
	require.NoError(t, s.db.Create(&c).Error)
	return c.ID
}

func TestFindDueUndelivered(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	dueID := insertCapsule(t, s, now.Add(-24*time.Hour), false)
	exactID := insertCapsule(t, s, now, false)
	insertCapsule(t, s, now.Add(time.Hour), false)      // future
	insertCapsule(t, s, now.Add(-48*time.Hour), true)   // already delivered

	due, err := s.FindDueUndelivered(context.Background(), now)
	require.NoError(t, err)

	ids := make([]uuid.UUID, 0, len(due))
	for _, c := range due {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{dueID, exactID}, ids)
}

func TestMarkDelivered(t *testing.T) {
	s := newTestStore(t)
	unlockAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	deliveredAt := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	id := insertCapsule(t, s, unlockAt, false)

	t.Run("first mark wins", func(t *testing.T) {
		marked, err := s.MarkDelivered(context.Background(), id, deliveredAt)
		require.NoError(t, err)
		assert.True(t, marked)

		var c models.Capsule
		require.NoError(t, s.db.First(&c, "id = ?", id).Error)
		assert.True(t, c.IsDelivered)
		require.NotNil(t, c.DeliveredAt)
		assert.True(t, c.DeliveredAt.Equal(deliveredAt))
		assert.False(t, c.DeliveredAt.Before(c.UnlockAt))
	})

	t.Run("second mark is a no-op", func(t *testing.T) {
		marked, err := s.MarkDelivered(context.Background(), id, deliveredAt.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, marked)

		// The original timestamp survives.
		var c models.Capsule
		require.NoError(t, s.db.First(&c, "id = ?", id).Error)
		assert.True(t, c.DeliveredAt.Equal(deliveredAt))
	})

	t.Run("missing capsule", func(t *testing.T) {
		marked, err := s.MarkDelivered(context.Background(), uuid.New(), deliveredAt)
		require.NoError(t, err)
		assert.False(t, marked)
	})
}

func TestMarkDeliveredConcurrent(t *testing.T) {
	s := newTestStore(t)
	id := insertCapsule(t, s, time.Now().Add(-time.Hour), false)

	const passes = 8
	results := make([]bool, passes)
	var wg sync.WaitGroup
	for i := 0; i < passes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			marked, err := s.MarkDelivered(context.Background(), id, time.Now())
			assert.NoError(t, err)
			results[i] = marked
		}()
	}
	wg.Wait()

	wins := 0
	for _, marked := range results {
		if marked {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent mark may succeed")
}

func TestMarkDeliveredLeavesOtherRowsAlone(t *testing.T) {
	s := newTestStore(t)
	target := insertCapsule(t, s, time.Now().Add(-time.Hour), false)
	other := insertCapsule(t, s, time.Now().Add(-time.Hour), false)

	marked, err := s.MarkDelivered(context.Background(), target, time.Now())
	require.NoError(t, err)
	require.True(t, marked)

	var c models.Capsule
	require.NoError(t, s.db.First(&c, "id = ?", other).Error)
	assert.False(t, c.IsDelivered)
	assert.Nil(t, c.DeliveredAt)
}
