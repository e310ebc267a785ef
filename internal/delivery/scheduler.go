// Package delivery implements the capsule delivery pass: an idempotent,
// re-entrant sweep over due, undelivered capsules that is driven by an
// external cron trigger rather than an in-process timer.
package delivery

import (
	"context"
	"log"
	"time"

	"github.com/asmiverse/capsule-server/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Outcome of a single capsule within one pass.
type Outcome string

const (
	OutcomeDelivered      Outcome = "delivered"
	OutcomeError          Outcome = "error"
	OutcomeAlreadyHandled Outcome = "already-handled"
)

type Result struct {
	ID     uuid.UUID `json:"id"`
	Status Outcome   `json:"status"`
}

type Summary struct {
	ProcessedCount int      `json:"processedCount"`
	Results        []Result `json:"results"`
}

// Repository is the slice of capsule persistence the scheduler consumes.
// MarkDelivered must be an atomic conditional update: it returns true iff the
// call itself flipped is_delivered from false to true.
type Repository interface {
	FindDueUndelivered(ctx context.Context, now time.Time) ([]models.Capsule, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) (bool, error)
}

// Sender makes exactly one delivery attempt per call. Retries happen only by
// the capsule being re-selected on a later pass.
type Sender interface {
	SendCapsule(ctx context.Context, toEmail string, capsule *models.Capsule) error
}

const defaultMaxInFlight = 8

type Scheduler struct {
	repo   Repository
	sender Sender
	now    func() time.Time

	// sends fan out across capsules up to this limit; within one capsule
	// the send and the mark stay strictly sequential
	maxInFlight int
}

func NewScheduler(repo Repository, sender Sender) *Scheduler {
	return &Scheduler{
		repo:        repo,
		sender:      sender,
		now:         time.Now,
		maxInFlight: defaultMaxInFlight,
	}
}

// RunPass delivers every due, undelivered capsule once and reports a
// per-capsule outcome. A failed candidate query aborts the whole pass;
// after that, failures stay isolated to their capsule.
//
// Passes may overlap. Two passes racing on the same capsule both send, but
// the conditional mark lets only one of them record the delivery; the loser
// reports already-handled and does not treat the race as an error. The
// reverse hazard is accepted as-is: if the process dies after a send but
// before the mark commits, the next pass re-sends. Delivered-state is
// at-most-once, the email itself is at-least-once.
func (s *Scheduler) RunPass(ctx context.Context) (*Summary, error) {
	capsules, err := s.repo.FindDueUndelivered(ctx, s.now())
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(capsules))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxInFlight)
	for i := range capsules {
		g.Go(func() error {
			results[i] = s.deliverOne(ctx, &capsules[i])
			return nil
		})
	}
	// Goroutines never return errors; per-capsule failures land in results.
	_ = g.Wait()

	return &Summary{
		ProcessedCount: len(capsules),
		Results:        results,
	}, nil
}

func (s *Scheduler) deliverOne(ctx context.Context, c *models.Capsule) Result {
	if ctx.Err() != nil {
		// Pass cancelled before this capsule was reached; it stays
		// eligible for the next pass.
		return Result{ID: c.ID, Status: OutcomeError}
	}

	if err := s.sender.SendCapsule(ctx, c.RecipientEmail, c); err != nil {
		log.Printf("[delivery] send failed for capsule %s: %v", c.ID, err)
		return Result{ID: c.ID, Status: OutcomeError}
	}

	marked, err := s.repo.MarkDelivered(ctx, c.ID, s.now())
	if err != nil {
		// The email went out but the state write failed: the capsule
		// will be re-selected and the recipient may get a duplicate.
		log.Printf("[delivery] ALERT: capsule %s sent but mark-delivered failed, duplicate send possible: %v", c.ID, err)
		return Result{ID: c.ID, Status: OutcomeError}
	}
	if !marked {
		// Lost the race to a concurrent pass; nothing to do.
		return Result{ID: c.ID, Status: OutcomeAlreadyHandled}
	}

	log.Printf("[delivery] capsule %s delivered to %s", c.ID, c.RecipientEmail)
	return Result{ID: c.ID, Status: OutcomeDelivered}
}
