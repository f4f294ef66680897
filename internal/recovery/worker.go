package recovery

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/safar/solestore/internal/config"
	"github.com/safar/solestore/internal/models"
	"github.com/sony/gobreaker/v2"
)

type Repository interface {
	SnapshotIdleCarts(ctx context.Context, idleSince time.Time, ttl time.Duration, limit int) (int, error)
	DueReminders(ctx context.Context, now time.Time, interval time.Duration, maxReminders, limit int) ([]models.AbandonedCart, error)
	MarkReminded(ctx context.Context, id int64, at time.Time) error
	PurgeExpired(ctx context.Context, now time.Time) (carts, abandoned int64, err error)
}

// Worker periodically turns idle carts into abandoned carts, sends reminders
// for them and purges whatever has expired.
type Worker struct {
	repo      Repository
	publisher Publisher
	cfg       config.RecoveryConfig
	now       func() time.Time
}

func NewWorker(repo Repository, publisher Publisher, cfg config.RecoveryConfig) *Worker {
	return &Worker{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// TickResult counts what one pass did.
type TickResult struct {
	Snapshotted     int
	Reminded        int
	FailedReminders int
	PurgedCarts     int64
	PurgedAbandoned int64
}

func (w *Worker) Tick(ctx context.Context) TickResult {
	var res TickResult
	now := w.now()

	n, err := w.repo.SnapshotIdleCarts(ctx, now.Add(-w.cfg.AbandonAfter), w.cfg.AbandonedCartTTL, w.cfg.BatchSize)
	if err != nil {
		log.Printf("failed to snapshot idle carts: %v", err)
	}
	res.Snapshotted = n

	res.Reminded, res.FailedReminders = w.sendReminders(ctx, now)

	res.PurgedCarts, res.PurgedAbandoned, err = w.repo.PurgeExpired(ctx, now)
	if err != nil {
		log.Printf("failed to purge expired carts: %v", err)
	}

	if res != (TickResult{}) {
		log.Printf("cart recovery: snapshotted=%d reminded=%d failed=%d purged_carts=%d purged_abandoned=%d",
			res.Snapshotted, res.Reminded, res.FailedReminders, res.PurgedCarts, res.PurgedAbandoned)
	}
	return res
}

func (w *Worker) sendReminders(ctx context.Context, now time.Time) (sent, failed int) {
	due, err := w.repo.DueReminders(ctx, now, w.cfg.ReminderInterval, w.cfg.MaxReminders, w.cfg.BatchSize)
	if err != nil {
		log.Printf("failed to fetch due reminders: %v", err)
		return 0, 0
	}

	for i, ac := range due {
		if !ac.DueForReminder(now, w.cfg.ReminderInterval, w.cfg.MaxReminders) {
			continue
		}
		if err := w.publisher.PublishReminder(ctx, NewReminderEvent(ac, now)); err != nil {
			failed++
			log.Printf("failed to publish reminder for abandoned cart %d: %v", ac.ID, err)
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				failed += len(due) - i - 1
				return sent, failed
			}
			continue
		}

		if err := w.repo.MarkReminded(ctx, ac.ID, now); err != nil {
			log.Printf("failed to mark abandoned cart %d reminded: %v", ac.ID, err)
			continue
		}
		sent++
	}
	return sent, failed
}
