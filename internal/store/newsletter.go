package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"

	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
)

var ErrInvalidEmail = errors.New("invalid email address")

const subscriberColumns = `id, email, is_subscribed, subscribed_at, unsubscribed_at`

func scanSubscriber(row interface{ Scan(...any) error }, sub *models.NewsletterSubscriber) error {
	var unsubscribed sql.NullTime
	if err := row.Scan(&sub.ID, &sub.Email, &sub.IsSubscribed, &sub.SubscribedAt, &unsubscribed); err != nil {
		return err
	}
	sub.UnsubscribedAt = nullTimePtr(unsubscribed)
	return nil
}

// Subscribe adds email to the newsletter, re-subscribing it if it had opted
// out. Subscribing twice is harmless.
func Subscribe(ctx context.Context, db *sql.DB, email string) (*models.NewsletterSubscriber, error) {
	email = NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}

	sub := &models.NewsletterSubscriber{}
	err := scanSubscriber(db.QueryRowContext(ctx,
		`INSERT INTO newsletter_subscribers (email, is_subscribed, subscribed_at)
		 VALUES ($1, TRUE, NOW())
		 ON CONFLICT (email) DO UPDATE
		 SET is_subscribed = TRUE,
		     subscribed_at = CASE WHEN newsletter_subscribers.is_subscribed
		                          THEN newsletter_subscribers.subscribed_at ELSE NOW() END,
		     unsubscribed_at = NULL
		 RETURNING `+subscriberColumns,
		email), sub)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	return sub, nil
}

func Unsubscribe(ctx context.Context, db *sql.DB, email string) (*models.NewsletterSubscriber, error) {
	sub := &models.NewsletterSubscriber{}
	err := scanSubscriber(db.QueryRowContext(ctx,
		`UPDATE newsletter_subscribers
		 SET is_subscribed = FALSE, unsubscribed_at = COALESCE(unsubscribed_at, NOW())
		 WHERE email = $1
		 RETURNING `+subscriberColumns,
		NormalizeEmail(email)), sub)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("unsubscribe: %w", err)
	}

	return sub, nil
}
