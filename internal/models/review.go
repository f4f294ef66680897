package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusApproved ReviewStatus = "approved"
	ReviewStatusRejected ReviewStatus = "rejected"
)

func ParseReviewStatus(s string) (ReviewStatus, error) {
	switch status := ReviewStatus(s); status {
	case ReviewStatusPending, ReviewStatusApproved, ReviewStatusRejected:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidReviewStatus, s)
}

type Review struct {
	ID        int64        `json:"id"`
	ProductID int64        `json:"product_id"`
	UserID    int64        `json:"user_id"`
	Rating    int          `json:"rating"`
	Title     string       `json:"title,omitempty"`
	Comment   string       `json:"comment,omitempty"`
	Status    ReviewStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func ValidateRating(rating int) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	return nil
}

// RatingSummary aggregates approved reviews for a product.
type RatingSummary struct {
	Average decimal.Decimal
	Count   int
}
