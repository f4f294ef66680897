package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
)

const reviewColumns = `id, product_id, user_id, rating, title, comment, status, created_at, updated_at`

func scanReview(row interface{ Scan(...any) error }, review *models.Review) error {
	return row.Scan(
		&review.ID,
		&review.ProductID,
		&review.UserID,
		&review.Rating,
		&review.Title,
		&review.Comment,
		&review.Status,
		&review.CreatedAt,
		&review.UpdatedAt,
	)
}

// CreateReview stores a pending review. Each user may review a product once.
func CreateReview(ctx context.Context, db *sql.DB, productID, userID int64, rating int, title, comment string) (*models.Review, error) {
	if err := models.ValidateRating(rating); err != nil {
		return nil, err
	}

	review := &models.Review{}
	err := scanReview(db.QueryRowContext(ctx,
		`INSERT INTO reviews (product_id, user_id, rating, title, comment, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		 RETURNING `+reviewColumns,
		productID, userID, rating, strings.TrimSpace(title), strings.TrimSpace(comment),
		models.ReviewStatusPending), review)
	if err != nil {
		if database.IsUniqueViolation(err, "reviews_product_user_key") {
			return nil, database.ErrDuplicateReview
		}
		if database.IsForeignKeyViolation(err) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("create review: %w", err)
	}

	return review, nil
}

func ListApprovedReviews(ctx context.Context, db *sql.DB, productID int64, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reviews WHERE product_id = $1 AND status = $2`,
		productID, models.ReviewStatusApproved).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count reviews: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+reviewColumns+`
		 FROM reviews
		 WHERE product_id = $1 AND status = $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3 OFFSET $4`,
		productID, models.ReviewStatusApproved, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	reviews := []models.Review{}
	for rows.Next() {
		var review models.Review
		if err := scanReview(rows, &review); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, review)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(reviews, total, page, pageSize), nil
}

// ModerateReview sets the review's status and refreshes the product's rating
// aggregates in the same transaction.
func ModerateReview(ctx context.Context, db *sql.DB, reviewID int64, status models.ReviewStatus) (*models.Review, error) {
	review := &models.Review{}

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		err := scanReview(tx.QueryRowContext(ctx,
			`UPDATE reviews SET status = $1, updated_at = NOW()
			 WHERE id = $2
			 RETURNING `+reviewColumns,
			status, reviewID), review)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrReviewNotFound
			}
			return fmt.Errorf("moderate review: %w", err)
		}

		_, err = refreshRating(ctx, tx, review.ProductID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return review, nil
}

func DeleteReview(ctx context.Context, db *sql.DB, reviewID int64) error {
	return database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var productID int64
		err := tx.QueryRowContext(ctx,
			`DELETE FROM reviews WHERE id = $1 RETURNING product_id`, reviewID).Scan(&productID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrReviewNotFound
			}
			return fmt.Errorf("delete review: %w", err)
		}

		_, err = refreshRating(ctx, tx, productID)
		return err
	})
}

// refreshRating recomputes a product's average rating and review count from
// its approved reviews.
func refreshRating(ctx context.Context, tx *sql.Tx, productID int64) (models.RatingSummary, error) {
	var summary models.RatingSummary
	err := tx.QueryRowContext(ctx,
		`UPDATE products p
		 SET average_rating = agg.avg, review_count = agg.cnt, updated_at = NOW()
		 FROM (
		     SELECT COALESCE(ROUND(AVG(rating)::numeric, 2), 0) AS avg, COUNT(*) AS cnt
		     FROM reviews
		     WHERE product_id = $1 AND status = $2
		 ) agg
		 WHERE p.id = $1
		 RETURNING p.average_rating, p.review_count`,
		productID, models.ReviewStatusApproved).Scan(&summary.Average, &summary.Count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return summary, database.ErrProductNotFound
		}
		return summary, fmt.Errorf("refresh rating: %w", err)
	}
	return summary, nil
}
