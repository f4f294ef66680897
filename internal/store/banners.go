package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
)

type BannerInput struct {
	Title    string
	Subtitle string
	ImageURL string
	LinkURL  string
	Position int
	IsActive bool
	StartsAt *time.Time
	EndsAt   *time.Time
}

func (in BannerInput) validate() error {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.ImageURL) == "" {
		return fmt.Errorf("%w: banner title and image_url are required", database.ErrInvalidInput)
	}
	if in.StartsAt != nil && in.EndsAt != nil && !in.EndsAt.After(*in.StartsAt) {
		return fmt.Errorf("%w: banner ends_at must be after starts_at", database.ErrInvalidInput)
	}
	return nil
}

const bannerColumns = `id, title, subtitle, image_url, link_url, position, is_active, starts_at, ends_at,
	created_at, updated_at`

func scanBanner(row interface{ Scan(...any) error }, banner *models.Banner) error {
	var startsAt, endsAt sql.NullTime
	err := row.Scan(
		&banner.ID,
		&banner.Title,
		&banner.Subtitle,
		&banner.ImageURL,
		&banner.LinkURL,
		&banner.Position,
		&banner.IsActive,
		&startsAt,
		&endsAt,
		&banner.CreatedAt,
		&banner.UpdatedAt,
	)
	if err != nil {
		return err
	}
	banner.StartsAt = nullTimePtr(startsAt)
	banner.EndsAt = nullTimePtr(endsAt)
	return nil
}

func CreateBanner(ctx context.Context, db *sql.DB, in BannerInput) (*models.Banner, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	banner := &models.Banner{}
	err := scanBanner(db.QueryRowContext(ctx,
		`INSERT INTO banners (title, subtitle, image_url, link_url, position, is_active, starts_at, ends_at,
		                      created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		 RETURNING `+bannerColumns,
		in.Title, in.Subtitle, in.ImageURL, in.LinkURL, in.Position, in.IsActive, in.StartsAt, in.EndsAt), banner)
	if err != nil {
		return nil, fmt.Errorf("create banner: %w", err)
	}

	return banner, nil
}

func UpdateBanner(ctx context.Context, db *sql.DB, id int64, in BannerInput) (*models.Banner, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	banner := &models.Banner{}
	err := scanBanner(db.QueryRowContext(ctx,
		`UPDATE banners
		 SET title = $1, subtitle = $2, image_url = $3, link_url = $4, position = $5, is_active = $6,
		     starts_at = $7, ends_at = $8, updated_at = NOW()
		 WHERE id = $9
		 RETURNING `+bannerColumns,
		in.Title, in.Subtitle, in.ImageURL, in.LinkURL, in.Position, in.IsActive, in.StartsAt, in.EndsAt, id), banner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrBannerNotFound
		}
		return nil, fmt.Errorf("update banner: %w", err)
	}

	return banner, nil
}

func DeleteBanner(ctx context.Context, db *sql.DB, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM banners WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete banner: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrBannerNotFound
	}
	return nil
}

// ListLiveBanners returns banners shown at now, ordered by position.
func ListLiveBanners(ctx context.Context, db *sql.DB, now time.Time) ([]models.Banner, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+bannerColumns+`
		 FROM banners
		 WHERE is_active
		   AND (starts_at IS NULL OR starts_at <= $1)
		   AND (ends_at IS NULL OR ends_at > $1)
		 ORDER BY position, id`,
		now)
	if err != nil {
		return nil, fmt.Errorf("list banners: %w", err)
	}
	defer rows.Close()

	banners := []models.Banner{}
	for rows.Next() {
		var banner models.Banner
		if err := scanBanner(rows, &banner); err != nil {
			return nil, fmt.Errorf("scan banner: %w", err)
		}
		banners = append(banners, banner)
	}

	return banners, rows.Err()
}
