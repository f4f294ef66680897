package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
)

// AddToWishlist is idempotent.
func AddToWishlist(ctx context.Context, db *sql.DB, userID, productID int64) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO wishlist_items (user_id, product_id, created_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (user_id, product_id) DO NOTHING`,
		userID, productID)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return database.ErrProductNotFound
		}
		return fmt.Errorf("add to wishlist: %w", err)
	}
	return nil
}

func RemoveFromWishlist(ctx context.Context, db *sql.DB, userID, productID int64) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM wishlist_items WHERE user_id = $1 AND product_id = $2`, userID, productID)
	if err != nil {
		return fmt.Errorf("remove from wishlist: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrWishlistItemNotFound
	}
	return nil
}

func ListWishlist(ctx context.Context, db *sql.DB, userID int64) ([]models.WishlistItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT w.id, w.user_id, w.product_id, w.created_at, `+prefixed("p", productColumns)+`
		 FROM wishlist_items w
		 JOIN products p ON p.id = w.product_id
		 WHERE w.user_id = $1
		 ORDER BY w.created_at DESC, w.id DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list wishlist: %w", err)
	}
	defer rows.Close()

	items := []models.WishlistItem{}
	for rows.Next() {
		var item models.WishlistItem
		var product models.Product
		err := scanProduct(prefixScanner{rows, []any{&item.ID, &item.UserID, &item.ProductID, &item.CreatedAt}}, &product)
		if err != nil {
			return nil, fmt.Errorf("scan wishlist item: %w", err)
		}
		item.Product = &product
		items = append(items, item)
	}

	return items, rows.Err()
}
