package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
)

const abandonedCartColumns = `id, user_id, email, items, subtotal, recovery_token, reminder_count,
	last_reminded_at, recovered_at, created_at, expires_at`

func scanAbandonedCart(row interface{ Scan(...any) error }, ac *models.AbandonedCart) error {
	var items []byte
	var lastReminded, recovered sql.NullTime
	err := row.Scan(
		&ac.ID,
		&ac.UserID,
		&ac.Email,
		&items,
		&ac.Subtotal,
		&ac.RecoveryToken,
		&ac.ReminderCount,
		&lastReminded,
		&recovered,
		&ac.CreatedAt,
		&ac.ExpiresAt,
	)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(items, &ac.Items); err != nil {
		return fmt.Errorf("decode abandoned cart items: %w", err)
	}
	ac.LastRemindedAt = nullTimePtr(lastReminded)
	ac.RecoveredAt = nullTimePtr(recovered)
	return nil
}

// SnapshotIdleCarts records an abandoned cart for up to limit carts that have
// items and have not changed since idleSince. Users who already have an open
// abandoned cart are skipped so their recovery token stays stable. Rows locked
// by a concurrent worker are skipped.
func SnapshotIdleCarts(ctx context.Context, db *sql.DB, idleSince time.Time, ttl time.Duration, limit int) (int, error) {
	created := 0

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		created = 0

		rows, err := tx.QueryContext(ctx,
			`SELECT c.id, c.user_id, u.email
			 FROM carts c
			 JOIN users u ON u.id = c.user_id
			 WHERE c.updated_at < $1
			   AND EXISTS (SELECT 1 FROM cart_items ci WHERE ci.cart_id = c.id)
			   AND NOT EXISTS (
			       SELECT 1 FROM abandoned_carts ac
			       WHERE ac.user_id = c.user_id AND ac.recovered_at IS NULL
			   )
			 ORDER BY c.updated_at
			 LIMIT $2
			 FOR UPDATE OF c SKIP LOCKED`,
			idleSince, limit)
		if err != nil {
			return fmt.Errorf("find idle carts: %w", err)
		}

		type idleCart struct {
			cartID int64
			userID int64
			email  string
		}
		var idle []idleCart
		for rows.Next() {
			var c idleCart
			if err := rows.Scan(&c.cartID, &c.userID, &c.email); err != nil {
				rows.Close()
				return fmt.Errorf("scan idle cart: %w", err)
			}
			idle = append(idle, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		for _, c := range idle {
			items, err := cartItems(ctx, tx, c.cartID)
			if err != nil {
				return err
			}
			cart := models.Cart{Items: items}

			payload, err := json.Marshal(items)
			if err != nil {
				return fmt.Errorf("encode cart items: %w", err)
			}

			result, err := tx.ExecContext(ctx,
				`INSERT INTO abandoned_carts (user_id, email, items, subtotal, recovery_token, created_at, expires_at)
				 VALUES ($1, $2, $3, $4, $5, NOW(), $6)
				 ON CONFLICT (user_id) WHERE recovered_at IS NULL DO NOTHING`,
				c.userID, c.email, string(payload), cart.Subtotal(), uuid.NewString(), time.Now().Add(ttl))
			if err != nil {
				return fmt.Errorf("create abandoned cart: %w", err)
			}
			if n, _ := result.RowsAffected(); n > 0 {
				created++
			}
		}
		return nil
	})

	return created, err
}

// DueReminders lists open abandoned carts that should get another reminder
// at now.
func DueReminders(ctx context.Context, db *sql.DB, now time.Time, interval time.Duration, maxReminders, limit int) ([]models.AbandonedCart, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+abandonedCartColumns+`
		 FROM abandoned_carts
		 WHERE recovered_at IS NULL
		   AND expires_at > $1
		   AND reminder_count < $2
		   AND (last_reminded_at IS NULL OR last_reminded_at <= $3)
		 ORDER BY created_at, id
		 LIMIT $4`,
		now, maxReminders, now.Add(-interval), limit)
	if err != nil {
		return nil, fmt.Errorf("find due reminders: %w", err)
	}
	defer rows.Close()

	carts := []models.AbandonedCart{}
	for rows.Next() {
		var ac models.AbandonedCart
		if err := scanAbandonedCart(rows, &ac); err != nil {
			return nil, fmt.Errorf("scan abandoned cart: %w", err)
		}
		carts = append(carts, ac)
	}

	return carts, rows.Err()
}

func MarkReminded(ctx context.Context, db *sql.DB, id int64, at time.Time) error {
	result, err := db.ExecContext(ctx,
		`UPDATE abandoned_carts
		 SET reminder_count = reminder_count + 1, last_reminded_at = $1
		 WHERE id = $2 AND recovered_at IS NULL`,
		at, id)
	if err != nil {
		return fmt.Errorf("mark reminded: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrAbandonedCartNotFound
	}
	return nil
}

// PurgeExpired deletes carts and abandoned carts whose expiry has passed.
func PurgeExpired(ctx context.Context, db *sql.DB, now time.Time) (carts, abandoned int64, err error) {
	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE expires_at <= $1`, now)
		if err != nil {
			return fmt.Errorf("purge carts: %w", err)
		}
		carts, _ = result.RowsAffected()

		result, err = tx.ExecContext(ctx, `DELETE FROM abandoned_carts WHERE expires_at <= $1`, now)
		if err != nil {
			return fmt.Errorf("purge abandoned carts: %w", err)
		}
		abandoned, _ = result.RowsAffected()
		return nil
	})
	return carts, abandoned, err
}

func GetAbandonedCartByToken(ctx context.Context, db database.Querier, token string) (*models.AbandonedCart, error) {
	ac := &models.AbandonedCart{}

	err := scanAbandonedCart(db.QueryRowContext(ctx,
		`SELECT `+abandonedCartColumns+` FROM abandoned_carts WHERE recovery_token = $1`, token), ac)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrAbandonedCartNotFound
		}
		return nil, fmt.Errorf("get abandoned cart: %w", err)
	}

	return ac, nil
}

// RecoverAbandonedCart copies the snapshot back into the owner's cart and
// closes it. Lines whose product is gone, no longer sold or out of stock are
// dropped; the rest are capped at current stock.
func RecoverAbandonedCart(ctx context.Context, db *sql.DB, token string, cartTTL time.Duration) (*models.Cart, error) {
	var cart *models.Cart

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		ac := &models.AbandonedCart{}
		err := scanAbandonedCart(tx.QueryRowContext(ctx,
			`SELECT `+abandonedCartColumns+` FROM abandoned_carts WHERE recovery_token = $1 FOR UPDATE`, token), ac)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrAbandonedCartNotFound
			}
			return fmt.Errorf("lock abandoned cart: %w", err)
		}

		if err := ac.Recoverable(time.Now()); err != nil {
			return err
		}

		cartID, err := ensureCart(ctx, tx, ac.UserID, cartTTL)
		if err != nil {
			return err
		}

		for _, item := range ac.Items {
			if err := restoreCartLine(ctx, tx, cartID, item); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE abandoned_carts SET recovered_at = NOW() WHERE id = $1`, ac.ID)
		if err != nil {
			return fmt.Errorf("close abandoned cart: %w", err)
		}

		cart, err = GetCart(ctx, tx, ac.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return cart, nil
}

// restoreCartLine puts a snapshot line back without stacking it on a line the
// cart still holds. The quantity is capped at current stock.
func restoreCartLine(ctx context.Context, tx *sql.Tx, cartID int64, item models.CartItem) error {
	product, err := GetProduct(ctx, tx, item.ProductID)
	if errors.Is(err, database.ErrProductNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !product.IsActive || !product.HasVariant(item.Size, item.Color) || product.StockQuantity < 1 {
		return nil
	}

	quantity := min(item.Quantity, product.StockQuantity)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO cart_items (cart_id, product_id, size, color, quantity, unit_price, added_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (cart_id, product_id, size, color)
		 DO UPDATE SET quantity = LEAST(GREATEST(cart_items.quantity, EXCLUDED.quantity), $7), unit_price = EXCLUDED.unit_price`,
		cartID, product.ID, item.Size, item.Color, quantity, product.Price, product.StockQuantity)
	if err != nil {
		return fmt.Errorf("restore cart item: %w", err)
	}
	return nil
}

// ListAbandonedCarts is the admin view. openOnly hides recovered carts.
func ListAbandonedCarts(ctx context.Context, db *sql.DB, openOnly bool, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM abandoned_carts WHERE (NOT $1 OR recovered_at IS NULL)`, openOnly).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count abandoned carts: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+abandonedCartColumns+`
		 FROM abandoned_carts
		 WHERE (NOT $1 OR recovered_at IS NULL)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		openOnly, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list abandoned carts: %w", err)
	}
	defer rows.Close()

	carts := []models.AbandonedCart{}
	for rows.Next() {
		var ac models.AbandonedCart
		if err := scanAbandonedCart(rows, &ac); err != nil {
			return nil, fmt.Errorf("scan abandoned cart: %w", err)
		}
		carts = append(carts, ac)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(carts, total, page, pageSize), nil
}

// RecoveryRepository exposes the abandoned-cart queries the recovery worker
// runs, bound to one database.
type RecoveryRepository struct {
	DB *sql.DB
}

func (r *RecoveryRepository) SnapshotIdleCarts(ctx context.Context, idleSince time.Time, ttl time.Duration, limit int) (int, error) {
	return SnapshotIdleCarts(ctx, r.DB, idleSince, ttl, limit)
}

func (r *RecoveryRepository) DueReminders(ctx context.Context, now time.Time, interval time.Duration, maxReminders, limit int) ([]models.AbandonedCart, error) {
	return DueReminders(ctx, r.DB, now, interval, maxReminders, limit)
}

func (r *RecoveryRepository) MarkReminded(ctx context.Context, id int64, at time.Time) error {
	return MarkReminded(ctx, r.DB, id, at)
}

func (r *RecoveryRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, int64, error) {
	return PurgeExpired(ctx, r.DB, now)
}
