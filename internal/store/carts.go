package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
)

type CartItemInput struct {
	ProductID int64
	Size      string
	Color     string
	Quantity  int
}

// GetCart returns the user's cart, or an empty one if they never had one.
func GetCart(ctx context.Context, db database.Querier, userID int64) (*models.Cart, error) {
	cart := &models.Cart{UserID: userID, Items: []models.CartItem{}}

	err := db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at, expires_at FROM carts WHERE user_id = $1`,
		userID).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt, &cart.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cart, nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	cart.Items, err = cartItems(ctx, db, cart.ID)
	if err != nil {
		return nil, err
	}

	return cart, nil
}

func cartItems(ctx context.Context, db database.Querier, cartID int64) ([]models.CartItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT ci.id, ci.product_id, p.name, ci.size, ci.color, ci.quantity, ci.unit_price, ci.added_at
		 FROM cart_items ci
		 JOIN products p ON p.id = ci.product_id
		 WHERE ci.cart_id = $1
		 ORDER BY ci.added_at, ci.id`,
		cartID)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var item models.CartItem
		err := rows.Scan(
			&item.ID,
			&item.ProductID,
			&item.ProductName,
			&item.Size,
			&item.Color,
			&item.Quantity,
			&item.UnitPrice,
			&item.AddedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// ensureCart returns the id of the user's cart, creating it if needed, and
// pushes its expiry out by ttl.
func ensureCart(ctx context.Context, tx *sql.Tx, userID int64, ttl time.Duration) (int64, error) {
	var cartID int64
	err := tx.QueryRowContext(ctx,
		`INSERT INTO carts (user_id, created_at, updated_at, expires_at)
		 VALUES ($1, NOW(), NOW(), $2)
		 ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW(), expires_at = EXCLUDED.expires_at
		 RETURNING id`,
		userID, time.Now().Add(ttl)).Scan(&cartID)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return 0, database.ErrUserNotFound
		}
		return 0, fmt.Errorf("ensure cart: %w", err)
	}
	return cartID, nil
}

// AddCartItem adds quantity of a product variant, merging with an existing
// line for the same size and color.
func AddCartItem(ctx context.Context, db *sql.DB, userID int64, ttl time.Duration, in CartItemInput) (*models.Cart, error) {
	if in.Quantity <= 0 {
		return nil, models.ErrInvalidQuantity
	}

	var cart *models.Cart
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		cartID, err := ensureCart(ctx, tx, userID, ttl)
		if err != nil {
			return err
		}

		if err := addCartLine(ctx, tx, cartID, in); err != nil {
			return err
		}

		cart, err = GetCart(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return cart, nil
}

func addCartLine(ctx context.Context, tx *sql.Tx, cartID int64, in CartItemInput) error {
	product, err := GetProduct(ctx, tx, in.ProductID)
	if err != nil {
		return err
	}
	if !product.IsActive || !product.HasVariant(in.Size, in.Color) {
		return database.ErrProductUnavailable
	}

	var quantity int
	err = tx.QueryRowContext(ctx,
		`INSERT INTO cart_items (cart_id, product_id, size, color, quantity, unit_price, added_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (cart_id, product_id, size, color)
		 DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, unit_price = EXCLUDED.unit_price
		 RETURNING quantity`,
		cartID, product.ID, in.Size, in.Color, in.Quantity, product.Price).Scan(&quantity)
	if err != nil {
		return fmt.Errorf("add cart item: %w", err)
	}

	if quantity > product.StockQuantity {
		return database.ErrInsufficientStock
	}
	return nil
}

// UpdateCartItem sets the quantity of a line. Zero removes it.
func UpdateCartItem(ctx context.Context, db *sql.DB, userID int64, ttl time.Duration, itemID int64, quantity int) (*models.Cart, error) {
	if quantity < 0 {
		return nil, models.ErrInvalidQuantity
	}
	if quantity == 0 {
		return RemoveCartItem(ctx, db, userID, ttl, itemID)
	}

	var cart *models.Cart
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		cartID, err := ensureCart(ctx, tx, userID, ttl)
		if err != nil {
			return err
		}

		var stock int
		err = tx.QueryRowContext(ctx,
			`UPDATE cart_items ci SET quantity = $1
			 FROM products p
			 WHERE ci.id = $2 AND ci.cart_id = $3 AND p.id = ci.product_id
			 RETURNING p.stock_quantity`,
			quantity, itemID, cartID).Scan(&stock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrCartItemNotFound
			}
			return fmt.Errorf("update cart item: %w", err)
		}
		if quantity > stock {
			return database.ErrInsufficientStock
		}

		cart, err = GetCart(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return cart, nil
}

func RemoveCartItem(ctx context.Context, db *sql.DB, userID int64, ttl time.Duration, itemID int64) (*models.Cart, error) {
	var cart *models.Cart
	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		cartID, err := ensureCart(ctx, tx, userID, ttl)
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			`DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`, itemID, cartID)
		if err != nil {
			return fmt.Errorf("remove cart item: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		} else if n == 0 {
			return database.ErrCartItemNotFound
		}

		cart, err = GetCart(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return cart, nil
}

func ClearCart(ctx context.Context, db *sql.DB, userID int64) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		return clearCartTx(ctx, tx, userID)
	})
}

func clearCartTx(ctx context.Context, tx *sql.Tx, userID int64) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id IN (SELECT id FROM carts WHERE user_id = $1)`, userID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE carts SET updated_at = NOW() WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}

// cartLines turns the user's cart into checkout lines.
func cartLines(ctx context.Context, tx *sql.Tx, userID int64) ([]OrderItemRequest, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT ci.product_id, ci.size, ci.color, ci.quantity
		 FROM cart_items ci
		 JOIN carts c ON c.id = ci.cart_id
		 WHERE c.user_id = $1
		 ORDER BY ci.added_at, ci.id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("get cart lines: %w", err)
	}
	defer rows.Close()

	var lines []OrderItemRequest
	for rows.Next() {
		var line OrderItemRequest
		if err := rows.Scan(&line.ProductID, &line.Size, &line.Color, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}

	return lines, rows.Err()
}
