package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
)

type CreateOrderRequest struct {
	UserID int64
	// AddressID selects the shipping address; zero means the user's default.
	AddressID     int64
	Items         []OrderItemRequest
	CouponCode    string
	PaymentMethod string
	Notes         string
}

// OrderItemRequest is a line to buy. When a request has no items the user's
// cart is checked out instead.
type OrderItemRequest struct {
	ProductID int64
	Size      string
	Color     string
	Quantity  int
}

const orderColumns = `id, user_id, order_number, status, payment_method, payment_status, shipping_address,
	subtotal, shipping_cost, tax, total_discount, total, notes, created_at, updated_at, version`

func scanOrder(row interface{ Scan(...any) error }, order *models.Order) error {
	return row.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.PaymentMethod,
		&order.PaymentStatus,
		&order.ShippingAddress,
		&order.Subtotal,
		&order.ShippingCost,
		&order.Tax,
		&order.TotalDiscount,
		&order.Total,
		&order.Notes,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
}

func generateOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("ORD-%d-%s", time.Now().UnixMilli(), suffix)
}

func CreateOrder(ctx context.Context, db *sql.DB, rules models.PricingRules, req CreateOrderRequest) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		if _, err := GetUser(ctx, tx, req.UserID); err != nil {
			return err
		}

		address, err := checkoutAddress(ctx, tx, req.UserID, req.AddressID)
		if err != nil {
			return err
		}

		lines := req.Items
		if len(lines) == 0 {
			lines, err = cartLines(ctx, tx, req.UserID)
			if err != nil {
				return err
			}
		}
		if len(lines) == 0 {
			return models.ErrEmptyOrder
		}

		paymentMethod := req.PaymentMethod
		if paymentMethod == "" {
			paymentMethod = "cod"
		}

		order = &models.Order{
			UserID:          req.UserID,
			OrderNumber:     generateOrderNumber(),
			Status:          models.OrderStatusPending,
			PaymentMethod:   paymentMethod,
			PaymentStatus:   models.PaymentStatusPending,
			ShippingAddress: address.Snapshot(),
			Notes:           req.Notes,
			AppliedCoupons:  []models.AppliedCoupon{},
		}

		for _, line := range lines {
			if line.Quantity <= 0 {
				return models.ErrInvalidQuantity
			}
			product, err := ReserveStock(ctx, tx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			if !product.HasVariant(line.Size, line.Color) {
				return fmt.Errorf("%w: %s in size %q color %q", database.ErrProductUnavailable, product.Name, line.Size, line.Color)
			}
			order.Items = append(order.Items, models.OrderItem{
				ProductID:   product.ID,
				ProductName: product.Name,
				Size:        line.Size,
				Color:       line.Color,
				Quantity:    line.Quantity,
				UnitPrice:   product.Price,
			})
		}

		order.Price(rules)

		err = scanOrder(tx.QueryRowContext(ctx,
			`INSERT INTO orders (user_id, order_number, status, payment_method, payment_status, shipping_address,
			                     subtotal, shipping_cost, tax, total_discount, total, notes, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW(), 1)
			 RETURNING `+orderColumns,
			order.UserID, order.OrderNumber, order.Status, order.PaymentMethod, order.PaymentStatus,
			order.ShippingAddress, order.Subtotal, order.ShippingCost, order.Tax, order.TotalDiscount,
			order.Total, order.Notes), order)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = order.ID
			err = tx.QueryRowContext(ctx,
				`INSERT INTO order_items (order_id, product_id, product_name, size, color, quantity, unit_price, subtotal, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
				 RETURNING id, created_at`,
				order.ID, item.ProductID, item.ProductName, item.Size, item.Color,
				item.Quantity, item.UnitPrice, item.Subtotal).Scan(&item.ID, &item.CreatedAt)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}

			if err := DecrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		if err := insertStatusEvent(ctx, tx, order, models.OrderStatusPending, "order placed"); err != nil {
			return err
		}

		if strings.TrimSpace(req.CouponCode) != "" {
			if _, err := applyCouponTx(ctx, tx, order, req.CouponCode, req.UserID, time.Now()); err != nil {
				return err
			}
		}

		if err := clearCartTx(ctx, tx, req.UserID); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE abandoned_carts SET recovered_at = NOW()
			 WHERE user_id = $1 AND recovered_at IS NULL`,
			req.UserID)
		if err != nil {
			return fmt.Errorf("close abandoned cart: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return order, nil
}

func checkoutAddress(ctx context.Context, tx *sql.Tx, userID, addressID int64) (*models.Address, error) {
	if addressID != 0 {
		address, err := GetAddress(ctx, tx, addressID)
		if err != nil {
			return nil, err
		}
		if address.UserID != userID {
			return nil, database.ErrAddressNotFound
		}
		return address, nil
	}
	return GetDefaultAddress(ctx, tx, userID)
}

func insertStatusEvent(ctx context.Context, tx *sql.Tx, order *models.Order, status models.OrderStatus, note string) error {
	var event models.OrderStatusEvent
	err := tx.QueryRowContext(ctx,
		`INSERT INTO order_status_history (order_id, status, note, created_at)
		 VALUES ($1, $2, $3, NOW())
		 RETURNING status, note, created_at`,
		order.ID, status, note).Scan(&event.Status, &event.Note, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("record status change: %w", err)
	}
	order.StatusHistory = append(order.StatusHistory, event)
	return nil
}

func GetOrder(ctx context.Context, db database.Querier, id int64) (*models.Order, error) {
	order := &models.Order{}

	err := scanOrder(db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id), order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := loadOrderDetails(ctx, db, order); err != nil {
		return nil, err
	}

	return order, nil
}

// lockOrder loads the order with its items and applied coupons and holds its
// row lock until tx ends.
func lockOrder(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	order := &models.Order{}

	err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id), order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	if err := loadOrderDetails(ctx, tx, order); err != nil {
		return nil, err
	}

	return order, nil
}

func loadOrderDetails(ctx context.Context, db database.Querier, order *models.Order) error {
	rows, err := db.QueryContext(ctx,
		`SELECT id, order_id, product_id, product_name, size, color, quantity, unit_price, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		order.ID)
	if err != nil {
		return fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	order.Items = nil
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.Size,
			&item.Color,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	order.AppliedCoupons, err = appliedCoupons(ctx, db, order.ID)
	if err != nil {
		return err
	}

	history, err := db.QueryContext(ctx,
		`SELECT status, note, created_at
		 FROM order_status_history
		 WHERE order_id = $1
		 ORDER BY created_at, id`,
		order.ID)
	if err != nil {
		return fmt.Errorf("get order history: %w", err)
	}
	defer history.Close()

	order.StatusHistory = nil
	for history.Next() {
		var event models.OrderStatusEvent
		if err := history.Scan(&event.Status, &event.Note, &event.CreatedAt); err != nil {
			return fmt.Errorf("scan order history: %w", err)
		}
		order.StatusHistory = append(order.StatusHistory, event)
	}

	return history.Err()
}

func ListOrdersCursor(ctx context.Context, db *sql.DB, userID int64, cursor string, limit int) (*CursorPage, error) {
	_, limit = NormalizePage(1, limit)

	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", database.ErrInvalidCursor, err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	if err := attachAppliedCoupons(ctx, db, orders); err != nil {
		return nil, err
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListOrders is the admin listing. An empty status lists every order.
func ListOrders(ctx context.Context, db *sql.DB, status models.OrderStatus, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE ($1 = '' OR status = $1)`, status).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := db.QueryContext(ctx, query, status, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if err := attachAppliedCoupons(ctx, db, orders); err != nil {
		return nil, err
	}

	return newOffsetPage(orders, total, page, pageSize), nil
}

// UpdateOrderStatus moves the order to next and records the change. Cancelling
// puts the items back in stock and frees the coupon usage slots the order held.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, orderID int64, next models.OrderStatus, note string) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if !order.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s to %s", models.ErrInvalidStatusTransition, order.Status, next)
		}

		if next == models.OrderStatusCancelled {
			for _, item := range order.Items {
				if err := IncrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
					return err
				}
			}
			for _, ac := range order.AppliedCoupons {
				if err := releaseCouponUsage(ctx, tx, ac.CouponID, order.ID); err != nil {
					return err
				}
			}
		}

		err = tx.QueryRowContext(ctx,
			`UPDATE orders
			 SET status = $1, version = version + 1, updated_at = NOW()
			 WHERE id = $2
			 RETURNING version, updated_at`,
			next, orderID).Scan(&order.Version, &order.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		order.Status = next

		return insertStatusEvent(ctx, tx, order, next, note)
	})

	if err != nil {
		return nil, err
	}

	return order, nil
}

func updateOrderTotals(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	err := tx.QueryRowContext(ctx,
		`UPDATE orders
		 SET total_discount = $1, total = $2, version = version + 1, updated_at = NOW()
		 WHERE id = $3
		 RETURNING version, updated_at`,
		order.TotalDiscount, order.Total, order.ID).Scan(&order.Version, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order totals: %w", err)
	}
	return nil
}
