package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
	"github.com/shopspring/decimal"
)

const couponColumns = `id, code, description, type, value, min_purchase_amount, max_discount_amount,
	starts_at, expires_at, usage_limit, usage_count, per_user_limit, allowed_user_ids, is_active,
	created_at, updated_at`

func scanCoupon(row interface{ Scan(...any) error }, coupon *models.Coupon) error {
	var startsAt, expiresAt sql.NullTime
	err := row.Scan(
		&coupon.ID,
		&coupon.Code,
		&coupon.Description,
		&coupon.Type,
		&coupon.Value,
		&coupon.MinPurchaseAmount,
		&coupon.MaxDiscountAmount,
		&startsAt,
		&expiresAt,
		&coupon.UsageLimit,
		&coupon.UsageCount,
		&coupon.PerUserLimit,
		pq.Array(&coupon.AllowedUserIDs),
		&coupon.IsActive,
		&coupon.CreatedAt,
		&coupon.UpdatedAt,
	)
	if err != nil {
		return err
	}
	coupon.StartsAt = nullTimePtr(startsAt)
	coupon.ExpiresAt = nullTimePtr(expiresAt)
	return nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func CreateCoupon(ctx context.Context, db *sql.DB, coupon *models.Coupon) (*models.Coupon, error) {
	coupon.Code = models.NormalizeCouponCode(coupon.Code)
	if err := coupon.Validate(); err != nil {
		return nil, err
	}

	allowed := coupon.AllowedUserIDs
	if allowed == nil {
		allowed = []int64{}
	}

	created := &models.Coupon{}
	err := scanCoupon(db.QueryRowContext(ctx,
		`INSERT INTO coupons (code, description, type, value, min_purchase_amount, max_discount_amount,
		                      starts_at, expires_at, usage_limit, per_user_limit, allowed_user_ids, is_active,
		                      created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		 RETURNING `+couponColumns,
		coupon.Code, coupon.Description, coupon.Type, coupon.Value, coupon.MinPurchaseAmount,
		coupon.MaxDiscountAmount, coupon.StartsAt, coupon.ExpiresAt, coupon.UsageLimit,
		coupon.PerUserLimit, pq.Array(allowed), coupon.IsActive), created)
	if err != nil {
		if database.IsUniqueViolation(err, "coupons_code_key") {
			return nil, database.ErrDuplicateCoupon
		}
		return nil, fmt.Errorf("create coupon: %w", err)
	}

	return created, nil
}

func GetCouponByCode(ctx context.Context, db database.Querier, code string) (*models.Coupon, error) {
	coupon := &models.Coupon{}

	err := scanCoupon(db.QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE code = $1`,
		models.NormalizeCouponCode(code)), coupon)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}

	return coupon, nil
}

func lockCouponByCode(ctx context.Context, tx *sql.Tx, code string) (*models.Coupon, error) {
	coupon := &models.Coupon{}

	err := scanCoupon(tx.QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE code = $1 FOR UPDATE`,
		models.NormalizeCouponCode(code)), coupon)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("lock coupon: %w", err)
	}

	return coupon, nil
}

func ListCoupons(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM coupons`).Scan(&total); err != nil {
		return nil, fmt.Errorf("count coupons: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+couponColumns+`
		 FROM coupons
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`,
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()

	coupons := []models.Coupon{}
	for rows.Next() {
		var coupon models.Coupon
		if err := scanCoupon(rows, &coupon); err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		coupons = append(coupons, coupon)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(coupons, total, page, pageSize), nil
}

func SetCouponActive(ctx context.Context, db *sql.DB, id int64, active bool) (*models.Coupon, error) {
	coupon := &models.Coupon{}

	err := scanCoupon(db.QueryRowContext(ctx,
		`UPDATE coupons SET is_active = $1, updated_at = NOW()
		 WHERE id = $2
		 RETURNING `+couponColumns,
		active, id), coupon)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("set coupon active: %w", err)
	}

	return coupon, nil
}

// CountCouponUsage returns how many orders userID has redeemed the coupon on.
func CountCouponUsage(ctx context.Context, db database.Querier, couponID, userID int64) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`,
		couponID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count coupon usage: %w", err)
	}
	return n, nil
}

func appliedCoupons(ctx context.Context, db database.Querier, orderID int64) ([]models.AppliedCoupon, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT coupon_id, code, type, value, discount_amount, applied_at
		 FROM order_coupons
		 WHERE order_id = $1
		 ORDER BY applied_at, id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get applied coupons: %w", err)
	}
	defer rows.Close()

	applied := []models.AppliedCoupon{}
	for rows.Next() {
		var ac models.AppliedCoupon
		if err := rows.Scan(&ac.CouponID, &ac.Code, &ac.Type, &ac.Value, &ac.DiscountAmount, &ac.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan applied coupon: %w", err)
		}
		applied = append(applied, ac)
	}

	return applied, rows.Err()
}

// attachAppliedCoupons loads the applied coupons of every listed order in one
// query.
func attachAppliedCoupons(ctx context.Context, db database.Querier, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	byID := make(map[int64]*models.Order, len(orders))
	for i := range orders {
		orders[i].AppliedCoupons = []models.AppliedCoupon{}
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err := db.QueryContext(ctx,
		`SELECT order_id, coupon_id, code, type, value, discount_amount, applied_at
		 FROM order_coupons
		 WHERE order_id = ANY($1)
		 ORDER BY order_id, applied_at, id`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("list applied coupons: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID int64
		var ac models.AppliedCoupon
		if err := rows.Scan(&orderID, &ac.CouponID, &ac.Code, &ac.Type, &ac.Value, &ac.DiscountAmount, &ac.AppliedAt); err != nil {
			return fmt.Errorf("scan applied coupon: %w", err)
		}
		if order, ok := byID[orderID]; ok {
			order.AppliedCoupons = append(order.AppliedCoupons, ac)
		}
	}

	return rows.Err()
}

// ApplyCoupon applies code to the caller's pending order. Concurrent
// redemptions of the same coupon serialize on its row lock, so usage limits
// hold under load.
func ApplyCoupon(ctx context.Context, db *sql.DB, orderID, userID int64, code string) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return database.ErrOrderNotFound
		}

		_, err = applyCouponTx(ctx, tx, order, code, userID, time.Now())
		return err
	})

	if err != nil {
		return nil, err
	}

	return order, nil
}

func applyCouponTx(ctx context.Context, tx *sql.Tx, order *models.Order, code string, userID int64, now time.Time) (models.AppliedCoupon, error) {
	if order.Status != models.OrderStatusPending {
		return models.AppliedCoupon{}, models.ErrOrderNotEditable
	}

	coupon, err := lockCouponByCode(ctx, tx, code)
	if err != nil {
		if errors.Is(err, database.ErrCouponNotFound) {
			return models.AppliedCoupon{}, models.ErrInvalidCoupon
		}
		return models.AppliedCoupon{}, err
	}

	usage, err := CountCouponUsage(ctx, tx, coupon.ID, userID)
	if err != nil {
		return models.AppliedCoupon{}, err
	}

	applied, err := order.ApplyCoupon(coupon, userID, usage, now)
	if err != nil {
		return models.AppliedCoupon{}, err
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO order_coupons (order_id, coupon_id, code, type, value, discount_amount, applied_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING applied_at`,
		order.ID, applied.CouponID, applied.Code, applied.Type, applied.Value,
		applied.DiscountAmount, applied.AppliedAt).Scan(&applied.AppliedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "order_coupons_order_code_key") {
			return models.AppliedCoupon{}, models.ErrCouponAlreadyApplied
		}
		return models.AppliedCoupon{}, fmt.Errorf("record applied coupon: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO coupon_usages (coupon_id, user_id, order_id, used_at)
		 VALUES ($1, $2, $3, NOW())`,
		coupon.ID, userID, order.ID)
	if err != nil {
		return models.AppliedCoupon{}, fmt.Errorf("record coupon usage: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE coupons SET usage_count = usage_count + 1, updated_at = NOW() WHERE id = $1`,
		coupon.ID)
	if err != nil {
		return models.AppliedCoupon{}, fmt.Errorf("increment coupon usage: %w", err)
	}

	if err := updateOrderTotals(ctx, tx, order); err != nil {
		return models.AppliedCoupon{}, err
	}

	return applied, nil
}

// RemoveCoupon takes code off the caller's pending order and frees the usage
// slot it held.
func RemoveCoupon(ctx context.Context, db *sql.DB, orderID, userID int64, code string) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return database.ErrOrderNotFound
		}

		removed, err := order.RemoveCoupon(code)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM order_coupons WHERE order_id = $1 AND code = $2`,
			order.ID, removed.Code)
		if err != nil {
			return fmt.Errorf("delete applied coupon: %w", err)
		}

		if err := releaseCouponUsage(ctx, tx, removed.CouponID, order.ID); err != nil {
			return err
		}

		return updateOrderTotals(ctx, tx, order)
	})

	if err != nil {
		return nil, err
	}

	return order, nil
}

func releaseCouponUsage(ctx context.Context, tx *sql.Tx, couponID, orderID int64) error {
	result, err := tx.ExecContext(ctx,
		`DELETE FROM coupon_usages WHERE coupon_id = $1 AND order_id = $2`,
		couponID, orderID)
	if err != nil {
		return fmt.Errorf("delete coupon usage: %w", err)
	}

	released, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if released == 0 {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE coupons
		 SET usage_count = GREATEST(usage_count - $1, 0), updated_at = NOW()
		 WHERE id = $2`,
		released, couponID)
	if err != nil {
		return fmt.Errorf("decrement coupon usage: %w", err)
	}
	return nil
}

type CouponPreview struct {
	Code     string          `json:"code"`
	Amount   decimal.Decimal `json:"amount"`
	Discount decimal.Decimal `json:"discount"`
	Payable  decimal.Decimal `json:"payable"`
}

// PreviewCoupon reports the discount coupon would give userID on amount
// without recording anything.
func PreviewCoupon(ctx context.Context, db database.Querier, coupon *models.Coupon, userID int64, amount decimal.Decimal, now time.Time) (*CouponPreview, error) {
	if coupon == nil {
		return nil, models.ErrInvalidCoupon
	}

	usage, err := CountCouponUsage(ctx, db, coupon.ID, userID)
	if err != nil {
		return nil, err
	}

	if err := coupon.CheckEligibility(userID, amount, usage, now); err != nil {
		return nil, err
	}

	discount := coupon.DiscountFor(amount)
	return &CouponPreview{
		Code:     coupon.Code,
		Amount:   amount,
		Discount: discount,
		Payable:  decimal.Max(decimal.Zero, amount.Sub(discount)),
	}, nil
}
