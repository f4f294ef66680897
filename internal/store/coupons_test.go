package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placeOrder(t *testing.T, db *sql.DB, user *models.User, product *models.Product, qty int) *models.Order {
	t.Helper()
	order, err := CreateOrder(context.Background(), db, testPricing, CreateOrderRequest{
		UserID: user.ID,
		Items:  []OrderItemRequest{line(product.ID, qty)},
	})
	require.NoError(t, err)
	return order
}

func TestApplyCouponPercentageCapped(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "half@example.com")
	product := createShoe(t, db, "CPN-001", 1000, 10)
	createCoupon(t, db, models.Coupon{
		Code:              "HALF",
		Type:              models.CouponTypePercentage,
		Value:             decimal.NewFromInt(50),
		MaxDiscountAmount: decimal.NewNullDecimal(decimal.NewFromInt(500)),
	})

	order := placeOrder(t, db, user, product, 2)

	updated, err := ApplyCoupon(ctx, db, order.ID, user.ID, " half ")
	require.NoError(t, err)
	require.Len(t, updated.AppliedCoupons, 1)
	assert.True(t, updated.AppliedCoupons[0].DiscountAmount.Equal(decimal.NewFromInt(500)))
	assert.True(t, updated.TotalDiscount.Equal(decimal.NewFromInt(500)))
	assert.True(t, updated.Total.Equal(order.Total.Sub(decimal.NewFromInt(500))))

	stored, err := GetOrder(ctx, db, order.ID)
	require.NoError(t, err)
	assert.True(t, stored.Total.Equal(updated.Total))
	require.Len(t, stored.AppliedCoupons, 1)
	assert.Equal(t, "HALF", stored.AppliedCoupons[0].Code)

	_, err = ApplyCoupon(ctx, db, order.ID, user.ID, "HALF")
	assert.ErrorIs(t, err, models.ErrCouponAlreadyApplied)
}

func TestApplyCouponRejections(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "reject@example.com")
	other := createCustomer(t, db, "other@example.com")
	product := createShoe(t, db, "CPN-002", 200, 10)
	past := time.Now().Add(-time.Hour)

	createCoupon(t, db, models.Coupon{Code: "BIGSPEND", Value: decimal.NewFromInt(50), MinPurchaseAmount: decimal.NewNullDecimal(decimal.NewFromInt(5000))})
	createCoupon(t, db, models.Coupon{Code: "OLD", Value: decimal.NewFromInt(50), StartsAt: &[]time.Time{past.Add(-time.Hour)}[0], ExpiresAt: &past})
	createCoupon(t, db, models.Coupon{Code: "VIP", Value: decimal.NewFromInt(50), AllowedUserIDs: []int64{other.ID}})

	order := placeOrder(t, db, user, product, 1)

	tests := []struct {
		code string
		want error
	}{
		{"NOPE", models.ErrInvalidCoupon},
		{"BIGSPEND", models.ErrMinPurchaseNotMet},
		{"OLD", models.ErrCouponExpired},
		{"VIP", models.ErrCouponNotAllowedForUser},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			_, err := ApplyCoupon(ctx, db, order.ID, user.ID, tt.code)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	stored, err := GetOrder(ctx, db, order.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.AppliedCoupons)
	assert.True(t, stored.Total.Equal(order.Total))

	_, err = ApplyCoupon(ctx, db, order.ID, other.ID, "VIP")
	assert.ErrorIs(t, err, database.ErrOrderNotFound, "orders are private to their owner")
}

func TestApplyCouponFlatNeverNegative(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "flat@example.com")
	product := createShoe(t, db, "CPN-003", 100, 10)
	createCoupon(t, db, models.Coupon{Code: "FLAT5000", Value: decimal.NewFromInt(5000)})

	order := placeOrder(t, db, user, product, 1)

	updated, err := ApplyCoupon(ctx, db, order.ID, user.ID, "FLAT5000")
	require.NoError(t, err)
	assert.True(t, updated.AppliedCoupons[0].DiscountAmount.Equal(decimal.NewFromInt(100)), "discount capped at subtotal")
	assert.True(t, updated.Total.Equal(updated.ShippingCost.Add(updated.Tax)), "total %s", updated.Total)
	assert.False(t, updated.Total.IsNegative())
}

func TestApplyCouponToFullyDiscountedOrderKeepsUsage(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "zero@example.com")
	product := createShoe(t, db, "CPN-009", 1000, 10)
	createCoupon(t, db, models.Coupon{Code: "BIG1", Value: decimal.NewFromInt(5000)})
	createCoupon(t, db, models.Coupon{Code: "BIG2", Value: decimal.NewFromInt(5000)})
	spare := createCoupon(t, db, models.Coupon{Code: "SPARE", Value: decimal.NewFromInt(50)})

	order := placeOrder(t, db, user, product, 1)

	_, err := ApplyCoupon(ctx, db, order.ID, user.ID, "BIG1")
	require.NoError(t, err)
	updated, err := ApplyCoupon(ctx, db, order.ID, user.ID, "BIG2")
	require.NoError(t, err)
	require.True(t, updated.Total.IsZero(), "total %s", updated.Total)

	_, err = ApplyCoupon(ctx, db, order.ID, user.ID, "SPARE")
	assert.ErrorIs(t, err, models.ErrNothingToDiscount)

	coupon, err := GetCouponByCode(ctx, db, "SPARE")
	require.NoError(t, err)
	assert.Zero(t, coupon.UsageCount)
	usage, err := CountCouponUsage(ctx, db, spare.ID, user.ID)
	require.NoError(t, err)
	assert.Zero(t, usage)
}

func TestRemoveCouponReleasesUsage(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "remove@example.com")
	product := createShoe(t, db, "CPN-004", 1000, 10)
	createCoupon(t, db, models.Coupon{Code: "SAVE100", Value: decimal.NewFromInt(100), PerUserLimit: 1})

	order := placeOrder(t, db, user, product, 1)

	_, err := RemoveCoupon(ctx, db, order.ID, user.ID, "SAVE100")
	assert.ErrorIs(t, err, models.ErrCouponNotApplied)

	_, err = ApplyCoupon(ctx, db, order.ID, user.ID, "SAVE100")
	require.NoError(t, err)

	updated, err := RemoveCoupon(ctx, db, order.ID, user.ID, "save100")
	require.NoError(t, err)
	assert.Empty(t, updated.AppliedCoupons)
	assert.True(t, updated.TotalDiscount.IsZero())
	assert.True(t, updated.Total.Equal(order.Total))

	coupon, err := GetCouponByCode(ctx, db, "SAVE100")
	require.NoError(t, err)
	assert.Zero(t, coupon.UsageCount)

	usage, err := CountCouponUsage(ctx, db, coupon.ID, user.ID)
	require.NoError(t, err)
	assert.Zero(t, usage)

	_, err = ApplyCoupon(ctx, db, order.ID, user.ID, "SAVE100")
	assert.NoError(t, err, "per-user slot is free again")
}

func TestApplyCouponRequiresPendingOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "late@example.com")
	product := createShoe(t, db, "CPN-005", 1000, 10)
	createCoupon(t, db, models.Coupon{Code: "LATE", Value: decimal.NewFromInt(10)})

	order := placeOrder(t, db, user, product, 1)
	_, err := UpdateOrderStatus(ctx, db, order.ID, models.OrderStatusConfirmed, "")
	require.NoError(t, err)

	_, err = ApplyCoupon(ctx, db, order.ID, user.ID, "LATE")
	assert.ErrorIs(t, err, models.ErrOrderNotEditable)
}

func TestCouponUsageLimitUnderConcurrency(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	product := createShoe(t, db, "CPN-006", 1000, 100)
	createCoupon(t, db, models.Coupon{Code: "FIRST3", Value: decimal.NewFromInt(100), UsageLimit: 3})

	const shoppers = 8
	orders := make([]*models.Order, shoppers)
	users := make([]*models.User, shoppers)
	for i := range orders {
		users[i] = createCustomer(t, db, fmt.Sprintf("shopper%d@example.com", i))
		orders[i] = placeOrder(t, db, users[i], product, 1)
	}

	var wg sync.WaitGroup
	results := make(chan error, shoppers)
	for i := range orders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ApplyCoupon(ctx, db, orders[i].ID, users[i].ID, "FIRST3")
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	applied := 0
	for err := range results {
		if err == nil {
			applied++
		}
	}
	assert.LessOrEqual(t, applied, 3)
	assert.Positive(t, applied)

	coupon, err := GetCouponByCode(ctx, db, "FIRST3")
	require.NoError(t, err)
	assert.Equal(t, applied, coupon.UsageCount)
}

func TestCreateCouponDuplicateCode(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	createCoupon(t, db, models.Coupon{Code: "dup", Value: decimal.NewFromInt(10)})

	_, err := CreateCoupon(ctx, db, &models.Coupon{Code: "DUP", Type: models.CouponTypeFlat, Value: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, database.ErrDuplicateCoupon)

	_, err = CreateCoupon(ctx, db, &models.Coupon{Code: "BAD", Type: models.CouponTypePercentage, Value: decimal.NewFromInt(150)})
	assert.ErrorIs(t, err, models.ErrInvalidCouponDefinition)
}

func TestPreviewCoupon(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "preview@example.com")
	coupon := createCoupon(t, db, models.Coupon{
		Code:              "TENOFF",
		Type:              models.CouponTypePercentage,
		Value:             decimal.NewFromInt(10),
		MinPurchaseAmount: decimal.NewNullDecimal(decimal.NewFromInt(1000)),
	})

	preview, err := PreviewCoupon(ctx, db, coupon, user.ID, decimal.NewFromInt(2500), time.Now())
	require.NoError(t, err)
	assert.True(t, preview.Discount.Equal(decimal.NewFromInt(250)))
	assert.True(t, preview.Payable.Equal(decimal.NewFromInt(2250)))

	_, err = PreviewCoupon(ctx, db, coupon, user.ID, decimal.NewFromInt(500), time.Now())
	assert.ErrorIs(t, err, models.ErrMinPurchaseNotMet)

	reloaded, err := GetCouponByCode(ctx, db, "TENOFF")
	require.NoError(t, err)
	assert.Zero(t, reloaded.UsageCount, "preview records nothing")
}
