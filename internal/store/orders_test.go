package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "buyer@example.com")
	runner := createShoe(t, db, "RUN-001", 500, 50)
	trail := createShoe(t, db, "TRL-001", 1200, 30)

	order, err := CreateOrder(ctx, db, testPricing, CreateOrderRequest{
		UserID: user.ID,
		Items:  []OrderItemRequest{line(runner.ID, 2), line(trail.ID, 1)},
	})
	require.NoError(t, err)

	assert.NotZero(t, order.ID)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.True(t, order.Subtotal.Equal(decimal.NewFromInt(2200)), "subtotal %s", order.Subtotal)
	assert.True(t, order.ShippingCost.IsZero(), "free shipping above threshold")
	assert.True(t, order.Tax.Equal(decimal.NewFromInt(396)), "tax %s", order.Tax)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(2596)), "total %s", order.Total)
	assert.Equal(t, "Bengaluru", order.ShippingAddress.City)
	require.Len(t, order.StatusHistory, 1)

	after, err := GetProduct(ctx, db, runner.ID)
	require.NoError(t, err)
	assert.Equal(t, 48, after.StockQuantity)

	stored, err := GetOrder(ctx, db, order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, "Runner RUN-001", stored.Items[0].ProductName)
	assert.Equal(t, "9", stored.Items[0].Size)
	assert.True(t, stored.Total.Equal(order.Total))
}

func TestCreateOrderChargesShippingBelowThreshold(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "small@example.com")
	runner := createShoe(t, db, "RUN-002", 500, 5)

	order, err := CreateOrder(ctx, db, testPricing, CreateOrderRequest{
		UserID: user.ID,
		Items:  []OrderItemRequest{line(runner.ID, 1)},
	})
	require.NoError(t, err)

	assert.True(t, order.ShippingCost.Equal(decimal.NewFromInt(99)))
	assert.True(t, order.Total.Equal(decimal.NewFromInt(689)), "total %s", order.Total)
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "greedy@example.com")
	product := createShoe(t, db, "RUN-003", 100, 5)

	_, err := CreateOrder(ctx, db, testPricing, CreateOrderRequest{
		UserID: user.ID,
		Items:  []OrderItemRequest{line(product.ID, 10)},
	})
	assert.ErrorIs(t, err, database.ErrInsufficientStock)

	after, err := GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, after.StockQuantity, "stock unchanged")
}

func TestCreateOrderRejectsUnknownVariant(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "variant@example.com")
	product := createShoe(t, db, "RUN-004", 100, 5)

	_, err := CreateOrder(ctx, db, testPricing, CreateOrderRequest{
		UserID: user.ID,
		Items:  []OrderItemRequest{{ProductID: product.ID, Size: "14", Color: "black", Quantity: 1}},
	})
	assert.ErrorIs(t, err, database.ErrProductUnavailable)
}

func TestCreateOrderWithoutAddress(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user, err := CreateUser(ctx, db, "nowhere@example.com", "No Address", "correct-horse")
	require.NoError(t, err)
	product := createShoe(t, db, "RUN-005", 100, 5)

	_, err = CreateOrder(ctx, db, testPricing, CreateOrderRequest{
		UserID: user.ID,
		Items:  []OrderItemRequest{line(product.ID, 1)},
	})
	assert.ErrorIs(t, err, database.ErrAddressNotFound)
}

func TestCreateOrderFromCart(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "cart@example.com")
	product := createShoe(t, db, "RUN-006", 300, 10)

	_, err := AddCartItem(ctx, db, user.ID, time.Hour, CartItemInput{ProductID: product.ID, Size: "8", Color: "white", Quantity: 3})
	require.NoError(t, err)

	order, err := CreateOrder(ctx, db, testPricing, CreateOrderRequest{UserID: user.ID})
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.Equal(t, "white", order.Items[0].Color)

	cart, err := GetCart(ctx, db, user.ID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items, "checkout empties the cart")

	_, err = CreateOrder(ctx, db, testPricing, CreateOrderRequest{UserID: user.ID})
	assert.ErrorIs(t, err, models.ErrEmptyOrder)
}

func TestConcurrentOrderCreation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "rush@example.com")
	product := createShoe(t, db, "RUN-007", 100, 20)

	concurrency := 10
	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := CreateOrder(ctx, db, testPricing, CreateOrderRequest{
				UserID: user.ID,
				Items:  []OrderItemRequest{line(product.ID, 3)},
			})
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, database.ErrInsufficientStock), database.IsRetryable(err):
		default:
			t.Logf("unexpected error: %v", err)
		}
	}

	assert.LessOrEqual(t, successCount, 6, "20 units cover at most 6 orders of 3")
	assert.Positive(t, successCount)

	after, err := GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 20-successCount*3, after.StockQuantity)
}

func TestUpdateOrderStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "status@example.com")
	product := createShoe(t, db, "RUN-008", 100, 10)

	order, err := CreateOrder(ctx, db, testPricing, CreateOrderRequest{
		UserID: user.ID,
		Items:  []OrderItemRequest{line(product.ID, 4)},
	})
	require.NoError(t, err)

	shipped, err := UpdateOrderStatus(ctx, db, order.ID, models.OrderStatusShipped, "handed to courier")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, shipped.Status)
	assert.Greater(t, shipped.Version, order.Version)

	delivered, err := UpdateOrderStatus(ctx, db, order.ID, models.OrderStatusDelivered, "")
	require.NoError(t, err)
	require.Len(t, delivered.StatusHistory, 3)

	_, err = UpdateOrderStatus(ctx, db, order.ID, models.OrderStatusCancelled, "")
	assert.ErrorIs(t, err, models.ErrInvalidStatusTransition)
}

func TestCancelOrderRestocksAndFreesCoupon(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "cancel@example.com")
	product := createShoe(t, db, "RUN-009", 1000, 10)
	coupon := createCoupon(t, db, models.Coupon{Code: "ONCE", Value: decimal.NewFromInt(100), UsageLimit: 1})

	order, err := CreateOrder(ctx, db, testPricing, CreateOrderRequest{
		UserID:     user.ID,
		Items:      []OrderItemRequest{line(product.ID, 2)},
		CouponCode: "once",
	})
	require.NoError(t, err)
	require.Len(t, order.AppliedCoupons, 1)

	_, err = UpdateOrderStatus(ctx, db, order.ID, models.OrderStatusCancelled, "customer request")
	require.NoError(t, err)

	after, err := GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, after.StockQuantity)

	reloaded, err := GetCouponByCode(ctx, db, coupon.Code)
	require.NoError(t, err)
	assert.Zero(t, reloaded.UsageCount)
}

func TestListOrdersCursor(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "history@example.com")
	product := createShoe(t, db, "RUN-010", 100, 100)

	for i := 0; i < 15; i++ {
		_, err := CreateOrder(ctx, db, testPricing, CreateOrderRequest{
			UserID: user.ID,
			Items:  []OrderItemRequest{line(product.ID, 1)},
		})
		require.NoError(t, err, "order %d", i)
	}

	page1, err := ListOrdersCursor(ctx, db, user.ID, "", 10)
	require.NoError(t, err)
	assert.True(t, page1.HasMore)
	assert.NotEmpty(t, page1.NextCursor)
	assert.Len(t, page1.Items, 10)

	page2, err := ListOrdersCursor(ctx, db, user.ID, page1.NextCursor, 10)
	require.NoError(t, err)
	assert.False(t, page2.HasMore)
	assert.Len(t, page2.Items, 5)

	all, err := ListOrders(ctx, db, models.OrderStatusPending, 1, 50)
	require.NoError(t, err)
	assert.EqualValues(t, 15, all.Total)
}

func TestListOrdersIncludeAppliedCoupons(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := createCustomer(t, db, "listing@example.com")
	product := createShoe(t, db, "RUN-011", 1000, 10)
	createCoupon(t, db, models.Coupon{Code: "LIST50", Value: decimal.NewFromInt(50)})

	discounted, err := CreateOrder(ctx, db, testPricing, CreateOrderRequest{
		UserID:     user.ID,
		Items:      []OrderItemRequest{line(product.ID, 1)},
		CouponCode: "LIST50",
	})
	require.NoError(t, err)
	_, err = CreateOrder(ctx, db, testPricing, CreateOrderRequest{
		UserID: user.ID,
		Items:  []OrderItemRequest{line(product.ID, 1)},
	})
	require.NoError(t, err)

	mine, err := ListOrdersCursor(ctx, db, user.ID, "", 10)
	require.NoError(t, err)
	admin, err := ListOrders(ctx, db, "", 1, 10)
	require.NoError(t, err)

	for _, items := range []interface{}{mine.Items, admin.Items} {
		orders, ok := items.([]models.Order)
		require.True(t, ok)
		require.Len(t, orders, 2)
		for _, order := range orders {
			require.NotNil(t, order.AppliedCoupons, "order %d", order.ID)
			if order.ID == discounted.ID {
				require.Len(t, order.AppliedCoupons, 1)
				assert.Equal(t, "LIST50", order.AppliedCoupons[0].Code)
			} else {
				assert.Empty(t, order.AppliedCoupons)
			}
		}
	}
}
