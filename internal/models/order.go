package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

func ParseOrderStatus(s string) (OrderStatus, error) {
	switch status := OrderStatus(s); status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Terminal statuses accept no further changes.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo allows any move between labels except out of a terminal
// status or onto the same status.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return !s.Terminal() && s != next
}

type Order struct {
	ID              int64              `json:"id"`
	UserID          int64              `json:"user_id"`
	OrderNumber     string             `json:"order_number"`
	Status          OrderStatus        `json:"status"`
	PaymentMethod   string             `json:"payment_method"`
	PaymentStatus   string             `json:"payment_status"`
	ShippingAddress ShippingAddress    `json:"shipping_address"`
	Subtotal        decimal.Decimal    `json:"subtotal"`
	ShippingCost    decimal.Decimal    `json:"shipping_cost"`
	Tax             decimal.Decimal    `json:"tax"`
	TotalDiscount   decimal.Decimal    `json:"total_discount"`
	Total           decimal.Decimal    `json:"total"`
	Notes           string             `json:"notes,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	Version         int                `json:"version"`
	Items           []OrderItem        `json:"items,omitempty"`
	AppliedCoupons  []AppliedCoupon    `json:"applied_coupons"`
	StatusHistory   []OrderStatusEvent `json:"status_history,omitempty"`
}

type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Size        string          `json:"size,omitempty"`
	Color       string          `json:"color,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	CreatedAt   time.Time       `json:"created_at"`
}

type OrderStatusEvent struct {
	Status    OrderStatus `json:"status"`
	Note      string      `json:"note,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// ShippingAddress is copied onto the order at checkout so later address edits
// do not rewrite order history.
type ShippingAddress struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone,omitempty"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a ShippingAddress) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *ShippingAddress) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	case nil:
		*a = ShippingAddress{}
		return nil
	}
	return errors.New("shipping address: unsupported scan type")
}

// PayableAmount is subtotal plus charges minus discounts, never below zero.
func (o *Order) PayableAmount() decimal.Decimal {
	gross := o.Subtotal.Add(o.ShippingCost).Add(o.Tax)
	return decimal.Max(decimal.Zero, gross.Sub(o.TotalDiscount))
}

// RecalculateTotals derives TotalDiscount from the applied coupons and Total
// from it.
func (o *Order) RecalculateTotals() {
	sum := decimal.Zero
	for _, ac := range o.AppliedCoupons {
		sum = sum.Add(ac.DiscountAmount)
	}
	o.TotalDiscount = sum
	o.Total = o.PayableAmount()
}

func (o *Order) findCoupon(code string) int {
	for i, ac := range o.AppliedCoupons {
		if ac.Code == code {
			return i
		}
	}
	return -1
}

// ApplyCoupon checks coupon against the order and userID, then records a
// snapshot of it and recomputes the totals. The discount is based on the
// subtotal and is capped at what is still payable.
func (o *Order) ApplyCoupon(coupon *Coupon, userID int64, userUsage int, now time.Time) (AppliedCoupon, error) {
	if coupon == nil {
		return AppliedCoupon{}, ErrInvalidCoupon
	}
	if o.Status != OrderStatusPending {
		return AppliedCoupon{}, ErrOrderNotEditable
	}
	if o.findCoupon(coupon.Code) >= 0 {
		return AppliedCoupon{}, ErrCouponAlreadyApplied
	}
	if !o.PayableAmount().IsPositive() {
		return AppliedCoupon{}, ErrNothingToDiscount
	}
	if err := coupon.CheckEligibility(userID, o.Subtotal, userUsage, now); err != nil {
		return AppliedCoupon{}, err
	}

	discount := decimal.Min(coupon.DiscountFor(o.Subtotal), o.PayableAmount())

	applied := AppliedCoupon{
		CouponID:       coupon.ID,
		Code:           coupon.Code,
		Type:           coupon.Type,
		Value:          coupon.Value,
		DiscountAmount: discount,
		AppliedAt:      now,
	}
	o.AppliedCoupons = append(o.AppliedCoupons, applied)
	o.RecalculateTotals()

	return applied, nil
}

// RemoveCoupon drops the applied coupon with the given code and recomputes
// the totals. Totals are untouched when the code is not applied.
func (o *Order) RemoveCoupon(code string) (AppliedCoupon, error) {
	if o.Status != OrderStatusPending {
		return AppliedCoupon{}, ErrOrderNotEditable
	}
	i := o.findCoupon(NormalizeCouponCode(code))
	if i < 0 {
		return AppliedCoupon{}, ErrCouponNotApplied
	}

	removed := o.AppliedCoupons[i]
	o.AppliedCoupons = append(o.AppliedCoupons[:i:i], o.AppliedCoupons[i+1:]...)
	o.RecalculateTotals()

	return removed, nil
}

// PricingRules computes the charges added on top of the item subtotal.
type PricingRules struct {
	ShippingFee           decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	TaxRate               decimal.Decimal
}

func (p PricingRules) Shipping(subtotal decimal.Decimal) decimal.Decimal {
	if p.FreeShippingThreshold.IsPositive() && subtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		return decimal.Zero
	}
	return p.ShippingFee
}

func (p PricingRules) Tax(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(p.TaxRate).Round(2)
}

// Price fills Subtotal, ShippingCost and Tax from the items and recomputes
// the totals.
func (o *Order) Price(rules PricingRules) {
	subtotal := decimal.Zero
	for i := range o.Items {
		item := &o.Items[i]
		item.Subtotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(item.Subtotal)
	}
	o.Subtotal = subtotal
	o.ShippingCost = rules.Shipping(subtotal)
	o.Tax = rules.Tax(subtotal)
	o.RecalculateTotals()
}
