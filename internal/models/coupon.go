package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CouponType string

const (
	CouponTypeFlat       CouponType = "flat"
	CouponTypePercentage CouponType = "percentage"
)

var hundred = decimal.NewFromInt(100)

type Coupon struct {
	ID                int64               `json:"id"`
	Code              string              `json:"code"`
	Description       string              `json:"description,omitempty"`
	Type              CouponType          `json:"type"`
	Value             decimal.Decimal     `json:"value"`
	MinPurchaseAmount decimal.NullDecimal `json:"min_purchase_amount"`
	MaxDiscountAmount decimal.NullDecimal `json:"max_discount_amount"`
	StartsAt          *time.Time          `json:"starts_at,omitempty"`
	ExpiresAt         *time.Time          `json:"expires_at,omitempty"`
	UsageLimit        int                 `json:"usage_limit"`
	UsageCount        int                 `json:"usage_count"`
	PerUserLimit      int                 `json:"per_user_limit"`
	AllowedUserIDs    []int64             `json:"allowed_user_ids,omitempty"`
	IsActive          bool                `json:"is_active"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// AppliedCoupon is the snapshot of a coupon's terms taken when it was applied
// to an order. Later edits to the coupon do not change it.
type AppliedCoupon struct {
	CouponID       int64           `json:"coupon_id"`
	Code           string          `json:"code"`
	Type           CouponType      `json:"type"`
	Value          decimal.Decimal `json:"value"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	AppliedAt      time.Time       `json:"applied_at"`
}

func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the coupon definition itself, not whether it can be used.
func (c *Coupon) Validate() error {
	if c.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidCouponDefinition)
	}
	if !c.Value.IsPositive() {
		return fmt.Errorf("%w: value must be positive", ErrInvalidCouponDefinition)
	}
	switch c.Type {
	case CouponTypeFlat:
		if c.MaxDiscountAmount.Valid {
			return fmt.Errorf("%w: max discount only applies to percentage coupons", ErrInvalidCouponDefinition)
		}
	case CouponTypePercentage:
		if c.Value.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage cannot exceed 100", ErrInvalidCouponDefinition)
		}
		if c.MaxDiscountAmount.Valid && !c.MaxDiscountAmount.Decimal.IsPositive() {
			return fmt.Errorf("%w: max discount must be positive", ErrInvalidCouponDefinition)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCouponDefinition, c.Type)
	}
	if c.MinPurchaseAmount.Valid && c.MinPurchaseAmount.Decimal.IsNegative() {
		return fmt.Errorf("%w: min purchase cannot be negative", ErrInvalidCouponDefinition)
	}
	if c.StartsAt != nil && c.ExpiresAt != nil && !c.ExpiresAt.After(*c.StartsAt) {
		return fmt.Errorf("%w: expiry must be after start", ErrInvalidCouponDefinition)
	}
	if c.UsageLimit < 0 || c.PerUserLimit < 0 {
		return fmt.Errorf("%w: limits cannot be negative", ErrInvalidCouponDefinition)
	}
	return nil
}

// CheckEligibility reports why userID cannot use the coupon on an order of
// amount, or nil when it can. userUsage is how many times the user has
// already redeemed it.
func (c *Coupon) CheckEligibility(userID int64, amount decimal.Decimal, userUsage int, now time.Time) error {
	if !c.IsActive {
		return ErrCouponInactive
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return ErrCouponNotStarted
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return ErrCouponExpired
	}
	if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
		return ErrCouponUsageLimitReached
	}
	if c.PerUserLimit > 0 && userUsage >= c.PerUserLimit {
		return ErrCouponUserLimitReached
	}
	if len(c.AllowedUserIDs) > 0 && !slices.Contains(c.AllowedUserIDs, userID) {
		return ErrCouponNotAllowedForUser
	}
	if c.MinPurchaseAmount.Valid && amount.LessThan(c.MinPurchaseAmount.Decimal) {
		return ErrMinPurchaseNotMet
	}
	return nil
}

// DiscountFor returns the discount the coupon grants on amount. It never
// exceeds amount and percentage discounts respect MaxDiscountAmount.
func (c *Coupon) DiscountFor(amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}

	var discount decimal.Decimal
	switch c.Type {
	case CouponTypeFlat:
		discount = c.Value
	case CouponTypePercentage:
		discount = amount.Mul(c.Value).Div(hundred).Round(2)
		if c.MaxDiscountAmount.Valid && discount.GreaterThan(c.MaxDiscountAmount.Decimal) {
			discount = c.MaxDiscountAmount.Decimal
		}
	default:
		return decimal.Zero
	}

	return decimal.Min(discount, amount)
}
