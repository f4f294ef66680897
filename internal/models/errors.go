package models

import "errors"

// Coupon and order rule violations. The messages are shown to shoppers as-is.
var (
	ErrInvalidCoupon           = errors.New("Invalid coupon code")
	ErrCouponAlreadyApplied    = errors.New("Coupon already applied")
	ErrCouponInactive          = errors.New("Coupon is not active")
	ErrCouponNotStarted        = errors.New("Coupon is not yet valid")
	ErrCouponExpired           = errors.New("Coupon has expired")
	ErrCouponUsageLimitReached = errors.New("Coupon usage limit reached")
	ErrCouponUserLimitReached  = errors.New("You have already used this coupon the maximum number of times")
	ErrCouponNotAllowedForUser = errors.New("Coupon is not valid for this account")
	ErrMinPurchaseNotMet       = errors.New("Order amount is below the minimum purchase for this coupon")
	ErrCouponNotApplied        = errors.New("Coupon is not applied to this order")
	ErrNothingToDiscount       = errors.New("Order has nothing left to discount")

	ErrOrderNotEditable        = errors.New("Order can no longer be modified")
	ErrInvalidStatus           = errors.New("invalid order status")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrEmptyOrder              = errors.New("order must contain at least one item")
	ErrInvalidQuantity         = errors.New("quantity must be positive")
	ErrInvalidCouponDefinition = errors.New("invalid coupon definition")
	ErrInvalidRating           = errors.New("rating must be between 1 and 5")
	ErrInvalidReviewStatus     = errors.New("invalid review status")
	ErrAbandonedCartRecovered  = errors.New("abandoned cart already recovered")
	ErrAbandonedCartExpired    = errors.New("abandoned cart has expired")
	ErrPasswordTooShort        = errors.New("password must be at least 8 characters")
)

// IsCouponRejection reports whether err is a rule violation raised while
// applying, previewing or removing a coupon.
func IsCouponRejection(err error) bool {
	for _, target := range []error{
		ErrInvalidCoupon,
		ErrCouponAlreadyApplied,
		ErrCouponInactive,
		ErrCouponNotStarted,
		ErrCouponExpired,
		ErrCouponUsageLimitReached,
		ErrCouponUserLimitReached,
		ErrCouponNotAllowedForUser,
		ErrMinPurchaseNotMet,
		ErrCouponNotApplied,
		ErrNothingToDiscount,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
