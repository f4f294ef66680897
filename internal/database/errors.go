package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNotNullViolation    = "23502"
	codeCheckViolation      = "23514"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
	codeLockNotAvailable    = "55P03"
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerialization:
			return ErrorClassSerialization
		case codeDeadlock:
			return ErrorClassDeadlock
		case codeLockNotAvailable:
			return ErrorClassTransient
		case codeUniqueViolation, codeForeignKeyViolation, codeNotNullViolation, codeCheckViolation:
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, ErrSerializationConflict) {
		return ErrorClassSerialization
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// IsUniqueViolation reports whether err is a unique constraint failure,
// optionally restricted to the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeForeignKeyViolation
}

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrProductNotFound       = errors.New("product not found")
	ErrProductUnavailable    = errors.New("product is not available")
	ErrOrderNotFound         = errors.New("order not found")
	ErrCouponNotFound        = errors.New("coupon not found")
	ErrAddressNotFound       = errors.New("address not found")
	ErrCartNotFound          = errors.New("cart not found")
	ErrCartItemNotFound      = errors.New("cart item not found")
	ErrAbandonedCartNotFound = errors.New("abandoned cart not found")
	ErrReviewNotFound        = errors.New("review not found")
	ErrBannerNotFound        = errors.New("banner not found")
	ErrSubscriberNotFound    = errors.New("subscriber not found")
	ErrWishlistItemNotFound  = errors.New("wishlist item not found")
	ErrResetTokenInvalid     = errors.New("password reset token is invalid or expired")

	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidCursor = errors.New("invalid cursor")

	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrOptimisticLockFailed = errors.New("optimistic lock failed")

	// ErrSerializationConflict lets callers flag an application-level race
	// that WithRetry should retry like a 40001.
	ErrSerializationConflict = errors.New("serialization conflict")

	ErrEmailTaken        = errors.New("email already registered")
	ErrDuplicateSKU      = errors.New("product sku already exists")
	ErrDuplicateCoupon   = errors.New("coupon code already exists")
	ErrDuplicateReview   = errors.New("product already reviewed by this user")
	ErrCartAlreadyClosed = errors.New("abandoned cart already recovered")
)
