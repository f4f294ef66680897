package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
	"github.com/safar/solestore/internal/store"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

var notFoundErrors = []error{
	database.ErrUserNotFound,
	database.ErrProductNotFound,
	database.ErrOrderNotFound,
	database.ErrCouponNotFound,
	database.ErrAddressNotFound,
	database.ErrCartNotFound,
	database.ErrCartItemNotFound,
	database.ErrAbandonedCartNotFound,
	database.ErrReviewNotFound,
	database.ErrBannerNotFound,
	database.ErrSubscriberNotFound,
	database.ErrWishlistItemNotFound,
	models.ErrInvalidCoupon,
	models.ErrCouponNotApplied,
}

var badRequestErrors = []error{
	database.ErrInvalidInput,
	database.ErrInvalidCursor,
	database.ErrResetTokenInvalid,
	database.ErrProductUnavailable,
	store.ErrInvalidEmail,
	models.ErrPasswordTooShort,
	models.ErrEmptyOrder,
	models.ErrInvalidQuantity,
	models.ErrInvalidCouponDefinition,
	models.ErrInvalidRating,
	models.ErrInvalidStatus,
	models.ErrInvalidReviewStatus,
}

var conflictErrors = []error{
	database.ErrEmailTaken,
	database.ErrDuplicateSKU,
	database.ErrDuplicateCoupon,
	database.ErrDuplicateReview,
	database.ErrInsufficientStock,
	database.ErrOptimisticLockFailed,
	database.ErrCartAlreadyClosed,
	models.ErrOrderNotEditable,
	models.ErrInvalidStatusTransition,
	models.ErrAbandonedCartRecovered,
}

func matches(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// statusFor maps store and domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case matches(err, notFoundErrors):
		return http.StatusNotFound
	case models.IsCouponRejection(err), matches(err, badRequestErrors):
		return http.StatusBadRequest
	case matches(err, conflictErrors):
		return http.StatusConflict
	case errors.Is(err, models.ErrAbandonedCartExpired):
		return http.StatusGone
	case database.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the status mapped from err. Unexpected errors are
// logged with the request id and hidden from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		log.Printf("[%s] %s %s: %v", middleware.GetReqID(r.Context()), r.Method, r.URL.Path, err)
		respondError(w, status, "internal server error")
	case http.StatusServiceUnavailable:
		log.Printf("[%s] %s %s: %v", middleware.GetReqID(r.Context()), r.Method, r.URL.Path, err)
		respondError(w, status, "resource is busy, please retry")
	default:
		respondError(w, status, err.Error())
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", database.ErrInvalidInput)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: invalid %s", database.ErrInvalidInput, name)
	}
	return id, nil
}

// pageParams reads page and page_size; store.NormalizePage clamps them.
func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	return store.NormalizePage(page, pageSize)
}
