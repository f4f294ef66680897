package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
	"github.com/safar/solestore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"order not found", database.ErrOrderNotFound, http.StatusNotFound},
		{"wrapped product not found", fmt.Errorf("reserve: %w", database.ErrProductNotFound), http.StatusNotFound},
		{"unknown coupon", models.ErrInvalidCoupon, http.StatusNotFound},
		{"coupon not applied", models.ErrCouponNotApplied, http.StatusNotFound},
		{"expired coupon", models.ErrCouponExpired, http.StatusBadRequest},
		{"min purchase", models.ErrMinPurchaseNotMet, http.StatusBadRequest},
		{"already applied", models.ErrCouponAlreadyApplied, http.StatusBadRequest},
		{"nothing to discount", models.ErrNothingToDiscount, http.StatusBadRequest},
		{"invalid input", fmt.Errorf("%w: address city is required", database.ErrInvalidInput), http.StatusBadRequest},
		{"bad cursor", fmt.Errorf("%w: garbage", database.ErrInvalidCursor), http.StatusBadRequest},
		{"bad email", store.ErrInvalidEmail, http.StatusBadRequest},
		{"bad status", fmt.Errorf("%w: %q", models.ErrInvalidStatus, "lost"), http.StatusBadRequest},
		{"insufficient stock", database.ErrInsufficientStock, http.StatusConflict},
		{"stale version", database.ErrOptimisticLockFailed, http.StatusConflict},
		{"not editable", models.ErrOrderNotEditable, http.StatusConflict},
		{"transition", fmt.Errorf("%w: delivered to pending", models.ErrInvalidStatusTransition), http.StatusConflict},
		{"duplicate sku", database.ErrDuplicateSKU, http.StatusConflict},
		{"expired cart", models.ErrAbandonedCartExpired, http.StatusGone},
		{"retries exhausted", fmt.Errorf("default address: %w", database.ErrSerializationConflict), http.StatusServiceUnavailable},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestWriteErrorHidesInternalErrors(t *testing.T) {
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/orders", nil)

	writeError(recorder, request, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&response))
	assert.Equal(t, "internal server error", response.Error)
}

func TestWriteErrorShowsDomainMessage(t *testing.T) {
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/orders/1/coupons", nil)

	writeError(recorder, request, models.ErrCouponAlreadyApplied)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&response))
	assert.Equal(t, "Coupon already applied", response.Error)
}

func TestDecodeJSON(t *testing.T) {
	var req CouponCodeRequest

	request := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"code":"SAVE10"}`))
	require.NoError(t, decodeJSON(request, &req))
	assert.Equal(t, "SAVE10", req.Code)

	request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"coupon":"SAVE10"}`))
	assert.ErrorIs(t, decodeJSON(request, &req), database.ErrInvalidInput, "unknown field")

	request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`invalid json`))
	assert.ErrorIs(t, decodeJSON(request, &req), database.ErrInvalidInput)
}

func TestPageParams(t *testing.T) {
	request := httptest.NewRequest(http.MethodGet, "/?page=3&page_size=50", nil)
	page, pageSize := pageParams(request)
	assert.Equal(t, 3, page)
	assert.Equal(t, 50, pageSize)

	request = httptest.NewRequest(http.MethodGet, "/?page=-1&page_size=1000", nil)
	page, pageSize = pageParams(request)
	assert.Equal(t, 1, page)
	assert.Equal(t, store.DefaultPageSize, pageSize)
}
