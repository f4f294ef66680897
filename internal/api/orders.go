package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
	"github.com/safar/solestore/internal/store"
	"github.com/shopspring/decimal"
)

type OrderItemDTO struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
}

// CreateOrderRequest checks out the listed items, or the caller's cart when
// items is empty.
type CreateOrderRequest struct {
	AddressID     int64          `json:"address_id"`
	Items         []OrderItemDTO `json:"items"`
	CouponCode    string         `json:"coupon_code"`
	PaymentMethod string         `json:"payment_method"`
	Notes         string         `json:"notes"`
}

type CouponCodeRequest struct {
	Code string `json:"code"`
}

type ValidateCouponRequest struct {
	Code   string          `json:"code"`
	Amount decimal.Decimal `json:"amount"`
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req CreateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]store.OrderItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, store.OrderItemRequest{
			ProductID: item.ProductID,
			Size:      item.Size,
			Color:     item.Color,
			Quantity:  item.Quantity,
		})
	}

	order, err := store.CreateOrder(r.Context(), s.db, s.pricing, store.CreateOrderRequest{
		UserID:        userID,
		AddressID:     req.AddressID,
		Items:         items,
		CouponCode:    req.CouponCode,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.CouponCode != "" {
		s.forgetCoupon(r.Context(), req.CouponCode)
	}
	respondJSON(w, http.StatusCreated, order)
}

func (s *Server) listMyOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	result, err := store.ListOrdersCursor(r.Context(), s.db, userID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	order, err := store.GetOrder(r.Context(), s.db, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if order.UserID != userID {
		writeError(w, r, database.ErrOrderNotFound)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) applyCoupon(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	orderID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req CouponCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	order, err := store.ApplyCoupon(r.Context(), s.db, orderID, userID, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.forgetCoupon(r.Context(), req.Code)
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) removeCoupon(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	orderID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := chi.URLParam(r, "code")

	order, err := store.RemoveCoupon(r.Context(), s.db, orderID, userID, code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.forgetCoupon(r.Context(), code)
	respondJSON(w, http.StatusOK, order)
}

// validateCoupon previews a coupon against an amount without recording usage.
func (s *Server) validateCoupon(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req ValidateCouponRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Amount.IsNegative() {
		respondError(w, http.StatusBadRequest, "amount must not be negative")
		return
	}

	coupon, err := s.lookupCoupon(r.Context(), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	preview, err := store.PreviewCoupon(r.Context(), s.db, coupon, userID, req.Amount, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, preview)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	var status models.OrderStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := models.ParseOrderStatus(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		status = parsed
	}

	page, pageSize := pageParams(r)
	result, err := store.ListOrders(r.Context(), s.db, status, page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req UpdateOrderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	next, err := models.ParseOrderStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	order, err := store.UpdateOrderStatus(r.Context(), s.db, id, next, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if next == models.OrderStatusCancelled {
		// cancelling frees coupon usage slots
		for _, applied := range order.AppliedCoupons {
			s.forgetCoupon(r.Context(), applied.Code)
		}
	}
	respondJSON(w, http.StatusOK, order)
}
