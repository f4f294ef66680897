package api

import (
	"net/http"
	"time"

	"github.com/safar/solestore/internal/models"
	"github.com/safar/solestore/internal/store"
	"github.com/shopspring/decimal"
)

type CreateCouponRequest struct {
	Code              string              `json:"code"`
	Description       string              `json:"description"`
	Type              models.CouponType   `json:"type"`
	Value             decimal.Decimal     `json:"value"`
	MinPurchaseAmount decimal.NullDecimal `json:"min_purchase_amount"`
	MaxDiscountAmount decimal.NullDecimal `json:"max_discount_amount"`
	StartsAt          *time.Time          `json:"starts_at"`
	ExpiresAt         *time.Time          `json:"expires_at"`
	UsageLimit        int                 `json:"usage_limit"`
	PerUserLimit      int                 `json:"per_user_limit"`
	AllowedUserIDs    []int64             `json:"allowed_user_ids"`
	IsActive          *bool               `json:"is_active"`
}

type SetActiveRequest struct {
	IsActive bool `json:"is_active"`
}

type ModerateReviewRequest struct {
	Status string `json:"status"`
}

type BannerRequest struct {
	Title    string     `json:"title"`
	Subtitle string     `json:"subtitle"`
	ImageURL string     `json:"image_url"`
	LinkURL  string     `json:"link_url"`
	Position int        `json:"position"`
	IsActive bool       `json:"is_active"`
	StartsAt *time.Time `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`
}

func (req BannerRequest) input() store.BannerInput {
	return store.BannerInput{
		Title:    req.Title,
		Subtitle: req.Subtitle,
		ImageURL: req.ImageURL,
		LinkURL:  req.LinkURL,
		Position: req.Position,
		IsActive: req.IsActive,
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
	}
}

func (s *Server) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req CreateCouponRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	coupon, err := store.CreateCoupon(r.Context(), s.db, &models.Coupon{
		Code:              req.Code,
		Description:       req.Description,
		Type:              req.Type,
		Value:             req.Value,
		MinPurchaseAmount: req.MinPurchaseAmount,
		MaxDiscountAmount: req.MaxDiscountAmount,
		StartsAt:          req.StartsAt,
		ExpiresAt:         req.ExpiresAt,
		UsageLimit:        req.UsageLimit,
		PerUserLimit:      req.PerUserLimit,
		AllowedUserIDs:    req.AllowedUserIDs,
		IsActive:          active,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, coupon)
}

func (s *Server) listCoupons(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	result, err := store.ListCoupons(r.Context(), s.db, page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) setCouponActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req SetActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	coupon, err := store.SetCouponActive(r.Context(), s.db, id, req.IsActive)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.forgetCoupon(r.Context(), coupon.Code)
	respondJSON(w, http.StatusOK, coupon)
}

func (s *Server) moderateReview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req ModerateReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	status, err := models.ParseReviewStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}

	review, err := store.ModerateReview(r.Context(), s.db, id, status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, review)
}

func (s *Server) deleteReview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := store.DeleteReview(r.Context(), s.db, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listBanners(w http.ResponseWriter, r *http.Request) {
	banners, err := store.ListLiveBanners(r.Context(), s.db, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, banners)
}

func (s *Server) createBanner(w http.ResponseWriter, r *http.Request) {
	var req BannerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	banner, err := store.CreateBanner(r.Context(), s.db, req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, banner)
}

func (s *Server) updateBanner(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req BannerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	banner, err := store.UpdateBanner(r.Context(), s.db, id, req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, banner)
}

func (s *Server) deleteBanner(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := store.DeleteBanner(r.Context(), s.db, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
