package api

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/solestore/internal/cache"
	"github.com/safar/solestore/internal/config"
	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
	"github.com/safar/solestore/internal/store"
)

type Server struct {
	db      *sql.DB
	cfg     *config.Config
	pricing models.PricingRules
	coupons *cache.CouponCache
	now     func() time.Time
}

// NewServer wires the HTTP layer. coupons may be nil, in which case coupon
// lookups go straight to the database.
func NewServer(db *sql.DB, cfg *config.Config, coupons *cache.CouponCache) *Server {
	return &Server{
		db:  db,
		cfg: cfg,
		pricing: models.PricingRules{
			ShippingFee:           cfg.Pricing.ShippingFee,
			FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
			TaxRate:               cfg.Pricing.TaxRate,
		},
		coupons: coupons,
		now:     time.Now,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		// Public
		r.Get("/products", s.listProducts)
		r.Get("/products/{id}", s.getProduct)
		r.Get("/products/{id}/reviews", s.listReviews)
		r.Get("/banners", s.listBanners)
		r.Post("/newsletter/subscribe", s.subscribe)
		r.Post("/newsletter/unsubscribe", s.unsubscribe)
		r.Post("/users", s.createUser)
		r.Post("/password-resets", s.requestPasswordReset)
		r.Post("/password-resets/confirm", s.confirmPasswordReset)
		r.Get("/abandoned-carts/{token}", s.getAbandonedCart)
		r.Post("/abandoned-carts/{token}/recover", s.recoverAbandonedCart)

		r.Group(func(r chi.Router) {
			r.Use(RequireUser)

			r.Get("/users/me", s.getMe)
			r.Post("/products/{id}/reviews", s.createReview)

			r.Post("/orders", s.createOrder)
			r.Get("/orders", s.listMyOrders)
			r.Get("/orders/{id}", s.getOrder)
			r.Post("/orders/{id}/coupons", s.applyCoupon)
			r.Delete("/orders/{id}/coupons/{code}", s.removeCoupon)
			r.Post("/coupons/validate", s.validateCoupon)

			r.Get("/addresses", s.listAddresses)
			r.Post("/addresses", s.createAddress)
			r.Put("/addresses/{id}", s.updateAddress)
			r.Delete("/addresses/{id}", s.deleteAddress)
			r.Post("/addresses/{id}/default", s.setDefaultAddress)

			r.Get("/cart", s.getCart)
			r.Delete("/cart", s.clearCart)
			r.Post("/cart/items", s.addCartItem)
			r.Patch("/cart/items/{itemID}", s.updateCartItem)
			r.Delete("/cart/items/{itemID}", s.removeCartItem)

			r.Get("/wishlist", s.listWishlist)
			r.Put("/wishlist/{productID}", s.addToWishlist)
			r.Delete("/wishlist/{productID}", s.removeFromWishlist)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)

				r.Post("/products", s.createProduct)
				r.Patch("/products/{id}", s.updateProduct)

				r.Route("/admin", func(r chi.Router) {
					r.Post("/coupons", s.createCoupon)
					r.Get("/coupons", s.listCoupons)
					r.Patch("/coupons/{id}", s.setCouponActive)
					r.Get("/orders", s.listOrders)
					r.Patch("/orders/{id}/status", s.updateOrderStatus)
					r.Patch("/reviews/{id}", s.moderateReview)
					r.Delete("/reviews/{id}", s.deleteReview)
					r.Post("/banners", s.createBanner)
					r.Put("/banners/{id}", s.updateBanner)
					r.Delete("/banners/{id}", s.deleteBanner)
					r.Get("/abandoned-carts", s.listAbandonedCarts)
					r.Get("/users", s.listUsers)
				})
			})
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		log.Printf("Health check failed: %v", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// lookupCoupon reads through the coupon cache when one is configured.
func (s *Server) lookupCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	var (
		coupon *models.Coupon
		err    error
	)
	if s.coupons != nil {
		coupon, err = s.coupons.Lookup(ctx, code)
	} else {
		coupon, err = store.GetCouponByCode(ctx, s.db, code)
	}
	if errors.Is(err, database.ErrCouponNotFound) {
		return nil, models.ErrInvalidCoupon
	}
	return coupon, err
}

func (s *Server) forgetCoupon(ctx context.Context, code string) {
	if s.coupons == nil {
		return
	}
	if err := s.coupons.Delete(ctx, code); err != nil {
		log.Printf("coupon cache delete error: %v", err)
	}
}
