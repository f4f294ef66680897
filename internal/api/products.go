package api

import (
	"net/http"

	"github.com/safar/solestore/internal/store"
	"github.com/shopspring/decimal"
)

type CreateProductRequest struct {
	SKU            string              `json:"sku"`
	Name           string              `json:"name"`
	Description    string              `json:"description"`
	Brand          string              `json:"brand"`
	Category       string              `json:"category"`
	Price          decimal.Decimal     `json:"price"`
	CompareAtPrice decimal.NullDecimal `json:"compare_at_price"`
	Sizes          []string            `json:"sizes"`
	Colors         []string            `json:"colors"`
	Stock          int                 `json:"stock"`
}

// UpdateProductRequest is a partial update guarded by the product version.
type UpdateProductRequest struct {
	Version  int              `json:"version"`
	Price    *decimal.Decimal `json:"price"`
	Stock    *int             `json:"stock"`
	IsActive *bool            `json:"is_active"`
}

type CreateReviewRequest struct {
	Rating  int    `json:"rating"`
	Title   string `json:"title"`
	Comment string `json:"comment"`
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	filter := store.ProductFilter{
		Category:   r.URL.Query().Get("category"),
		Brand:      r.URL.Query().Get("brand"),
		ActiveOnly: true,
	}

	result, err := store.ListProducts(r.Context(), s.db, filter, page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	product, err := store.GetProduct(r.Context(), s.db, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	product, err := store.CreateProduct(r.Context(), s.db, store.ProductInput{
		SKU:            req.SKU,
		Name:           req.Name,
		Description:    req.Description,
		Brand:          req.Brand,
		Category:       req.Category,
		Price:          req.Price,
		CompareAtPrice: req.CompareAtPrice,
		Sizes:          req.Sizes,
		Colors:         req.Colors,
		Stock:          req.Stock,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, product)
}

func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req UpdateProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Version < 1 {
		respondError(w, http.StatusBadRequest, "version is required")
		return
	}

	product, err := store.UpdateProductOptimistic(r.Context(), s.db, id, req.Version, store.ProductUpdate{
		Price:    req.Price,
		Stock:    req.Stock,
		IsActive: req.IsActive,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, pageSize := pageParams(r)
	result, err := store.ListApprovedReviews(r.Context(), s.db, id, page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) createReview(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	productID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req CreateReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	review, err := store.CreateReview(r.Context(), s.db, productID, userID, req.Rating, req.Title, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, review)
}
