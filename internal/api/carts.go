package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/safar/solestore/internal/store"
)

type AddCartItemRequest struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	cart, err := store.GetCart(r.Context(), s.db, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	if err := store.ClearCart(r.Context(), s.db, userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req AddCartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	cart, err := store.AddCartItem(r.Context(), s.db, userID, s.cfg.Recovery.CartTTL, store.CartItemInput{
		ProductID: req.ProductID,
		Size:      req.Size,
		Color:     req.Color,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, cart)
}

// updateCartItem sets a line's quantity; zero removes the line.
func (s *Server) updateCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	itemID, err := pathID(r, "itemID")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req UpdateCartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	cart, err := store.UpdateCartItem(r.Context(), s.db, userID, s.cfg.Recovery.CartTTL, itemID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (s *Server) removeCartItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	itemID, err := pathID(r, "itemID")
	if err != nil {
		writeError(w, r, err)
		return
	}

	cart, err := store.RemoveCartItem(r.Context(), s.db, userID, s.cfg.Recovery.CartTTL, itemID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

// getAbandonedCart backs the link in a reminder; the token is the credential.
func (s *Server) getAbandonedCart(w http.ResponseWriter, r *http.Request) {
	ac, err := store.GetAbandonedCartByToken(r.Context(), s.db, chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := ac.Recoverable(s.now()); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ac)
}

func (s *Server) recoverAbandonedCart(w http.ResponseWriter, r *http.Request) {
	cart, err := store.RecoverAbandonedCart(r.Context(), s.db, chi.URLParam(r, "token"), s.cfg.Recovery.CartTTL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (s *Server) listAbandonedCarts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	openOnly := r.URL.Query().Get("open") == "true"

	result, err := store.ListAbandonedCarts(r.Context(), s.db, openOnly, page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
