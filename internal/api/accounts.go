package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/store"
)

type CreateUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type EmailRequest struct {
	Email string `json:"email"`
}

type ConfirmPasswordResetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := store.CreateUser(r.Context(), s.db, req.Email, req.Name, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	user, err := store.GetUser(r.Context(), s.db, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	result, err := store.ListUsers(r.Context(), s.db, page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// requestPasswordReset answers 202 whether or not the email is registered.
func (s *Server) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	_, user, err := store.RequestPasswordReset(r.Context(), s.db, req.Email, s.cfg.PasswordReset.TokenTTL)
	switch {
	case errors.Is(err, database.ErrUserNotFound):
	case err != nil:
		writeError(w, r, err)
		return
	default:
		log.Printf("Password reset issued for user %d", user.ID)
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) confirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ConfirmPasswordResetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := store.ResetPassword(r.Context(), s.db, req.Token, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	sub, err := store.Subscribe(r.Context(), s.db, req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	sub, err := store.Unsubscribe(r.Context(), s.db, req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (s *Server) listWishlist(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	items, err := store.ListWishlist(r.Context(), s.db, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (s *Server) addToWishlist(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	productID, err := pathID(r, "productID")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := store.AddToWishlist(r.Context(), s.db, userID, productID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeFromWishlist(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	productID, err := pathID(r, "productID")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := store.RemoveFromWishlist(r.Context(), s.db, userID, productID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
