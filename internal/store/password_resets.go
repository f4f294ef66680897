package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
)

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newResetToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// RequestPasswordReset issues a reset token for the account behind email and
// invalidates any earlier unused ones. Only the token's hash is stored; the
// plain token is returned for delivery to the user.
func RequestPasswordReset(ctx context.Context, db *sql.DB, email string, ttl time.Duration) (string, *models.User, error) {
	token, err := newResetToken()
	if err != nil {
		return "", nil, err
	}

	var user *models.User
	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		user, err = GetUserByEmail(ctx, tx, email)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE password_resets SET used_at = NOW() WHERE user_id = $1 AND used_at IS NULL`, user.ID)
		if err != nil {
			return fmt.Errorf("invalidate reset tokens: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO password_resets (user_id, token_hash, expires_at, created_at)
			 VALUES ($1, $2, $3, NOW())`,
			user.ID, hashResetToken(token), time.Now().Add(ttl))
		if err != nil {
			return fmt.Errorf("create reset token: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	return token, user, nil
}

// ResetPassword sets a new password using a token from RequestPasswordReset.
// A token works once and only before it expires.
func ResetPassword(ctx context.Context, db *sql.DB, token, newPassword string) error {
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		reset := &models.PasswordReset{}
		var usedAt sql.NullTime
		err := tx.QueryRowContext(ctx,
			`SELECT id, user_id, token_hash, expires_at, used_at, created_at
			 FROM password_resets
			 WHERE token_hash = $1
			 FOR UPDATE`,
			hashResetToken(token)).Scan(
			&reset.ID,
			&reset.UserID,
			&reset.TokenHash,
			&reset.ExpiresAt,
			&usedAt,
			&reset.CreatedAt,
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrResetTokenInvalid
			}
			return fmt.Errorf("get reset token: %w", err)
		}
		reset.UsedAt = nullTimePtr(usedAt)

		if !reset.Usable(time.Now()) {
			return database.ErrResetTokenInvalid
		}

		if err := updatePasswordHash(ctx, tx, reset.UserID, hash); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE password_resets SET used_at = NOW() WHERE id = $1`, reset.ID)
		if err != nil {
			return fmt.Errorf("mark reset token used: %w", err)
		}
		return nil
	})
}
