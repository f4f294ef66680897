package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
)

type AddressInput struct {
	FullName   string
	Phone      string
	Street     string
	City       string
	State      string
	PostalCode string
	Country    string
	IsDefault  bool
}

func (in AddressInput) validate() error {
	for field, v := range map[string]string{
		"full_name":   in.FullName,
		"street":      in.Street,
		"city":        in.City,
		"state":       in.State,
		"postal_code": in.PostalCode,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: address %s is required", database.ErrInvalidInput, field)
		}
	}
	return nil
}

const addressColumns = `id, user_id, full_name, phone, street, city, state, postal_code, country, is_default,
	created_at, updated_at`

func scanAddress(row interface{ Scan(...any) error }, address *models.Address) error {
	return row.Scan(
		&address.ID,
		&address.UserID,
		&address.FullName,
		&address.Phone,
		&address.Street,
		&address.City,
		&address.State,
		&address.PostalCode,
		&address.Country,
		&address.IsDefault,
		&address.CreatedAt,
		&address.UpdatedAt,
	)
}

// addressTxOptions serializes writers on the same user's address book; the
// partial unique index on is_default rejects anything that slips past.
func addressTxOptions() database.TxOptions {
	return database.SerializableTxOptions()
}

// CreateAddress stores a new address. The user's first address always becomes
// the default, and a new default unsets the previous one.
func CreateAddress(ctx context.Context, db *sql.DB, userID int64, in AddressInput) (*models.Address, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.Country == "" {
		in.Country = "IN"
	}

	address := &models.Address{}

	err := database.WithRetry(ctx, db, addressTxOptions(), func(tx *sql.Tx) error {
		if _, err := GetUser(ctx, tx, userID); err != nil {
			return err
		}

		var existing int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM addresses WHERE user_id = $1`, userID).Scan(&existing)
		if err != nil {
			return fmt.Errorf("count addresses: %w", err)
		}

		isDefault := in.IsDefault || existing == 0
		if isDefault {
			if err := unsetDefaultAddresses(ctx, tx, userID, 0); err != nil {
				return err
			}
		}

		err = scanAddress(tx.QueryRowContext(ctx,
			`INSERT INTO addresses (user_id, full_name, phone, street, city, state, postal_code, country,
			                        is_default, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
			 RETURNING `+addressColumns,
			userID, in.FullName, in.Phone, in.Street, in.City, in.State, in.PostalCode, in.Country,
			isDefault), address)
		if err != nil {
			if database.IsUniqueViolation(err, "addresses_one_default_per_user") {
				return &defaultConflictError{err}
			}
			return fmt.Errorf("create address: %w", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return address, nil
}

// UpdateAddress rewrites an address owned by userID. Marking it default
// unsets the user's other addresses. Unmarking the only default is ignored so
// the user keeps one.
func UpdateAddress(ctx context.Context, db *sql.DB, userID, addressID int64, in AddressInput) (*models.Address, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.Country == "" {
		in.Country = "IN"
	}

	address := &models.Address{}

	err := database.WithRetry(ctx, db, addressTxOptions(), func(tx *sql.Tx) error {
		current, err := lockAddress(ctx, tx, userID, addressID)
		if err != nil {
			return err
		}

		isDefault := in.IsDefault || current.IsDefault
		if in.IsDefault && !current.IsDefault {
			if err := unsetDefaultAddresses(ctx, tx, userID, addressID); err != nil {
				return err
			}
		}

		err = scanAddress(tx.QueryRowContext(ctx,
			`UPDATE addresses
			 SET full_name = $1, phone = $2, street = $3, city = $4, state = $5, postal_code = $6,
			     country = $7, is_default = $8, updated_at = NOW()
			 WHERE id = $9
			 RETURNING `+addressColumns,
			in.FullName, in.Phone, in.Street, in.City, in.State, in.PostalCode, in.Country,
			isDefault, addressID), address)
		if err != nil {
			if database.IsUniqueViolation(err, "addresses_one_default_per_user") {
				return &defaultConflictError{err}
			}
			return fmt.Errorf("update address: %w", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return address, nil
}

func SetDefaultAddress(ctx context.Context, db *sql.DB, userID, addressID int64) (*models.Address, error) {
	address := &models.Address{}

	err := database.WithRetry(ctx, db, addressTxOptions(), func(tx *sql.Tx) error {
		current, err := lockAddress(ctx, tx, userID, addressID)
		if err != nil {
			return err
		}
		if current.IsDefault {
			*address = *current
			return nil
		}

		if err := unsetDefaultAddresses(ctx, tx, userID, addressID); err != nil {
			return err
		}

		err = scanAddress(tx.QueryRowContext(ctx,
			`UPDATE addresses SET is_default = TRUE, updated_at = NOW()
			 WHERE id = $1
			 RETURNING `+addressColumns,
			addressID), address)
		if err != nil {
			if database.IsUniqueViolation(err, "addresses_one_default_per_user") {
				return &defaultConflictError{err}
			}
			return fmt.Errorf("set default address: %w", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return address, nil
}

// DeleteAddress removes an address. Deleting the default promotes the most
// recently updated remaining address.
func DeleteAddress(ctx context.Context, db *sql.DB, userID, addressID int64) error {
	return database.WithRetry(ctx, db, addressTxOptions(), func(tx *sql.Tx) error {
		current, err := lockAddress(ctx, tx, userID, addressID)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM addresses WHERE id = $1`, addressID); err != nil {
			return fmt.Errorf("delete address: %w", err)
		}

		if !current.IsDefault {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE addresses SET is_default = TRUE, updated_at = NOW()
			 WHERE id = (
			     SELECT id FROM addresses
			     WHERE user_id = $1
			     ORDER BY updated_at DESC, id DESC
			     LIMIT 1
			 )`,
			userID)
		if err != nil {
			return fmt.Errorf("promote default address: %w", err)
		}
		return nil
	})
}

func GetAddress(ctx context.Context, db database.Querier, id int64) (*models.Address, error) {
	address := &models.Address{}

	err := scanAddress(db.QueryRowContext(ctx, `SELECT `+addressColumns+` FROM addresses WHERE id = $1`, id), address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrAddressNotFound
		}
		return nil, fmt.Errorf("get address: %w", err)
	}

	return address, nil
}

func GetDefaultAddress(ctx context.Context, db database.Querier, userID int64) (*models.Address, error) {
	address := &models.Address{}

	err := scanAddress(db.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM addresses WHERE user_id = $1 AND is_default`, userID), address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrAddressNotFound
		}
		return nil, fmt.Errorf("get default address: %w", err)
	}

	return address, nil
}

// ListAddresses returns the default first, then newest.
func ListAddresses(ctx context.Context, db database.Querier, userID int64) ([]models.Address, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+addressColumns+`
		 FROM addresses
		 WHERE user_id = $1
		 ORDER BY is_default DESC, created_at DESC, id DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	addresses := []models.Address{}
	for rows.Next() {
		var address models.Address
		if err := scanAddress(rows, &address); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		addresses = append(addresses, address)
	}

	return addresses, rows.Err()
}

func lockAddress(ctx context.Context, tx *sql.Tx, userID, addressID int64) (*models.Address, error) {
	address := &models.Address{}

	err := scanAddress(tx.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM addresses WHERE id = $1 AND user_id = $2 FOR UPDATE`,
		addressID, userID), address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrAddressNotFound
		}
		return nil, fmt.Errorf("lock address: %w", err)
	}

	return address, nil
}

func unsetDefaultAddresses(ctx context.Context, tx *sql.Tx, userID, exceptID int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE addresses SET is_default = FALSE, updated_at = NOW()
		 WHERE user_id = $1 AND is_default AND id <> $2`,
		userID, exceptID)
	if err != nil {
		return fmt.Errorf("unset default addresses: %w", err)
	}
	return nil
}

// defaultConflictError marks a lost race on the one-default index as
// retryable: the next attempt sees the winner's row and unsets it.
type defaultConflictError struct{ err error }

func (e *defaultConflictError) Error() string { return "default address conflict: " + e.err.Error() }

func (e *defaultConflictError) Unwrap() error { return database.ErrSerializationConflict }
