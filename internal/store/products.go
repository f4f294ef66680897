package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/safar/solestore/internal/database"
	"github.com/safar/solestore/internal/models"
	"github.com/shopspring/decimal"
)

type ProductInput struct {
	SKU            string
	Name           string
	Description    string
	Brand          string
	Category       string
	Price          decimal.Decimal
	CompareAtPrice decimal.NullDecimal
	Sizes          []string
	Colors         []string
	Stock          int
}

type ProductFilter struct {
	Category   string
	Brand      string
	ActiveOnly bool
}

const productColumns = `id, sku, name, description, brand, category, price, compare_at_price, sizes, colors,
	stock_quantity, is_active, average_rating, review_count, created_at, updated_at, version`

func scanProduct(row interface{ Scan(...any) error }, product *models.Product) error {
	return row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Brand,
		&product.Category,
		&product.Price,
		&product.CompareAtPrice,
		pq.Array(&product.Sizes),
		pq.Array(&product.Colors),
		&product.StockQuantity,
		&product.IsActive,
		&product.AverageRating,
		&product.ReviewCount,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
}

func CreateProduct(ctx context.Context, db *sql.DB, in ProductInput) (*models.Product, error) {
	if strings.TrimSpace(in.SKU) == "" || strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: sku and name are required", database.ErrInvalidInput)
	}
	if in.Price.IsNegative() || in.Stock < 0 {
		return nil, fmt.Errorf("%w: price and stock must not be negative", database.ErrInvalidInput)
	}

	product := &models.Product{}
	query := `
		INSERT INTO products (sku, name, description, brand, category, price, compare_at_price,
		                      sizes, colors, stock_quantity, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	err := scanProduct(db.QueryRowContext(ctx, query,
		strings.TrimSpace(in.SKU),
		strings.TrimSpace(in.Name),
		in.Description,
		in.Brand,
		in.Category,
		in.Price,
		in.CompareAtPrice,
		pq.Array(nonNil(in.Sizes)),
		pq.Array(nonNil(in.Colors)),
		in.Stock,
	), product)
	if err != nil {
		if database.IsUniqueViolation(err, "products_sku_key") {
			return nil, database.ErrDuplicateSKU
		}
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func GetProduct(ctx context.Context, db database.Querier, id int64) (*models.Product, error) {
	product := &models.Product{}

	err := scanProduct(db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id), product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// ReserveStock locks the product row for the rest of tx and checks that
// quantity units are available.
func ReserveStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) (*models.Product, error) {
	product := &models.Product{}

	err := scanProduct(tx.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, productID), product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product: %w", err)
	}

	if !product.IsActive {
		return nil, database.ErrProductUnavailable
	}
	if product.StockQuantity < quantity {
		return nil, database.ErrInsufficientStock
	}

	return product, nil
}

type ProductUpdate struct {
	Price    *decimal.Decimal
	Stock    *int
	IsActive *bool
}

// UpdateProductOptimistic applies upd only if the stored version still equals
// version.
func UpdateProductOptimistic(ctx context.Context, db *sql.DB, productID int64, version int, upd ProductUpdate) (*models.Product, error) {
	if upd.Price != nil && upd.Price.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", database.ErrInvalidInput)
	}
	if upd.Stock != nil && *upd.Stock < 0 {
		return nil, fmt.Errorf("%w: stock must not be negative", database.ErrInvalidInput)
	}

	var price decimal.NullDecimal
	if upd.Price != nil {
		price = decimal.NullDecimal{Decimal: *upd.Price, Valid: true}
	}
	var stock sql.NullInt64
	if upd.Stock != nil {
		stock = sql.NullInt64{Int64: int64(*upd.Stock), Valid: true}
	}
	var active sql.NullBool
	if upd.IsActive != nil {
		active = sql.NullBool{Bool: *upd.IsActive, Valid: true}
	}

	product := &models.Product{}
	err := scanProduct(db.QueryRowContext(ctx,
		`UPDATE products
		 SET price = COALESCE($1, price),
		     stock_quantity = COALESCE($2, stock_quantity),
		     is_active = COALESCE($3, is_active),
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $4 AND version = $5
		 RETURNING `+productColumns,
		price, stock, active, productID, version), product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := GetProduct(ctx, db, productID); getErr != nil {
				return nil, getErr
			}
			return nil, database.ErrOptimisticLockFailed
		}
		return nil, fmt.Errorf("update product: %w", err)
	}

	return product, nil
}

func DecrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

func IncrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity + $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	return nil
}

func ListProducts(ctx context.Context, db *sql.DB, filter ProductFilter, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	where := `WHERE ($1 = '' OR category = $1)
		  AND ($2 = '' OR brand = $2)
		  AND (NOT $3 OR is_active)`

	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products `+where,
		filter.Category, filter.Brand, filter.ActiveOnly).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products ` + where + `
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5`

	rows, err := db.QueryContext(ctx, query, filter.Category, filter.Brand, filter.ActiveOnly, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}
