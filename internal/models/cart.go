package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Cart struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

type CartItem struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Size        string          `json:"size,omitempty"`
	Color       string          `json:"color,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	AddedAt     time.Time       `json:"added_at"`
}

func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

func (c *Cart) ItemCount() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// AbandonedCart is a snapshot of a cart that sat idle without checkout. The
// recovery token is generated once and identifies the cart in reminders.
type AbandonedCart struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	Email          string          `json:"email"`
	Items          []CartItem      `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	RecoveryToken  string          `json:"recovery_token"`
	ReminderCount  int             `json:"reminder_count"`
	LastRemindedAt *time.Time      `json:"last_reminded_at,omitempty"`
	RecoveredAt    *time.Time      `json:"recovered_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// Recoverable reports whether the cart can still be restored at now.
func (a *AbandonedCart) Recoverable(now time.Time) error {
	if a.RecoveredAt != nil {
		return ErrAbandonedCartRecovered
	}
	if !now.Before(a.ExpiresAt) {
		return ErrAbandonedCartExpired
	}
	return nil
}

// DueForReminder reports whether another reminder should be sent at now.
func (a *AbandonedCart) DueForReminder(now time.Time, interval time.Duration, maxReminders int) bool {
	if a.Recoverable(now) != nil || a.ReminderCount >= maxReminders {
		return false
	}
	return a.LastRemindedAt == nil || !now.Before(a.LastRemindedAt.Add(interval))
}
