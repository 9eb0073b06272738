package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is an account owned by the CRUD/auth layer. The notifier only
// reads it to know who to address reminders to.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription is a recurring service a user tracks. Owned by the CRUD
// layer; the notifier never mutates it.
type Subscription struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	ServiceName string          `json:"service_name"`
	Plan        string          `json:"plan"`
	Price       decimal.Decimal `json:"price"`
	RenewalDate time.Time       `json:"renewal_date"`
	ServiceURL  string          `json:"service_url,omitempty"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DeliveryLog is one append-only record per notification attempt.
// Rows are never updated or deleted.
type DeliveryLog struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	Kind              string    `json:"kind"`
	Tier              string    `json:"tier"`
	Subject           string    `json:"subject"`
	RecipientEmail    string    `json:"recipient_email"`
	SubscriptionCount int       `json:"subscription_count"`
	Status            string    `json:"status"`
	ErrorMessage      *string   `json:"error_message,omitempty"`
	SentAt            time.Time `json:"sent_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// Notification kind constants
const (
	KindRenewalReminder = "renewal_reminder"
	KindExpirationAlert = "expiration_alert"
	KindWelcome         = "welcome"
	KindCustom          = "custom"
)

// Delivery status constants. "logged" means the notification was
// captured by the fallback recorder instead of delivered live.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
	StatusLogged = "logged"
)

// KindCount is an aggregate row for the reporting endpoints.
type KindCount struct {
	Kind  string `json:"kind"`
	Count int64  `json:"count"`
}

// TierCount is an aggregate row for the reporting endpoints.
type TierCount struct {
	Tier  string `json:"tier"`
	Count int64  `json:"count"`
}
