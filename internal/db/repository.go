package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Repository handles database operations for the notifier. Users and
// subscriptions are read-only here; their lifecycle belongs to the CRUD
// layer. Delivery logs are append-only.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new notifier repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetUser retrieves a user by ID
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `
		SELECT id, email, first_name, is_active, created_at
		FROM users
		WHERE id = $1
	`

	var u User
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.Email,
		&u.FirstName,
		&u.IsActive,
		&u.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("user not found: %s", id)
	}

	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &u, nil
}

// ListActiveUsers retrieves every active user account
func (r *Repository) ListActiveUsers(ctx context.Context) ([]*User, error) {
	query := `
		SELECT id, email, first_name, is_active, created_at
		FROM users
		WHERE is_active = TRUE
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		err := rows.Scan(
			&u.ID,
			&u.Email,
			&u.FirstName,
			&u.IsActive,
			&u.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return users, nil
}

// ListActiveSubscriptions retrieves a user's active subscriptions
func (r *Repository) ListActiveSubscriptions(ctx context.Context, userID uuid.UUID) ([]*Subscription, error) {
	query := `
		SELECT id, user_id, service_name, plan, price, renewal_date,
			COALESCE(service_url, ''), is_active, created_at
		FROM subscriptions
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY renewal_date ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		var s Subscription
		err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.ServiceName,
			&s.Plan,
			&s.Price,
			&s.RenewalDate,
			&s.ServiceURL,
			&s.IsActive,
			&s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return subs, nil
}

// CreateDeliveryLog appends one audit record for a notification attempt.
// Records are never updated afterwards.
func (r *Repository) CreateDeliveryLog(ctx context.Context, rec *DeliveryLog) error {
	query := `
		INSERT INTO delivery_logs (
			id, user_id, kind, tier, subject, recipient_email,
			subscription_count, status, error_message, sent_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING created_at
	`

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now()
	}

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		rec.ID,
		rec.UserID,
		rec.Kind,
		rec.Tier,
		rec.Subject,
		rec.RecipientEmail,
		rec.SubscriptionCount,
		rec.Status,
		rec.ErrorMessage,
		rec.SentAt,
	).Scan(&rec.CreatedAt)

	if err != nil {
		r.logger.Error("failed to create delivery log",
			zap.Error(err),
			zap.String("user_id", rec.UserID.String()),
			zap.String("kind", rec.Kind),
		)
		return fmt.Errorf("insert delivery log: %w", err)
	}

	return nil
}

// ListDeliveryLogsByUser retrieves audit records for a user, newest first
func (r *Repository) ListDeliveryLogsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*DeliveryLog, error) {
	query := `
		SELECT id, user_id, kind, tier, subject, recipient_email,
			subscription_count, status, error_message, sent_at, created_at
		FROM delivery_logs
		WHERE user_id = $1
		ORDER BY sent_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query delivery logs: %w", err)
	}
	defer rows.Close()

	return scanDeliveryLogs(rows)
}

// ListDeliveryLogs retrieves audit records in a time range, newest first
func (r *Repository) ListDeliveryLogs(ctx context.Context, since, until time.Time, limit, offset int) ([]*DeliveryLog, error) {
	query := `
		SELECT id, user_id, kind, tier, subject, recipient_email,
			subscription_count, status, error_message, sent_at, created_at
		FROM delivery_logs
		WHERE sent_at >= $1 AND sent_at < $2
		ORDER BY sent_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool().Query(ctx, query, since, until, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query delivery logs: %w", err)
	}
	defer rows.Close()

	return scanDeliveryLogs(rows)
}

// CountDeliveryLogsByKind aggregates audit records per notification kind
func (r *Repository) CountDeliveryLogsByKind(ctx context.Context, since, until time.Time) ([]*KindCount, error) {
	query := `
		SELECT kind, COUNT(*)
		FROM delivery_logs
		WHERE sent_at >= $1 AND sent_at < $2
		GROUP BY kind
		ORDER BY kind
	`

	rows, err := r.db.Pool().Query(ctx, query, since, until)
	if err != nil {
		return nil, fmt.Errorf("count delivery logs by kind: %w", err)
	}
	defer rows.Close()

	var counts []*KindCount
	for rows.Next() {
		var c KindCount
		if err := rows.Scan(&c.Kind, &c.Count); err != nil {
			return nil, fmt.Errorf("scan kind count: %w", err)
		}
		counts = append(counts, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return counts, nil
}

// CountDeliveryLogsByTier aggregates audit records per urgency tier
func (r *Repository) CountDeliveryLogsByTier(ctx context.Context, since, until time.Time) ([]*TierCount, error) {
	query := `
		SELECT tier, COUNT(*)
		FROM delivery_logs
		WHERE sent_at >= $1 AND sent_at < $2
		GROUP BY tier
		ORDER BY tier
	`

	rows, err := r.db.Pool().Query(ctx, query, since, until)
	if err != nil {
		return nil, fmt.Errorf("count delivery logs by tier: %w", err)
	}
	defer rows.Close()

	var counts []*TierCount
	for rows.Next() {
		var c TierCount
		if err := rows.Scan(&c.Tier, &c.Count); err != nil {
			return nil, fmt.Errorf("scan tier count: %w", err)
		}
		counts = append(counts, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return counts, nil
}

func scanDeliveryLogs(rows pgx.Rows) ([]*DeliveryLog, error) {
	var logs []*DeliveryLog
	for rows.Next() {
		var rec DeliveryLog
		err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.Kind,
			&rec.Tier,
			&rec.Subject,
			&rec.RecipientEmail,
			&rec.SubscriptionCount,
			&rec.Status,
			&rec.ErrorMessage,
			&rec.SentAt,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan delivery log: %w", err)
		}
		logs = append(logs, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return logs, nil
}
