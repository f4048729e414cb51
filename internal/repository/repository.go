package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/furnistore/internal/checkout"
	"github.com/fjod/furnistore/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ checkout.Ledger = (*Repository)(nil)

type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c *Credentials) ConnString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.DBName,
		sslMode)
}

// Repository is the PostgreSQL checkout ledger and transactional outbox.
type Repository struct {
	db *sql.DB
}

func NewRepository(cred *Credentials) (*Repository, error) {
	db, err := sql.Open("postgres", cred.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(r.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) CreateAttempt(ctx context.Context, a *domain.CheckoutAttempt) error {
	snapshot, err := json.Marshal(itemsOrEmpty(a.Items))
	if err != nil {
		return fmt.Errorf("failed to marshal cart snapshot: %w", err)
	}

	query := `INSERT INTO checkout_attempts (id, session_id, provider, amount, currency, external_id, state, cart_snapshot, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)`
	_, err = r.db.ExecContext(ctx, query,
		a.ID,
		a.SessionID,
		a.Provider,
		a.Amount,
		a.Currency,
		a.ExternalID,
		a.State,
		string(snapshot),
		a.CreatedAt,
		a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create checkout attempt: %w", err)
	}
	return nil
}

// UpdateAttemptState sets the state. Empty externalID or reason keep the stored values.
func (r *Repository) UpdateAttemptState(ctx context.Context, id string, state domain.CheckoutState, externalID, reason string) error {
	query := `UPDATE checkout_attempts
              SET state = $2,
                  external_id = COALESCE(NULLIF($3, ''), external_id),
                  failure_reason = COALESCE(NULLIF($4, ''), failure_reason),
                  updated_at = NOW()
              WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, state, externalID, reason)
	if err != nil {
		return fmt.Errorf("failed to update checkout attempt: %w", err)
	}
	return expectOneRow(res)
}

// CompleteAttempt marks the attempt Cleared and writes its CheckoutCompleted outbox
// event in one transaction. A second completion of the same attempt adds no event.
func (r *Repository) CompleteAttempt(ctx context.Context, id string, payload []byte) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE checkout_attempts SET state = $2, updated_at = NOW() WHERE id = $1`,
		id, domain.CheckoutStateCleared)
	if err != nil {
		return fmt.Errorf("failed to complete checkout attempt: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events (aggregate_id, event_type, payload) VALUES ($1, $2, $3)
         ON CONFLICT (aggregate_id, event_type) DO NOTHING`,
		id, domain.EventTypeCheckoutCompleted, string(payload))
	if err != nil {
		return fmt.Errorf("failed to write outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const attemptColumns = `id, session_id, provider, amount, currency, COALESCE(external_id, ''), state,
       COALESCE(failure_reason, ''), cart_snapshot, created_at, updated_at`

func (r *Repository) GetAttempt(ctx context.Context, id string) (*domain.CheckoutAttempt, error) {
	// ids are UUID columns, postgres rejects anything else with a cast error
	if _, err := uuid.Parse(id); err != nil {
		return nil, checkout.ErrAttemptNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM checkout_attempts WHERE id = $1`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkout.ErrAttemptNotFound
	}
	return a, err
}

// GetStuckAttempts returns attempts confirmed longer than olderThan ago that never
// reached Cleared, e.g. because the process died between capture and clear.
func (r *Repository) GetStuckAttempts(ctx context.Context, olderThan time.Duration) ([]*domain.CheckoutAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM checkout_attempts
              WHERE state = $1 AND updated_at < NOW() - make_interval(secs => $2)
              ORDER BY updated_at LIMIT 100`
	rows, err := r.db.QueryContext(ctx, query, domain.CheckoutStateConfirmed, olderThan.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.CheckoutAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, created_at FROM outbox_events
              WHERE processed_at IS NULL ORDER BY id LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		e.Payload = payload
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event %d as processed: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(s scanner) (*domain.CheckoutAttempt, error) {
	var a domain.CheckoutAttempt
	var snapshot []byte
	err := s.Scan(
		&a.ID,
		&a.SessionID,
		&a.Provider,
		&a.Amount,
		&a.Currency,
		&a.ExternalID,
		&a.State,
		&a.FailureReason,
		&snapshot,
		&a.CreatedAt,
		&a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &a.Items); err != nil {
		return nil, fmt.Errorf("failed to decode cart snapshot of %s: %w", a.ID, err)
	}
	return &a, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return checkout.ErrAttemptNotFound
	}
	return nil
}

func itemsOrEmpty(items []domain.CartLineItem) []domain.CartLineItem {
	if items == nil {
		return []domain.CartLineItem{}
	}
	return items
}
