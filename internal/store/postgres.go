package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/web3-frozen/defilens/internal/events"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// --- Alert journal ---

// RecordAlert stores a fired alert. Recording the same alert twice is a no-op.
func (s *Store) RecordAlert(ctx context.Context, a events.Alert) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_events (id, address, type, message, severity, value, fired_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Address, a.Type, a.Message, string(a.Severity), a.Value, a.Timestamp)
	return err
}

// ListAlerts returns the newest alerts first. An empty address lists all.
func (s *Store) ListAlerts(ctx context.Context, address string, limit int) ([]events.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, address, type, message, severity, value, fired_at
		FROM alert_events
		WHERE $1 = '' OR address = $1
		ORDER BY fired_at DESC
		LIMIT $2`, address, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Alert
	for rows.Next() {
		var (
			a   events.Alert
			sev string
		)
		if err := rows.Scan(&a.ID, &a.Address, &a.Type, &a.Message, &sev, &a.Value, &a.Timestamp); err != nil {
			return nil, err
		}
		a.Severity = events.Severity(sev)
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountAlerts returns the number of alerts fired within window.
func (s *Store) CountAlerts(ctx context.Context, window time.Duration) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM alert_events WHERE fired_at > $1`, time.Now().Add(-window)).Scan(&count)
	return count, err
}

// CleanupOldAlerts deletes alerts older than maxAge.
func (s *Store) CleanupOldAlerts(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM alert_events WHERE fired_at < $1`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ClampLimit maps a requested page size into [1, maxHistoryLimit].
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultHistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	}
	return limit
}

// Journal records every alert published on bus. Write failures are logged.
func (s *Store) Journal(bus *events.Bus, logger *slog.Logger) *events.Subscription {
	return bus.SubscribeAlerts(func(a events.Alert) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.RecordAlert(ctx, a); err != nil {
			logger.Warn("failed to journal alert", "id", a.ID, "type", a.Type, "error", err)
		}
	})
}

// --- Alert rules ---

// StoredRule is the persisted form of an alert rule. Callbacks are not
// persisted.
type StoredRule struct {
	Address   string    `json:"address"`
	Type      string    `json:"type"`
	Threshold float64   `json:"threshold"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SaveRule inserts or replaces the rule for (address, type).
func (s *Store) SaveRule(ctx context.Context, address, ruleType string, threshold float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_rules (address, type, threshold)
		VALUES ($1, $2, $3)
		ON CONFLICT (address, type) DO UPDATE SET threshold = $3, updated_at = now()`,
		address, ruleType, threshold)
	return err
}

// DeleteRule removes the rule for (address, type).
func (s *Store) DeleteRule(ctx context.Context, address, ruleType string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM alert_rules WHERE address = $1 AND type = $2`, address, ruleType)
	return err
}

// ListRules returns every persisted rule ordered by address and type.
func (s *Store) ListRules(ctx context.Context) ([]StoredRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address, type, threshold, updated_at FROM alert_rules ORDER BY address, type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredRule
	for rows.Next() {
		var r StoredRule
		if err := rows.Scan(&r.Address, &r.Type, &r.Threshold, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
