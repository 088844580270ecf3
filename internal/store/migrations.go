package store

import "context"

const migrationSQL = `
CREATE TABLE IF NOT EXISTS alert_events (
    id TEXT PRIMARY KEY,
    address TEXT NOT NULL,
    type TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL,
    value DOUBLE PRECISION,
    fired_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS alert_events_fired_at_idx ON alert_events (fired_at DESC);
CREATE INDEX IF NOT EXISTS alert_events_address_idx ON alert_events (address, fired_at DESC);

CREATE TABLE IF NOT EXISTS alert_rules (
    address TEXT NOT NULL,
    type TEXT NOT NULL,
    threshold DOUBLE PRECISION NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (address, type)
);
`

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migrationSQL)
	return err
}
