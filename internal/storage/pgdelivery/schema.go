package pgdelivery

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  status TEXT NOT NULL DEFAULT 'MANIFESTED',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS deliveries (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id),
  carrier_code TEXT NOT NULL,
  awb_number TEXT NULL,
  status TEXT NOT NULL DEFAULT 'MANIFESTED',
  tracking_url TEXT NULL,
  last_reconciled_at TIMESTAMPTZ NULL,
  next_check_at TIMESTAMPTZ NOT NULL,
  check_fail_count INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// AWB у перевозчика уникален; NULL-ы (AWB ещё не присвоен) не мешают.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_deliveries_awb ON deliveries(awb_number) WHERE awb_number IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_next_check_at ON deliveries(next_check_at)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_order_id ON deliveries(order_id)`,
		`
CREATE TABLE IF NOT EXISTS delivery_events (
  id BIGSERIAL PRIMARY KEY,
  delivery_id BIGINT NOT NULL REFERENCES deliveries(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  status_raw TEXT NOT NULL,
  event_time TIMESTAMPTZ NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_events_delivery_id_event_time ON delivery_events(delivery_id, event_time DESC)`,
		// Enforce de-duplication of events for a delivery.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_delivery_events_dedup ON delivery_events(delivery_id, status_raw, event_time, location, description)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
