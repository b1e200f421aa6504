package pgdelivery

import (
	"context"
	"time"

	"github.com/BearBump/ReconBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ReconUpdate — результат одной сверки для одной доставки.
type ReconUpdate struct {
	DeliveryID uint64

	CheckedAt time.Time

	Status models.Status

	NextCheckAt time.Time

	Events []*models.DeliveryEvent

	// Error != nil: живой fetch не удался; статус не трогаем, только
	// бухгалтерию ошибок и расписание.
	Error *string
}

// ApplyReconUpdate is the only mutation reconciliation performs. Delivery
// status, events and the conditional order cascade commit in one
// transaction: a reader never observes a DELIVERED delivery whose order
// is not DELIVERED.
//
// Терминальный статус не регрессирует: повторная сверка того же статуса —
// это no-op записи, обновляются только таймстемпы.
func (s *Storage) ApplyReconUpdate(ctx context.Context, upd ReconUpdate) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if upd.Error != nil && *upd.Error != "" {
		_, err := tx.Exec(ctx, `
UPDATE deliveries
SET
  check_fail_count = check_fail_count + 1,
  last_error = $2,
  next_check_at = $3,
  updated_at = now()
WHERE id = $1
`, upd.DeliveryID, *upd.Error, upd.NextCheckAt.UTC())
		if err != nil {
			return errors.Wrap(err, "update delivery (error)")
		}
		return errors.Wrap(tx.Commit(ctx), "commit tx")
	}

	var applied models.Status
	var orderID uint64
	err = tx.QueryRow(ctx, `
UPDATE deliveries
SET
  status = CASE
    WHEN status IN ('DELIVERED','RTO_DELIVERED','CANCELLED') THEN status
    ELSE $3
  END,
  last_reconciled_at = $2,
  check_fail_count = 0,
  last_error = NULL,
  next_check_at = $4,
  updated_at = now()
WHERE id = $1
RETURNING status, order_id
`, upd.DeliveryID, upd.CheckedAt.UTC(), upd.Status, upd.NextCheckAt.UTC()).Scan(&applied, &orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "update delivery (ok)")
	}

	for _, e := range upd.Events {
		loc := ""
		if e.Location != nil {
			loc = *e.Location
		}
		desc := ""
		if e.Description != nil {
			desc = *e.Description
		}

		_, err := tx.Exec(ctx, `
INSERT INTO delivery_events (
  delivery_id, status, status_raw, event_time, location, description, created_at
)
VALUES ($1,$2,$3,$4,$5,$6, now())
ON CONFLICT (delivery_id, status_raw, event_time, location, description) DO NOTHING
`, upd.DeliveryID, e.Status, e.StatusRaw, e.EventTime.UTC(), loc, desc)
		if err != nil {
			return errors.Wrap(err, "insert delivery event")
		}
	}

	// Каскад на заказ — только прямая доставка. RTO_DELIVERED и CANCELLED
	// заказ не трогают.
	if applied == models.StatusDelivered {
		_, err := tx.Exec(ctx, `
UPDATE orders SET status = 'DELIVERED', updated_at = now() WHERE id = $1
`, orderID)
		if err != nil {
			return errors.Wrap(err, "cascade order status")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}
