package pgdelivery

import (
	"context"
	"time"

	"github.com/BearBump/ReconBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const deliveryColumns = `
  id, order_id, carrier_code, awb_number,
  status, tracking_url,
  last_reconciled_at, next_check_at,
  check_fail_count, last_error,
  created_at, updated_at`

func scanDelivery(row pgx.Row) (*models.Delivery, error) {
	var d models.Delivery
	if err := row.Scan(
		&d.ID, &d.OrderID, &d.CarrierCode, &d.AWBNumber,
		&d.Status, &d.TrackingURL,
		&d.LastReconciledAt, &d.NextCheckAt,
		&d.CheckFailCount, &d.LastError,
		&d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

type DeliveryCreateInput struct {
	OrderID     uint64
	CarrierCode string
	AWBNumber   *string
	TrackingURL *string
}

func (s *Storage) CreateOrder(ctx context.Context) (uint64, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO orders (status, created_at, updated_at) VALUES ('MANIFESTED', now(), now()) RETURNING id
`).Scan(&id)
	return id, errors.Wrap(err, "insert order")
}

func (s *Storage) CreateDelivery(ctx context.Context, in DeliveryCreateInput) (*models.Delivery, error) {
	now := time.Now().UTC()
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO deliveries (order_id, carrier_code, awb_number, status, tracking_url, next_check_at, created_at, updated_at)
VALUES ($1,$2,$3,'MANIFESTED',$4,$5,$5,$5)
RETURNING id
`, in.OrderID, in.CarrierCode, in.AWBNumber, in.TrackingURL, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert delivery")
	}
	return s.GetDeliveryByID(ctx, id)
}

func (s *Storage) GetDeliveryByID(ctx context.Context, id uint64) (*models.Delivery, error) {
	d, err := scanDelivery(s.db.QueryRow(ctx, `
SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1
`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select delivery by id")
	}
	return d, nil
}

func (s *Storage) GetDeliveryByAWB(ctx context.Context, awb string) (*models.Delivery, error) {
	d, err := scanDelivery(s.db.QueryRow(ctx, `
SELECT `+deliveryColumns+` FROM deliveries WHERE awb_number = $1
`, awb))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select delivery by awb")
	}
	return d, nil
}

func (s *Storage) ListDeliveriesByIDs(ctx context.Context, ids []uint64) ([]*models.Delivery, error) {
	if len(ids) == 0 {
		return []*models.Delivery{}, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT `+deliveryColumns+` FROM deliveries WHERE id = ANY($1)
`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select deliveries")
	}
	defer rows.Close()

	out := make([]*models.Delivery, 0, len(ids))
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan delivery")
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetOrder(ctx context.Context, id uint64) (*models.Order, error) {
	var o models.Order
	err := s.db.QueryRow(ctx, `SELECT id, status, updated_at FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.Status, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return &o, nil
}

func (s *Storage) ListDeliveryEvents(ctx context.Context, deliveryID uint64, limit, offset int) ([]*models.DeliveryEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT
  id, delivery_id, status, status_raw,
  event_time, location, description, created_at
FROM delivery_events
WHERE delivery_id = $1
ORDER BY event_time DESC
LIMIT $2 OFFSET $3
`, deliveryID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.DeliveryEvent
	for rows.Next() {
		var e models.DeliveryEvent
		var location string
		var description string
		if err := rows.Scan(
			&e.ID, &e.DeliveryID, &e.Status, &e.StatusRaw,
			&e.EventTime, &location, &description, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		if location != "" {
			e.Location = &location
		}
		if description != "" {
			e.Description = &description
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ClaimDueDeliveries выбирает пачку доставок, готовых к сверке, и "бронирует"
// их через lease, чтобы параллельный sweeper их не подхватил.
// Использует SELECT ... FOR UPDATE SKIP LOCKED. Берём только доставки с
// присвоенным AWB и нетерминальным статусом.
func (s *Storage) ClaimDueDeliveries(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Delivery, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+deliveryColumns+`
FROM deliveries
WHERE next_check_at <= $1
  AND awb_number IS NOT NULL
  AND status NOT IN ('DELIVERED','RTO_DELIVERED','CANCELLED')
ORDER BY next_check_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due deliveries")
	}
	defer rows.Close()

	var picked []*models.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan due delivery")
		}
		picked = append(picked, d)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, d := range picked {
		_, err := tx.Exec(ctx, `UPDATE deliveries SET next_check_at = $2, updated_at = now() WHERE id = $1`, d.ID, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "lease delivery")
		}
		d.NextCheckAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}
