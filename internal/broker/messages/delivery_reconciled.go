package messages

import "time"

// DeliveryReconciled публикуется после каждой успешной сверки статуса доставки.
type DeliveryReconciled struct {
	DeliveryID string    `json:"delivery_id"`
	OrderID    string    `json:"order_id"`
	AWBNumber  string    `json:"awb_number"`
	Carrier    string    `json:"carrier"`
	CheckedAt  time.Time `json:"checked_at"`

	Status    string `json:"status"`
	StatusRaw string `json:"status_raw,omitempty"`

	NextCheckAt time.Time `json:"next_check_at"`

	Events []ReconEvent `json:"events,omitempty"`
}

type ReconEvent struct {
	Status    string    `json:"status"`
	StatusRaw string    `json:"status_raw"`
	EventTime time.Time `json:"event_time"`
	Location  *string   `json:"location,omitempty"`
	Message   *string   `json:"message,omitempty"`
}
