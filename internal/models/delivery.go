package models

import "time"

type Status string

// Канонический жизненный цикл отправления. Перевозчики могут пропускать
// или повторять шаги, поэтому порядок нигде не валидируется.
const (
	StatusManifested     Status = "MANIFESTED"
	StatusShipped        Status = "SHIPPED"
	StatusInTransit      Status = "IN_TRANSIT"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"

	StatusRTOInitiated Status = "RTO_INITIATED"
	StatusRTOInTransit Status = "RTO_IN_TRANSIT"
	StatusRTODelivered Status = "RTO_DELIVERED"

	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further carrier updates are expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusRTODelivered, StatusCancelled:
		return true
	}
	return false
}

type Delivery struct {
	ID          uint64
	OrderID     uint64
	CarrierCode string
	AWBNumber   *string
	Status      Status
	TrackingURL *string

	LastReconciledAt *time.Time
	NextCheckAt      time.Time
	CheckFailCount   int32
	LastError        *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Order struct {
	ID        uint64
	Status    Status
	UpdatedAt time.Time
}

type DeliveryEvent struct {
	ID          uint64
	DeliveryID  uint64
	Status      Status
	StatusRaw   string
	EventTime   time.Time
	Location    *string
	Description *string
	CreatedAt   time.Time
}

// TrackingResult — нормализованный результат одного обращения к перевозчику.
// Не персистится: status_raw живёт только внутри событий.
type TrackingResult struct {
	Status           Status
	StatusRaw        string
	CurrentLocation  *string
	ExpectedDelivery *time.Time
	Events           []*DeliveryEvent
}

// ReconOutcome is the per-delivery entry of a batch report.
type ReconOutcome struct {
	DeliveryID  uint64 `json:"deliveryId"`
	AWBNumber   string `json:"awbNumber,omitempty"`
	Status      Status `json:"resultingStatus,omitempty"`
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
}
