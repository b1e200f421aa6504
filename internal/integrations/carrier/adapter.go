// Package carrier defines the contract every shipping-carrier integration
// implements, plus the registry resolving a carrier code to its adapter.
package carrier

import (
	"context"
	"time"
)

// Session — результат Authenticate. Для key-based перевозчиков это сам
// ключ, для credential-based — bearer-токен после логина.
type Session struct {
	Token string
}

// RawEvent is one carrier-native history entry, text left untranslated.
type RawEvent struct {
	Time        time.Time
	StatusText  string
	Location    string
	Description string
}

// RawTracking is one carrier's untranslated view of one shipment.
type RawTracking struct {
	AWBNumber        string
	StatusText       string
	CurrentLocation  string
	ExpectedDelivery *time.Time
	Events           []RawEvent
}

// Adapter renders one carrier's proprietary API as a uniform tracking
// contract. Adapters do network I/O only; they never touch the store.
type Adapter interface {
	Code() string

	// Authenticate exchanges stored credentials for a usable session.
	// Key-based carriers return the key without a network call. A failure
	// here is carrier-level: the caller must not attempt shipment calls.
	Authenticate(ctx context.Context) (Session, error)

	// FetchTracking looks up one AWB. "Not found" is ErrNoTrackingData,
	// never a carrier-level error.
	FetchTracking(ctx context.Context, s Session, awb string) (RawTracking, error)

	// FetchTrackingBulk fetches many AWBs. Carriers without native bulk
	// support loop internally but present the same contract. An AWB absent
	// from the result map means "no data" for that shipment; siblings stay.
	FetchTrackingBulk(ctx context.Context, s Session, awbs []string) (map[string]RawTracking, error)
}
