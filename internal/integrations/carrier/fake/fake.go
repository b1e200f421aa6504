package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/BearBump/ReconBox/internal/integrations/carrier"
)

// Client — детерминированная заглушка перевозчика для локальных запусков
// и тестов. Статус вычисляется по hash(code|awb), чтобы поведение было
// воспроизводимым.
type Client struct {
	code string
}

func New(code string) *Client {
	if code == "" {
		code = "FAKE"
	}
	return &Client{code: code}
}

func (c *Client) Code() string { return c.code }

func (c *Client) Authenticate(ctx context.Context) (carrier.Session, error) {
	return carrier.Session{Token: "fake"}, nil
}

var statusTexts = []string{
	"Manifested",
	"Shipped",
	"In Transit",
	"Out for Delivery",
	"Delivered",
}

func (c *Client) FetchTracking(ctx context.Context, s carrier.Session, awb string) (carrier.RawTracking, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(c.code))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(awb))
	v := h.Sum32()

	now := time.Now().UTC()
	text := statusTexts[v%uint32(len(statusTexts))]

	return carrier.RawTracking{
		AWBNumber:       awb,
		StatusText:      text,
		CurrentLocation: "Fake City",
		Events: []carrier.RawEvent{
			{Time: now, StatusText: text, Location: "Fake City", Description: "fake carrier update"},
		},
	}, nil
}

func (c *Client) FetchTrackingBulk(ctx context.Context, s carrier.Session, awbs []string) (map[string]carrier.RawTracking, error) {
	out := make(map[string]carrier.RawTracking, len(awbs))
	for _, awb := range awbs {
		rt, err := c.FetchTracking(ctx, s, awb)
		if err != nil {
			continue
		}
		out[awb] = rt
	}
	return out, nil
}
