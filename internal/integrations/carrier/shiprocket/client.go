// Package shiprocket implements the credential-exchange carrier family:
// a login call trades email/password for a bearer token, and the tracking
// endpoint takes one AWB per call. Bulk is a sequential internal loop.
package shiprocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/ReconBox/internal/integrations/carrier"
	"github.com/pkg/errors"
)

const carrierCode = "SHIPROCKET"

type Client struct {
	baseURL  string
	email    string
	password string
	httpc    *http.Client
}

func New(baseURL, email, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		email:    email,
		password: password,
		httpc: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Code() string { return carrierCode }

type loginResp struct {
	Token string `json:"token"`
}

// Authenticate выполняет логин. Любой отказ здесь — carrier-level ошибка:
// дальше по этой партиции ходить нельзя.
func (c *Client) Authenticate(ctx context.Context) (carrier.Session, error) {
	body, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return carrier.Session{}, errors.Wrap(err, "marshal login")
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return carrier.Session{}, errors.Wrap(err, "parse base url")
	}
	u.Path = "/v1/external/auth/login"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return carrier.Session{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carrier.Session{}, carrier.NewError(carrierCode, "login", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return carrier.Session{}, carrier.NewError(carrierCode, fmt.Sprintf("login http %d", resp.StatusCode), carrier.ErrAuthFailed).
			WithStatusCode(resp.StatusCode)
	}

	var lr loginResp
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return carrier.Session{}, carrier.NewError(carrierCode, "decode login", err)
	}
	if lr.Token == "" {
		return carrier.Session{}, carrier.NewError(carrierCode, "login returned empty token", carrier.ErrAuthFailed)
	}
	return carrier.Session{Token: lr.Token}, nil
}

type trackResp struct {
	TrackingData struct {
		TrackStatus   int `json:"track_status"`
		ShipmentTrack []struct {
			AWBCode       string `json:"awb_code"`
			CurrentStatus string `json:"current_status"`
			Destination   string `json:"destination"`
			EDD           string `json:"edd"`
		} `json:"shipment_track"`
		ShipmentTrackActivities []struct {
			Date     string `json:"date"`
			Status   string `json:"sr-status-label"`
			Activity string `json:"activity"`
			Location string `json:"location"`
		} `json:"shipment_track_activities"`
	} `json:"tracking_data"`
}

func (c *Client) FetchTracking(ctx context.Context, s carrier.Session, awb string) (carrier.RawTracking, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return carrier.RawTracking{}, errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/v1/external/courier/track/awb/%s", url.PathEscape(awb))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return carrier.RawTracking{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+s.Token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carrier.RawTracking{}, carrier.NewError(carrierCode, "fetch tracking", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return carrier.RawTracking{}, carrier.NewError(carrierCode, "fetch tracking http 401", carrier.ErrAuthFailed).
			WithStatusCode(resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return carrier.RawTracking{}, carrier.ErrNoTrackingData
	}
	if resp.StatusCode/100 != 2 {
		return carrier.RawTracking{}, carrier.NewError(carrierCode, fmt.Sprintf("fetch tracking http %d", resp.StatusCode), nil).
			WithStatusCode(resp.StatusCode)
	}

	var r trackResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return carrier.RawTracking{}, carrier.NewError(carrierCode, "decode", err)
	}

	// track_status=0 — перевозчик трек ещё не знает.
	if r.TrackingData.TrackStatus == 0 || len(r.TrackingData.ShipmentTrack) == 0 {
		return carrier.RawTracking{}, carrier.ErrNoTrackingData
	}

	head := r.TrackingData.ShipmentTrack[0]
	rt := carrier.RawTracking{
		AWBNumber:       awb,
		StatusText:      head.CurrentStatus,
		CurrentLocation: head.Destination,
	}
	if t, ok := parseTime(head.EDD); ok {
		rt.ExpectedDelivery = &t
	}

	for _, a := range r.TrackingData.ShipmentTrackActivities {
		evTime := time.Now().UTC()
		if t, ok := parseTime(a.Date); ok {
			evTime = t
		}
		statusText := a.Status
		if statusText == "" {
			statusText = head.CurrentStatus
		}
		rt.Events = append(rt.Events, carrier.RawEvent{
			Time:        evTime,
			StatusText:  statusText,
			Location:    a.Location,
			Description: a.Activity,
		})
	}
	return rt, nil
}

// FetchTrackingBulk: нативного bulk у Shiprocket нет — ходим по одному AWB
// последовательно (щадим лимиты перевозчика), но контракт наружу тот же.
// Ошибка по одному AWB не выкидывает соседей: его просто нет в карте.
func (c *Client) FetchTrackingBulk(ctx context.Context, s carrier.Session, awbs []string) (map[string]carrier.RawTracking, error) {
	out := make(map[string]carrier.RawTracking, len(awbs))
	for _, awb := range awbs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rt, err := c.FetchTracking(ctx, s, awb)
		if err != nil {
			// ErrNoTrackingData и сетевые per-item ошибки — отсутствие данных.
			continue
		}
		out[awb] = rt
	}
	return out, nil
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
