// Package delhivery implements the static-key carrier family: every call
// carries a fixed "Authorization: Token <key>" header and the tracking
// endpoint accepts a comma-joined list of waybills in one request.
package delhivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/ReconBox/internal/integrations/carrier"
	"github.com/pkg/errors"
)

const carrierCode = "DELHIVERY"

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Code() string { return carrierCode }

// Authenticate — no-op для key-based семейства: ключ и есть сессия.
func (c *Client) Authenticate(ctx context.Context) (carrier.Session, error) {
	if c.apiKey == "" {
		return carrier.Session{}, carrier.NewError(carrierCode, "api key is empty", carrier.ErrAuthFailed)
	}
	return carrier.Session{Token: c.apiKey}, nil
}

type trackResp struct {
	ShipmentData []struct {
		Shipment struct {
			AWB    string `json:"AWB"`
			Status struct {
				Status         string `json:"Status"`
				StatusLocation string `json:"StatusLocation"`
				StatusDateTime string `json:"StatusDateTime"`
			} `json:"Status"`
			ExpectedDeliveryDate string `json:"ExpectedDeliveryDate"`
			Scans                []struct {
				ScanDetail struct {
					Scan            string `json:"Scan"`
					ScanDateTime    string `json:"ScanDateTime"`
					ScannedLocation string `json:"ScannedLocation"`
					Instructions    string `json:"Instructions"`
				} `json:"ScanDetail"`
			} `json:"Scans"`
		} `json:"Shipment"`
	} `json:"ShipmentData"`
}

func (c *Client) FetchTracking(ctx context.Context, s carrier.Session, awb string) (carrier.RawTracking, error) {
	m, err := c.FetchTrackingBulk(ctx, s, []string{awb})
	if err != nil {
		return carrier.RawTracking{}, err
	}
	rt, ok := m[awb]
	if !ok {
		return carrier.RawTracking{}, carrier.ErrNoTrackingData
	}
	return rt, nil
}

// FetchTrackingBulk делает один сетевой вызов на всю пачку: waybill=a,b,c.
// AWB, которых перевозчик не знает, просто отсутствуют в ответе и в карте.
func (c *Client) FetchTrackingBulk(ctx context.Context, s carrier.Session, awbs []string) (map[string]carrier.RawTracking, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = "/api/v1/packages/json/"

	q := u.Query()
	q.Set("waybill", strings.Join(awbs, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Token "+s.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, carrier.NewError(carrierCode, "bulk fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, carrier.NewError(carrierCode, fmt.Sprintf("bulk fetch http %d", resp.StatusCode), carrier.ErrAuthFailed).
			WithStatusCode(resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		return nil, carrier.NewError(carrierCode, fmt.Sprintf("bulk fetch http %d", resp.StatusCode), nil).
			WithStatusCode(resp.StatusCode)
	}

	var r trackResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, carrier.NewError(carrierCode, "decode", err)
	}

	out := make(map[string]carrier.RawTracking, len(r.ShipmentData))
	for _, sd := range r.ShipmentData {
		sh := sd.Shipment
		if sh.AWB == "" {
			continue
		}

		rt := carrier.RawTracking{
			AWBNumber:       sh.AWB,
			StatusText:      sh.Status.Status,
			CurrentLocation: sh.Status.StatusLocation,
		}
		if t, ok := parseTime(sh.ExpectedDeliveryDate); ok {
			rt.ExpectedDelivery = &t
		}

		for _, sc := range sh.Scans {
			d := sc.ScanDetail
			evTime := time.Now().UTC()
			if t, ok := parseTime(d.ScanDateTime); ok {
				evTime = t
			}
			rt.Events = append(rt.Events, carrier.RawEvent{
				Time:        evTime,
				StatusText:  d.Scan,
				Location:    d.ScannedLocation,
				Description: d.Instructions,
			})
		}

		out[sh.AWB] = rt
	}
	return out, nil
}

// Delhivery отдаёт время то с таймзоной, то без: пробуем оба формата.
func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
