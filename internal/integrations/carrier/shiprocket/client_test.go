package shiprocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BearBump/ReconBox/internal/integrations/carrier"
	"github.com/stretchr/testify/require"
)

func trackBody(awb, status string) string {
	return fmt.Sprintf(`{
  "tracking_data": {
    "track_status": 1,
    "shipment_track": [{"awb_code": "%s", "current_status": "%s", "destination": "Delhi", "edd": "2025-01-12"}],
    "shipment_track_activities": [
      {"date": "2025-01-09 18:30:00", "sr-status-label": "In Transit", "activity": "Shipment received at hub", "location": "Gurgaon_Hub"}
    ]
  }
}`, awb, status)
}

func newTestServer(t *testing.T, trackHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	if trackHandler == nil {
		trackHandler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/external/auth/login", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		if creds["password"] != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"token":"jwt-token"}`))
	})
	mux.HandleFunc("/v1/external/courier/track/awb/", trackHandler)
	return httptest.NewServer(mux)
}

func TestClient_AuthenticateAndFetch(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(trackBody("AWB002", "In Transit")))
	})
	defer srv.Close()

	c := New(srv.URL, "ops@example.com", "secret", 0)
	sess, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, "jwt-token", sess.Token)

	rt, err := c.FetchTracking(context.Background(), sess, "AWB002")
	require.NoError(t, err)
	require.Equal(t, "In Transit", rt.StatusText)
	require.Equal(t, "Delhi", rt.CurrentLocation)
	require.NotNil(t, rt.ExpectedDelivery)
	require.Len(t, rt.Events, 1)
	require.Equal(t, "Gurgaon_Hub", rt.Events[0].Location)
}

func TestClient_Authenticate_BadPassword(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	c := New(srv.URL, "ops@example.com", "wrong", 0)
	_, err := c.Authenticate(context.Background())
	require.ErrorIs(t, err, carrier.ErrAuthFailed)
}

func TestClient_Authenticate_EmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":""}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "ops@example.com", "secret", 0)
	_, err := c.Authenticate(context.Background())
	require.ErrorIs(t, err, carrier.ErrAuthFailed)
}

func TestClient_FetchTracking_TrackStatusZeroIsNoData(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tracking_data":{"track_status":0}}`))
	})
	defer srv.Close()

	c := New(srv.URL, "ops@example.com", "secret", 0)
	_, err := c.FetchTracking(context.Background(), carrier.Session{Token: "jwt-token"}, "X")
	require.ErrorIs(t, err, carrier.ErrNoTrackingData)
}

func TestClient_FetchTrackingBulk_SkipsFailedItems(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/external/courier/track/awb/AWB-Y":
			// данных нет — сосед не должен пострадать
			_, _ = w.Write([]byte(`{"tracking_data":{"track_status":0}}`))
		case r.URL.Path == "/v1/external/courier/track/awb/AWB-X":
			_, _ = w.Write([]byte(trackBody("AWB-X", "Out For Delivery")))
		default:
			_, _ = w.Write([]byte(trackBody("AWB-Z", "Delivered")))
		}
	})
	defer srv.Close()

	c := New(srv.URL, "ops@example.com", "secret", 0)
	m, err := c.FetchTrackingBulk(context.Background(), carrier.Session{Token: "jwt-token"}, []string{"AWB-X", "AWB-Y", "AWB-Z"})
	require.NoError(t, err)
	require.Len(t, m, 2)
	require.Contains(t, m, "AWB-X")
	require.Contains(t, m, "AWB-Z")
	require.NotContains(t, m, "AWB-Y")
}
