package fake

import (
	"context"
	"testing"

	"github.com/BearBump/ReconBox/internal/integrations/carrier"
	"github.com/stretchr/testify/require"
)

func TestFake_Deterministic(t *testing.T) {
	c := New("FAKE")
	s, err := c.Authenticate(context.Background())
	require.NoError(t, err)

	a, err := c.FetchTracking(context.Background(), s, "TRACK1")
	require.NoError(t, err)
	b, err := c.FetchTracking(context.Background(), s, "TRACK1")
	require.NoError(t, err)
	require.Equal(t, a.StatusText, b.StatusText)
	require.NotEmpty(t, a.StatusText)
}

func TestFake_BulkCoversAll(t *testing.T) {
	c := New("")
	require.Equal(t, "FAKE", c.Code())

	m, err := c.FetchTrackingBulk(context.Background(), carrier.Session{}, []string{"A", "B", "C"})
	require.NoError(t, err)
	require.Len(t, m, 3)
}
