package status

import (
	"testing"

	"github.com/BearBump/ReconBox/internal/models"
	"github.com/stretchr/testify/require"
)

func TestMap_Delhivery(t *testing.T) {
	require.Equal(t, models.StatusOutForDelivery, Map("DELHIVERY", "Out for Delivery"))
	require.Equal(t, models.StatusDelivered, Map("DELHIVERY", "Delivered"))
	require.Equal(t, models.StatusRTOInitiated, Map("DELHIVERY", "RTO"))
	require.Equal(t, models.StatusManifested, Map("delhivery", "  Manifested "))
}

func TestMap_Shiprocket(t *testing.T) {
	require.Equal(t, models.StatusManifested, Map("SHIPROCKET", "AWB Assigned"))
	require.Equal(t, models.StatusCancelled, Map("SHIPROCKET", "Cancellation Requested"))
	require.Equal(t, models.StatusRTODelivered, Map("SHIPROCKET", "RTO Delivered"))
}

func TestMap_CarrierScoped(t *testing.T) {
	// "RTO" означает RTO_INITIATED только у Delhivery; у Shiprocket такого
	// текста нет, поэтому fallback.
	require.Equal(t, models.StatusRTOInitiated, Map("DELHIVERY", "RTO"))
	require.Equal(t, Fallback, Map("SHIPROCKET", "RTO"))
}

func TestMap_TotalNeverEmpty(t *testing.T) {
	inputs := []string{"", "garbage", "DELIVERED!!!", "❄", "   ", "shipment misrouted"}
	for _, carrier := range []string{"DELHIVERY", "SHIPROCKET", "NO_SUCH_CARRIER"} {
		for _, raw := range inputs {
			got := Map(carrier, raw)
			require.NotEmpty(t, got, "carrier=%s raw=%q", carrier, raw)
		}
	}
	require.Equal(t, Fallback, Map("DELHIVERY", "shipment misrouted"))
	require.Equal(t, Fallback, Map("NO_SUCH_CARRIER", "Delivered"))
}

func TestKnown(t *testing.T) {
	require.True(t, Known("DELHIVERY"))
	require.True(t, Known(" shiprocket "))
	require.False(t, Known("DHL"))
}

func TestIsTerminal(t *testing.T) {
	require.True(t, models.StatusDelivered.IsTerminal())
	require.True(t, models.StatusRTODelivered.IsTerminal())
	require.True(t, models.StatusCancelled.IsTerminal())
	require.False(t, models.StatusOutForDelivery.IsTerminal())
	require.False(t, models.StatusRTOInTransit.IsTerminal())
}
