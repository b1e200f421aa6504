package pgdelivery

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/ReconBox/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "reconbox_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/reconbox_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func strPtr(s string) *string { return &s }

func TestPGDelivery_RepoFlow(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	orderID, err := st.CreateOrder(ctx)
	require.NoError(t, err)

	d1, err := st.CreateDelivery(ctx, DeliveryCreateInput{
		OrderID:     orderID,
		CarrierCode: "DELHIVERY",
		AWBNumber:   strPtr("AWB001"),
		TrackingURL: strPtr("https://www.delhivery.com/track/package/AWB001"),
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusManifested, d1.Status)

	// без AWB — claim не должен её брать
	d2, err := st.CreateDelivery(ctx, DeliveryCreateInput{OrderID: orderID, CarrierCode: "SHIPROCKET"})
	require.NoError(t, err)

	byAWB, err := st.GetDeliveryByAWB(ctx, "AWB001")
	require.NoError(t, err)
	require.Equal(t, d1.ID, byAWB.ID)

	_, err = st.GetDeliveryByAWB(ctx, "MISSING")
	require.ErrorIs(t, err, ErrNotFound)

	list, err := st.ListDeliveriesByIDs(ctx, []uint64{d1.ID, d2.ID})
	require.NoError(t, err)
	require.Len(t, list, 2)

	// claim + lease: только d1 due (обе созданы с next_check_at=now, но у d2 нет AWB)
	now := time.Now().UTC().Add(time.Minute)
	lease := 10 * time.Second
	due, err := st.ClaimDueDeliveries(ctx, now, 10, lease)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, d1.ID, due[0].ID)
	require.WithinDuration(t, now.Add(lease), due[0].NextCheckAt, 2*time.Second)

	// апдейт статуса + событие
	evTime := time.Now().UTC()
	err = st.ApplyReconUpdate(ctx, ReconUpdate{
		DeliveryID:  d1.ID,
		CheckedAt:   now,
		Status:      models.StatusOutForDelivery,
		NextCheckAt: now.Add(10 * time.Minute),
		Events: []*models.DeliveryEvent{
			{Status: models.StatusOutForDelivery, StatusRaw: "Out for Delivery", EventTime: evTime, Location: strPtr("Mumbai")},
		},
	})
	require.NoError(t, err)

	got, err := st.GetDeliveryByID(ctx, d1.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusOutForDelivery, got.Status)
	require.NotNil(t, got.LastReconciledAt)

	// заказ ещё не доставлен
	ord, err := st.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.NotEqual(t, models.StatusDelivered, ord.Status)

	evs, err := st.ListDeliveryEvents(ctx, d1.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.WithinDuration(t, evTime, evs[0].EventTime, time.Second)

	// дубликат события не вставляется повторно
	err = st.ApplyReconUpdate(ctx, ReconUpdate{
		DeliveryID:  d1.ID,
		CheckedAt:   now,
		Status:      models.StatusOutForDelivery,
		NextCheckAt: now.Add(10 * time.Minute),
		Events: []*models.DeliveryEvent{
			{Status: models.StatusOutForDelivery, StatusRaw: "Out for Delivery", EventTime: evTime, Location: strPtr("Mumbai")},
		},
	})
	require.NoError(t, err)
	evs, err = st.ListDeliveryEvents(ctx, d1.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
}

func TestPGDelivery_DeliveredCascadesToOrder(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	orderID, err := st.CreateOrder(ctx)
	require.NoError(t, err)
	d, err := st.CreateDelivery(ctx, DeliveryCreateInput{
		OrderID: orderID, CarrierCode: "DELHIVERY", AWBNumber: strPtr("AWB-D"),
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, st.ApplyReconUpdate(ctx, ReconUpdate{
		DeliveryID:  d.ID,
		CheckedAt:   now,
		Status:      models.StatusDelivered,
		NextCheckAt: now.Add(365 * 24 * time.Hour),
	}))

	got, err := st.GetDeliveryByID(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, got.Status)

	ord, err := st.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, ord.Status)
}

func TestPGDelivery_TerminalDoesNotRegress(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	orderID, err := st.CreateOrder(ctx)
	require.NoError(t, err)
	d, err := st.CreateDelivery(ctx, DeliveryCreateInput{
		OrderID: orderID, CarrierCode: "DELHIVERY", AWBNumber: strPtr("AWB-T"),
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, st.ApplyReconUpdate(ctx, ReconUpdate{
		DeliveryID: d.ID, CheckedAt: now, Status: models.StatusDelivered, NextCheckAt: now.Add(time.Hour),
	}))

	// перевозчик прислал запоздавшее IN_TRANSIT — статус не откатывается
	require.NoError(t, st.ApplyReconUpdate(ctx, ReconUpdate{
		DeliveryID: d.ID, CheckedAt: now, Status: models.StatusInTransit, NextCheckAt: now.Add(time.Hour),
	}))

	got, err := st.GetDeliveryByID(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, got.Status)
}

func TestPGDelivery_RTODeliveredDoesNotCascade(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	orderID, err := st.CreateOrder(ctx)
	require.NoError(t, err)
	d, err := st.CreateDelivery(ctx, DeliveryCreateInput{
		OrderID: orderID, CarrierCode: "SHIPROCKET", AWBNumber: strPtr("AWB-R"),
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, st.ApplyReconUpdate(ctx, ReconUpdate{
		DeliveryID: d.ID, CheckedAt: now, Status: models.StatusRTODelivered, NextCheckAt: now.Add(time.Hour),
	}))

	ord, err := st.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.NotEqual(t, models.StatusDelivered, ord.Status)
}

func TestPGDelivery_ErrorUpdateKeepsStatus(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	orderID, err := st.CreateOrder(ctx)
	require.NoError(t, err)
	d, err := st.CreateDelivery(ctx, DeliveryCreateInput{
		OrderID: orderID, CarrierCode: "DELHIVERY", AWBNumber: strPtr("AWB-E"),
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	e := "delhivery: bulk fetch http 502"
	require.NoError(t, st.ApplyReconUpdate(ctx, ReconUpdate{
		DeliveryID: d.ID, CheckedAt: now, NextCheckAt: now.Add(5 * time.Minute), Error: &e,
	}))

	got, err := st.GetDeliveryByID(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusManifested, got.Status)
	require.Equal(t, int32(1), got.CheckFailCount)
	require.NotNil(t, got.LastError)
	require.Nil(t, got.LastReconciledAt)
}
