package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/ReconBox/internal/models"
	"github.com/BearBump/ReconBox/internal/services/recon"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	due   []*models.Delivery
	err   error
	calls int
}

func (r *fakeRepo) ClaimDueDeliveries(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Delivery, error) {
	r.calls++
	return r.due, r.err
}

type fakeReconciler struct {
	gotIDs []uint64
	report *recon.BatchReport
	err    error
	calls  int
}

func (f *fakeReconciler) ReconcileBatch(ctx context.Context, ids []uint64, filter string) (*recon.BatchReport, error) {
	f.calls++
	f.gotIDs = ids
	return f.report, f.err
}

func TestSweeper_runOnce_passesClaimedIDs(t *testing.T) {
	repo := &fakeRepo{due: []*models.Delivery{{ID: 1}, {ID: 2}}}
	rec := &fakeReconciler{report: &recon.BatchReport{
		Total: 2, Updated: 1, Failed: 1,
		Outcomes: []models.ReconOutcome{
			{DeliveryID: 1, Success: true, Status: models.StatusInTransit},
			{DeliveryID: 2, Success: false, ErrorReason: "no tracking data"},
		},
	}}
	s := New(repo, rec)

	s.runOnce(context.Background())

	require.Equal(t, []uint64{1, 2}, rec.gotIDs)
	st := s.Stats()
	require.Equal(t, int64(2), st.TotalClaimed)
	require.Equal(t, int64(1), st.TotalUpdated)
	require.Equal(t, int64(1), st.TotalFailed)
	require.Equal(t, "no tracking data", st.LastError)
}

func TestSweeper_runOnce_emptyClaimSkipsBatch(t *testing.T) {
	repo := &fakeRepo{}
	rec := &fakeReconciler{}
	s := New(repo, rec)

	s.runOnce(context.Background())
	require.Zero(t, rec.calls)
}

func TestSweeper_runOnce_claimError(t *testing.T) {
	repo := &fakeRepo{err: errors.New("pg down")}
	rec := &fakeReconciler{}
	s := New(repo, rec)

	s.runOnce(context.Background())
	require.Zero(t, rec.calls)
	require.Equal(t, "pg down", s.Stats().LastError)
}

func TestSweeper_WithSettings(t *testing.T) {
	s := New(&fakeRepo{}, &fakeReconciler{}).WithSettings(5*time.Second, 7, 11*time.Second)
	require.Equal(t, 5*time.Second, s.pollInterval)
	require.Equal(t, 7, s.batchSize)
	require.Equal(t, 11*time.Second, s.lease)
}

func TestSweeper_Run_StopsOnContextCancel(t *testing.T) {
	repo := &fakeRepo{}
	rec := &fakeReconciler{report: &recon.BatchReport{}}
	s := New(repo, rec).WithSettings(5*time.Millisecond, 1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := s.Run(ctx)
	require.Error(t, err)
	require.GreaterOrEqual(t, repo.calls, 1)
}

func TestSweeper_Trigger_ForcesCycle(t *testing.T) {
	repo := &fakeRepo{}
	rec := &fakeReconciler{report: &recon.BatchReport{}}
	s := New(repo, rec).WithSettings(time.Hour, 1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Trigger()
	require.Eventually(t, func() bool { return repo.calls >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.Error(t, <-done)

	st := s.Stats()
	require.NotNil(t, st.LastTriggerAt)
}
