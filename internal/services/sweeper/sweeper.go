// Package sweeper периодически выбирает просроченные доставки и прогоняет их
// через пакетную сверку. Расписание живёт в next_check_at, так что за один
// цикл каждый перевозчик получает ровно одну партию.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ReconBox/internal/models"
	"github.com/BearBump/ReconBox/internal/services/recon"
)

type Repository interface {
	ClaimDueDeliveries(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Delivery, error)
}

type Reconciler interface {
	ReconcileBatch(ctx context.Context, deliveryIDs []uint64, carrierFilter string) (*recon.BatchReport, error)
}

type Sweeper struct {
	repo  Repository
	recon Reconciler

	pollInterval time.Duration
	batchSize    int
	lease        time.Duration

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalUpdated        atomic.Int64
	totalFailed         atomic.Int64
	cycles              atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, rec Reconciler) *Sweeper {
	return &Sweeper{
		repo:              repo,
		recon:             rec,
		pollInterval:      30 * time.Second,
		batchSize:         100,
		lease:             120 * time.Second,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Sweeper) WithSettings(pollInterval time.Duration, batchSize int, lease time.Duration) *Sweeper {
	if pollInterval > 0 {
		s.pollInterval = pollInterval
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if lease > 0 {
		s.lease = lease
	}
	return s
}

// Trigger forces an immediate sweep cycle (best-effort, non-blocking).
func (s *Sweeper) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	Cycles        int64      `json:"cycles"`
	TotalClaimed  int64      `json:"totalClaimed"`
	TotalUpdated  int64      `json:"totalUpdated"`
	TotalFailed   int64      `json:"totalFailed"`
	LastError     string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, s.startedAtUnixNano).UTC(),
		Cycles:       s.cycles.Load(),
		TotalClaimed: s.totalClaimed.Load(),
		TotalUpdated: s.totalUpdated.Load(),
		TotalFailed:  s.totalFailed.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())
	s.cycles.Add(1)

	items, err := s.repo.ClaimDueDeliveries(ctx, now, s.batchSize, s.lease)
	if err != nil {
		slog.Error("claim due deliveries", "error", err.Error())
		s.setLastError(err.Error())
		return
	}
	if len(items) == 0 {
		return
	}
	s.totalClaimed.Add(int64(len(items)))

	ids := make([]uint64, 0, len(items))
	for _, d := range items {
		ids = append(ids, d.ID)
	}

	report, err := s.recon.ReconcileBatch(ctx, ids, "")
	if err != nil {
		slog.Error("sweep batch", "error", err.Error())
		s.setLastError(err.Error())
		return
	}

	s.totalUpdated.Add(int64(report.Updated))
	s.totalFailed.Add(int64(report.Failed))
	for _, o := range report.Outcomes {
		if !o.Success {
			s.setLastError(o.ErrorReason)
			break
		}
	}
	slog.Info("sweep cycle",
		"claimed", len(items),
		"updated", report.Updated,
		"failed", report.Failed,
	)
}

func (s *Sweeper) setLastError(msg string) {
	s.lastErrorMu.Lock()
	s.lastError = msg
	s.lastErrorMu.Unlock()
}
