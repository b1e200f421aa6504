package recon

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BearBump/ReconBox/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type BatchReport struct {
	BatchID  string                `json:"batchId"`
	Total    int                   `json:"total"`
	Updated  int                   `json:"updated"`
	Failed   int                   `json:"failed"`
	Outcomes []models.ReconOutcome `json:"outcomes"`
}

// ReconcileBatch обновляет пачку доставок. Единица изоляции сбоев — перевозчик:
// партиции независимы, падение одной не трогает остальные.
func (s *Service) ReconcileBatch(ctx context.Context, deliveryIDs []uint64, carrierFilter string) (*BatchReport, error) {
	if len(deliveryIDs) == 0 {
		return nil, errors.New("deliveryIds is empty")
	}
	if len(deliveryIDs) > 10_000 {
		return nil, errors.New("too many deliveryIds (max 10000)")
	}

	report := &BatchReport{BatchID: uuid.NewString()}

	deliveries, err := s.repo.ListDeliveriesByIDs(ctx, deliveryIDs)
	if err != nil {
		return nil, errors.Wrap(err, "list deliveries")
	}
	carrierFilter = strings.ToUpper(strings.TrimSpace(carrierFilter))

	found := make(map[uint64]struct{}, len(deliveries))
	partitions := make(map[string][]*models.Delivery)
	var preOutcomes []models.ReconOutcome

	for _, d := range deliveries {
		found[d.ID] = struct{}{}
		if carrierFilter != "" && d.CarrierCode != carrierFilter {
			continue
		}
		if d.AWBNumber == nil || *d.AWBNumber == "" {
			preOutcomes = append(preOutcomes, models.ReconOutcome{
				DeliveryID:  d.ID,
				Success:     false,
				ErrorReason: "awb not assigned",
			})
			continue
		}
		partitions[d.CarrierCode] = append(partitions[d.CarrierCode], d)
	}
	seen := make(map[uint64]struct{}, len(deliveryIDs))
	for _, id := range deliveryIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := found[id]; !ok {
			preOutcomes = append(preOutcomes, models.ReconOutcome{
				DeliveryID:  id,
				Success:     false,
				ErrorReason: "not found",
			})
		}
	}

	codes := make([]string, 0, len(partitions))
	for code := range partitions {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	// Каждая партиция пишет только свой слот: мердж без блокировок.
	perPartition := make([][]models.ReconOutcome, len(codes))
	g, gctx := errgroup.WithContext(ctx)
	for i, code := range codes {
		i, code := i, code
		g.Go(func() error {
			perPartition[i] = s.reconcilePartition(gctx, code, partitions[code])
			return nil
		})
	}
	_ = g.Wait()

	report.Outcomes = append(report.Outcomes, preOutcomes...)
	for _, out := range perPartition {
		report.Outcomes = append(report.Outcomes, out...)
	}
	report.Total = len(report.Outcomes)
	for _, o := range report.Outcomes {
		if o.Success {
			report.Updated++
		} else {
			report.Failed++
		}
	}
	return report, nil
}

// reconcilePartition обрабатывает доставки одного перевозчика. Любая ошибка
// превращается в исходы, наружу ошибки не выходят.
func (s *Service) reconcilePartition(ctx context.Context, code string, items []*models.Delivery) []models.ReconOutcome {
	failAll := func(reason string) []models.ReconOutcome {
		out := make([]models.ReconOutcome, 0, len(items))
		for _, d := range items {
			out = append(out, models.ReconOutcome{
				DeliveryID:  d.ID,
				AWBNumber:   *d.AWBNumber,
				Success:     false,
				ErrorReason: reason,
			})
		}
		return out
	}

	cfg, ok := s.carriers[code]
	if !ok || !cfg.Usable() {
		return failAll("not configured")
	}
	adapter, err := s.registry.Get(code)
	if err != nil {
		return failAll("not configured")
	}

	s.throttle(ctx, code, cfg.RateLimitPerMinute)

	callCtx, cancel := context.WithTimeout(ctx, s.adapterTimeout)
	defer cancel()

	// Аутентификация один раз на партицию, не на отправление.
	sess, err := adapter.Authenticate(callCtx)
	if err != nil {
		slog.Warn("partition auth failed", "carrier", code, "error", err.Error())
		return failAll("auth failed: " + err.Error())
	}

	awbs := make([]string, 0, len(items))
	for _, d := range items {
		awbs = append(awbs, *d.AWBNumber)
	}
	byAWB, err := adapter.FetchTrackingBulk(callCtx, sess, awbs)
	if err != nil {
		slog.Warn("partition bulk fetch failed", "carrier", code, "error", err.Error())
		return failAll("bulk fetch failed: " + err.Error())
	}

	now := time.Now().UTC()
	out := make([]models.ReconOutcome, 0, len(items))
	for _, d := range items {
		raw, ok := byAWB[*d.AWBNumber]
		if !ok {
			// Перевозчик не знает этот AWB: сохранённый статус не трогаем.
			out = append(out, models.ReconOutcome{
				DeliveryID:  d.ID,
				AWBNumber:   *d.AWBNumber,
				Success:     false,
				ErrorReason: "no tracking data",
			})
			continue
		}
		res := normalize(code, raw)
		if err := s.persist(ctx, d, now, res); err != nil {
			out = append(out, models.ReconOutcome{
				DeliveryID:  d.ID,
				AWBNumber:   *d.AWBNumber,
				Success:     false,
				ErrorReason: err.Error(),
			})
			continue
		}
		applied := appliedStatus(d.Status, res.Status)
		out = append(out, models.ReconOutcome{
			DeliveryID: d.ID,
			AWBNumber:  *d.AWBNumber,
			Status:     applied,
			Success:    true,
		})
		s.InvalidateCurrent(ctx, d.ID)
	}
	return out
}

// throttle — минутное окно на перевозчика через redis. Превышение лимита не
// роняет партицию, только притормаживает её.
func (s *Service) throttle(ctx context.Context, code string, perMinute int) {
	if s.rl == nil || perMinute <= 0 {
		return
	}
	key := fmt.Sprintf("rl:carrier:%s:%s", code, time.Now().UTC().Format("200601021504"))
	allowed, n, err := s.rl.Allow(ctx, key, int64(perMinute), 70*time.Second)
	if err != nil {
		return
	}
	if !allowed {
		slog.Warn("rate limit exceeded", "carrier", code, "count", n)
		time.Sleep(500 * time.Millisecond)
	}
}
