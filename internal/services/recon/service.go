package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/ReconBox/config"
	"github.com/BearBump/ReconBox/internal/broker/messages"
	"github.com/BearBump/ReconBox/internal/cache"
	"github.com/BearBump/ReconBox/internal/integrations/carrier"
	"github.com/BearBump/ReconBox/internal/models"
	"github.com/BearBump/ReconBox/internal/status"
	"github.com/BearBump/ReconBox/internal/storage/pgdelivery"
	"github.com/pkg/errors"
)

var (
	ErrAwbNotAssigned = errors.New("awb not assigned")
	ErrBadRef         = errors.New("exactly one of deliveryId or awb is required")
)

type Repository interface {
	GetDeliveryByID(ctx context.Context, id uint64) (*models.Delivery, error)
	GetDeliveryByAWB(ctx context.Context, awb string) (*models.Delivery, error)
	ListDeliveriesByIDs(ctx context.Context, ids []uint64) ([]*models.Delivery, error)
	ListDeliveryEvents(ctx context.Context, deliveryID uint64, limit, offset int) ([]*models.DeliveryEvent, error)
	ApplyReconUpdate(ctx context.Context, upd pgdelivery.ReconUpdate) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Ref идентифицирует доставку для одиночной сверки: ровно одно из полей.
type Ref struct {
	DeliveryID uint64
	AWB        string
}

// TrackingResponse is what a caller renders. Live=false plus LiveError is
// the degraded path: the stored record is authoritative, a failed carrier
// call is never a hard error.
type TrackingResponse struct {
	DeliveryID  uint64        `json:"deliveryId"`
	OrderID     uint64        `json:"orderId"`
	Carrier     string        `json:"carrier"`
	AWBNumber   string        `json:"awbNumber,omitempty"`
	TrackingURL string        `json:"trackingUrl,omitempty"`
	Status      models.Status `json:"status"`

	Live      bool   `json:"live"`
	LiveError string `json:"liveError,omitempty"`

	CurrentLocation  *string    `json:"currentLocation,omitempty"`
	ExpectedDelivery *time.Time `json:"expectedDelivery,omitempty"`

	LastReconciledAt *time.Time `json:"lastReconciledAt,omitempty"`

	Events []TrackingEventDTO `json:"events,omitempty"`
}

type TrackingEventDTO struct {
	Status      models.Status `json:"status"`
	StatusRaw   string        `json:"statusRaw"`
	EventTime   time.Time     `json:"eventTime"`
	Location    *string       `json:"location,omitempty"`
	Description *string       `json:"description,omitempty"`
}

type Service struct {
	repo     Repository
	registry *carrier.Registry
	carriers map[string]config.CarrierConfig

	producer Producer
	topic    string

	cache      cache.BytesCache
	currentTTL time.Duration

	rl RateLimiter

	planner *Planner

	// Доставки, сверенные моложе этого окна, не дергают перевозчика.
	freshness      time.Duration
	adapterTimeout time.Duration
}

func New(repo Repository, registry *carrier.Registry, carriers []config.CarrierConfig, producer Producer, topic string) *Service {
	byCode := make(map[string]config.CarrierConfig, len(carriers))
	for _, c := range carriers {
		byCode[c.Code] = c
	}
	return &Service{
		repo:           repo,
		registry:       registry,
		carriers:       byCode,
		producer:       producer,
		topic:          topic,
		planner:        DefaultPlanner(),
		adapterTimeout: 10 * time.Second,
	}
}

func (s *Service) WithCache(c cache.BytesCache, ttl time.Duration) *Service {
	s.cache = c
	s.currentTTL = ttl
	return s
}

func (s *Service) WithRateLimiter(rl RateLimiter) *Service {
	s.rl = rl
	return s
}

func (s *Service) WithFreshness(d time.Duration) *Service {
	if d > 0 {
		s.freshness = d
	}
	return s
}

func (s *Service) WithAdapterTimeout(d time.Duration) *Service {
	if d > 0 {
		s.adapterTimeout = d
	}
	return s
}

func (s *Service) WithPlanner(cfg PlannerConfig) *Service {
	s.planner = NewPlanner(cfg, nil)
	return s
}

// Reconcile выполняет одиночную сверку (§ жизненный цикл: best effort поверх
// авторитетной записи в БД).
func (s *Service) Reconcile(ctx context.Context, ref Ref) (*TrackingResponse, error) {
	d, err := s.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	if d.AWBNumber == nil || *d.AWBNumber == "" {
		return nil, errors.Wrapf(ErrAwbNotAssigned, "delivery %d", d.ID)
	}

	now := time.Now().UTC()

	// Терминальный статус больше не меняется; свежую запись не дергаем.
	if d.Status.IsTerminal() {
		return s.storedResponse(ctx, d, ""), nil
	}
	if s.freshness > 0 && d.LastReconciledAt != nil && now.Sub(*d.LastReconciledAt) < s.freshness {
		if resp := s.cachedResponse(ctx, d.ID); resp != nil {
			return resp, nil
		}
		return s.storedResponse(ctx, d, ""), nil
	}

	cfg, ok := s.carriers[d.CarrierCode]
	if !ok || !cfg.Usable() {
		return s.storedResponse(ctx, d, "carrier integration not configured"), nil
	}
	adapter, err := s.registry.Get(d.CarrierCode)
	if err != nil {
		return s.storedResponse(ctx, d, "carrier integration not configured"), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.adapterTimeout)
	defer cancel()

	sess, err := adapter.Authenticate(callCtx)
	if err != nil {
		s.recordFailure(ctx, d, now, err)
		return s.storedResponse(ctx, d, "live fetch failed: "+err.Error()), nil
	}
	raw, err := adapter.FetchTracking(callCtx, sess, *d.AWBNumber)
	if err != nil {
		s.recordFailure(ctx, d, now, err)
		return s.storedResponse(ctx, d, "live fetch failed: "+err.Error()), nil
	}

	res := normalize(d.CarrierCode, raw)
	if err := s.persist(ctx, d, now, res); err != nil {
		return nil, err
	}

	resp := &TrackingResponse{
		DeliveryID:       d.ID,
		OrderID:          d.OrderID,
		Carrier:          d.CarrierCode,
		AWBNumber:        *d.AWBNumber,
		Status:           appliedStatus(d.Status, res.Status),
		Live:             true,
		CurrentLocation:  res.CurrentLocation,
		ExpectedDelivery: res.ExpectedDelivery,
		LastReconciledAt: &now,
	}
	if d.TrackingURL != nil {
		resp.TrackingURL = *d.TrackingURL
	}
	for _, e := range res.Events {
		resp.Events = append(resp.Events, TrackingEventDTO{
			Status:      e.Status,
			StatusRaw:   e.StatusRaw,
			EventTime:   e.EventTime,
			Location:    e.Location,
			Description: e.Description,
		})
	}

	s.setCached(ctx, d.ID, resp)
	return resp, nil
}

func (s *Service) ListDeliveryEvents(ctx context.Context, deliveryID uint64, limit, offset int) ([]*models.DeliveryEvent, error) {
	if deliveryID == 0 {
		return nil, errors.New("deliveryId is required")
	}
	return s.repo.ListDeliveryEvents(ctx, deliveryID, limit, offset)
}

func (s *Service) resolve(ctx context.Context, ref Ref) (*models.Delivery, error) {
	switch {
	case ref.DeliveryID != 0 && ref.AWB != "":
		return nil, ErrBadRef
	case ref.DeliveryID != 0:
		return s.repo.GetDeliveryByID(ctx, ref.DeliveryID)
	case ref.AWB != "":
		return s.repo.GetDeliveryByAWB(ctx, ref.AWB)
	default:
		return nil, ErrBadRef
	}
}

// normalize переводит сырой ответ перевозчика в канонический результат.
// Неизвестный текст статуса всегда даёт IN_TRANSIT, см. status.Map.
func normalize(carrierCode string, raw carrier.RawTracking) models.TrackingResult {
	res := models.TrackingResult{
		Status:    status.Map(carrierCode, raw.StatusText),
		StatusRaw: raw.StatusText,
	}
	if raw.CurrentLocation != "" {
		loc := raw.CurrentLocation
		res.CurrentLocation = &loc
	}
	res.ExpectedDelivery = raw.ExpectedDelivery
	for _, e := range raw.Events {
		ev := &models.DeliveryEvent{
			Status:    status.Map(carrierCode, e.StatusText),
			StatusRaw: e.StatusText,
			EventTime: e.Time,
		}
		if e.Location != "" {
			l := e.Location
			ev.Location = &l
		}
		if e.Description != "" {
			d := e.Description
			ev.Description = &d
		}
		res.Events = append(res.Events, ev)
	}
	return res
}

// appliedStatus mirrors the store's no-regress guard so the response shows
// what actually got written, not what the carrier said.
func appliedStatus(stored, fetched models.Status) models.Status {
	if stored.IsTerminal() {
		return stored
	}
	return fetched
}

func (s *Service) persist(ctx context.Context, d *models.Delivery, now time.Time, res models.TrackingResult) error {
	upd := pgdelivery.ReconUpdate{
		DeliveryID:  d.ID,
		CheckedAt:   now,
		Status:      res.Status,
		NextCheckAt: now.Add(s.planner.NextCheckDelay(res.Status)),
		Events:      res.Events,
	}
	if err := s.repo.ApplyReconUpdate(ctx, upd); err != nil {
		return errors.Wrap(err, "apply recon update")
	}
	s.publish(ctx, d, res, now, upd.NextCheckAt)
	return nil
}

// recordFailure сохраняет бухгалтерию неудачной живой сверки. Ошибку записи
// глотаем: деградированный ответ всё равно отдаём.
func (s *Service) recordFailure(ctx context.Context, d *models.Delivery, now time.Time, cause error) {
	msg := cause.Error()
	upd := pgdelivery.ReconUpdate{
		DeliveryID:  d.ID,
		CheckedAt:   now,
		NextCheckAt: now.Add(s.planner.BackoffDelay(d.CheckFailCount + 1)),
		Error:       &msg,
	}
	if err := s.repo.ApplyReconUpdate(ctx, upd); err != nil {
		slog.Error("record recon failure", "delivery_id", d.ID, "error", err.Error())
	}
}

func (s *Service) publish(ctx context.Context, d *models.Delivery, res models.TrackingResult, now, nextCheckAt time.Time) {
	if s.producer == nil || s.topic == "" {
		return
	}
	msg := messages.DeliveryReconciled{
		DeliveryID:  fmt.Sprintf("%d", d.ID),
		OrderID:     fmt.Sprintf("%d", d.OrderID),
		Carrier:     d.CarrierCode,
		CheckedAt:   now,
		Status:      string(appliedStatus(d.Status, res.Status)),
		StatusRaw:   res.StatusRaw,
		NextCheckAt: nextCheckAt,
	}
	if d.AWBNumber != nil {
		msg.AWBNumber = *d.AWBNumber
	}
	for _, e := range res.Events {
		msg.Events = append(msg.Events, messages.ReconEvent{
			Status:    string(e.Status),
			StatusRaw: e.StatusRaw,
			EventTime: e.EventTime,
			Location:  e.Location,
			Message:   e.Description,
		})
	}

	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal kafka msg", "error", err.Error())
		return
	}
	// Публикация best-effort: проигранное сообщение не откатывает сверку.
	if err := s.producer.Publish(ctx, s.topic, []byte(msg.DeliveryID), b); err != nil {
		slog.Error("publish delivery.reconciled", "delivery_id", d.ID, "error", err.Error())
	}
}

func (s *Service) storedResponse(ctx context.Context, d *models.Delivery, liveError string) *TrackingResponse {
	resp := &TrackingResponse{
		DeliveryID:       d.ID,
		OrderID:          d.OrderID,
		Carrier:          d.CarrierCode,
		Status:           d.Status,
		Live:             false,
		LiveError:        liveError,
		LastReconciledAt: d.LastReconciledAt,
	}
	if d.AWBNumber != nil {
		resp.AWBNumber = *d.AWBNumber
	}
	if d.TrackingURL != nil {
		resp.TrackingURL = *d.TrackingURL
	}
	events, err := s.repo.ListDeliveryEvents(ctx, d.ID, 100, 0)
	if err == nil {
		for _, e := range events {
			resp.Events = append(resp.Events, TrackingEventDTO{
				Status:      e.Status,
				StatusRaw:   e.StatusRaw,
				EventTime:   e.EventTime,
				Location:    e.Location,
				Description: e.Description,
			})
		}
	}
	return resp
}

func currentKey(id uint64) string {
	return fmt.Sprintf("delivery:%d:current", id)
}

func (s *Service) cachedResponse(ctx context.Context, id uint64) *TrackingResponse {
	if s.cache == nil || s.currentTTL <= 0 {
		return nil
	}
	b, ok, err := s.cache.Get(ctx, currentKey(id))
	if err != nil || !ok {
		return nil
	}
	var resp TrackingResponse
	if json.Unmarshal(b, &resp) != nil {
		return nil
	}
	// Кэшированный ответ — не живой fetch.
	resp.Live = false
	return &resp
}

func (s *Service) setCached(ctx context.Context, id uint64, resp *TrackingResponse) {
	if s.cache == nil || s.currentTTL <= 0 {
		return
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, currentKey(id), b, s.currentTTL)
}

// InvalidateCurrent сбрасывает кэш текущего ответа; используется консьюмером
// kafka, когда sweeper обновил запись за спиной API.
func (s *Service) InvalidateCurrent(ctx context.Context, deliveryID uint64) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, currentKey(deliveryID))
}
