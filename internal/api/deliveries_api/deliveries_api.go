// Package deliveries_api exposes the reconciliation service over HTTP JSON.
package deliveries_api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/BearBump/ReconBox/internal/models"
	"github.com/BearBump/ReconBox/internal/services/recon"
	"github.com/BearBump/ReconBox/internal/storage/pgdelivery"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

type DeliveriesAPI struct {
	svc *recon.Service
}

func New(svc *recon.Service) *DeliveriesAPI {
	return &DeliveriesAPI{svc: svc}
}

func (a *DeliveriesAPI) Routes(r chi.Router) {
	r.Get("/v1/deliveries/track", a.track)
	r.Post("/v1/deliveries/track/batch", a.trackBatch)
	r.Get("/v1/deliveries/{deliveryId}/events", a.listEvents)
}

// track выполняет одиночную сверку. Ровно один из параметров deliveryId/awb.
func (a *DeliveriesAPI) track(w http.ResponseWriter, r *http.Request) {
	ref := recon.Ref{AWB: r.URL.Query().Get("awb")}
	if raw := r.URL.Query().Get("deliveryId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "deliveryId must be a positive integer")
			return
		}
		ref.DeliveryID = id
	}

	resp, err := a.svc.Reconcile(r.Context(), ref)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type batchRequest struct {
	DeliveryIDs []uint64 `json:"deliveryIds"`
	CarrierCode string   `json:"carrierCode,omitempty"`
}

func (a *DeliveriesAPI) trackBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.DeliveryIDs) == 0 {
		writeError(w, http.StatusBadRequest, "deliveryIds is required")
		return
	}

	report, err := a.svc.ReconcileBatch(r.Context(), req.DeliveryIDs, req.CarrierCode)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type eventsResponse struct {
	DeliveryID uint64                  `json:"deliveryId"`
	Events     []*models.DeliveryEvent `json:"events"`
}

func (a *DeliveriesAPI) listEvents(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "deliveryId"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "deliveryId must be a positive integer")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	events, err := a.svc.ListDeliveryEvents(r.Context(), id, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if events == nil {
		events = []*models.DeliveryEvent{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{DeliveryID: id, Events: events})
}

// writeServiceError переводит ошибки сервиса в HTTP-коды. Деградированные
// ответы сюда не попадают: сервис отдаёт их как успех с live=false.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, recon.ErrBadRef):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pgdelivery.ErrNotFound):
		writeError(w, http.StatusNotFound, "delivery not found")
	case errors.Is(err, recon.ErrAwbNotAssigned):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
