// Package status translates carrier-native status text into the canonical
// delivery lifecycle. The tables are carrier-scoped: two carriers may use
// the same English word for different lifecycle points.
package status

import (
	"strings"

	"github.com/BearBump/ReconBox/internal/models"
)

// Unrecognized text maps to IN_TRANSIT. Отправление остаётся в видимом
// "живом" состоянии, а сырой текст сохраняется в событиях для разбора.
const Fallback = models.StatusInTransit

var carrierTables = map[string]map[string]models.Status{
	"DELHIVERY": {
		"manifested":       models.StatusManifested,
		"not picked":       models.StatusManifested,
		"picked up":        models.StatusShipped,
		"shipped":          models.StatusShipped,
		"in transit":       models.StatusInTransit,
		"pending":          models.StatusInTransit,
		"dispatched":       models.StatusOutForDelivery,
		"out for delivery": models.StatusOutForDelivery,
		"delivered":        models.StatusDelivered,
		"rto":              models.StatusRTOInitiated,
		"rto initiated":    models.StatusRTOInitiated,
		"rto in transit":   models.StatusRTOInTransit,
		"returned":         models.StatusRTODelivered,
		"rto delivered":    models.StatusRTODelivered,
		"canceled":         models.StatusCancelled,
		"cancelled":        models.StatusCancelled,
	},
	"SHIPROCKET": {
		"new":                  models.StatusManifested,
		"awb assigned":         models.StatusManifested,
		"pickup scheduled":     models.StatusManifested,
		"pickup generated":     models.StatusManifested,
		"picked up":            models.StatusShipped,
		"shipped":              models.StatusShipped,
		"in transit":           models.StatusInTransit,
		"reached at destination hub": models.StatusInTransit,
		"out for delivery":     models.StatusOutForDelivery,
		"delivered":            models.StatusDelivered,
		"rto initiated":        models.StatusRTOInitiated,
		"rto in transit":       models.StatusRTOInTransit,
		"rto delivered":        models.StatusRTODelivered,
		"cancelled":            models.StatusCancelled,
		"cancellation requested": models.StatusCancelled,
	},
}

// Map returns the canonical status for a carrier-native status string.
// It never fails: unknown carriers and unknown text both resolve to Fallback.
func Map(carrierCode, raw string) models.Status {
	table, ok := carrierTables[strings.ToUpper(strings.TrimSpace(carrierCode))]
	if !ok {
		return Fallback
	}
	if st, ok := table[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return st
	}
	return Fallback
}

// Known reports whether the carrier has a mapping table at all.
// Используется только в тестах/диагностике, на поведение Map не влияет.
func Known(carrierCode string) bool {
	_, ok := carrierTables[strings.ToUpper(strings.TrimSpace(carrierCode))]
	return ok
}
