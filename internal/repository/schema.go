package repository

import (
	"strconv"

	"PerpCast/internal/domain/models"
)

// RecordColumns builds the persisted column set for a run: timestamp, raw
// feature values, per-model per-horizon probabilities, blended and calibrated
// probabilities, then realized outcomes. The set is fixed once the sinks are
// constructed; a different model or horizon configuration is a new schema and
// therefore a new file/table.
func RecordColumns(modelNames []string, horizons []models.Horizon) []string {
	cols := []string{"wall_time_iso"}
	cols = append(cols, models.FeatureNames()...)
	for _, m := range modelNames {
		for _, h := range horizons {
			cols = append(cols, "p_"+m+"_"+h.Label())
		}
	}
	for _, h := range horizons {
		cols = append(cols, "p_fused_"+h.Label())
	}
	for _, h := range horizons {
		cols = append(cols, "p_fused_cal_"+h.Label())
	}
	for _, h := range horizons {
		cols = append(cols, "realized_ret_"+h.Label(), "realized_up_"+h.Label())
	}
	return cols
}

// formatFloat renders a value with the shortest round-tripping decimal form,
// so re-reading the record reproduces the exact float.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// estimateField renders a probability or the empty unavailable marker.
func estimateField(e models.Estimate) string {
	if !e.Available {
		return ""
	}
	return formatFloat(e.Prob)
}

// outcomeFields renders (realized_ret, realized_up); pending and permanently
// unresolved horizons both stay blank, distinguishable from resolved rows.
func outcomeFields(o *models.Outcome) (string, string) {
	if o == nil || o.Status != models.OutcomeResolved {
		return "", ""
	}
	up := "0"
	if o.Up {
		up = "1"
	}
	return formatFloat(o.Return), up
}
