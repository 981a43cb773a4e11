package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"PerpCast/internal/domain/models"
	domrepo "PerpCast/internal/domain/repository"
)

// ClickHouseRecordStore mirrors prediction rows into ClickHouse so
// calibration analysis can query them with SQL instead of re-parsing the
// CSV. It is a mirror, never a recovery source: the engine only writes here.
type ClickHouseRecordStore struct {
	db       *sql.DB
	table    string
	insert   string
	models   []string
	horizons []models.Horizon
}

// NewClickHouseRecordStore builds a sink for the given table. The table is
// expected to exist (see RecordSchemaDDL, applied by the ClickHouse provider
// at startup).
func NewClickHouseRecordStore(db *sql.DB, table string, modelNames []string, horizons []models.Horizon) domrepo.RecordSink {
	cols := RecordColumns(modelNames, horizons)
	// wall_time_iso becomes the ts column in ClickHouse.
	cols[0] = "ts"
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return &ClickHouseRecordStore{
		db:       db,
		table:    table,
		insert:   fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders),
		models:   modelNames,
		horizons: horizons,
	}
}

// RecordSchemaDDL returns the CREATE TABLE statement matching RecordColumns.
func RecordSchemaDDL(table string, modelNames []string, horizons []models.Horizon) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (ts DateTime64(3, 'UTC')", table)
	for _, f := range models.FeatureNames() {
		fmt.Fprintf(&b, ", %s Float64", f)
	}
	for _, m := range modelNames {
		for _, h := range horizons {
			fmt.Fprintf(&b, ", p_%s_%s Nullable(Float64)", m, h.Label())
		}
	}
	for _, h := range horizons {
		fmt.Fprintf(&b, ", p_fused_%s Nullable(Float64)", h.Label())
	}
	for _, h := range horizons {
		fmt.Fprintf(&b, ", p_fused_cal_%s Nullable(Float64)", h.Label())
	}
	for _, h := range horizons {
		fmt.Fprintf(&b, ", realized_ret_%s Nullable(Float64), realized_up_%s Nullable(UInt8)", h.Label(), h.Label())
	}
	b.WriteString(") ENGINE=MergeTree ORDER BY ts")
	return b.String()
}

func (s *ClickHouseRecordStore) Append(ctx context.Context, row *models.PredictionRow) error {
	args := make([]interface{}, 0, 1+len(row.Feature.Values))
	args = append(args, row.Time.UTC())
	for _, v := range row.Feature.Values {
		args = append(args, v)
	}
	for _, m := range s.models {
		for _, h := range s.horizons {
			args = append(args, nullableProb(row.ModelEstimate(m, h)))
		}
	}
	for _, h := range s.horizons {
		args = append(args, nullableProb(row.Fused[h]))
	}
	for _, h := range s.horizons {
		args = append(args, nullableProb(row.FusedCal[h]))
	}
	for _, h := range s.horizons {
		ret, up := nullableOutcome(row.Outcomes[h])
		args = append(args, ret, up)
	}

	if _, err := s.db.ExecContext(ctx, s.insert, args...); err != nil {
		return fmt.Errorf("clickhouse insert: %w", err)
	}
	return nil
}

func (s *ClickHouseRecordStore) Close() error {
	return nil // connection pool owned by pkg/clickhouse
}

func nullableProb(e models.Estimate) interface{} {
	if !e.Available {
		return nil
	}
	return e.Prob
}

func nullableOutcome(o *models.Outcome) (interface{}, interface{}) {
	if o == nil || o.Status != models.OutcomeResolved {
		return nil, nil
	}
	up := uint8(0)
	if o.Up {
		up = 1
	}
	return o.Return, up
}
