package repository

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"PerpCast/internal/domain/models"
	domrepo "PerpCast/internal/domain/repository"
)

// CSVRecordStore is the durable append-only record: one row per tick, column
// set frozen at construction. An existing file must carry the identical
// header (schema changes require a new file, never implicit column edits),
// so a restarted process appends safely without duplicating or shifting
// columns.
type CSVRecordStore struct {
	mu       sync.Mutex
	file     *os.File
	w        *csv.Writer
	columns  []string
	models   []string
	horizons []models.Horizon
}

// NewCSVRecordStore opens (or creates) the record file at path for the given
// model and horizon configuration.
func NewCSVRecordStore(path string, modelNames []string, horizons []models.Horizon) (*CSVRecordStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("record dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("record open: %w", err)
	}

	s := &CSVRecordStore{
		file:     file,
		w:        csv.NewWriter(file),
		columns:  RecordColumns(modelNames, horizons),
		models:   modelNames,
		horizons: horizons,
	}
	if err := s.ensureHeader(); err != nil {
		_ = file.Close()
		return nil, err
	}
	return s, nil
}

// ensureHeader writes the header into an empty file or verifies an existing
// one matches the configured schema exactly.
func (s *CSVRecordStore) ensureHeader() error {
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("record stat: %w", err)
	}
	if info.Size() == 0 {
		if err := s.w.Write(s.columns); err != nil {
			return fmt.Errorf("record header: %w", err)
		}
		s.w.Flush()
		return s.w.Error()
	}

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("record seek: %w", err)
	}
	header, err := csv.NewReader(s.file).Read()
	if err != nil {
		return fmt.Errorf("record header read: %w", err)
	}
	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("record seek: %w", err)
	}
	if len(header) != len(s.columns) {
		return fmt.Errorf("%w: file has %d columns, config needs %d",
			models.ErrSchemaMismatch, len(header), len(s.columns))
	}
	for i := range header {
		if header[i] != s.columns[i] {
			return fmt.Errorf("%w: column %d is %q, config needs %q",
				models.ErrSchemaMismatch, i, header[i], s.columns[i])
		}
	}
	return nil
}

// Append writes one row and flushes it to the OS.
func (s *CSVRecordStore) Append(ctx context.Context, row *models.PredictionRow) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("record store closed")
	}

	rec := make([]string, 0, len(s.columns))
	rec = append(rec, row.Time.UTC().Format(time.RFC3339Nano))
	for _, v := range row.Feature.Values {
		rec = append(rec, formatFloat(v))
	}
	for _, m := range s.models {
		for _, h := range s.horizons {
			rec = append(rec, estimateField(row.ModelEstimate(m, h)))
		}
	}
	for _, h := range s.horizons {
		rec = append(rec, estimateField(row.Fused[h]))
	}
	for _, h := range s.horizons {
		rec = append(rec, estimateField(row.FusedCal[h]))
	}
	for _, h := range s.horizons {
		ret, up := outcomeFields(row.Outcomes[h])
		rec = append(rec, ret, up)
	}

	if err := s.w.Write(rec); err != nil {
		return fmt.Errorf("record write: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("record flush: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *CSVRecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	s.w.Flush()
	err := s.file.Close()
	s.file = nil
	if werr := s.w.Error(); werr != nil && err == nil {
		err = werr
	}
	return err
}

var _ domrepo.RecordSink = (*CSVRecordStore)(nil)
