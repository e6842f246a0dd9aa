package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	DefaultDetectionLimit = 100
	MaxDetectionLimit     = 1000
)

// DetectionRecord is one row of the detections table.
type DetectionRecord struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Label      string    `json:"label"`
	ClassIndex int       `json:"class_index"`
	Confidence float64   `json:"confidence"`
	ImagePath  string    `json:"image_path"`
}

// RecordDetection inserts a detection. The frame at ImagePath must already
// be on disk.
func (db *DB) RecordDetection(ctx context.Context, d DetectionRecord) error {
	if d.ID == "" {
		return errors.New("detection id is required")
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO detections (
			detection_id, ts_unix_nanos, label, class_index, confidence, image_path
		) VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Timestamp.UnixNano(), d.Label, d.ClassIndex, d.Confidence, d.ImagePath,
	)
	if err != nil {
		return fmt.Errorf("insert detection %s: %w", d.ID, err)
	}
	return nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultDetectionLimit
	case limit > MaxDetectionLimit:
		return MaxDetectionLimit
	}
	return limit
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDetection(s scanner) (DetectionRecord, error) {
	var (
		d     DetectionRecord
		nanos int64
	)
	if err := s.Scan(&d.ID, &nanos, &d.Label, &d.ClassIndex, &d.Confidence, &d.ImagePath); err != nil {
		return DetectionRecord{}, err
	}
	d.Timestamp = time.Unix(0, nanos).UTC()
	return d, nil
}

// Detections returns up to limit detections, newest first.
func (db *DB) Detections(ctx context.Context, limit int) ([]DetectionRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT detection_id, ts_unix_nanos, label, class_index, confidence, image_path
		FROM detections ORDER BY ts_unix_nanos DESC, rowid DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DetectionRecord
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Detection looks up a single detection by id.
func (db *DB) Detection(ctx context.Context, id string) (DetectionRecord, error) {
	row := db.QueryRowContext(ctx,
		`SELECT detection_id, ts_unix_nanos, label, class_index, confidence, image_path
		FROM detections WHERE detection_id = ?`, id)
	d, err := scanDetection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return DetectionRecord{}, fmt.Errorf("detection %s: %w", id, ErrNotFound)
	}
	return d, err
}

// DetectionCounts returns the number of detections per label.
func (db *DB) DetectionCounts(ctx context.Context) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT label, COUNT(*) FROM detections GROUP BY label`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			label string
			n     int
		)
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		counts[label] = n
	}
	return counts, rows.Err()
}

// Confidences returns the classifier confidence of every detection with the
// given label, or of all detections when label is empty.
func (db *DB) Confidences(ctx context.Context, label string) ([]float64, error) {
	query := `SELECT confidence FROM detections`
	var args []any
	if label != "" {
		query += ` WHERE label = ?`
		args = append(args, label)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ConfidenceStats summarises detection confidences for one label.
type ConfidenceStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
	Max    float64 `json:"max"`
}

// SummariseConfidences computes ConfidenceStats. The input is not modified.
func SummariseConfidences(values []float64) ConfidenceStats {
	if len(values) == 0 {
		return ConfidenceStats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	s := ConfidenceStats{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P50:   stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P90:   stat.Quantile(0.9, stat.Empirical, sorted, nil),
	}
	if len(sorted) > 1 {
		s.Mean, s.StdDev = stat.MeanStdDev(sorted, nil)
	} else {
		s.Mean = sorted[0]
	}
	return s
}

// DetectionStats returns confidence statistics per label.
func (db *DB) DetectionStats(ctx context.Context) (map[string]ConfidenceStats, error) {
	rows, err := db.QueryContext(ctx, `SELECT label, confidence FROM detections`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byLabel := make(map[string][]float64)
	for rows.Next() {
		var (
			label string
			c     float64
		)
		if err := rows.Scan(&label, &c); err != nil {
			return nil, err
		}
		byLabel[label] = append(byLabel[label], c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]ConfidenceStats, len(byLabel))
	for label, values := range byLabel {
		out[label] = SummariseConfidences(values)
	}
	return out, nil
}
