// Package pipeline holds the order record store and its output writers.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-order-export/models"
)

// DualWriter writes the CSV record store and its JSONL mirror in one pass.
type DualWriter struct {
	csv  *CSVWriter
	json *JSONWriter
}

// NewDualWriter opens both outputs. Nothing is left open on failure.
func NewDualWriter(csvPath, jsonPath string) (*DualWriter, error) {
	cw, err := NewCSVWriter(csvPath)
	if err != nil {
		return nil, err
	}
	jw, err := NewJSONWriter(jsonPath)
	if err != nil {
		cw.Close()
		return nil, err
	}
	return &DualWriter{csv: cw, json: jw}, nil
}

func (dw *DualWriter) Write(orders []*models.Order) error {
	if err := dw.csv.Write(orders); err != nil {
		return err
	}
	return dw.json.Write(orders)
}

// Validate checks both files; the mirror must match the store row for row.
func (dw *DualWriter) Validate(want int) error {
	return errors.Join(dw.csv.Validate(want), dw.json.Validate(want))
}

func (dw *DualWriter) Close() error {
	var errs []error
	if err := dw.csv.Close(); err != nil {
		errs = append(errs, fmt.Errorf("csv: %w", err))
	}
	if err := dw.json.Close(); err != nil {
		errs = append(errs, fmt.Errorf("jsonl: %w", err))
	}
	return errors.Join(errs...)
}
