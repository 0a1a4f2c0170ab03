package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/aluiziolira/go-order-export/models"
)

// Header is the record store's column order.
var Header = []string{"Order ID", "Date", "User", "Status", "Total", "Type"}

// ErrShortWrite means an output file does not hold every record it was given.
var ErrShortWrite = errors.New("output holds fewer records than expected")

func orderRecord(order *models.Order) []string {
	return []string{
		order.OrderID,
		order.Date,
		order.Counterparty,
		order.Status,
		order.Total,
		string(order.Type),
	}
}

// CSVWriter produces a complete record store file.
type CSVWriter struct {
	path string
	file *os.File
	csv  *csv.Writer
	rows int
}

// NewCSVWriter creates path and writes the header row.
func NewCSVWriter(path string) (*CSVWriter, error) {
	f, err := createOutput(path)
	if err != nil {
		return nil, err
	}
	cw := &CSVWriter{path: path, file: f, csv: csv.NewWriter(f)}
	if err := cw.csv.Write(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return cw, nil
}

// Write appends one row per order.
func (cw *CSVWriter) Write(orders []*models.Order) error {
	for _, order := range orders {
		if err := cw.csv.Write(orderRecord(order)); err != nil {
			return fmt.Errorf("write order %s: %w", order.OrderID, err)
		}
		cw.rows++
	}
	cw.csv.Flush()
	return cw.csv.Error()
}

// Validate reads the file back and checks that it starts with Header and
// holds exactly want orders.
func (cw *CSVWriter) Validate(want int) error {
	if cw.rows != want {
		return fmt.Errorf("%w: wrote %d of %d orders", ErrShortWrite, cw.rows, want)
	}
	cw.csv.Flush()
	if err := cw.csv.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	f, err := os.Open(cw.path)
	if err != nil {
		return fmt.Errorf("reopen csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = len(Header)
	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("read back csv: %w", err)
	}
	if len(records) == 0 || !slices.Equal(records[0], Header) {
		return fmt.Errorf("csv header missing from %s", cw.path)
	}
	if got := len(records) - 1; got != want {
		return fmt.Errorf("%w: %s has %d of %d orders", ErrShortWrite, cw.path, got, want)
	}
	return nil
}

// Close syncs and closes the file.
func (cw *CSVWriter) Close() error {
	cw.csv.Flush()
	if err := cw.csv.Error(); err != nil {
		cw.file.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := cw.file.Sync(); err != nil {
		cw.file.Close()
		return fmt.Errorf("sync csv: %w", err)
	}
	return cw.file.Close()
}

// JSONWriter produces the JSONL mirror, one order per line.
type JSONWriter struct {
	path  string
	file  *os.File
	buf   *bufio.Writer
	lines int
}

// NewJSONWriter creates path.
func NewJSONWriter(path string) (*JSONWriter, error) {
	f, err := createOutput(path)
	if err != nil {
		return nil, err
	}
	return &JSONWriter{path: path, file: f, buf: bufio.NewWriter(f)}, nil
}

// Write encodes one line per order.
func (jw *JSONWriter) Write(orders []*models.Order) error {
	enc := json.NewEncoder(jw.buf)
	for _, order := range orders {
		if err := enc.Encode(order); err != nil {
			return fmt.Errorf("encode order %s: %w", order.OrderID, err)
		}
		jw.lines++
	}
	return jw.buf.Flush()
}

// Validate counts the lines on disk.
func (jw *JSONWriter) Validate(want int) error {
	if jw.lines != want {
		return fmt.Errorf("%w: wrote %d of %d orders", ErrShortWrite, jw.lines, want)
	}
	if err := jw.buf.Flush(); err != nil {
		return fmt.Errorf("flush jsonl: %w", err)
	}

	f, err := os.Open(jw.path)
	if err != nil {
		return fmt.Errorf("reopen jsonl: %w", err)
	}
	defer f.Close()

	got := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if !json.Valid(scanner.Bytes()) {
			return fmt.Errorf("jsonl line %d is not valid json", got+1)
		}
		got++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read back jsonl: %w", err)
	}
	if got != want {
		return fmt.Errorf("%w: %s has %d of %d orders", ErrShortWrite, jw.path, got, want)
	}
	return nil
}

// Close flushes and closes the file.
func (jw *JSONWriter) Close() error {
	if err := jw.buf.Flush(); err != nil {
		jw.file.Close()
		return fmt.Errorf("flush jsonl: %w", err)
	}
	return jw.file.Close()
}

func createOutput(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}
