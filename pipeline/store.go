package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/aluiziolira/go-order-export/models"
)

const utf8BOM = "\ufeff"

// ErrMalformedStore is returned by readStore when the file cannot be used.
var ErrMalformedStore = errors.New("malformed record store")

// Store is the durable, deduplicated set of exported orders. The CSV file at
// path is the source of truth; mirrorPath, when set, receives a JSONL copy.
type Store struct {
	path       string
	mirrorPath string

	records  []*models.Order
	ids      map[string]struct{}
	appended int
	corrupt  bool

	metrics *metrics
}

// NewStore creates a store backed by the CSV file at path. Pass an empty
// mirrorPath to write CSV only.
func NewStore(path, mirrorPath string) *Store {
	return &Store{
		path:       path,
		mirrorPath: mirrorPath,
		ids:        make(map[string]struct{}),
		metrics:    newMetrics(),
	}
}

// Path returns the CSV location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the existing record file. A missing or unreadable file yields an
// empty store; it is never fatal. The returned KnownSet is a private copy the
// caller may grow during a walk.
func (s *Store) Load() (*KnownSet, []*models.Order) {
	s.records = nil
	s.ids = make(map[string]struct{})
	s.appended = 0
	s.corrupt = false

	records, err := readStore(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("no existing record file, starting fresh", slog.String("path", s.path))
	case err != nil:
		s.corrupt = true
		slog.Warn("existing record file unusable, starting empty",
			slog.String("path", s.path),
			slog.Any("error", err),
		)
	}

	known := NewKnownSet()
	for _, order := range records {
		if _, ok := s.ids[order.OrderID]; ok {
			continue
		}
		s.ids[order.OrderID] = struct{}{}
		s.records = append(s.records, order)
		known.Mark(order.OrderID)
	}

	if len(s.records) > 0 {
		slog.Info("loaded existing records",
			slog.String("path", s.path),
			slog.Int("records", len(s.records)),
		)
	}

	return known, s.Records()
}

// Append merges orders with first-write-wins semantics and returns how many
// were actually added.
func (s *Store) Append(orders []*models.Order) int {
	added := 0
	for _, order := range orders {
		prepared := s.prepare(order)
		if prepared == nil {
			continue
		}
		s.ids[prepared.OrderID] = struct{}{}
		s.records = append(s.records, prepared)
		added++
	}
	s.appended += added
	return added
}

// Records returns a copy of the record slice in store order.
func (s *Store) Records() []*models.Order {
	out := make([]*models.Order, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records held.
func (s *Store) Len() int {
	return len(s.records)
}

// Pending returns how many records were appended since Load.
func (s *Store) Pending() int {
	return s.appended
}

// GetMetrics returns merge counters.
func (s *Store) GetMetrics() map[string]interface{} {
	return s.metrics.snapshot()
}

// Persist rewrites the record file with the full merged set. It does nothing
// when no record was appended since Load. The file is replaced atomically;
// an unusable previous file is kept next to it with a .bak suffix.
func (s *Store) Persist() error {
	if s.appended == 0 {
		slog.Debug("no new records, record file left untouched", slog.String("path", s.path))
		return nil
	}

	csvTmp := s.path + ".tmp"
	jsonTmp := ""
	var writer OutputWriter
	var err error
	if s.mirrorPath != "" {
		jsonTmp = s.mirrorPath + ".tmp"
		writer, err = NewDualWriter(csvTmp, jsonTmp)
	} else {
		writer, err = NewCSVWriter(csvTmp)
	}
	if err != nil {
		return fmt.Errorf("open temp output: %w", err)
	}

	cleanup := func() {
		os.Remove(csvTmp)
		if jsonTmp != "" {
			os.Remove(jsonTmp)
		}
	}

	if err := writer.Write(s.records); err != nil {
		writer.Close()
		cleanup()
		return fmt.Errorf("write records: %w", err)
	}
	if err := writer.Validate(len(s.records)); err != nil {
		writer.Close()
		cleanup()
		return fmt.Errorf("validate output: %w", err)
	}
	if err := writer.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close output: %w", err)
	}

	if s.corrupt {
		backup := s.path + ".bak"
		if err := os.Rename(s.path, backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
			cleanup()
			return fmt.Errorf("back up unusable record file: %w", err)
		}
		slog.Warn("previous record file moved aside", slog.String("backup", backup))
		s.corrupt = false
	}

	if err := os.Rename(csvTmp, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace record file: %w", err)
	}
	if jsonTmp != "" {
		if err := os.Rename(jsonTmp, s.mirrorPath); err != nil {
			os.Remove(jsonTmp)
			return fmt.Errorf("replace json mirror: %w", err)
		}
	}

	slog.Info("records persisted",
		slog.String("path", s.path),
		slog.Int("records", len(s.records)),
		slog.Int("new", s.appended),
	)
	s.appended = 0
	return nil
}

func readStore(path string) ([]*models.Order, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformedStore, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, utf8BOM)
		}
		columns[strings.TrimSpace(name)] = i
	}
	if _, ok := columns[Header[0]]; !ok {
		return nil, fmt.Errorf("%w: missing %q column", ErrMalformedStore, Header[0])
	}

	field := func(row []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var orders []*models.Order
	skipped := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedStore, err)
		}

		id := field(row, "Order ID")
		if id == "" {
			skipped++
			continue
		}
		orders = append(orders, &models.Order{
			OrderID:      id,
			Date:         field(row, "Date"),
			Counterparty: field(row, "User"),
			Status:       field(row, "Status"),
			Total:        field(row, "Total"),
			Type:         models.OrderType(field(row, "Type")),
		})
	}

	if skipped > 0 {
		slog.Debug("skipped stored rows without order id", slog.Int("rows", skipped))
	}
	return orders, nil
}
