package pipeline

import (
	"sync"

	"github.com/aluiziolira/go-order-export/models"
	"github.com/aluiziolira/go-order-export/parser"
)

// OutputWriter receives the full record set on persist. Validate reports
// whether the written output holds exactly want records.
type OutputWriter interface {
	Write(orders []*models.Order) error
	Validate(want int) error
	Close() error
}

// prepare validates and normalises an order before it joins the store.
// It returns nil for records that must not be merged.
func (s *Store) prepare(order *models.Order) *models.Order {
	if err := parser.ValidateOrder(order); err != nil {
		s.metrics.addValidation("invalid_record")
		return nil
	}
	if _, ok := s.ids[order.OrderID]; ok {
		s.metrics.addValidation("duplicate_id")
		return nil
	}

	prepared := *order
	prepared.Date = parser.NormalizeText(prepared.Date)
	prepared.Counterparty = parser.NormalizeText(prepared.Counterparty)
	prepared.Status = parser.NormalizeText(prepared.Status)
	prepared.Total = parser.NormalizeText(prepared.Total)

	s.metrics.incrementMerged()
	return &prepared
}

type metrics struct {
	mu         sync.Mutex
	merged     int64
	validation map[string]int
}

func newMetrics() *metrics {
	return &metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementMerged() {
	m.mu.Lock()
	m.merged++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"merged_orders":     m.merged,
		"validation_errors": copyValidation,
	}
}
