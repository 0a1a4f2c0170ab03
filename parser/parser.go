package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-order-export/models"
)

// ValidateOrder ensures the extractor captured the fields a record needs.
func ValidateOrder(o *models.Order) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}
	if strings.TrimSpace(o.OrderID) == "" {
		return fmt.Errorf("order missing id")
	}
	if _, ok := models.ParseOrderType(string(o.Type)); !ok {
		return fmt.Errorf("order %s has invalid type %q", o.OrderID, o.Type)
	}
	return nil
}

// NormalizeText collapses runs of whitespace and trims the result.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
