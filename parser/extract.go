// Package parser turns marketplace listing pages into order records.
package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-order-export/models"
)

// Listing markup.
const (
	containerSelector = "div.table-body"
	rowSelector       = "div.row"
	idSelector        = ".col-orderId"
	dateSelector      = ".col-date"
	userSelector      = ".col-user"
	statusSelector    = ".col-status"
	totalSelector     = ".col-total"
	nextPageSelector  = `a[aria-label="Next Page"]`
)

// Page is the structured content of one listing page.
type Page struct {
	Orders         []*models.Order
	HasNext        bool
	RowCount       int
	Skipped        int
	ContainerFound bool
	LoggedIn       bool
}

// ExtractPage parses a listing page. A missing listing container yields an
// empty page rather than an error. Rows without an order id are skipped.
// Orders keep the page's row order.
func ExtractPage(raw []byte, kind models.ListingKind) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	page := &Page{
		LoggedIn: loggedIn(doc),
		HasNext:  doc.Find(nextPageSelector).Length() > 0,
	}

	container := doc.Find(containerSelector).First()
	if container.Length() == 0 {
		return page, nil
	}
	page.ContainerFound = true

	orderType := kind.OrderType()
	container.Find(rowSelector).Each(func(_ int, row *goquery.Selection) {
		page.RowCount++
		order := extractOrder(row, orderType)
		if order == nil {
			page.Skipped++
			return
		}
		page.Orders = append(page.Orders, order)
	})

	return page, nil
}

func extractOrder(row *goquery.Selection, orderType models.OrderType) *models.Order {
	id := fieldText(row, idSelector)
	if id == "" {
		return nil
	}
	return &models.Order{
		OrderID:      id,
		Date:         fieldText(row, dateSelector),
		Counterparty: fieldText(row, userSelector),
		Status:       fieldText(row, statusSelector),
		Total:        fieldText(row, totalSelector),
		Type:         orderType,
	}
}

func fieldText(row *goquery.Selection, selector string) string {
	return NormalizeText(row.Find(selector).First().Text())
}

// IsLoggedIn reports whether the page offers a logout affordance. This is
// the only session liveness signal: the marketplace answers 200 on its
// login wall too.
func IsLoggedIn(raw []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return false
	}
	return loggedIn(doc)
}

func loggedIn(doc *goquery.Document) bool {
	found := false
	doc.Find("a[href], form[action]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		target := s.AttrOr("href", s.AttrOr("action", ""))
		if strings.Contains(strings.ToLower(target), "logout") {
			found = true
			return false
		}
		return true
	})
	return found
}

var challengeTitles = []string{
	"attention required",
	"just a moment",
	"access denied",
	"verify you are human",
}

var challengeSelectors = []string{
	"#challenge-form",
	"#cf-challenge-running",
	"#captcha",
	"#captchacharacters",
	"form[action*='challenge']",
	"form[action*='captcha']",
	"iframe[src*='challenges.cloudflare.com']",
	"iframe[src*='captcha']",
	"div[data-sitekey]",
}

// IsChallenge reports whether the page is a bot-mitigation interstitial.
func IsChallenge(raw []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return false
	}

	title := strings.ToLower(doc.Find("title").First().Text())
	for _, marker := range challengeTitles {
		if strings.Contains(title, marker) {
			return true
		}
	}
	for _, selector := range challengeSelectors {
		if doc.Find(selector).Length() > 0 {
			return true
		}
	}
	return strings.Contains(strings.ToLower(doc.Find("body").Text()), "verify you are human")
}
