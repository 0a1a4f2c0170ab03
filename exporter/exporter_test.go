package exporter

import (
	"context"
	"encoding/csv"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/aluiziolira/go-order-export/config"
	"github.com/aluiziolira/go-order-export/models"
	"github.com/aluiziolira/go-order-export/pipeline"
	"github.com/aluiziolira/go-order-export/scraper"
	"github.com/aluiziolira/go-order-export/testutil"
	"github.com/google/go-cmp/cmp"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = "https://market.test"

const (
	purchasesPage = base + "/en/Magic/Orders/Received?site="
	salesPage     = base + "/en/Magic/Sales/Sent?site="
	probePage     = base + "/en/Magic/Orders/Received"
)

func newConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseURL = base
	cfg.Cookie = "PHPSESSID=abc123"
	cfg.UserAgent = "test-agent/1.0"
	cfg.Delay = 0
	cfg.Timeout = 5 * time.Second
	cfg.IncludePurchases = true
	cfg.IncludeSales = true
	cfg.OutputFile = filepath.Join(t.TempDir(), "orders.csv")
	require.NoError(t, cfg.Validate())
	return cfg
}

func html(body string) httpmock.Responder {
	return testutil.HTMLResponder(http.StatusOK, body)
}

func newExporter(t *testing.T, cfg *config.Config, transport *httpmock.MockTransport) *Exporter {
	t.Helper()
	s, err := scraper.NewScraper(cfg, scraper.WithTransport(transport))
	require.NoError(t, err)
	return New(cfg, pipeline.NewStore(cfg.OutputFile, ""), s)
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func typesByID(rows [][]string) map[string]string {
	out := make(map[string]string)
	for _, row := range rows[1:] {
		out[row[0]] = row[5]
	}
	return out
}

func TestRunMergesListings(t *testing.T) {
	cfg := newConfig(t)
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, probePage, html(testutil.ListingPage(nil, false)))
	transport.RegisterResponder(http.MethodGet, purchasesPage+"1", html(testutil.ListingPage([]testutil.Row{
		{ID: "P2", Date: "02.02.25", User: "seller", Status: "Arrived", Total: "4,00 €"},
		{ID: "P1", Date: "01.02.25", User: "seller", Status: "Arrived", Total: "2,00 €"},
	}, false)))
	transport.RegisterResponder(http.MethodGet, salesPage+"1", html(testutil.ListingPage([]testutil.Row{
		{ID: "S1", Date: "03.02.25", User: "buyer", Status: "Paid", Total: "9,99 €"},
	}, false)))

	summary, err := newExporter(t, cfg, transport).Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 3, summary.NewOrders)
	assert.Equal(t, 3, summary.TotalOrders)
	assert.True(t, summary.Persisted)
	require.Len(t, summary.Listings, 2)
	assert.Equal(t, models.Purchases, summary.Listings[0].Kind)
	assert.Equal(t, models.Sales, summary.Listings[1].Kind)

	rows := readRows(t, cfg.OutputFile)
	assert.Equal(t, []string{"Order ID", "Date", "User", "Status", "Total", "Type"}, rows[0])
	want := map[string]string{"P2": "Purchase", "P1": "Purchase", "S1": "Sale"}
	if diff := cmp.Diff(want, typesByID(rows)); diff != "" {
		t.Fatalf("types mismatch (-want +got):\n%s", diff)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	cfg := newConfig(t)
	cfg.IncludeSales = false
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, probePage, html(testutil.ListingPage(nil, false)))
	transport.RegisterResponder(http.MethodGet, purchasesPage+"1", html(testutil.ListingPage([]testutil.Row{
		{ID: "2", Date: "02.02.25"},
		{ID: "1", Date: "01.02.25"},
	}, false)))

	first, err := newExporter(t, cfg, transport).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.NewOrders)

	before, err := os.ReadFile(cfg.OutputFile)
	require.NoError(t, err)
	stat, err := os.Stat(cfg.OutputFile)
	require.NoError(t, err)

	second, err := newExporter(t, cfg, transport).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.NewOrders)
	assert.False(t, second.Persisted)
	assert.Equal(t, 2, second.TotalOrders)
	assert.Equal(t, models.StopDuplicate, second.Listings[0].Reason)

	after, err := os.ReadFile(cfg.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	restat, err := os.Stat(cfg.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, stat.ModTime(), restat.ModTime())
}

func TestRunSessionLossKeepsEarlierPages(t *testing.T) {
	cfg := newConfig(t)
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, probePage, html(testutil.ListingPage(nil, false)))
	transport.RegisterResponder(http.MethodGet, purchasesPage+"1", html(testutil.ListingPage([]testutil.Row{
		{ID: "P1", Date: "01.02.25"},
	}, true)))
	transport.RegisterResponder(http.MethodGet, purchasesPage+"2", html(testutil.LoginWall()))
	transport.RegisterResponder(http.MethodGet, salesPage+"1", html(testutil.LoginWall()))

	summary, err := newExporter(t, cfg, transport).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Listings, 2, "the sales listing is still attempted")
	assert.Equal(t, models.StopSessionLost, summary.Listings[0].Reason)
	assert.Equal(t, models.StopSessionLost, summary.Listings[1].Reason)
	assert.Len(t, summary.Failed(), 2)
	assert.Equal(t, 1, summary.NewOrders)
	assert.True(t, summary.Persisted)

	rows := readRows(t, cfg.OutputFile)
	require.Len(t, rows, 2)
	assert.Equal(t, "P1", rows[1][0])
}

func TestRunBlockedListingStopsRun(t *testing.T) {
	cfg := newConfig(t)
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, probePage, html(testutil.ListingPage(nil, false)))
	transport.RegisterResponder(http.MethodGet, purchasesPage+"1", html(testutil.ListingPage([]testutil.Row{
		{ID: "P1", Date: "01.02.25"},
	}, true)))
	transport.RegisterResponder(http.MethodGet, purchasesPage+"2",
		testutil.HTMLResponder(http.StatusForbidden, testutil.ChallengePage()))
	transport.RegisterResponder(http.MethodGet, salesPage+"1", html(testutil.ListingPage([]testutil.Row{
		{ID: "S1", Date: "03.02.25"},
	}, false)))

	summary, err := newExporter(t, cfg, transport).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, scraper.CategoryBlocked, scraper.Category(err))

	require.Len(t, summary.Listings, 1, "sales is not walked after a block")
	assert.Zero(t, transport.GetCallCountInfo()["GET "+salesPage+"1"])
	assert.Equal(t, 1, summary.NewOrders)
	assert.True(t, summary.Persisted)

	rows := readRows(t, cfg.OutputFile)
	require.Len(t, rows, 2)
	assert.Equal(t, "P1", rows[1][0])
}

func TestRunAuthenticationFailureSkipsWalks(t *testing.T) {
	cfg := newConfig(t)
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, probePage, html(testutil.LoginWall()))

	summary, err := newExporter(t, cfg, transport).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, scraper.CategoryUnauthenticated, scraper.Category(err))
	assert.Empty(t, summary.Listings)
	assert.False(t, summary.Persisted)
	assert.Equal(t, 1, transport.GetTotalCallCount())

	_, statErr := os.Stat(cfg.OutputFile)
	assert.True(t, os.IsNotExist(statErr))
}

// cancellingSource returns one order and cancels the run while walking.
type cancellingSource struct {
	cancel context.CancelFunc
	walks  []models.ListingKind
}

func (s *cancellingSource) Authenticate(context.Context) (*scraper.Session, error) {
	return &scraper.Session{}, nil
}

func (s *cancellingSource) Walk(_ context.Context, _ *scraper.Session, kind models.ListingKind, _ scraper.WalkOptions, known scraper.KnownIDs) *models.WalkResult {
	s.walks = append(s.walks, kind)
	s.cancel()
	order := &models.Order{OrderID: "C1", Date: "01.02.25", Type: kind.OrderType()}
	known.Mark(order.OrderID)
	return &models.WalkResult{Kind: kind, Orders: []*models.Order{order}, Reason: models.StopCancelled, Err: context.Canceled}
}

func TestRunCancelledPersistsAccepted(t *testing.T) {
	cfg := newConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := &cancellingSource{cancel: cancel}

	summary, err := New(cfg, pipeline.NewStore(cfg.OutputFile, ""), source).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []models.ListingKind{models.Purchases}, source.walks, "no walk starts after cancellation")
	assert.True(t, summary.Persisted)
	assert.Equal(t, 1, summary.NewOrders)

	rows := readRows(t, cfg.OutputFile)
	require.Len(t, rows, 2)
	assert.Equal(t, "C1", rows[1][0])
}

func TestRunCrossListingDuplicatesCountedOnce(t *testing.T) {
	cfg := newConfig(t)
	cfg.Policy = config.PolicyTolerant
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, probePage, html(testutil.ListingPage(nil, false)))
	transport.RegisterResponder(http.MethodGet, purchasesPage+"1", html(testutil.ListingPage([]testutil.Row{
		{ID: "X", Date: "02.02.25"},
	}, false)))
	transport.RegisterResponder(http.MethodGet, salesPage+"1", html(testutil.ListingPage([]testutil.Row{
		{ID: "Y", Date: "03.02.25"},
		{ID: "X", Date: "02.02.25"},
	}, false)))

	summary, err := newExporter(t, cfg, transport).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.NewOrders)

	rows := readRows(t, cfg.OutputFile)
	got := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		got = append(got, row[0])
	}
	sort.Strings(got)
	assert.Equal(t, []string{"X", "Y"}, got)
	assert.Equal(t, "Purchase", typesByID(rows)["X"], "first listing wins")
}

func TestRunRejectsUnknownPolicy(t *testing.T) {
	cfg := newConfig(t)
	cfg.Policy = "lenient"
	transport := httpmock.NewMockTransport()

	_, err := newExporter(t, cfg, transport).Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, transport.GetTotalCallCount())
}
