// Package exporter runs one incremental export: load the record store,
// authenticate, walk each enabled listing and persist what is new.
package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-order-export/config"
	"github.com/aluiziolira/go-order-export/models"
	"github.com/aluiziolira/go-order-export/pipeline"
	"github.com/aluiziolira/go-order-export/scraper"
	"github.com/google/uuid"
)

// Source is what the exporter needs from the marketplace client.
type Source interface {
	Authenticate(ctx context.Context) (*scraper.Session, error)
	Walk(ctx context.Context, sess *scraper.Session, kind models.ListingKind, opts scraper.WalkOptions, known scraper.KnownIDs) *models.WalkResult
}

// Exporter sequences a single run.
type Exporter struct {
	cfg    *config.Config
	store  *pipeline.Store
	source Source
}

// New creates an exporter.
func New(cfg *config.Config, store *pipeline.Store, source Source) *Exporter {
	return &Exporter{cfg: cfg, store: store, source: source}
}

// Run performs the export. Authentication failures abort before any listing
// is fetched. A listing that ends on session loss or a transport failure
// keeps its records and does not stop the remaining listings; a blocked
// listing ends the run. Records accepted before a block or a cancellation
// are still persisted.
func (e *Exporter) Run(ctx context.Context) (*models.RunSummary, error) {
	summary := &models.RunSummary{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
	}
	defer func() {
		summary.EndTime = time.Now()
	}()
	logger := slog.Default().With(slog.String("run_id", summary.RunID))

	policy, err := scraper.ParseStopPolicy(e.cfg.Policy)
	if err != nil {
		summary.Err = err
		return summary, err
	}
	opts := scraper.WalkOptions{Policy: policy}
	if cutoff, ok := e.cfg.Cutoff(); ok {
		opts.Cutoff = cutoff
	}

	known, records := e.store.Load()
	summary.TotalOrders = len(records)

	sess, err := e.source.Authenticate(ctx)
	if err != nil {
		summary.Err = fmt.Errorf("authenticate: %w", err)
		logger.Error("authentication failed",
			slog.String("category", scraper.Category(err)),
			slog.Any("error", err),
		)
		return summary, summary.Err
	}

	var accepted []*models.Order
	var blocked error
	for _, kind := range e.cfg.Listings() {
		if ctx.Err() != nil {
			break
		}

		logger.Info("walking listing", slog.String("listing", string(kind)))
		result := e.source.Walk(ctx, sess, kind, opts, known)
		summary.Listings = append(summary.Listings, result)
		accepted = append(accepted, result.Orders...)

		if result.Err != nil && result.Reason != models.StopCancelled {
			logger.Warn("listing ended early",
				slog.String("listing", string(kind)),
				slog.String("reason", string(result.Reason)),
				slog.String("category", scraper.Category(result.Err)),
				slog.Any("error", result.Err),
			)
		}
		if scraper.Category(result.Err) == scraper.CategoryBlocked {
			blocked = fmt.Errorf("%s listing: %w", kind, result.Err)
			logger.Error("marketplace blocked the session, skipping remaining listings")
			break
		}
	}

	summary.NewOrders = e.store.Append(accepted)
	if summary.NewOrders > 0 {
		if err := e.store.Persist(); err != nil {
			summary.Err = fmt.Errorf("persist records: %w", err)
			return summary, summary.Err
		}
		summary.Persisted = true
	}
	summary.TotalOrders = e.store.Len()

	logger.Info("export finished",
		slog.Int("new_orders", summary.NewOrders),
		slog.Int("total_orders", summary.TotalOrders),
		slog.Bool("persisted", summary.Persisted),
	)

	if err := ctx.Err(); err != nil {
		summary.Err = err
		return summary, err
	}
	if blocked != nil {
		summary.Err = blocked
		return summary, blocked
	}
	return summary, nil
}
