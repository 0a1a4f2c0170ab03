package scraper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/aluiziolira/go-order-export/config"
	"github.com/aluiziolira/go-order-export/models"
	"github.com/aluiziolira/go-order-export/parser"
	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// StopPolicy decides how duplicate rows end a walk.
type StopPolicy string

const (
	// PolicyStrict stops at the first known order id.
	PolicyStrict StopPolicy = config.PolicyStrict
	// PolicyTolerant skips known ids and stops after a page made only of them.
	PolicyTolerant StopPolicy = config.PolicyTolerant
)

// ParseStopPolicy validates a policy name.
func ParseStopPolicy(s string) (StopPolicy, error) {
	switch StopPolicy(s) {
	case PolicyStrict, PolicyTolerant:
		return StopPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown stop policy %q", s)
	}
}

// KnownIDs is the set of order ids already on record. Walk marks every id it
// accepts so later pages and listings see it as known.
type KnownIDs interface {
	Has(id string) bool
	Mark(id string) bool
}

// WalkOptions controls the stop rules of a single walk.
type WalkOptions struct {
	// Cutoff excludes rows dated strictly before it. Zero disables it.
	Cutoff time.Time
	Policy StopPolicy
}

// Walker pages through one listing at a time.
type Walker struct {
	cfg     *config.Config
	metrics *Metrics
	wait    func(ctx context.Context, d time.Duration) error
}

// NewWalker creates a walker.
func NewWalker(cfg *config.Config, metrics *Metrics) *Walker {
	return &Walker{
		cfg:     cfg,
		metrics: metrics,
		wait:    wait,
	}
}

type pageResponse struct {
	StatusCode int
	Body       []byte
	URL        string
}

// Walk fetches the listing page by page and returns the new orders found
// before a stop rule fired. Session loss, transport failures and
// cancellation end the walk with a partial result rather than an error.
func (w *Walker) Walk(ctx context.Context, sess *Session, kind models.ListingKind, opts WalkOptions, known KnownIDs) *models.WalkResult {
	result := &models.WalkResult{Kind: kind, StartTime: time.Now()}
	logger := slog.Default().With(slog.String("listing", string(kind)))

	defer func() {
		result.EndTime = time.Now()
		w.metrics.IncStop(kind, result.Reason)
		w.metrics.AddOrders(kind, len(result.Orders))
		w.metrics.AddDuplicates(kind, result.Duplicates)
		if result.Err != nil {
			w.metrics.IncError(errorTypeLabel(result.Err))
		}
		logger.Info("listing walk finished",
			slog.String("reason", string(result.Reason)),
			slog.Int("pages", result.Pages),
			slog.Int("new_orders", len(result.Orders)),
			slog.Int("duplicates", result.Duplicates),
			slog.Int("undated", result.Undated),
		)
	}()

	if opts.Policy == "" {
		opts.Policy = PolicyTolerant
	}

	collector, last, err := w.newCollector(sess)
	if err != nil {
		result.Reason = models.StopTransportError
		result.Err = err
		return result
	}

	guard, err := lru.New[string, int](w.cfg.RepeatGuardSize)
	if err != nil {
		result.Reason = models.StopTransportError
		result.Err = fmt.Errorf("create page guard: %w", err)
		return result
	}

	path := w.cfg.ListingPath(kind)
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			result.Reason = models.StopCancelled
			result.Err = err
			return result
		}
		if page > w.cfg.MaxPages {
			result.Reason = models.StopPageLimit
			logger.Warn("page limit reached", slog.Int("max_pages", w.cfg.MaxPages))
			return result
		}

		pageURL, err := sess.PageURL(path, page)
		if err != nil {
			result.Reason = models.StopTransportError
			result.Err = err
			return result
		}

		resp, err := w.fetchWithRetry(ctx, collector, last, pageURL)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				result.Reason = models.StopCancelled
				result.Err = ctx.Err()
				return result
			}
			result.Reason = models.StopTransportError
			result.Err = fmt.Errorf("fetch page %d: %w", page, err)
			logger.Error("page fetch failed", slog.Int("page", page), slog.Any("error", err))
			return result
		}

		extracted, err := parser.ExtractPage(resp.Body, kind)
		if err != nil {
			logger.Warn("page could not be parsed", slog.Int("page", page), slog.Any("error", err))
			result.Reason = models.StopEndOfData
			return result
		}

		if cause := sessionLossCause(resp, extracted); cause != nil {
			sess.markLost()
			dumpPage(w.cfg.DebugDumpPath, resp.Body)
			result.Reason = models.StopSessionLost
			result.Err = fmt.Errorf("%w on page %d: %w", ErrSessionLost, page, cause)
			logger.Error("session lost", slog.Int("page", page), slog.Int("status", resp.StatusCode))
			return result
		}
		sess.markValid()
		result.Pages++
		w.metrics.IncPage(kind)

		if !extracted.ContainerFound || extracted.RowCount == 0 {
			result.Reason = models.StopEndOfData
			return result
		}

		fp := fingerprint(extracted, resp.Body)
		if first, seen := guard.Get(fp); seen {
			logger.Warn("page repeats earlier content",
				slog.Int("page", page),
				slog.Int("same_as", first),
			)
			result.Reason = models.StopRepeatedPage
			return result
		}
		guard.Add(fp, page)

		accepted, stop := w.applyRows(result, extracted, opts, known)
		logger.Info("page processed",
			slog.Int("page", page),
			slog.Int("new_orders", accepted),
			slog.Int("rows", extracted.RowCount),
		)
		if stop != "" {
			result.Reason = stop
			return result
		}

		if !extracted.HasNext {
			result.Reason = models.StopNoMorePages
			return result
		}

		if err := w.wait(ctx, w.pageDelay()); err != nil {
			result.Reason = models.StopCancelled
			result.Err = err
			return result
		}
	}
}

// applyRows runs the per-row rules in page order and returns how many rows
// were accepted plus a stop reason, if one fired.
func (w *Walker) applyRows(result *models.WalkResult, page *parser.Page, opts WalkOptions, known KnownIDs) (int, models.StopReason) {
	accepted := 0
	duplicates := 0
	for _, order := range page.Orders {
		if known.Has(order.OrderID) {
			result.Duplicates++
			duplicates++
			if opts.Policy == PolicyStrict {
				return accepted, models.StopDuplicate
			}
			continue
		}

		if date, ok := order.ParsedDate(); ok {
			if !opts.Cutoff.IsZero() && date.Before(opts.Cutoff) {
				return accepted, models.StopDateCutoff
			}
		} else {
			result.Undated++
			slog.Debug("order date not understood",
				slog.String("order_id", order.OrderID),
				slog.String("date", order.Date),
			)
		}

		result.Orders = append(result.Orders, order)
		known.Mark(order.OrderID)
		accepted++
	}

	if opts.Policy == PolicyTolerant && len(page.Orders) > 0 && duplicates == len(page.Orders) {
		return accepted, models.StopDuplicate
	}
	return accepted, ""
}

// sessionLossCause returns why a fetched page does not belong to a live
// session, or nil. A 2xx page with a logout link is always live; challenge
// markers only classify pages that lost the link.
func sessionLossCause(resp *pageResponse, page *parser.Page) error {
	success := resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
	if success && page.LoggedIn {
		return nil
	}
	if !page.LoggedIn && parser.IsChallenge(resp.Body) {
		return ErrBlocked{StatusCode: resp.StatusCode, Err: fmt.Errorf("challenge page at %s", resp.URL)}
	}
	if !success {
		if classified := classifyError(nil, resp.StatusCode); classified != nil {
			return classified
		}
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	return fmt.Errorf("logout link missing")
}

func fingerprint(page *parser.Page, body []byte) string {
	if len(page.Orders) > 0 {
		ids := make([]string, len(page.Orders))
		for i, order := range page.Orders {
			ids[i] = order.OrderID
		}
		return "ids:" + strings.Join(ids, ",")
	}
	sum := sha256.Sum256(body)
	return "body:" + hex.EncodeToString(sum[:])
}

func (w *Walker) newCollector(sess *Session) (*colly.Collector, *pageResponse, error) {
	collector := colly.NewCollector(
		colly.AllowedDomains(sess.BaseURL.Hostname()),
		colly.AllowURLRevisit(),
	)
	if sess.UserAgent != "" {
		collector.UserAgent = sess.UserAgent
	}
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(sess.Timeout)
	if sess.Transport != nil {
		collector.WithTransport(sess.Transport)
	}
	collector.SetCookieJar(sess.Jar)

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
	}); err != nil {
		return nil, nil, fmt.Errorf("configure rate limits: %w", err)
	}

	last := &pageResponse{}
	collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		for k, v := range sess.Headers {
			r.Headers.Set(k, v)
		}
		w.metrics.IncRequest("listing")
	})
	collector.OnResponse(func(r *colly.Response) {
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			w.metrics.ObserveDuration(time.Since(start))
		}
		last.StatusCode = r.StatusCode
		last.Body = r.Body
		last.URL = r.Request.URL.String()
	})

	return collector, last, nil
}

func (w *Walker) fetch(collector *colly.Collector, last *pageResponse, pageURL string) (*pageResponse, error) {
	*last = pageResponse{}
	if err := collector.Visit(pageURL); err != nil {
		return nil, classifyError(err, 0)
	}
	if last.StatusCode == 0 {
		return nil, ErrConnection{Err: fmt.Errorf("no response from %s", pageURL)}
	}
	resp := *last
	return &resp, nil
}

// fetchWithRetry retries transport failures and server errors with capped
// exponential backoff. MaxRetries of zero disables retries.
func (w *Walker) fetchWithRetry(ctx context.Context, collector *colly.Collector, last *pageResponse, pageURL string) (*pageResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := w.fetch(collector, last, pageURL)
		retryable := (err != nil && IsTransport(err)) ||
			(err == nil && resp.StatusCode >= http.StatusInternalServerError)
		if !retryable || attempt > w.cfg.MaxRetries {
			return resp, err
		}

		delay := w.backoff(attempt)
		w.metrics.IncRetries()
		slog.Warn("retrying page fetch",
			slog.String("url", pageURL),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
		)
		if err := w.wait(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (w *Walker) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := w.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if limit := w.cfg.RetryBackoffMax; limit > 0 && delay > limit {
		delay = limit
	}
	return delay
}

func (w *Walker) pageDelay() time.Duration {
	delay := w.cfg.Delay
	if w.cfg.RandomDelay > 0 {
		delay += time.Duration(rand.Int64N(int64(w.cfg.RandomDelay)))
	}
	return delay
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
