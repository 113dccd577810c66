// Package market scrapes the third-party produce price page, normalizes its
// South African number and date formats and upserts the rows keyed by
// (crop_name, market).
//
// A cycle is fetch, extract, normalize, store. Fetch failures abort the cycle
// before any write. A page with no rows is logged with section snippets and
// treated as an empty, successful cycle. A failed batch upsert falls back to
// per-row update-then-insert.
package market

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"farmconnect/internal/config"
	"farmconnect/internal/external"
	"farmconnect/internal/types"
)

// Fetcher retrieves the price page. *external.BaseClient satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url, accept string) (*external.Response, error)
}

// Store persists normalized rows. *db.MarketPriceRepository satisfies it.
type Store interface {
	UpsertBatch(ctx context.Context, rows []types.MarketPrice) (int64, error)
	UpdateByKey(ctx context.Context, p types.MarketPrice) (bool, error)
	Insert(ctx context.Context, p types.MarketPrice) error
}

// Result summarizes one cycle.
type Result struct {
	// Found is the number of rows extracted from the page.
	Found int `json:"found"`
	// Inserted is the number of rows written, by batch or fallback.
	Inserted int `json:"inserted"`
	// Skipped counts body rows dropped during extraction or normalization.
	Skipped int `json:"skipped"`
	// Failed counts rows the per-row fallback could not write.
	Failed       int  `json:"failed"`
	UsedFallback bool `json:"used_fallback"`
}

// Status maps the result to a types.ScrapeResult* value.
func (r Result) Status() string {
	if r.Found == 0 {
		return types.ScrapeResultEmpty
	}
	return types.ScrapeResultSuccess
}

// Config configures a Scraper.
type Config struct {
	TargetURL string
	Region    string
	Location  *time.Location
	Sections  []Section
	Logger    *slog.Logger
	// Now is the clock, replaceable in tests.
	Now func() time.Time
}

// Scraper runs scrape cycles. It holds no state between cycles apart from
// which header mismatches it has already warned about.
type Scraper struct {
	fetcher  Fetcher
	store    Store
	url      string
	sections []Section
	norm     Normalizer
	logger   *slog.Logger
	now      func() time.Time

	warnedMu sync.Mutex
	warned   map[string]bool
}

// NewScraper creates a Scraper. Zero Config fields get defaults: the three
// produce sections, SAST and the "South Africa" region.
func NewScraper(fetcher Fetcher, store Store, cfg Config) *Scraper {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.Sections) == 0 {
		cfg.Sections = DefaultSections
	}
	if cfg.Location == nil {
		cfg.Location = SAST
	}
	if cfg.Region == "" {
		cfg.Region = "South Africa"
	}
	return &Scraper{
		fetcher:  fetcher,
		store:    store,
		url:      cfg.TargetURL,
		sections: cfg.Sections,
		norm:     Normalizer{Region: cfg.Region, Location: cfg.Location},
		logger:   cfg.Logger,
		now:      cfg.Now,
		warned:   make(map[string]bool),
	}
}

// NewHTTPScraper builds the production scraper: an external.BaseClient with
// the configured user agent and fetch timeout, writing through store.
func NewHTTPScraper(cfg config.ScraperConfig, store Store, logger *slog.Logger) *Scraper {
	client := external.NewBaseClient(
		external.NewHTTPClient(cfg.FetchTimeout),
		"market-prices",
		external.DefaultRetryPolicy(),
		cfg.UserAgent,
		external.WithUpstreamCode(types.ErrCodeUpstreamMarket),
	)
	return NewScraper(client, store, Config{
		TargetURL: cfg.TargetURL,
		Region:    cfg.Region,
		Logger:    logger,
	})
}

// ScrapeAndSave runs one cycle. The error is non-nil only when the page could
// not be fetched or parsed; in that case nothing was written.
func (s *Scraper) ScrapeAndSave(ctx context.Context) (Result, error) {
	log := types.LoggerFromContext(ctx, s.logger)
	var res Result

	resp, err := s.fetcher.Get(ctx, s.url, "text/html")
	if err != nil {
		return res, err
	}
	if !resp.OK() {
		return res, types.NewAppErrorWithDetails(types.ErrCodeUpstreamMarket,
			fmt.Sprintf("price page returned %d", resp.StatusCode), nil,
			map[string]any{"url": s.url, "status": resp.StatusCode})
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return res, types.NewAppError(types.ErrCodeInternalParse, "failed to parse price page", err)
	}

	ex := Extract(doc, s.sections)
	for _, sel := range ex.MissingSections {
		log.WarnContext(ctx, "price section not found", "selector", sel)
	}
	s.checkHeaders(ctx, log, ex.Headers)

	rows, dropped := s.norm.NormalizeAll(ex.Rows, s.now())
	res.Found = len(ex.Rows)
	res.Skipped = ex.Dropped + dropped

	if len(rows) == 0 {
		attrs := []any{"skipped", res.Skipped}
		for sel, snippet := range ex.Snippets {
			attrs = append(attrs, slog.String("html"+strings.ReplaceAll(sel, "#", "_"), snippet))
		}
		log.WarnContext(ctx, "no price rows found; page layout may have changed", attrs...)
		return res, nil
	}

	for _, r := range rows {
		log.DebugContext(ctx, "price row", "crop", r.CropName, "market", r.Market, "price", r.CurrentPrice.String())
	}

	n, err := s.store.UpsertBatch(ctx, rows)
	if err == nil {
		res.Inserted = int(n)
		return res, nil
	}

	log.WarnContext(ctx, "batch upsert failed; falling back to per-row writes", "error", err, "rows", len(rows))
	res.UsedFallback = true
	res.Inserted, res.Failed = s.writeEach(ctx, log, rows)
	return res, nil
}

// writeEach updates each row by key and inserts it when no row was updated.
// Rows that fail are logged and left for the next cycle.
func (s *Scraper) writeEach(ctx context.Context, log *slog.Logger, rows []types.MarketPrice) (written, failed int) {
	for i, p := range rows {
		if ctx.Err() != nil {
			failed += len(rows) - i
			log.WarnContext(ctx, "per-row fallback interrupted", "error", ctx.Err(), "remaining", len(rows)-i)
			return written, failed
		}

		updated, err := s.store.UpdateByKey(ctx, p)
		if err != nil {
			log.WarnContext(ctx, "row update failed", "crop", p.CropName, "market", p.Market, "error", err)
			failed++
			continue
		}
		if !updated {
			if err := s.store.Insert(ctx, p); err != nil {
				log.WarnContext(ctx, "row insert failed", "crop", p.CropName, "market", p.Market, "error", err)
				failed++
				continue
			}
		}
		written++
	}
	return written, failed
}

// checkHeaders warns once per distinct mismatching header set so a changed
// site layout shows up in logs without repeating every tick.
func (s *Scraper) checkHeaders(ctx context.Context, log *slog.Logger, headers []TableHeader) {
	for _, h := range headers {
		bad := headerMismatches(h.Labels)
		if len(bad) == 0 {
			continue
		}
		key := h.Section + "|" + strings.Join(h.Labels, "|")

		s.warnedMu.Lock()
		seen := s.warned[key]
		s.warned[key] = true
		s.warnedMu.Unlock()
		if seen {
			continue
		}

		log.WarnContext(ctx, "price table headers differ from expected layout",
			"section", h.Section,
			"table", h.Table,
			"found", h.Labels,
			"expected", expectedHeaders[:],
			"mismatched_columns", bad,
		)
	}
}
