package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"listingwatch/models"
	"listingwatch/scraper/extract"
	"listingwatch/scraper/trademe"
	"listingwatch/storage"
	"listingwatch/utils"
)

// Marketplace is the part of the marketplace client the pipeline drives.
type Marketplace interface {
	FetchWatchlist(ctx context.Context, page int) (*trademe.WatchlistPage, error)
	FetchDetail(ctx context.Context, id string) (*models.Listing, error)
}

// PageExtractor turns fetched HTML into a listing.
type PageExtractor interface {
	Extract(pageURL, html string) *models.Listing
}

// PipelineConfig bounds a scheduled run.
type PipelineConfig struct {
	WatchlistMaxPages int
	TrackedURLs       []string
}

// RunMeta carries the run-level gate for a scheduled run. Zero MinInterval
// disables the gate and Force bypasses it.
type RunMeta struct {
	Now         func() time.Time
	MinInterval time.Duration
	Force       bool
}

func (m RunMeta) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Pipeline wires the clients, the cleaner, the archiver and the detector to
// the snapshot store. Failures stay scoped to the item that caused them.
type Pipeline struct {
	cfg       PipelineConfig
	store     *storage.SnapshotStore
	market    Marketplace
	fetcher   extract.Fetcher
	extractor PageExtractor
	archiver  *Archiver
	changes   storage.ChangeWriter
	cleaner   *Cleaner
	detector  *Detector
	insights  *InsightService
	metrics   *Metrics
	logger    *utils.Logger
}

func NewPipeline(cfg PipelineConfig, store *storage.SnapshotStore, logger *utils.Logger) *Pipeline {
	if cfg.WatchlistMaxPages <= 0 {
		cfg.WatchlistMaxPages = 5
	}
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		cleaner:  NewCleaner(logger),
		detector: NewDetector(),
		insights: NewInsightService(logger),
		logger:   logger,
	}
}

func (p *Pipeline) WithMarketplace(m Marketplace) *Pipeline {
	p.market = m
	return p
}

// WithPages enables URL imports and tracked URLs.
func (p *Pipeline) WithPages(f extract.Fetcher, e PageExtractor) *Pipeline {
	p.fetcher = f
	p.extractor = e
	return p
}

func (p *Pipeline) WithArchiver(a *Archiver) *Pipeline {
	p.archiver = a
	if a != nil && p.metrics != nil {
		a.WithMetrics(p.metrics)
	}
	return p
}

// WithChangeWriter exports every detected change batch to w as well.
func (p *Pipeline) WithChangeWriter(w storage.ChangeWriter) *Pipeline {
	p.changes = w
	return p
}

func (p *Pipeline) WithMetrics(m *Metrics) *Pipeline {
	p.metrics = m
	if p.archiver != nil {
		p.archiver.WithMetrics(m)
	}
	return p
}

// WithClock replaces the clock of the cleaner and the detector.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.cleaner.now = now
	p.detector.WithClock(now)
	return p
}

// Insights exposes the report printer used for run summaries.
func (p *Pipeline) Insights() *InsightService {
	return p.insights
}

// RunScheduled walks the watchlist and the tracked URLs unless the last run is
// more recent than meta.MinInterval. A skipped run returns a report with
// Skipped set and no error.
func (p *Pipeline) RunScheduled(ctx context.Context, meta RunMeta) (*models.RunReport, error) {
	started := meta.now()

	if !meta.Force && meta.MinInterval > 0 {
		last, err := p.store.LastRun(ctx)
		if err != nil {
			p.logger.Warn("[pipeline] Could not read last run, running anyway: %v", err)
		} else if !last.IsZero() && started.Sub(last) < meta.MinInterval {
			report := &models.RunReport{
				StartedAt:  started,
				Skipped:    true,
				SkipReason: fmt.Sprintf("last run %s ago, minimum interval %s", started.Sub(last).Round(time.Second), meta.MinInterval),
			}
			p.logger.Info("[pipeline] Run skipped: %s", report.SkipReason)
			if p.metrics != nil {
				p.metrics.ObserveRun(report)
			}
			return report, nil
		}
	}

	p.logger.Info("[pipeline] Scheduled run starting")

	// Each listing id is processed at most once per run.
	seen := utils.NewURLSet()

	var results []models.ItemResult
	if p.market != nil {
		results = append(results, p.walkWatchlist(ctx, seen)...)
	}
	if len(p.cfg.TrackedURLs) > 0 && p.fetcher != nil {
		for _, u := range p.cfg.TrackedURLs {
			if ctx.Err() != nil {
				break
			}
			res, err := p.importPage(ctx, u, seen)
			if errors.Is(err, errAlreadyProcessed) {
				p.logger.Debug("[pipeline] Tracked URL %s resolves to %s, already processed", u, res.ListingID)
				continue
			}
			if err != nil {
				p.logger.Warn("[pipeline] Tracked URL %s failed: %v", u, err)
			}
			results = append(results, res)
		}
	}

	finished := meta.now()
	report := p.insights.Generate(results, started, finished)
	if p.metrics != nil {
		p.metrics.ObserveRun(report)
	}

	if err := ctx.Err(); err != nil {
		p.logger.Warn("[pipeline] Run interrupted after %d items: %v", len(results), err)
		return report, err
	}

	if err := p.store.SetLastRun(ctx, finished); err != nil {
		p.logger.Error("[pipeline] Could not record last run: %v", err)
	}
	p.logger.Info("[pipeline] Run finished: %d items (%d ok, %d partial, %d failed) in %s",
		report.TotalItems, report.Succeeded, report.Partial, report.Failed, report.Duration().Round(time.Millisecond))
	return report, nil
}

func (p *Pipeline) walkWatchlist(ctx context.Context, seen *utils.URLSet) []models.ItemResult {
	var results []models.ItemResult

	for page := 1; page <= p.cfg.WatchlistMaxPages; page++ {
		if ctx.Err() != nil {
			return results
		}
		wp, err := p.market.FetchWatchlist(ctx, page)
		if err != nil {
			p.logger.Error("[pipeline] Watchlist page %d failed: %v", page, err)
			return results
		}

		for _, item := range p.cleaner.Clean(wp.Listings) {
			if ctx.Err() != nil {
				return results
			}
			if !seen.Add(item.ID) {
				p.logger.Debug("[pipeline] %s already processed this run", item.ID)
				continue
			}
			detail, err := p.market.FetchDetail(ctx, item.ID)
			if err != nil {
				p.logger.Warn("[pipeline] Skipping %s: %v", item.ID, err)
				res := models.ItemResult{
					ListingID: item.ID,
					SourceURL: item.SourceURL,
					Outcome:   models.OutcomeFailure,
					Reason:    err.Error(),
				}
				p.observe(res)
				results = append(results, res)
				continue
			}
			res := p.ProcessListing(ctx, detail)
			if res.ListingID != "" {
				seen.Add(res.ListingID)
			}
			results = append(results, res)
		}

		if !wp.HasMore() {
			break
		}
	}
	return results
}

// Import fetches and extracts one page on demand and processes the result. It
// ignores the run gate. The error is non-nil whenever the outcome is failure.
func (p *Pipeline) Import(ctx context.Context, pageURL string) (models.ItemResult, error) {
	return p.importPage(ctx, pageURL, nil)
}

func (p *Pipeline) importPage(ctx context.Context, pageURL string, seen *utils.URLSet) (models.ItemResult, error) {
	pageURL = strings.TrimSpace(pageURL)
	res := models.ItemResult{SourceURL: pageURL, Outcome: models.OutcomeFailure}

	if p.fetcher == nil || p.extractor == nil {
		err := errors.New("pipeline: page import not configured")
		res.Reason = err.Error()
		return res, err
	}

	html, err := p.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		res.Reason = err.Error()
		p.observe(res)
		return res, err
	}

	l := p.extractor.Extract(pageURL, html)
	if l == nil || strings.TrimSpace(l.Title) == "" {
		res.Reason = models.ErrExtractionFailed.Error()
		p.observe(res)
		return res, models.ErrExtractionFailed
	}
	if l.SourceURL == "" {
		l.SourceURL = pageURL
	}

	out := p.processListing(ctx, l, seen)
	if out.err != nil {
		return out.ItemResult, out.err
	}
	if out.Outcome == models.OutcomeFailure {
		return out.ItemResult, errors.New(out.Reason)
	}
	return out.ItemResult, nil
}

var errAlreadyProcessed = errors.New("pipeline: listing already processed in this run")

type processed struct {
	models.ItemResult
	err error
}

// ProcessListing cleans, archives, diffs and persists one observation. Write
// failures downgrade the outcome to partial; the listing is still returned.
// When the previous snapshot cannot be read nothing is written and the item
// fails, so the next run sees the real previous state.
func (p *Pipeline) ProcessListing(ctx context.Context, in *models.Listing) models.ItemResult {
	return p.processListing(ctx, in, nil).ItemResult
}

func (p *Pipeline) processListing(ctx context.Context, in *models.Listing, seen *utils.URLSet) processed {
	if in == nil {
		res := models.ItemResult{Outcome: models.OutcomeFailure, Reason: models.ErrMissingID.Error()}
		p.observe(res)
		return processed{ItemResult: res}
	}

	l := p.cleaner.CleanOne(in)
	res := models.ItemResult{ListingID: l.ID, SourceURL: l.SourceURL, Outcome: models.OutcomeFailure}

	switch {
	case l.ID == "":
		res.Reason = models.ErrMissingID.Error()
		p.observe(res)
		return processed{ItemResult: res}
	case l.Title == "":
		res.Reason = models.ErrExtractionFailed.Error()
		p.observe(res)
		return processed{ItemResult: res}
	}

	if seen != nil && !seen.Add(l.ID) {
		return processed{ItemResult: res, err: errAlreadyProcessed}
	}

	previous, err := p.store.Get(ctx, l.ID)
	if err != nil {
		p.logger.Error("[pipeline] Could not load snapshot for %s, leaving it for the next run: %v", l.ID, err)
		res.Reason = "load snapshot: " + err.Error()
		p.observe(res)
		return processed{ItemResult: res}
	}

	var problems []string
	fail := func(step string, err error) {
		p.logger.Error("[pipeline] %s for %s: %v", step, l.ID, err)
		problems = append(problems, step+": "+err.Error())
	}

	if p.archiver != nil && len(l.ImageURLs) > 0 {
		records, err := p.archiver.Archive(ctx, l.ID, l.ImageURLs)
		if err != nil {
			fail("archive images", err)
		}
		l.Images = records
		for _, r := range records {
			if r.IsPrimary {
				l.PrimaryImageURL = r.URL
				break
			}
		}
	}

	det := p.detector.Detect(previous, l)

	if err := p.store.Put(ctx, det.Listing); err != nil {
		fail("save snapshot", err)
	}
	if err := p.store.AppendChanges(ctx, det.Changes); err != nil {
		fail("append changes", err)
	}
	if p.changes != nil && len(det.Changes) > 0 {
		if err := p.changes.WriteChanges(det.Changes); err != nil {
			fail("export changes", err)
		}
	}

	res.Outcome = models.OutcomeSuccess
	if len(problems) > 0 {
		res.Outcome = models.OutcomePartial
		res.Reason = strings.Join(problems, "; ")
	}
	res.IsNew = det.IsNew
	res.Changes = det.Changes
	res.Listing = det.Listing

	switch {
	case det.IsNew:
		p.logger.Info("[pipeline] New listing %s: %s", l.ID, l.Title)
	case len(det.Changes) > 0:
		p.logger.Info("[pipeline] %s: %d change(s)", l.ID, len(det.Changes))
	default:
		p.logger.Debug("[pipeline] %s unchanged", l.ID)
	}

	p.observe(res)
	return processed{ItemResult: res}
}

func (p *Pipeline) observe(res models.ItemResult) {
	if p.metrics != nil {
		p.metrics.ObserveItem(res)
	}
}
