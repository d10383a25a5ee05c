// Package engine provides the bill verification engine.
// The CLI is a thin wrapper around this engine.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"medbill-verify/core/aggregate"
	"medbill-verify/core/calibration"
	"medbill-verify/core/failure"
	"medbill-verify/core/matching"
	"medbill-verify/core/normalize"
	"medbill-verify/core/oracle"
	"medbill-verify/core/policy"
	"medbill-verify/core/pricing"
	"medbill-verify/core/reconcile"
	"medbill-verify/core/scoring"
	"medbill-verify/core/summary"
	"medbill-verify/core/types"
	"medbill-verify/core/verdict"
	"medbill-verify/core/views"
	"medbill-verify/internal/errors"
	"medbill-verify/internal/logging"
	"medbill-verify/internal/metrics"
)

// Engine verifies bills against hospital rate catalogs.
// It is safe for concurrent use; each Verify call is an independent run
// that shares only the rate and oracle decision caches.
type Engine struct {
	cfg Config

	extractor *normalize.Extractor
	hybrid    *scoring.Hybrid
	embedder  scoring.Embedder
	policies  *policy.Set
	matcher   *matching.Matcher

	// oracle is nil when arbitration is disabled
	oracle    oracle.Oracle
	decisions oracle.DecisionCache

	rates    *pricing.RateCache
	builder  *verdict.Builder
	failures *failure.Engine

	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates an engine. Collaborators not injected through options are
// built from cfg.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrGlobal(e.logger)

	if e.embedder == nil {
		emb, err := scoring.NewEmbedder(cfg.Embedding, e.logger)
		if err != nil {
			return nil, err
		}
		e.embedder = emb
	}
	if e.policies == nil {
		e.policies = policy.Defaults(cfg.Matching.ItemAutoThreshold)
	}
	if e.oracle == nil && cfg.Oracle.Enabled {
		o, err := oracle.NewLLMOracle(cfg.Oracle, e.logger)
		if err != nil {
			return nil, err
		}
		e.oracle = o
	}
	if e.decisions == nil && cfg.Oracle.CacheSize > 0 {
		e.decisions = oracle.NewMemoryCache(cfg.Oracle.CacheSize)
	}
	if e.rates == nil {
		e.rates = pricing.NewRateCache(pricing.DefaultRateCacheSize)
	}

	e.extractor = normalize.New(cfg.Normalizer, e.logger)
	e.hybrid = scoring.NewHybrid(cfg.Weights, e.extractor.Vocabulary().StopWords)
	e.matcher = matching.New(cfg.Matching, e.extractor, e.embedder, e.hybrid, e.policies, e.logger)
	e.failures = failure.New(e.policies, cfg.Matching.MinSimilarity)
	e.builder = verdict.NewBuilder(pricing.NewChecker(e.rates), e.failures)
	return e, nil
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Extractor returns the normalizer used for bill and catalog text
func (e *Engine) Extractor() *normalize.Extractor {
	return e.extractor
}

// RateCache returns the rate cache shared by all runs of this engine
func (e *Engine) RateCache() *pricing.RateCache {
	return e.rates
}

// run holds the per-run state of one Verify call
type run struct {
	id       string
	started  time.Time
	logger   *zap.Logger
	pipeline *calibration.Pipeline
	oracle   *oracle.CachedOracle
	budget   *oracle.Budget
	resp     *Response
}

// Verify reconciles a bill against the best matching catalog.
//
// Invalid input is reported as a validation error before any matching.
// Collaborator failures never fail the run; they degrade single lines.
// When ctx is cancelled, lines already started are finished, the rest are
// left out, and the partial response is returned together with ctx.Err().
func (e *Engine) Verify(ctx context.Context, bill *types.BillDocument, catalogs []*types.RateCatalog) (*Response, error) {
	r := e.newRun(bill)
	resp := r.resp

	if err := e.validate(bill, catalogs); err != nil {
		e.metrics.RecordRun("invalid", time.Since(r.started))
		r.logger.Warn("input rejected", zap.Error(err))
		return nil, err
	}
	resp.Phase = PhaseValidated

	selected, score := e.matcher.SelectHospital(ctx, bill.Hospital, catalogs)
	catalog := sealedCopy(selected)
	resp.MatchedHospital = catalog.Hospital
	resp.HospitalScore = score
	resp.Phase = PhaseHospitalSelected

	pc, err := e.matcher.Prepare(ctx, catalog)
	if err != nil {
		return e.finishPartial(r, nil, nil, err)
	}
	resp.Stats.SkippedCatalogItems = len(pc.Skipped)
	resp.Phase = PhaseCatalogPrepared
	r.logger.Debug("catalog prepared",
		zap.String("hospital", catalog.Hospital),
		zap.Int("categories", len(pc.Categories)),
		zap.Int("skipped_items", len(pc.Skipped)))

	r.pipeline = e.pipeline(r)

	items := e.lineItems(bill)
	resp.Stats.Items = len(items)
	targets := make([]matching.CategoryMatch, len(bill.Categories))
	for ci, c := range bill.Categories {
		targets[ci] = e.matcher.MatchCategory(ctx, pc, c.Name)
	}

	results := e.matchAll(ctx, r, pc, targets, items)
	if err := ctx.Err(); err != nil {
		return e.finishPartial(r, items, results, err)
	}
	resp.Phase = PhaseItemsMatched

	rec := reconcile.New(e.matcher, e.builder, e.metrics, r.logger)
	stats, err := rec.Reconcile(ctx, pc, r.pipeline, items, results)
	resp.Stats.Reconciliation = stats
	resp.Stats.PanicsRecovered += stats.Panics
	if err != nil {
		return e.finishPartial(r, items, results, err)
	}
	resp.Phase = PhaseReconciled

	e.assemble(r, bill, targets, items, results)
	resp.Phase = PhaseSummarized
	e.finish(r, "ok")
	return resp, nil
}

func (e *Engine) newRun(bill *types.BillDocument) *run {
	id := uuid.NewString()
	r := &run{
		id:      id,
		started: time.Now(),
		resp:    &Response{Phase: PhaseStarted, Consistent: true},
	}
	var billID, hospital string
	if bill != nil {
		billID, hospital = bill.BillID, bill.Hospital
		r.resp.BillID = billID
		r.resp.Hospital = hospital
	}
	r.logger = logging.ForRun(e.logger, id, billID, hospital)
	r.resp.Stats.RunID = id
	return r
}

func (e *Engine) validate(bill *types.BillDocument, catalogs []*types.RateCatalog) error {
	if err := bill.Validate(); err != nil {
		return err
	}
	if len(catalogs) == 0 {
		return errors.Validation("no rate catalogs given")
	}
	for _, c := range catalogs {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// pipeline builds the calibration pipeline of a run. The oracle, when
// configured, is wrapped with the shared decision cache and a fresh budget.
func (e *Engine) pipeline(r *run) *calibration.Pipeline {
	cal := e.matcher.Calibrator()
	if e.oracle == nil {
		return calibration.Build(cal, nil, e.cfg.Oracle.MinConfidence, r.logger)
	}
	r.budget = oracle.NewBudget(e.cfg.Oracle.MaxCalls)
	r.oracle = oracle.NewCachedOracle(e.oracle, e.decisions, r.budget, e.cfg.Oracle.Timeout, e.metrics, r.logger)
	return calibration.Build(cal, r.oracle, e.cfg.Oracle.MinConfidence, r.logger)
}

// lineItems flattens the bill in document order
func (e *Engine) lineItems(bill *types.BillDocument) []*types.LineItem {
	items := make([]*types.LineItem, 0, bill.ItemCount())
	for ci, c := range bill.Categories {
		for ii, it := range c.Items {
			li := &types.LineItem{
				BillLineItem:     it,
				Position:         types.Position{Category: ci, Item: ii},
				DeclaredCategory: c.Name,
			}
			if li.ID == "" {
				li.ID = li.Position.String()
			}
			li.Extraction = e.extractor.Extract(it.Text)
			items = append(items, li)
		}
	}
	return items
}

// workers is the matching parallelism. A bounded oracle budget is handed
// out in bill order, so budgeted runs match one line at a time.
func (e *Engine) workers() int {
	if e.oracle != nil && e.cfg.Oracle.MaxCalls > 0 {
		return 1
	}
	if e.cfg.Matching.Workers > 0 {
		return e.cfg.Matching.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// matchAll resolves every line in parallel. Results keep bill order; a
// line never started because of cancellation has a nil result.
func (e *Engine) matchAll(ctx context.Context, r *run, pc *matching.PreparedCatalog,
	targets []matching.CategoryMatch, items []*types.LineItem) []*types.ItemVerificationResult {
	results := make([]*types.ItemVerificationResult, len(items))
	panics := make([]bool, len(items))

	g := new(errgroup.Group)
	g.SetLimit(e.workers())
	for i, li := range items {
		if ctx.Err() != nil {
			break
		}
		i, li := i, li
		g.Go(func() error {
			// a started line is always finished
			results[i], panics[i] = e.matchOne(context.WithoutCancel(ctx), r, pc, targets[li.Position.Category], li)
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range panics {
		if p {
			r.resp.Stats.PanicsRecovered++
		}
	}
	return results
}

// matchOne resolves a single line. A panic while matching degrades the
// line to MISMATCH instead of failing the run.
func (e *Engine) matchOne(ctx context.Context, r *run, pc *matching.PreparedCatalog,
	target matching.CategoryMatch, li *types.LineItem) (res *types.ItemVerificationResult, panicked bool) {
	defer func() {
		if p := recover(); p != nil {
			e.metrics.RecordPanic()
			r.logger.Error("panic while verifying line",
				logging.Item(li.Key()),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			res = new(types.ItemVerificationResult)
			reconcile.Degrade(e.builder, li, res, p)
			panicked = true
		}
	}()

	res = e.builder.Start(li)
	if li.Extraction.IsArtifact {
		e.builder.Artifact(res, li)
		return res, false
	}
	if target.Target == nil {
		res.AddNote(fmt.Sprintf("bill category '%s' matched no catalog category (best similarity %.2f)",
			li.DeclaredCategory, target.Similarity))
		e.builder.Fail(res, li, nil)
		return res, false
	}

	att := e.matcher.MatchItem(ctx, li, target.Target, r.pipeline)
	e.builder.Record(res, &att)
	if att.Accepted != nil {
		e.builder.Accept(res, li, &att)
	} else {
		e.builder.Fail(res, li, att.ServiceErrors)
		r.logger.Debug("line not matched", logging.Item(li.Key()), zap.Error(res.Failure()))
	}
	return res, false
}

// assemble builds aggregates, the financial summary and both views from
// the line results, and cross-checks them
func (e *Engine) assemble(r *run, bill *types.BillDocument, targets []matching.CategoryMatch,
	items []*types.LineItem, results []*types.ItemVerificationResult) {
	resp := r.resp

	done := make([]*types.ItemVerificationResult, 0, len(results))
	resp.Categories = make([]CategoryResult, len(bill.Categories))
	for ci, c := range bill.Categories {
		cr := CategoryResult{
			BillCategory: c.Name,
			Items:        []*types.ItemVerificationResult{},
		}
		if targets != nil {
			cr.Similarity = targets[ci].Similarity
			cr.Level = targets[ci].Level
			if targets[ci].Target != nil {
				cr.CatalogCategory = targets[ci].Target.Name
			}
		}
		resp.Categories[ci] = cr
	}
	for i, res := range results {
		if res == nil {
			continue
		}
		ci := items[i].Position.Category
		resp.Categories[ci].Items = append(resp.Categories[ci].Items, res)
		done = append(done, res)
	}
	resp.Stats.Processed = len(done)

	resp.Aggregates = aggregate.Group(done)
	if err := aggregate.CheckLossless(done, resp.Aggregates); err != nil {
		resp.Consistent = false
		r.logger.Error("aggregation is not lossless", zap.Error(err))
	}
	resp.Summary = summary.Summarize(resp.Aggregates)
	if err := summary.Reconstruct(done, resp.Aggregates, resp.Summary); err != nil {
		resp.Consistent = false
		r.logger.Error("financial summary does not reconstruct", zap.Error(err))
	}

	in := views.Input{
		Hospital:        resp.Hospital,
		MatchedHospital: resp.MatchedHospital,
		HospitalScore:   resp.HospitalScore,
		Results:         done,
		Aggregates:      resp.Aggregates,
		Summary:         resp.Summary,
	}
	resp.Debug = views.Debug(in)
	resp.Final = views.Final(in)
	resp.Checks = views.Compare(resp.Debug, resp.Final)
	if !resp.Checks.Consistent {
		resp.Consistent = false
		r.logger.Error("debug and final views disagree", zap.Strings("failed_checks", resp.Checks.Failed()))
	}
}

// finishPartial assembles whatever was processed before cancellation
func (e *Engine) finishPartial(r *run, items []*types.LineItem, results []*types.ItemVerificationResult, cause error) (*Response, error) {
	resp := r.resp
	resp.Partial = true
	if items == nil {
		resp.Categories = []CategoryResult{}
		resp.Aggregates = []*aggregate.Item{}
		resp.Summary = summary.Summarize(nil)
	} else {
		bill := billOf(resp, items)
		e.assemble(r, bill, nil, items, results)
	}
	r.logger.Warn("verification cancelled",
		zap.Stringer("phase", resp.Phase),
		zap.Int("processed", resp.Stats.Processed),
		zap.Int("items", resp.Stats.Items),
		zap.Error(cause))
	e.finish(r, "partial")
	return resp, cause
}

// billOf rebuilds the category skeleton of the bill from its line items
func billOf(resp *Response, items []*types.LineItem) *types.BillDocument {
	bill := &types.BillDocument{BillID: resp.BillID, Hospital: resp.Hospital}
	for _, li := range items {
		for len(bill.Categories) <= li.Position.Category {
			bill.Categories = append(bill.Categories, types.BillCategory{})
		}
		bill.Categories[li.Position.Category].Name = li.DeclaredCategory
	}
	return bill
}

func (e *Engine) finish(r *run, outcome string) {
	resp := r.resp
	if outcome == "ok" && !resp.Consistent {
		outcome = "inconsistent"
	}

	resp.Stats.Duration = time.Since(r.started)
	resp.Stats.StatusCounts = make(map[types.Status]int, len(types.AllStatuses))
	for _, c := range resp.Categories {
		for _, res := range c.Items {
			resp.Stats.StatusCounts[res.Status]++
			e.metrics.RecordItem(string(res.Status))
		}
	}
	if r.oracle != nil {
		resp.Stats.OracleCalls, resp.Stats.OracleCacheHits, resp.Stats.OracleFailures = r.oracle.Stats()
		resp.Stats.OracleBudgetUsed = r.budget.Used()
	}
	resp.Stats.RateCacheHits, resp.Stats.RateCacheMisses = e.rates.Stats()
	e.metrics.RecordRun(outcome, resp.Stats.Duration)

	r.logger.Info("verification complete",
		zap.String("outcome", outcome),
		zap.String("matched_hospital", resp.MatchedHospital),
		zap.Int("items", resp.Stats.Items),
		zap.Int("processed", resp.Stats.Processed),
		zap.Int("green", resp.Stats.StatusCounts[types.StatusGreen]),
		zap.Int("red", resp.Stats.StatusCounts[types.StatusRed]),
		zap.Int("mismatch", resp.Stats.StatusCounts[types.StatusMismatch]),
		zap.Int("reconciled", resp.Stats.Reconciliation.Succeeded),
		zap.Int64("oracle_calls", resp.Stats.OracleCalls),
		zap.Duration("duration", resp.Stats.Duration))
}

// sealedCopy returns a deep copy of the catalog with every item stamped
// with its category and hospital. The caller's catalog is not modified.
func sealedCopy(c *types.RateCatalog) *types.RateCatalog {
	out := &types.RateCatalog{
		Hospital:   c.Hospital,
		Categories: make([]types.CatalogCategory, len(c.Categories)),
	}
	for i, cat := range c.Categories {
		out.Categories[i] = types.CatalogCategory{
			Name:  cat.Name,
			Items: append([]types.CatalogItem(nil), cat.Items...),
		}
	}
	out.Seal()
	return out
}
