// Package reconcile - Category reconciliation
// Retries unmatched lines against every catalog category they were not
// already tried in, keeping the single best accepted candidate.
package reconcile

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"medbill-verify/core/calibration"
	"medbill-verify/core/matching"
	"medbill-verify/core/types"
	"medbill-verify/core/verdict"
	"medbill-verify/internal/logging"
	"medbill-verify/internal/metrics"
)

// Note is the reconciliation note attached to a recovered line
func Note(found, original string) string {
	return fmt.Sprintf("Found in alternative category '%s' after original category '%s' failed", found, original)
}

// Stats counts the work of one reconciliation pass
type Stats struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`

	// Panics counts lines degraded after a panic while reconciling them
	Panics int `json:"panics"`
}

// Reconciler retries MISMATCH lines in alternative categories
type Reconciler struct {
	matcher *matching.Matcher
	builder *verdict.Builder
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a reconciler
func New(matcher *matching.Matcher, builder *verdict.Builder, m *metrics.Metrics, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		matcher: matcher,
		builder: builder,
		metrics: m,
		logger:  logging.OrGlobal(logger),
	}
}

// Eligible reports whether a result may be reconciled: it is a MISMATCH,
// has not been reconciled before, and its failure could be resolved by
// a different category
func Eligible(res *types.ItemVerificationResult) bool {
	return res.Status == types.StatusMismatch &&
		!res.ReconciliationAttempted &&
		res.FailureReason.Retryable()
}

// Reconcile retries every eligible result. items and results are parallel
// slices. Results are updated in place; running it twice changes nothing.
func (r *Reconciler) Reconcile(ctx context.Context, pc *matching.PreparedCatalog, pipeline *calibration.Pipeline,
	items []*types.LineItem, results []*types.ItemVerificationResult) (Stats, error) {
	var stats Stats
	for i, res := range results {
		if res == nil {
			continue
		}
		if !Eligible(res) {
			if res.Status == types.StatusMismatch && !res.ReconciliationAttempted {
				stats.Skipped++
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Attempted++
		// a started line is always finished
		ok, panicked := r.safeOne(context.WithoutCancel(ctx), pc, pipeline, items[i], res)
		switch {
		case panicked:
			stats.Panics++
		case ok:
			stats.Succeeded++
		}
	}
	if stats.Attempted > 0 {
		r.logger.Info("reconciliation pass complete",
			zap.Int("attempted", stats.Attempted),
			zap.Int("succeeded", stats.Succeeded),
			zap.Int("skipped", stats.Skipped))
	}
	return stats, nil
}

// safeOne runs One and degrades the line to MISMATCH / NOT_IN_TIEUP when
// it panics, so one line never aborts the pass
func (r *Reconciler) safeOne(ctx context.Context, pc *matching.PreparedCatalog, pipeline *calibration.Pipeline,
	li *types.LineItem, res *types.ItemVerificationResult) (ok, panicked bool) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.RecordPanic()
			r.logger.Error("panic while reconciling line",
				logging.Item(li.Key()),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			Degrade(r.builder, li, res, p)
			ok, panicked = false, true
		}
	}()
	return r.One(ctx, pc, pipeline, li, res), false
}

// Degrade resets res to an unverifiable MISMATCH after a panic. The line is
// marked reconciled so no later pass retries it.
func Degrade(b *verdict.Builder, li *types.LineItem, res *types.ItemVerificationResult, cause any) {
	*res = *b.Start(li)
	res.FailureReason = types.ReasonNotInTieUp
	res.ReconciliationAttempted = true
	res.Diagnostics = &types.FailureDiagnostics{
		CategoriesTried: []string{},
		Explanation:     "line could not be verified",
		ServiceErrors:   []string{fmt.Sprintf("internal: %v", cause)},
	}
}

// One reconciles a single result and reports whether a match was found
func (r *Reconciler) One(ctx context.Context, pc *matching.PreparedCatalog, pipeline *calibration.Pipeline,
	li *types.LineItem, res *types.ItemVerificationResult) bool {
	res.ReconciliationAttempted = true

	tried := make(map[string]bool, len(res.CategoriesTried))
	for _, c := range res.CategoriesTried {
		tried[c] = true
	}
	serviceErrors := verdict.ServiceErrors(res)

	var best *matching.Attempt
	for _, cat := range pc.Categories {
		if tried[cat.Name] {
			continue
		}
		att := r.matcher.MatchItem(ctx, li, cat, pipeline)
		r.builder.Record(res, &att)
		serviceErrors = append(serviceErrors, att.ServiceErrors...)
		if att.Accepted == nil {
			continue
		}
		if best == nil || att.Accepted.Score() > best.Accepted.Score() {
			a := att
			best = &a
		}
	}

	if best == nil {
		r.builder.Fail(res, li, serviceErrors)
		r.metrics.RecordReconcile(false)
		r.logger.Debug("reconciliation found no alternative",
			logging.Item(li.Key()),
			zap.Error(res.Failure()),
			zap.Strings("categories_tried", res.CategoriesTried))
		return false
	}

	r.builder.Accept(res, li, best)
	res.ReconciliationSucceeded = true
	res.ReconciliationNote = Note(best.Category, li.DeclaredCategory)
	res.AddNote(res.ReconciliationNote)
	r.metrics.RecordReconcile(true)
	r.logger.Info("line reconciled in alternative category",
		logging.Item(li.Key()),
		zap.String("original_category", li.DeclaredCategory),
		zap.String("final_category", best.Category),
		zap.Float64("score", best.Accepted.Score()))
	return true
}
