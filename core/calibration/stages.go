package calibration

import (
	"context"

	"go.uber.org/zap"

	"medbill-verify/core/oracle"
	"medbill-verify/core/types"
	"medbill-verify/internal/logging"
)

// ExactStage accepts a candidate whose normalized name equals the bill's
type ExactStage struct{}

// Name implements Stage
func (ExactStage) Name() string { return "exact" }

// Evaluate implements Stage
func (ExactStage) Evaluate(_ context.Context, s *Subject) Result {
	if s.Bill.Normalized != "" && s.Bill.Normalized == s.CandidateExtraction.Normalized {
		return Result{Outcome: Accept, Strategy: types.StrategyExact}
	}
	return Result{Outcome: Defer}
}

// ThresholdStage accepts scores at or above the auto threshold, rejects
// scores below the referral window, and defers the rest
type ThresholdStage struct {
	Calibrator Calibrator
}

// Name implements Stage
func (ThresholdStage) Name() string { return "threshold" }

// Evaluate implements Stage
func (t ThresholdStage) Evaluate(_ context.Context, s *Subject) Result {
	switch t.Calibrator.Decide(s.Candidate.Score(), s.AutoThreshold) {
	case types.DecisionAutoMatch:
		return Result{Outcome: Accept, Strategy: types.StrategyHybrid}
	case types.DecisionOracle:
		return Result{Outcome: Defer}
	case types.DecisionReject:
		return Result{Outcome: Reject, Strategy: types.StrategyNone}
	}
	return Result{Outcome: Reject, Strategy: types.StrategyNone}
}

// OracleStage asks the oracle about a deferred candidate. Any oracle
// failure resolves to Reject.
type OracleStage struct {
	Oracle        oracle.Oracle
	MinConfidence float64
	Logger        *zap.Logger
}

// Name implements Stage
func (OracleStage) Name() string { return "oracle" }

// Evaluate implements Stage
func (o OracleStage) Evaluate(ctx context.Context, s *Subject) Result {
	req := oracle.Request{
		BillText:      s.BillText,
		CandidateText: s.Candidate.Item.Name,
		Similarity:    s.Candidate.Score(),
	}
	opinion := &types.OracleOpinion{Candidate: s.Candidate.Item.Name}

	d, err := o.Oracle.Verify(ctx, req)
	if err != nil {
		logging.OrGlobal(o.Logger).Warn("oracle unavailable, rejecting candidate",
			zap.String("bill_text", s.BillText),
			zap.String("candidate", s.Candidate.Item.Name),
			zap.Error(err))
		opinion.Error = err.Error()
		return Result{Outcome: Reject, Strategy: types.StrategyNone, Opinion: opinion, Err: err}
	}

	opinion.Match = d.Match
	opinion.Confidence = d.Confidence
	opinion.NormalizedName = d.NormalizedName
	opinion.Model = d.Model
	opinion.Accepted = d.Accepted(o.MinConfidence)
	if opinion.Accepted {
		return Result{Outcome: Accept, Strategy: types.StrategyOracle, Opinion: opinion}
	}
	return Result{Outcome: Reject, Strategy: types.StrategyNone, Opinion: opinion}
}

// Build returns the standard pipeline: exact, threshold and, when an
// oracle is given, oracle arbitration
func Build(c Calibrator, o oracle.Oracle, minConfidence float64, logger *zap.Logger) *Pipeline {
	stages := []Stage{ExactStage{}, ThresholdStage{Calibrator: c}}
	if o != nil {
		stages = append(stages, OracleStage{Oracle: o, MinConfidence: minConfidence, Logger: logger})
	}
	return NewPipeline(stages...)
}
