// Package calibration - Confidence calibration
// Maps hybrid scores to decisions and resolves the best candidate through an
// ordered pipeline of stages, each of which accepts, rejects or defers.
package calibration

import (
	"context"

	"medbill-verify/core/determinism"
	"medbill-verify/core/types"
)

// Calibrator maps a hybrid score to a decision against an auto threshold
type Calibrator struct {
	// Band is the oracle referral window below the auto threshold
	Band float64

	// MinSimilarity floors the referral window
	MinSimilarity float64
}

// NewCalibrator creates a calibrator
func NewCalibrator(band, minSimilarity float64) Calibrator {
	return Calibrator{Band: band, MinSimilarity: minSimilarity}
}

// OracleFloor returns the lowest score referred to the oracle for an auto threshold
func (c Calibrator) OracleFloor(auto float64) float64 {
	floor := determinism.Round(auto - c.Band)
	if floor < c.MinSimilarity {
		floor = c.MinSimilarity
	}
	return floor
}

// Decide returns AUTO_MATCH at or above auto, ORACLE inside the referral
// window, and REJECT below it
func (c Calibrator) Decide(score, auto float64) types.Decision {
	switch {
	case score >= auto:
		return types.DecisionAutoMatch
	case score >= c.OracleFloor(auto) && c.OracleFloor(auto) < auto:
		return types.DecisionOracle
	default:
		return types.DecisionReject
	}
}

// Outcome is the tri-state result of a stage
type Outcome int

const (
	// Defer passes the subject to the next stage
	Defer Outcome = iota
	Accept
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	case Defer:
		return "defer"
	}
	return "unknown"
}

// Subject is a candidate that passed the hard constraints and awaits a verdict
type Subject struct {
	// BillText is the original bill line text
	BillText string

	// Bill is the normalizer output of the bill line
	Bill types.Extraction

	// Candidate is the scored candidate
	Candidate types.MatchCandidate

	// CandidateExtraction is the normalizer output of the candidate name
	CandidateExtraction types.Extraction

	// AutoThreshold comes from the policy of the candidate's category
	AutoThreshold float64
}

// Result is the verdict of a pipeline run
type Result struct {
	Outcome  Outcome
	Strategy types.Strategy

	// Stage names the stage that decided
	Stage string

	// Opinion is set when the oracle was consulted
	Opinion *types.OracleOpinion

	// Err records a recovered collaborator failure
	Err error
}

// Stage is one step of the calibration pipeline
type Stage interface {
	Name() string
	Evaluate(ctx context.Context, s *Subject) Result
}

// Pipeline runs stages in order until one accepts or rejects.
// A subject every stage defers is rejected.
type Pipeline struct {
	stages []Stage
}

// NewPipeline creates a pipeline
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Stages returns the stage names in order
func (p *Pipeline) Stages() []string {
	names := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		names = append(names, s.Name())
	}
	return names
}

// Run evaluates s
func (p *Pipeline) Run(ctx context.Context, s *Subject) Result {
	var last Result
	for _, stage := range p.stages {
		r := stage.Evaluate(ctx, s)
		r.Stage = stage.Name()
		if r.Outcome != Defer {
			return r
		}
		last = r
	}
	last.Outcome = Reject
	last.Strategy = types.StrategyNone
	return last
}
