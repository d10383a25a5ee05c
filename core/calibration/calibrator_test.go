package calibration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"medbill-verify/core/oracle"
	"medbill-verify/core/types"
)

func TestDecide(t *testing.T) {
	c := NewCalibrator(0.15, 0.5)

	assert.Equal(t, types.DecisionAutoMatch, c.Decide(0.85, 0.85))
	assert.Equal(t, types.DecisionOracle, c.Decide(0.84, 0.85))
	assert.Equal(t, types.DecisionOracle, c.Decide(0.70, 0.85))
	assert.Equal(t, types.DecisionReject, c.Decide(0.69, 0.85))

	// the window is floored at the minimum similarity
	assert.InDelta(t, 0.5, c.OracleFloor(0.60), 1e-9)
	assert.Equal(t, types.DecisionReject, c.Decide(0.49, 0.60))
	assert.Equal(t, types.DecisionOracle, c.Decide(0.55, 0.60))

	// no window when the auto threshold is at the floor
	assert.Equal(t, types.DecisionReject, c.Decide(0.49, 0.5))
}

type stubOracle struct {
	decision oracle.Decision
	err      error
	calls    int
}

func (s *stubOracle) Verify(context.Context, oracle.Request) (oracle.Decision, error) {
	s.calls++
	return s.decision, s.err
}

func subject(score float64, billNorm, candNorm string) *Subject {
	return &Subject{
		BillText:            "BILL TEXT",
		Bill:                types.Extraction{Normalized: billNorm},
		Candidate:           types.MatchCandidate{Item: types.CatalogItem{Name: "Catalog Name"}, Breakdown: types.ScoreBreakdown{Final: score}},
		CandidateExtraction: types.Extraction{Normalized: candNorm},
		AutoThreshold:       0.85,
	}
}

func TestPipelineExactWins(t *testing.T) {
	o := &stubOracle{}
	p := Build(NewCalibrator(0.15, 0.5), o, 0.7, zap.NewNop())

	r := p.Run(context.Background(), subject(0.6, "consultation", "consultation"))
	assert.Equal(t, Accept, r.Outcome)
	assert.Equal(t, types.StrategyExact, r.Strategy)
	assert.Equal(t, "exact", r.Stage)
	assert.Equal(t, 0, o.calls)
}

func TestPipelineThreshold(t *testing.T) {
	o := &stubOracle{}
	p := Build(NewCalibrator(0.15, 0.5), o, 0.7, zap.NewNop())

	r := p.Run(context.Background(), subject(0.9, "a b", "a c"))
	assert.Equal(t, Accept, r.Outcome)
	assert.Equal(t, types.StrategyHybrid, r.Strategy)

	r = p.Run(context.Background(), subject(0.4, "a b", "a c"))
	assert.Equal(t, Reject, r.Outcome)
	assert.Equal(t, "threshold", r.Stage)
	assert.Equal(t, 0, o.calls)
}

func TestPipelineOracleReferral(t *testing.T) {
	o := &stubOracle{decision: oracle.Decision{Match: true, Confidence: 0.8, Model: "phi3:mini"}}
	p := Build(NewCalibrator(0.15, 0.5), o, 0.7, zap.NewNop())

	r := p.Run(context.Background(), subject(0.78, "cross consultation ip", "specialist consultation"))
	require.Equal(t, Accept, r.Outcome)
	assert.Equal(t, types.StrategyOracle, r.Strategy)
	require.NotNil(t, r.Opinion)
	assert.True(t, r.Opinion.Accepted)
	assert.Equal(t, "phi3:mini", r.Opinion.Model)
	assert.Equal(t, 1, o.calls)
}

func TestPipelineOracleLowConfidenceRejects(t *testing.T) {
	o := &stubOracle{decision: oracle.Decision{Match: true, Confidence: 0.5}}
	p := Build(NewCalibrator(0.15, 0.5), o, 0.7, zap.NewNop())

	r := p.Run(context.Background(), subject(0.78, "x", "y"))
	assert.Equal(t, Reject, r.Outcome)
	require.NotNil(t, r.Opinion)
	assert.False(t, r.Opinion.Accepted)
}

func TestPipelineOracleFailureDegradesToReject(t *testing.T) {
	o := &stubOracle{err: errors.New("timeout")}
	p := Build(NewCalibrator(0.15, 0.5), o, 0.7, zap.NewNop())

	r := p.Run(context.Background(), subject(0.78, "x", "y"))
	assert.Equal(t, Reject, r.Outcome)
	assert.Error(t, r.Err)
	require.NotNil(t, r.Opinion)
	assert.Equal(t, "timeout", r.Opinion.Error)
}

func TestPipelineWithoutOracleRejectsDeferred(t *testing.T) {
	p := Build(NewCalibrator(0.15, 0.5), nil, 0.7, zap.NewNop())
	assert.Equal(t, []string{"exact", "threshold"}, p.Stages())

	r := p.Run(context.Background(), subject(0.78, "x", "y"))
	assert.Equal(t, Reject, r.Outcome)
	assert.Equal(t, types.StrategyNone, r.Strategy)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "accept", Accept.String())
	assert.Equal(t, "defer", Defer.String())
	assert.Equal(t, "reject", Reject.String())
}
