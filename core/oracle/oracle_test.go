package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainerrors "medbill-verify/internal/errors"
	"medbill-verify/internal/metrics"
)

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("Sure!\n```json\n{\"match\": true, \"confidence\": 0.92, \"normalized_name\": \"cross consultation\"}\n```")
	require.NoError(t, err)
	assert.True(t, d.Match)
	assert.Equal(t, 0.92, d.Confidence)
	assert.Equal(t, "cross consultation", d.NormalizedName)

	bad := []string{
		"no json here",
		`{"match": "yes", "confidence": 0.9, "normalized_name": ""}`,
		`{"match": true, "confidence": 1.5, "normalized_name": ""}`,
		`{"match": true, "confidence": 0.9}`,
		`{"match": true, "confidence": 0.9, "normalized_name": "", "reason": "x"}`,
		`{"match": true, `,
	}
	for _, text := range bad {
		_, err := ParseDecision(text)
		assert.Error(t, err, text)
	}
}

func TestDecisionAccepted(t *testing.T) {
	assert.True(t, Decision{Match: true, Confidence: 0.7}.Accepted(0.7))
	assert.False(t, Decision{Match: true, Confidence: 0.69}.Accepted(0.7))
	assert.False(t, Decision{Match: false, Confidence: 0.99}.Accepted(0.7))
}

func TestPromptQuotesBothTerms(t *testing.T) {
	p := Prompt(Request{BillText: "CROSS CONSULTATION - IP", CandidateText: "Specialist consultation"})
	assert.Contains(t, p, `Term A: "CROSS CONSULTATION - IP"`)
	assert.Contains(t, p, `Term B: "Specialist consultation"`)
	assert.Contains(t, p, "Answer ONLY in JSON")
}

func ollamaServer(t *testing.T, answers map[string]string) (*httptest.Server, *atomic.Int32) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req ollamaGenerateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		answer, ok := answers[req.Model]
		if !ok {
			http.Error(w, "model not loaded", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: answer})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.BaseURL = url
	cfg.PrimaryModel = "primary"
	cfg.SecondaryModel = "secondary"
	return cfg
}

func TestLLMOraclePrimaryConfident(t *testing.T) {
	srv, calls := ollamaServer(t, map[string]string{
		"primary": `{"match": true, "confidence": 0.9, "normalized_name": "mri brain"}`,
	})
	o, err := NewLLMOracle(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	d, err := o.Verify(context.Background(), Request{BillText: "MRI BRAIN PLAIN", CandidateText: "MRI Brain"})
	require.NoError(t, err)
	assert.True(t, d.Match)
	assert.Equal(t, "primary", d.Model)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLLMOracleFallsBackWhenPrimaryUnsure(t *testing.T) {
	srv, calls := ollamaServer(t, map[string]string{
		"primary":   `{"match": true, "confidence": 0.4, "normalized_name": ""}`,
		"secondary": `{"match": false, "confidence": 0.8, "normalized_name": ""}`,
	})
	o, err := NewLLMOracle(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	d, err := o.Verify(context.Background(), Request{BillText: "a", CandidateText: "b"})
	require.NoError(t, err)
	assert.False(t, d.Match)
	assert.Equal(t, "secondary", d.Model)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLLMOracleFallsBackOnMalformedJSON(t *testing.T) {
	srv, _ := ollamaServer(t, map[string]string{
		"primary":   `I think they match.`,
		"secondary": `{"match": true, "confidence": 0.75, "normalized_name": "x"}`,
	})
	o, _ := NewLLMOracle(testConfig(srv.URL), zap.NewNop())

	d, err := o.Verify(context.Background(), Request{BillText: "a", CandidateText: "b"})
	require.NoError(t, err)
	assert.Equal(t, "secondary", d.Model)
}

func TestLLMOracleBothModelsFail(t *testing.T) {
	srv, _ := ollamaServer(t, map[string]string{})
	o, _ := NewLLMOracle(testConfig(srv.URL), zap.NewNop())

	_, err := o.Verify(context.Background(), Request{BillText: "a", CandidateText: "b"})
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.TypeExternalService))
}

func TestLLMOracleVLLM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/completions", r.URL.Path)
		var req vllmCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 0.1, req.Temperature)
		_, _ = w.Write([]byte(`{"choices":[{"text":" {\"match\": true, \"confidence\": 0.88, \"normalized_name\": \"ecg\"}"}]}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Runtime = RuntimeVLLM
	o, err := NewLLMOracle(cfg, zap.NewNop())
	require.NoError(t, err)

	d, err := o.Verify(context.Background(), Request{BillText: "ECG 12 LEAD", CandidateText: "ECG"})
	require.NoError(t, err)
	assert.True(t, d.Accepted(cfg.MinConfidence))
}

func TestNewLLMOracleRejectsUnknownRuntime(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Runtime = "tgi"
	_, err := NewLLMOracle(cfg, zap.NewNop())
	assert.True(t, domainerrors.IsType(err, domainerrors.TypeConfig))
}

type fakeOracle struct {
	mu       sync.Mutex
	calls    int
	decision Decision
	err      error
	delay    time.Duration
}

func (f *fakeOracle) Verify(ctx context.Context, _ Request) (Decision, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		}
	}
	return f.decision, f.err
}

func (f *fakeOracle) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCachedOracleCachesDecisions(t *testing.T) {
	inner := &fakeOracle{decision: Decision{Match: true, Confidence: 0.9}}
	m := metrics.New()
	c := NewCachedOracle(inner, NewMemoryCache(10), nil, time.Second, m, zap.NewNop())
	req := Request{BillText: "MRI Brain", CandidateText: "MRI brain plain", Similarity: 0.8}

	d, err := c.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d.Cached)

	req.Similarity = 0.75
	req.BillText = "mri brain"
	d, err = c.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, d.Cached)
	assert.True(t, d.Match)

	assert.Equal(t, 1, inner.count())
	calls, hits, failed := c.Stats()
	assert.Equal(t, int64(1), calls)
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(0), failed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OracleCacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OracleCallsTotal.WithLabelValues("answered")))
}

func TestCachedOracleDoesNotCacheErrors(t *testing.T) {
	inner := &fakeOracle{err: errors.New("connection refused")}
	cache := NewMemoryCache(10)
	c := NewCachedOracle(inner, cache, nil, time.Second, nil, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := c.Verify(context.Background(), Request{BillText: "a", CandidateText: "b"})
		require.Error(t, err)
		assert.True(t, domainerrors.IsType(err, domainerrors.TypeExternalService))
	}
	assert.Equal(t, 2, inner.count())
	assert.Equal(t, 0, cache.Len())
}

func TestCachedOracleTimeout(t *testing.T) {
	inner := &fakeOracle{delay: time.Second, decision: Decision{Match: true, Confidence: 1}}
	c := NewCachedOracle(inner, nil, nil, 20*time.Millisecond, nil, zap.NewNop())

	_, err := c.Verify(context.Background(), Request{BillText: "a", CandidateText: "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCachedOracleBudget(t *testing.T) {
	inner := &fakeOracle{decision: Decision{Match: true, Confidence: 0.9}}
	m := metrics.New()
	c := NewCachedOracle(inner, NewMemoryCache(10), NewBudget(1), time.Second, m, zap.NewNop())

	_, err := c.Verify(context.Background(), Request{BillText: "a", CandidateText: "b"})
	require.NoError(t, err)

	_, err = c.Verify(context.Background(), Request{BillText: "c", CandidateText: "d"})
	assert.ErrorIs(t, err, ErrBudgetExhausted)

	// cached decisions cost nothing
	_, err = c.Verify(context.Background(), Request{BillText: "a", CandidateText: "b"})
	require.NoError(t, err)

	assert.Equal(t, 1, inner.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OracleBudgetSkips))
}

func TestCachedOracleCollapsesConcurrentRequests(t *testing.T) {
	inner := &fakeOracle{delay: 50 * time.Millisecond, decision: Decision{Match: true, Confidence: 0.9}}
	c := NewCachedOracle(inner, NewMemoryCache(10), nil, time.Second, nil, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := c.Verify(context.Background(), Request{BillText: "a", CandidateText: "b"})
			assert.NoError(t, err)
			assert.True(t, d.Match)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inner.count())
}

func TestBudget(t *testing.T) {
	var unlimited *Budget
	assert.True(t, unlimited.Take())
	assert.True(t, NewBudget(0).Take())

	b := NewBudget(2)
	assert.True(t, b.Take())
	assert.True(t, b.Take())
	assert.False(t, b.Take())
	assert.Equal(t, int64(2), b.Used())
}

func TestMemoryCacheEvictsOldest(t *testing.T) {
	c := NewMemoryCache(2)
	ctx := context.Background()
	_ = c.Set(ctx, "a", Decision{Match: true})
	_ = c.Set(ctx, "b", Decision{})
	_ = c.Set(ctx, "a", Decision{Match: false})
	_ = c.Set(ctx, "c", Decision{})

	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestKeyIgnoresCaseAndSimilarity(t *testing.T) {
	a := Key(Request{BillText: "MRI Brain ", CandidateText: "mri brain", Similarity: 0.7})
	b := Key(Request{BillText: "mri brain", CandidateText: "MRI BRAIN", Similarity: 0.8})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Key(Request{BillText: "mri brain", CandidateText: "ct brain"}))
}

func TestRedisCacheKeys(t *testing.T) {
	c := NewRedisCache(nil, "medbill:oracle:", time.Hour)
	assert.Equal(t, "medbill:oracle:abc", c.FullKey("abc"))
}

func TestDialRedisUnavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := DialRedis(ctx, RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.TypeExternalService))
}
