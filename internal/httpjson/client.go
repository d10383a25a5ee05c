// Package httpjson sends JSON requests to model-serving endpoints
// (embedding and oracle runtimes).
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"medbill-verify/internal/logging"
)

// maxBody bounds how much of a response is read
const maxBody = 4 << 20

// Post sends body as JSON to url and returns the raw response body.
// Non-2xx responses return the body together with an error.
func Post(ctx context.Context, client *http.Client, url string, body any, logger *zap.Logger) ([]byte, int, error) {
	logger = logging.OrGlobal(logger)
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}

	reqID := uuid.New().String()
	start := time.Now()

	bs, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("encode json: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", reqID)

	logger.Debug("http request", zap.String("req_id", reqID), zap.String("url", url), zap.Int("content_length", len(bs)))

	resp, err := client.Do(req)
	if err != nil {
		logger.Debug("http send failed",
			zap.String("req_id", reqID),
			zap.Error(err),
			zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	logger.Debug("http response",
		zap.String("req_id", reqID),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	if resp.StatusCode/100 != 2 {
		return raw, resp.StatusCode, fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return raw, resp.StatusCode, nil
}
