package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"medbill-verify/internal/errors"
	"medbill-verify/internal/httpjson"
	"medbill-verify/internal/logging"
)

// Supported model runtimes
const (
	RuntimeOllama = "ollama"
	RuntimeVLLM   = "vllm"
)

const promptTemplate = `You are a medical billing auditor.

Decide if these two terms refer to the same medical service.

Term A: %q
Term B: %q

Answer ONLY in JSON:
{
  "match": true|false,
  "confidence": 0.0-1.0,
  "normalized_name": ""
}

No explanations. No extra text.`

// Prompt renders the strict arbitration prompt for a request
func Prompt(req Request) string {
	return fmt.Sprintf(promptTemplate, req.BillText, req.CandidateText)
}

// LLMOracle asks a locally served language model, falling back to a
// secondary model when the primary fails, answers malformed JSON, or is
// not confident enough.
type LLMOracle struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewLLMOracle creates an oracle for the configured runtime
func NewLLMOracle(cfg Config, logger *zap.Logger) (*LLMOracle, error) {
	switch cfg.Runtime {
	case RuntimeOllama, RuntimeVLLM:
	default:
		return nil, errors.Newf(errors.TypeConfig, "unknown oracle runtime %q", cfg.Runtime)
	}
	if cfg.PrimaryModel == "" {
		return nil, errors.Config("oracle primary_model is required")
	}
	return &LLMOracle{
		cfg:    cfg,
		client: &http.Client{},
		logger: logging.OrGlobal(logger),
	}, nil
}

// Verify implements Oracle
func (o *LLMOracle) Verify(ctx context.Context, req Request) (Decision, error) {
	prompt := Prompt(req)

	d, err := o.ask(ctx, o.cfg.PrimaryModel, prompt)
	if err == nil && d.Confidence >= o.cfg.MinConfidence {
		return d, nil
	}
	if o.cfg.SecondaryModel == "" {
		if err != nil {
			return Decision{}, errors.ExternalService("oracle", err)
		}
		return d, nil
	}

	o.logger.Debug("falling back to secondary model",
		zap.String("primary", o.cfg.PrimaryModel),
		zap.String("secondary", o.cfg.SecondaryModel),
		zap.Float64("primary_confidence", d.Confidence),
		zap.Error(err))

	d2, err2 := o.ask(ctx, o.cfg.SecondaryModel, prompt)
	if err2 != nil {
		if err == nil {
			// the unsure primary answer still stands
			return d, nil
		}
		return Decision{}, errors.ExternalService("oracle", fmt.Errorf("primary: %v; secondary: %w", err, err2))
	}
	return d2, nil
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

type vllmCompletionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type vllmCompletionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

func (o *LLMOracle) ask(ctx context.Context, model, prompt string) (Decision, error) {
	text, err := o.complete(ctx, model, prompt)
	if err != nil {
		return Decision{}, fmt.Errorf("%s: %w", model, err)
	}
	d, err := ParseDecision(text)
	if err != nil {
		return Decision{}, fmt.Errorf("%s: %w", model, err)
	}
	d.Model = model
	return d, nil
}

func (o *LLMOracle) complete(ctx context.Context, model, prompt string) (string, error) {
	base := strings.TrimRight(o.cfg.BaseURL, "/")
	switch o.cfg.Runtime {
	case RuntimeVLLM:
		raw, _, err := httpjson.Post(ctx, o.client, base+"/v1/completions", vllmCompletionRequest{
			Model: model, Prompt: prompt, Temperature: 0.1, MaxTokens: 150,
		}, o.logger)
		if err != nil {
			return "", err
		}
		var resp vllmCompletionResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", fmt.Errorf("decode completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("no choices in completion")
		}
		return resp.Choices[0].Text, nil
	default:
		raw, _, err := httpjson.Post(ctx, o.client, base+"/api/generate", ollamaGenerateRequest{
			Model:  model,
			Prompt: prompt,
			Stream: false,
			Options: map[string]any{
				"temperature": 0.1,
				"num_predict": 150,
			},
		}, o.logger)
		if err != nil {
			return "", err
		}
		var resp ollamaGenerateResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", fmt.Errorf("decode generation: %w", err)
		}
		return resp.Response, nil
	}
}
