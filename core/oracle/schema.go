package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// decisionSchema is the strict contract of an oracle answer
var decisionSchema = map[string]any{
	"$schema":              "http://json-schema.org/draft-07/schema#",
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"match", "confidence", "normalized_name"},
	"properties": map[string]any{
		"match":           map[string]any{"type": "boolean"},
		"confidence":      map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"normalized_name": map[string]any{"type": "string"},
	},
}

var (
	compiledOnce   sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func schema() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		b, err := json.Marshal(decisionSchema)
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("decision.json", bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("decision.json")
	})
	return compiledSchema, compileErr
}

// extractJSON returns the text between the first '{' and the last '}'.
// Models sometimes wrap the object in prose or code fences.
func extractJSON(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// ParseDecision extracts and validates a decision from raw model output
func ParseDecision(text string) (Decision, error) {
	raw, ok := extractJSON(text)
	if !ok {
		return Decision{}, fmt.Errorf("no JSON object in response")
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Decision{}, fmt.Errorf("unmarshal response: %w", err)
	}
	sch, err := schema()
	if err != nil {
		return Decision{}, err
	}
	if err := sch.Validate(v); err != nil {
		return Decision{}, fmt.Errorf("response does not match schema: %w", err)
	}

	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	return d, nil
}
