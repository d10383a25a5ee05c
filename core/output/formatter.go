// Package output provides output formatting interfaces.
// This package produces human and machine-readable outputs of a verification run.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"medbill-verify/core/engine"
)

// Format represents output format type
type Format string

const (
	// FormatTable is a human-readable table
	FormatTable Format = "table"

	// FormatJSON is machine-readable JSON
	FormatJSON Format = "json"
)

// View selects which view of a run is rendered
type View string

const (
	// ViewFinal is the clean view: status, amounts and reason tag
	ViewFinal View = "final"

	// ViewDebug is the full trace of every line
	ViewDebug View = "debug"

	// ViewBoth renders the debug view followed by the final view
	ViewBoth View = "both"
)

// ParseView validates a view name
func ParseView(s string) (View, error) {
	switch View(s) {
	case ViewFinal, ViewDebug, ViewBoth:
		return View(s), nil
	}
	return "", fmt.Errorf("unknown view %q (want final, debug or both)", s)
}

// Formatter produces output in a specific format
type Formatter interface {
	// Format returns the format type
	Format() Format

	// Render produces output for the given run
	Render(w io.Writer, resp *engine.Response, view View) error
}

// JSONFormatter renders views as indented JSON
type JSONFormatter struct{}

// Format implements Formatter
func (JSONFormatter) Format() Format { return FormatJSON }

// Render implements Formatter. ViewBoth renders the whole response.
func (JSONFormatter) Render(w io.Writer, resp *engine.Response, view View) error {
	var v interface{}
	switch view {
	case ViewFinal:
		v = resp.Final
	case ViewDebug:
		v = resp.Debug
	default:
		v = resp
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Registry manages formatter registration
type Registry struct {
	mu         sync.RWMutex
	formatters map[Format]Formatter
}

// NewRegistry returns a registry holding the built-in formatters
func NewRegistry() *Registry {
	r := &Registry{formatters: make(map[Format]Formatter)}
	_ = r.Register(JSONFormatter{})
	_ = r.Register(TableFormatter{})
	return r
}

// Register adds a formatter to the registry
func (r *Registry) Register(f Formatter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.formatters[f.Format()]; ok {
		return fmt.Errorf("formatter %q already registered", f.Format())
	}
	r.formatters[f.Format()] = f
	return nil
}

// Get returns a formatter for a format type
func (r *Registry) Get(format Format) (Formatter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.formatters[format]
	return f, ok
}

// Formats returns the registered format names in order
func (r *Registry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Format, 0, len(r.formatters))
	for f := range r.formatters {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
