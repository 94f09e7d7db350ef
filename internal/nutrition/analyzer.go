package nutrition

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"ai-meal-tracker/internal/llm"
)

//go:embed analyzer_prompt.md
var analyzerPrompt string

var analyzerTemplate = template.Must(template.New("analyzer").Parse(analyzerPrompt))

const (
	analyzerAgentName = "NutritionAnalyzer"
	analyzedMealName  = "Analyzed meal"
)

// Source tells where an analysis came from.
type Source string

const (
	SourceAI       Source = "ai"
	SourceFallback Source = "fallback"
)

// FaultReason classifies why the model path was not used.
type FaultReason string

const (
	ReasonMissingCredential FaultReason = "missing_credential"
	ReasonTransport         FaultReason = "transport"
	ReasonEmptyResponse     FaultReason = "empty_response"
	ReasonMalformedPayload  FaultReason = "malformed_payload"
	ReasonUnrecognizedShape FaultReason = "unrecognized_shape"
)

// Fault describes a failed model analysis.
type Fault struct {
	Reason FaultReason
	Err    error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return string(f.Reason)
	}
	return fmt.Sprintf("%s: %v", f.Reason, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Analysis is the outcome of Analyzer.Analyze. Fault is set whenever Source
// is SourceFallback.
type Analysis struct {
	Result Result
	Source Source
	Fault  *Fault
	Meta   llm.AgentMeta
}

// Analyzer resolves meal descriptions through a language model, falling back
// to AnalyzeOffline on any fault.
type Analyzer struct {
	textGen llm.TextGenerator
}

// NewAnalyzer creates an Analyzer. A nil textGen means no credential is
// configured and every call uses the offline table.
func NewAnalyzer(textGen llm.TextGenerator) *Analyzer {
	return &Analyzer{textGen: textGen}
}

// Analyze never fails: any fault on the model path yields the offline result.
func (a *Analyzer) Analyze(ctx context.Context, description string) Analysis {
	start := time.Now()
	res, meta, fault := a.analyzeRemote(ctx, description)
	meta.Latency = time.Since(start)
	if fault == nil {
		return Analysis{Result: res, Source: SourceAI, Meta: meta}
	}

	if fault.Reason == ReasonMissingCredential {
		slog.Debug("AI analysis unavailable, using offline analyzer", "reason", fault.Reason)
	} else {
		slog.Warn("AI analysis failed, using offline analyzer", "reason", fault.Reason, "error", fault.Err)
	}
	return Analysis{
		Result: AnalyzeOffline(description),
		Source: SourceFallback,
		Fault:  fault,
		Meta:   meta,
	}
}

func (a *Analyzer) analyzeRemote(ctx context.Context, description string) (Result, llm.AgentMeta, *Fault) {
	meta := llm.AgentMeta{AgentName: analyzerAgentName}
	if a.textGen == nil {
		return Result{}, meta, &Fault{Reason: ReasonMissingCredential, Err: llm.ErrMissingCredential}
	}

	prompt, err := BuildPrompt(description)
	if err != nil {
		return Result{}, meta, &Fault{Reason: ReasonTransport, Err: err}
	}

	resp, err := a.textGen.GenerateContent(ctx, prompt)
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrMissingCredential):
			return Result{}, meta, &Fault{Reason: ReasonMissingCredential, Err: err}
		case errors.Is(err, llm.ErrEmptyResponse):
			return Result{}, meta, &Fault{Reason: ReasonEmptyResponse, Err: err}
		}
		return Result{}, meta, &Fault{Reason: ReasonTransport, Err: err}
	}
	meta.Usage = resp.Usage

	res, fault := ParseResponse(resp.Content)
	return res, meta, fault
}

// BuildPrompt renders the analysis prompt for a description.
func BuildPrompt(description string) (string, error) {
	var buf bytes.Buffer
	if err := analyzerTemplate.Execute(&buf, struct{ Description string }{description}); err != nil {
		return "", fmt.Errorf("failed to render analyzer prompt: %w", err)
	}
	return buf.String(), nil
}

// ParseResponse converts raw model text into a Result. The returned fault is
// nil on success.
func ParseResponse(content string) (Result, *Fault) {
	text := stripFences(content)
	if text == "" {
		return Result{}, &Fault{Reason: ReasonEmptyResponse, Err: errors.New("empty response body")}
	}

	obj, err := extractJSONObject(text)
	if err != nil {
		return Result{}, &Fault{Reason: ReasonMalformedPayload, Err: err}
	}

	payload, err := parsePayload(obj)
	if err != nil {
		return Result{}, &Fault{Reason: ReasonMalformedPayload, Err: err}
	}

	switch p := payload.(type) {
	case CanonicalPayload:
		if len(p.Items) == 0 {
			return Result{}, &Fault{Reason: ReasonUnrecognizedShape, Err: errors.New("items array is empty")}
		}
		return Normalize(p.Items), nil
	case NutrientMapPayload:
		name := p.Meal
		if name == "" {
			name = analyzedMealName
		}
		return Normalize([]FoodItem{{
			Name:     name,
			Quantity: 1,
			Unit:     defaultUnit,
			Calories: p.Calories,
			Protein:  p.Protein,
			Carbs:    p.Carbs,
			Fats:     p.Fats,
		}}), nil
	case UnrecognizedPayload:
		return Result{}, &Fault{
			Reason: ReasonUnrecognizedShape,
			Err:    fmt.Errorf("unexpected keys: %s", strings.Join(p.Keys, ", ")),
		}
	default:
		return Result{}, &Fault{Reason: ReasonUnrecognizedShape, Err: fmt.Errorf("unknown payload %T", payload)}
	}
}
