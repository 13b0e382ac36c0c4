// Package extraction turns free-form financial text into a StructuredRecord by
// asking an external extraction capability for a JSON object, recovering that
// object from whatever prose surrounds it, and normalizing its fields.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/financial"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/normalize"
	apperrors "github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/logger"
)

// Capability is the external service that reads text and answers with a
// candidate JSON payload. Implementations classify their own failures as
// ErrServiceUnavailable or ErrRateLimited where that applies.
type Capability interface {
	Complete(ctx context.Context, instruction, text string) (string, error)
}

// Instruction is sent with every request.
const Instruction = `You are a financial data extraction assistant. Extract the following information from the given financial text:
1. Company name
2. Financial metric (e.g., revenue, net income, EBITDA)
3. Value (numerical value only)
4. Currency (e.g., USD, EUR)
5. Quarter (e.g., Q1 2023)

Return the extracted information as a JSON object with the following structure:
{
    "company": "Company name",
    "metric": "Financial metric",
    "value": "Numerical value (as a string)",
    "currency": "Currency code",
    "quarter": "Quarter"
}

Only include the JSON object in your response, nothing else.`

// requiredFields lists the keys the response must carry, in report order.
var requiredFields = []string{"company", "metric", "value", "currency", "quarter"}

// Options tune how strictly candidates are accepted.
type Options struct {
	// StrictValues rejects candidates whose value does not parse to a finite number.
	StrictValues bool
	// OnParseWarning is called when a value or period could not be parsed.
	OnParseWarning func(field string)
}

// Adapter wraps a Capability and produces validated records.
type Adapter struct {
	capability Capability
	opts       Options
	logger     *slog.Logger
}

// New creates an Adapter around the given capability.
func New(capability Capability, opts Options) *Adapter {
	return &Adapter{
		capability: capability,
		opts:       opts,
		logger:     slog.Default().With("component", "extraction-adapter"),
	}
}

// Extract calls the capability for rawText and returns the normalized record.
// The record's metadata holds only the pipeline-owned keys; callers add the
// request_id and submission metadata.
func (a *Adapter) Extract(ctx context.Context, rawText string) (*financial.StructuredRecord, error) {
	log := logger.FromContext(ctx).With("component", "extraction-adapter")
	response, err := a.capability.Complete(ctx, Instruction, "Extract financial data from the following text: "+rawText)
	if err != nil {
		return nil, fmt.Errorf("calling extraction service: %w", err)
	}

	fields, err := decodeObject(response)
	if err != nil {
		log.Warn("extraction response is not JSON", "error", err, "response_size", len(response))
		return nil, err
	}
	candidate, err := candidateFrom(fields)
	if err != nil {
		return nil, err
	}
	return a.normalize(log, candidate, rawText)
}

func (a *Adapter) normalize(log *slog.Logger, c *financial.Candidate, rawText string) (*financial.StructuredRecord, error) {
	meta := map[string]any{
		financial.MetaOriginalValueRaw: c.ValueRaw,
	}

	value, ok := normalize.ParseFinancialValue(c.ValueRaw)
	if !ok {
		a.warn("value")
		if a.opts.StrictValues {
			return nil, fmt.Errorf("%w: value %q is not a finite number", apperrors.ErrInvalidResponse, c.ValueRaw)
		}
		log.Warn("could not parse financial value, storing zero", "value_raw", c.ValueRaw)
		meta[financial.MetaValueParseWarning] = true
	}

	period := normalize.ResolvePeriod(c.PeriodRaw, rawText)
	if period == normalize.UnknownPeriod {
		a.warn("period")
		log.Warn("could not determine period", "period_raw", c.PeriodRaw)
	}

	return &financial.StructuredRecord{
		Company:  strings.TrimSpace(c.Company),
		Metric:   strings.ToLower(strings.TrimSpace(c.Metric)),
		Value:    value,
		Currency: strings.ToUpper(strings.TrimSpace(c.CurrencyRaw)),
		Period:   period,
		RawText:  rawText,
		Metadata: meta,
	}, nil
}

func (a *Adapter) warn(field string) {
	if a.opts.OnParseWarning != nil {
		a.opts.OnParseWarning(field)
	}
}

// decodeObject parses the whole response as JSON first and, failing that, the
// span between the first '{' and the last '}'.
func decodeObject(response string) (map[string]any, error) {
	text := stripCodeFence(response)
	if fields, err := unmarshalObject(text); err == nil {
		return fields, nil
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("%w: no JSON object in response", apperrors.ErrInvalidResponse)
	}
	fields, err := unmarshalObject(text[start : end+1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidResponse, err)
	}
	return fields, nil
}

func unmarshalObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON object")
	}
	if fields == nil {
		return nil, fmt.Errorf("response is JSON null")
	}
	return fields, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// candidateFrom checks that every required key is present and non-null.
// Scalars that are not strings (the model sometimes answers value as a
// number) are rendered to text.
func candidateFrom(fields map[string]any) (*financial.Candidate, error) {
	values := make(map[string]string, len(requiredFields))
	for _, name := range requiredFields {
		raw, ok := fields[name]
		if !ok || raw == nil {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrMissingField, name)
		}
		switch v := raw.(type) {
		case string:
			values[name] = v
		case json.Number, bool:
			values[name] = fmt.Sprint(v)
		default:
			return nil, fmt.Errorf("%w: field %s is not a scalar", apperrors.ErrInvalidResponse, name)
		}
	}
	return &financial.Candidate{
		Company:     values["company"],
		Metric:      values["metric"],
		ValueRaw:    values["value"],
		CurrencyRaw: values["currency"],
		PeriodRaw:   values["quarter"],
	}, nil
}
