package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sells-group/taxcomp-cli/internal/model"
)

// locatePayload finds the JSON payload for the declared shape inside raw
// collaborator text: first opening bracket to last closing bracket, after
// stripping a markdown fence. Text before the payload comes back as the
// reasoning preamble; the caller decides whether it matters.
func locatePayload(raw string, shape Shape) (payload, preamble string, err error) {
	text := stripFence(strings.TrimSpace(raw))

	openTok, closeTok := "{", "}"
	if shape == ShapeArray {
		openTok, closeTok = "[", "]"
	}
	start := strings.Index(text, openTok)
	end := strings.LastIndex(text, closeTok)
	if start < 0 || end <= start {
		return "", "", &FormatError{Excerpt: Excerpt(raw)}
	}
	return text[start : end+1], strings.TrimSpace(text[:start]), nil
}

func stripFence(text string) string {
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// decodeStrict parses JSON keeping numbers as json.Number so large and
// decimal values survive untouched.
func decodeStrict(payload string, v any) error {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	return dec.Decode(v)
}

// coerceNumber turns a decoded JSON value into a float64. Numeric strings
// are accepted with currency symbols, separators, and percent signs
// stripped; everything else fails.
func coerceNumber(v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", n.String())
		}
		return f, nil
	case float64:
		return n, nil
	case string:
		cleaned := strings.NewReplacer("$", "", ",", "", "%", "", " ", "").Replace(n)
		if cleaned == "" {
			return 0, fmt.Errorf("non-numeric value %q", n)
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", n)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("null value")
	default:
		return 0, fmt.Errorf("non-numeric value of type %T", v)
	}
}

// toText renders a decoded JSON scalar as text. Used for fields that are
// semantically text but sometimes arrive as numbers.
func toText(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	default:
		return "", false
	}
}

// ValidateComparison checks an array-contract response against the two
// year labels and returns the metrics plus any reasoning preamble. The
// difference field must be present and numeric, but its value is always
// recomputed from the year values. Schema violations are collected across
// the whole payload before failing.
func ValidateComparison(raw, yearA, yearB string) ([]model.Metric, string, error) {
	payload, preamble, err := locatePayload(raw, ShapeArray)
	if err != nil {
		return nil, "", err
	}

	var elements []any
	if err := decodeStrict(payload, &elements); err != nil {
		return nil, "", &FormatError{Excerpt: Excerpt(raw), Err: err}
	}
	if len(elements) == 0 {
		return nil, "", &ShapeError{
			Expected: "non-empty JSON array of metric objects",
			Got:      "empty array",
			Excerpt:  Excerpt(raw),
		}
	}

	required := []string{"type", yearA, yearB, "difference"}
	var violations []string
	metrics := make([]model.Metric, 0, len(elements))

	for i, el := range elements {
		obj, ok := el.(map[string]any)
		if !ok {
			violations = append(violations, fmt.Sprintf("element %d: not an object", i))
			continue
		}

		complete := true
		for _, key := range required {
			if _, present := obj[key]; !present {
				violations = append(violations, fmt.Sprintf("element %d: missing key %q", i, key))
				complete = false
			}
		}
		if !complete {
			continue
		}

		label, ok := toText(obj["type"])
		if !ok || strings.TrimSpace(label) == "" {
			violations = append(violations, fmt.Sprintf("element %d: key \"type\": not a usable identifier", i))
			continue
		}

		usable := true
		values := make(map[string]float64, 3)
		for _, key := range []string{yearA, yearB, "difference"} {
			f, cerr := coerceNumber(obj[key])
			if cerr != nil {
				violations = append(violations, fmt.Sprintf("element %d: key %q: %v", i, key, cerr))
				usable = false
				continue
			}
			values[key] = f
		}
		if !usable {
			continue
		}

		metrics = append(metrics, model.Metric{
			Category:   model.CanonicalID(label),
			YearAValue: values[yearA],
			YearBValue: values[yearB],
			Difference: model.RoundDifference(values[yearA], values[yearB]),
		})
	}

	if len(violations) > 0 {
		return nil, "", &SchemaError{Violations: violations, Excerpt: Excerpt(raw)}
	}
	return metrics, preamble, nil
}

// ValidateParameters checks an object-contract response for the filing
// parameter schema. filing_status is required only for US filers. All
// violations are collected before failing.
func ValidateParameters(raw string) (model.TaxParameters, error) {
	var params model.TaxParameters

	payload, _, err := locatePayload(raw, ShapeObject)
	if err != nil {
		return params, err
	}

	var obj map[string]any
	if err := decodeStrict(payload, &obj); err != nil {
		return params, &FormatError{Excerpt: Excerpt(raw), Err: err}
	}
	if len(obj) == 0 {
		return params, &ShapeError{
			Expected: "JSON object of filing parameters",
			Got:      "empty object",
			Excerpt:  Excerpt(raw),
		}
	}

	var violations []string

	requiredText := func(key string) string {
		v, present := obj[key]
		if !present {
			violations = append(violations, fmt.Sprintf("missing key %q", key))
			return ""
		}
		s, ok := toText(v)
		if !ok || strings.TrimSpace(s) == "" {
			violations = append(violations, fmt.Sprintf("key %q: not usable text", key))
			return ""
		}
		return strings.TrimSpace(s)
	}

	params.Country = requiredText("country")
	params.Region = requiredText("region")
	params.Income = requiredText("income")

	if v, present := obj["filing_status"]; present {
		if s, ok := toText(v); ok {
			params.FilingStatus = strings.TrimSpace(s)
		} else {
			violations = append(violations, `key "filing_status": not usable text`)
		}
	}
	if strings.EqualFold(params.Country, "US") && params.FilingStatus == "" {
		violations = append(violations, `missing key "filing_status" (required when country is US)`)
	}

	optionalNumber := func(key string) *float64 {
		v, present := obj[key]
		if !present || v == nil {
			return nil
		}
		f, cerr := coerceNumber(v)
		if cerr != nil {
			violations = append(violations, fmt.Sprintf("key %q: %v", key, cerr))
			return nil
		}
		return &f
	}

	params.Deductions = optionalNumber("deductions")
	params.Credits = optionalNumber("credits")

	if v, present := obj["self_employed"]; present && v != nil {
		if b, ok := v.(bool); ok {
			params.SelfEmployed = &b
		} else {
			violations = append(violations, `key "self_employed": not a boolean`)
		}
	}

	breakdown := func(key string) map[string]float64 {
		v, present := obj[key]
		if !present || v == nil {
			return nil
		}
		m, ok := v.(map[string]any)
		if !ok {
			violations = append(violations, fmt.Sprintf("key %q: not an object", key))
			return nil
		}
		out := make(map[string]float64, len(m))
		for name, amount := range m {
			f, cerr := coerceNumber(amount)
			if cerr != nil {
				violations = append(violations, fmt.Sprintf("key %q: entry %q: %v", key, name, cerr))
				continue
			}
			out[name] = f
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}

	params.DeductionBreakdown = breakdown("deduction_breakdown")
	params.CreditBreakdown = breakdown("credit_breakdown")

	if len(violations) > 0 {
		return model.TaxParameters{}, &SchemaError{Violations: violations, Excerpt: Excerpt(raw)}
	}
	return params, nil
}

// ValidateBackfill checks the backfill response: one object preserving the
// calculation fields plus the disclosure note.
func ValidateBackfill(raw string) (map[string]any, error) {
	payload, _, err := locatePayload(raw, ShapeObject)
	if err != nil {
		return nil, err
	}

	var obj map[string]any
	if err := decodeStrict(payload, &obj); err != nil {
		return nil, &FormatError{Excerpt: Excerpt(raw), Err: err}
	}
	if len(obj) == 0 {
		return nil, &ShapeError{
			Expected: "JSON object with the completed calculation",
			Got:      "empty object",
			Excerpt:  Excerpt(raw),
		}
	}
	if _, present := obj["note"]; !present {
		return nil, &SchemaError{Violations: []string{`missing key "note"`}, Excerpt: Excerpt(raw)}
	}
	return obj, nil
}

// ValidateReconciliation checks the reconciliation response shape and
// returns the uncooked payload; scalar coercion is the engine's job.
// Unparseable percentage_change values are dropped, not failed.
func ValidateReconciliation(raw string) (model.Reconciliation, error) {
	var recon model.Reconciliation

	payload, _, err := locatePayload(raw, ShapeObject)
	if err != nil {
		return recon, err
	}

	var obj map[string]any
	if err := decodeStrict(payload, &obj); err != nil {
		return recon, &FormatError{Excerpt: Excerpt(raw), Err: err}
	}

	rawMetrics, ok := obj["key_metrics"].([]any)
	if !ok || len(rawMetrics) == 0 {
		return recon, &ShapeError{
			Expected: `object with a non-empty "key_metrics" array`,
			Got:      describeValue(obj["key_metrics"]),
			Excerpt:  Excerpt(raw),
		}
	}

	if labels, ok := obj["year_labels"].([]any); ok {
		for _, l := range labels {
			if s, ok := toText(l); ok {
				recon.YearLabels = append(recon.YearLabels, s)
			}
		}
	}

	var violations []string
	for i, el := range rawMetrics {
		m, ok := el.(map[string]any)
		if !ok {
			violations = append(violations, fmt.Sprintf("key_metrics[%d]: not an object", i))
			continue
		}

		complete := true
		for _, key := range []string{"label", "previous_year", "current_year", "difference"} {
			if _, present := m[key]; !present {
				violations = append(violations, fmt.Sprintf("key_metrics[%d]: missing key %q", i, key))
				complete = false
			}
		}
		if !complete {
			continue
		}

		label, ok := toText(m["label"])
		if !ok || strings.TrimSpace(label) == "" {
			violations = append(violations, fmt.Sprintf("key_metrics[%d]: key \"label\": not a usable identifier", i))
			continue
		}

		pct := ""
		if v, present := m["percentage_change"]; present {
			if s, ok := toText(v); ok {
				pct = s
			}
		}

		recon.KeyMetrics = append(recon.KeyMetrics, model.ReconciledMetric{
			Label:            label,
			PreviousYear:     m["previous_year"],
			CurrentYear:      m["current_year"],
			Difference:       m["difference"],
			PercentageChange: pct,
		})
	}

	if len(violations) > 0 {
		return model.Reconciliation{}, &SchemaError{Violations: violations, Excerpt: Excerpt(raw)}
	}
	return recon, nil
}

func describeValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "missing"
	case []any:
		if len(t) == 0 {
			return "empty array"
		}
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
