// Package compare reconciles two already-canonical metric sources into one
// comparison dataset. Everything here is deterministic: nested aggregates
// collapse under a fixed policy, differences are recomputed with decimal
// arithmetic, and collaborator arithmetic is never trusted.
package compare

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/taxcomp-cli/internal/extract"
	"github.com/sells-group/taxcomp-cli/internal/model"
)

// ratePreferredKeys is the ordered key preference when collapsing a nested
// aggregate for a rate-like metric. Summing rates is meaningless, so the
// policy picks the most representative component instead.
var ratePreferredKeys = []string{"total", "effective", "overall", "combined", "federal"}

// BuildDataset collapses a validated reconciliation payload into a
// renderable dataset. Year labels fall back to the provided defaults when
// the payload omits them. Collapse failures are collected across every
// metric before failing.
func BuildDataset(recon model.Reconciliation, client, scenario, yearA, yearB string) (model.Dataset, error) {
	if len(recon.YearLabels) >= 2 {
		yearA, yearB = recon.YearLabels[0], recon.YearLabels[1]
	}

	var violations []string
	metrics := make([]model.Metric, 0, len(recon.KeyMetrics))

	for i, km := range recon.KeyMetrics {
		id := model.CanonicalID(km.Label)
		rateLike := model.IsRateLike(id)

		a, errA := CollapseValue(km.PreviousYear, rateLike)
		if errA != nil {
			violations = append(violations, fmt.Sprintf("key_metrics[%d] (%s): previous_year: %v", i, id, errA))
		}
		b, errB := CollapseValue(km.CurrentYear, rateLike)
		if errB != nil {
			violations = append(violations, fmt.Sprintf("key_metrics[%d] (%s): current_year: %v", i, id, errB))
		}
		if errA != nil || errB != nil {
			continue
		}

		af, _ := a.Float64()
		bf, _ := b.Float64()
		m := model.Metric{
			Category:   id,
			YearAValue: af,
			YearBValue: bf,
			Difference: model.RoundDifference(af, bf),
		}
		if pct, ok := parsePercentage(km.PercentageChange); ok {
			m.PercentageChange = &pct
		}
		metrics = append(metrics, m)
	}

	if len(violations) > 0 {
		return model.Dataset{}, &extract.SchemaError{Violations: violations}
	}

	return model.Dataset{
		Client:     client,
		Scenario:   scenario,
		YearALabel: yearA,
		YearBLabel: yearB,
		Metrics:    metrics,
	}, nil
}

// CollapseValue reduces a decoded JSON value to one decimal scalar.
// Scalars pass through; aggregates collapse by policy: rate-like metrics
// take the preferred (or largest-magnitude) component, everything else
// sums its numeric leaves.
func CollapseValue(v any, rateLike bool) (decimal.Decimal, error) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("non-numeric value %q", t.String())
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case string:
		return parseNumericText(t)
	case map[string]any:
		if rateLike {
			return collapseRateAggregate(t)
		}
		return sumLeaves(t)
	case []any:
		if rateLike {
			return largestLeaf(t)
		}
		return sumLeaves(t)
	case nil:
		return decimal.Zero, fmt.Errorf("null value")
	default:
		return decimal.Zero, fmt.Errorf("non-numeric value of type %T", v)
	}
}

func parseNumericText(s string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", "%", "", " ", "").Replace(s)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("non-numeric value %q", s)
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("non-numeric value %q", s)
	}
	return d, nil
}

// collapseRateAggregate picks the first preferred key present, then falls
// back to the largest-magnitude leaf.
func collapseRateAggregate(m map[string]any) (decimal.Decimal, error) {
	for _, want := range ratePreferredKeys {
		for key, v := range m {
			if strings.EqualFold(strings.TrimSpace(key), want) {
				return CollapseValue(v, true)
			}
		}
	}
	return largestLeaf(m)
}

// sumLeaves walks an aggregate and sums every numeric leaf with decimal
// arithmetic. Map keys are visited in sorted order. An aggregate with no
// numeric leaves is an error, not zero.
func sumLeaves(v any) (decimal.Decimal, error) {
	leaves, err := numericLeaves(v)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, leaf := range leaves {
		sum = sum.Add(leaf)
	}
	return sum, nil
}

// largestLeaf returns the numeric leaf with the greatest magnitude; ties
// keep the first seen.
func largestLeaf(v any) (decimal.Decimal, error) {
	leaves, err := numericLeaves(v)
	if err != nil {
		return decimal.Zero, err
	}
	best := leaves[0]
	for _, leaf := range leaves[1:] {
		if leaf.Abs().GreaterThan(best.Abs()) {
			best = leaf
		}
	}
	return best, nil
}

// numericLeaves flattens an aggregate into its numeric leaves in
// deterministic order. Non-numeric leaves are skipped; an aggregate
// yielding none at all is an error.
func numericLeaves(v any) ([]decimal.Decimal, error) {
	var leaves []decimal.Decimal

	var walk func(any)
	walk = func(node any) {
		switch t := node.(type) {
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(t[k])
			}
		case []any:
			for _, el := range t {
				walk(el)
			}
		default:
			if d, err := CollapseValue(t, false); err == nil {
				leaves = append(leaves, d)
			}
		}
	}
	walk(v)

	if len(leaves) == 0 {
		return nil, fmt.Errorf("aggregate has no numeric leaves")
	}
	return leaves, nil
}

// parsePercentage extracts an optional display percentage like "6.7%" or
// "-3.2". Unparseable text is dropped rather than failed; the figure is
// display-only.
func parsePercentage(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
