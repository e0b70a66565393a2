package model

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Metric is one compared line item across the two years. Category is the
// canonical identifier (uppercase, underscore-separated). Difference is
// always year B minus year A.
type Metric struct {
	Category         string   `json:"category"`
	YearAValue       float64  `json:"year_a_value"`
	YearBValue       float64  `json:"year_b_value"`
	Difference       float64  `json:"difference"`
	PercentageChange *float64 `json:"percentage_change,omitempty"`
}

// Dataset is an ordered set of compared metrics plus the run context they
// were produced under. Metric order is preserved end to end: the document,
// the spreadsheet, and the record all render rows in this order.
type Dataset struct {
	Client      string    `json:"client,omitempty"`
	Scenario    string    `json:"scenario,omitempty"`
	YearALabel  string    `json:"year_a_label"`
	YearBLabel  string    `json:"year_b_label"`
	Metrics     []Metric  `json:"metrics"`
	GeneratedAt time.Time `json:"generated_at"`
}

// CanonicalID normalizes a free-form metric label to its canonical
// identifier form: uppercase with single underscores, no surrounding
// underscores ("Total Income" -> "TOTAL_INCOME").
func CanonicalID(label string) string {
	s := strings.ToUpper(strings.TrimSpace(label))
	s = strings.NewReplacer(" ", "_", "-", "_", "/", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

// rateMarkers are the identifier substrings that mark a metric as a rate
// rather than a currency amount.
var rateMarkers = []string{"RATE", "PERCENT", "EFFECTIVE", "MARGINAL"}

// IsRateLike reports whether a canonical identifier names a rate metric
// ("EFFECTIVE_TAX_RATE", "MARGINAL_RATE"). Rate metrics render as
// percentages and collapse differently during reconciliation.
func IsRateLike(category string) bool {
	for _, marker := range rateMarkers {
		if strings.Contains(category, marker) {
			return true
		}
	}
	return false
}

// RoundDifference computes b minus a with half-even rounding to 2 places.
// All difference values in a Dataset come from this function, never from
// collaborator arithmetic.
func RoundDifference(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(b).Sub(decimal.NewFromFloat(a)).RoundBank(2).Float64()
	return f
}

// Validate checks the invariants every rendered dataset must hold: at least
// one metric, a non-empty category per metric, finite scalar values, and a
// difference equal to year B minus year A within 2-place rounding. Returns
// one problem string per violation, empty when the dataset is sound.
func (d *Dataset) Validate() []string {
	var problems []string
	if len(d.Metrics) == 0 {
		problems = append(problems, "dataset has no metrics")
	}
	for i, m := range d.Metrics {
		if strings.TrimSpace(m.Category) == "" {
			problems = append(problems, fmt.Sprintf("metric %d: empty category", i))
			continue
		}
		if !isFinite(m.YearAValue) || !isFinite(m.YearBValue) || !isFinite(m.Difference) {
			problems = append(problems, fmt.Sprintf("metric %d (%s): non-finite value", i, m.Category))
			continue
		}
		want := decimal.NewFromFloat(m.YearBValue).Sub(decimal.NewFromFloat(m.YearAValue)).RoundBank(2)
		got := decimal.NewFromFloat(m.Difference).RoundBank(2)
		if !want.Equal(got) {
			problems = append(problems, fmt.Sprintf("metric %d (%s): difference %s does not equal %s - %s",
				i, m.Category, got, decimal.NewFromFloat(m.YearBValue), decimal.NewFromFloat(m.YearAValue)))
		}
	}
	return problems
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
