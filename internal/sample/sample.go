// Package sample carries the canned comparison dataset used by demo mode,
// by the collaborator-unreachable fallback, and as the canonical fixture
// in rendering tests.
package sample

import (
	"time"

	"github.com/sells-group/taxcomp-cli/internal/model"
)

// Dataset returns the twelve-metric sample comparison for the 2023 and
// 2024 tax years. Differences are internally consistent so the dataset
// passes validation unchanged.
func Dataset() model.Dataset {
	return model.Dataset{
		Client:      "Sample Client",
		Scenario:    "Demo data, no documents were processed.",
		YearALabel:  "2023",
		YearBLabel:  "2024",
		GeneratedAt: time.Now(),
		Metrics: []model.Metric{
			{Category: "WAGES", YearAValue: 75000, YearBValue: 80000, Difference: 5000},
			{Category: "INTEREST_INCOME", YearAValue: 1200, YearBValue: 1500, Difference: 300},
			{Category: "DIVIDENDS", YearAValue: 2500, YearBValue: 2800, Difference: 300},
			{Category: "CAPITAL_GAINS", YearAValue: 5000, YearBValue: 6500, Difference: 1500},
			{Category: "ADJUSTMENTS_TO_INCOME", YearAValue: 3000, YearBValue: 3500, Difference: 500},
			{Category: "STANDARD_DEDUCTION", YearAValue: 12950, YearBValue: 13850, Difference: 900},
			{Category: "TAXABLE_INCOME", YearAValue: 67750, YearBValue: 73450, Difference: 5700},
			{Category: "TAX_BEFORE_CREDITS", YearAValue: 12500, YearBValue: 13800, Difference: 1300},
			{Category: "TAX_CREDITS", YearAValue: 2000, YearBValue: 2000, Difference: 0},
			{Category: "TAX_AFTER_CREDITS", YearAValue: 10500, YearBValue: 11800, Difference: 1300},
			{Category: "REFUND", YearAValue: 1200, YearBValue: 800, Difference: -400},
			{Category: "EFFECTIVE_TAX_RATE", YearAValue: 15, YearBValue: 16, Difference: 1},
		},
	}
}
