// Package analysis flags receipts with audit tags using deterministic
// business rules over the extracted fields.
package analysis

import (
	"time"

	"github.com/zombor/receipt-pipeline/internal/parsing"
)

// Tags applied by the rule engine.
const (
	TagMissingTotal   = "MISSING_TOTAL"
	TagMissingDate    = "MISSING_DATE"
	TagHighValue      = "HIGH_VALUE"
	TagLowValue       = "LOW_VALUE"
	TagFutureDate     = "FUTURE_DATE"
	TagWeekendExpense = "WEEKEND_EXPENSE"
	TagOldReceipt     = "OLD_RECEIPT"
)

// Config holds the rule thresholds. They are policy knobs, not constants;
// deployments tune them without a code change.
type Config struct {
	HighValueThreshold float64
	LowValueThreshold  float64
	FutureDateGrace    time.Duration
	OldReceiptAge      time.Duration
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		HighValueThreshold: 500.00,
		LowValueThreshold:  2.00,
		FutureDateGrace:    24 * time.Hour,
		OldReceiptAge:      90 * 24 * time.Hour,
	}
}

// Engine evaluates the rule set.
type Engine struct {
	config Config
}

// NewEngine creates an Engine with the given thresholds.
func NewEngine(config Config) *Engine {
	return &Engine{config: config}
}

// Analyze applies every rule to the fields, independently of the others, and
// returns the resulting tag set. It is a pure function of the fields and the
// reference date: same inputs, same tags, in a stable order.
func (e *Engine) Analyze(fields parsing.FinancialFields, referenceDate time.Time) []string {
	tags := []string{}

	if fields.Total == nil {
		tags = append(tags, TagMissingTotal)
	}
	if fields.Date == nil {
		tags = append(tags, TagMissingDate)
	}

	if fields.Total != nil {
		if *fields.Total > e.config.HighValueThreshold {
			tags = append(tags, TagHighValue)
		}
		if *fields.Total < e.config.LowValueThreshold {
			tags = append(tags, TagLowValue)
		}
	}

	if fields.Date != nil {
		receiptDate, err := parsing.ReferenceTime(*fields.Date)
		if err == nil {
			if receiptDate.After(referenceDate.Add(e.config.FutureDateGrace)) {
				tags = append(tags, TagFutureDate)
			}
			if wd := receiptDate.Weekday(); wd == time.Saturday || wd == time.Sunday {
				tags = append(tags, TagWeekendExpense)
			}
			if receiptDate.Before(referenceDate.Add(-e.config.OldReceiptAge)) {
				tags = append(tags, TagOldReceipt)
			}
		}
	}

	return tags
}
