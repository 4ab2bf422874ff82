// Package parsing extracts structured financial fields from raw OCR text.
// Every extraction step is total: malformed or absent data degrades to a
// nil field or a default, never to an error.
package parsing

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// FinancialFields holds the structured data extracted from one receipt.
// Every numeric field is independently optional; absence is an expected
// outcome, not an error. Amounts are always non-negative once present.
type FinancialFields struct {
	Merchant  string   `json:"merchant"`
	Date      *string  `json:"date"` // YYYY-MM-DD
	Total     *float64 `json:"total"`
	Subtotal  *float64 `json:"subtotal"`
	Tax       *float64 `json:"tax"`
	Tip       *float64 `json:"tip"`
	Discount  *float64 `json:"discount"`
	OtherFees *float64 `json:"other_fees"`
}

const unknownMerchant = "Unknown Merchant"

// Receipt dates outside this range are treated as OCR noise.
const (
	minYear = 1970
	maxYear = 2030
)

// moneyPattern matches currency-symbol-optional amounts with thousands
// separators and exactly two decimal digits. Parentheses and a leading or
// trailing minus mark negatives; OCR often misplaces the sign after the
// digits ("5.00-").
var moneyPattern = regexp.MustCompile(`[(\-]?\s*(?:[$€£¥]\s*)?\d{1,3}(?:,\d{3})*\.\d{2}\s*[)\-]?`)

var (
	labeledDatePattern = regexp.MustCompile(`(?i)date\s*[:.]?\s*(\d{1,2}\s*[/\-.]\s*\d{1,2}\s*[/\-.]\s*\d{2,4})`)
	dmyDatePattern     = regexp.MustCompile(`\d{1,2}\s*[/\-.]\s*\d{1,2}\s*[/\-.]\s*\d{4}`)
	ymdDatePattern     = regexp.MustCompile(`\d{4}\s*[/\-.]\s*\d{1,2}\s*[/\-.]\s*\d{1,2}`)
	textMonthPattern   = regexp.MustCompile(`(?i)(?:\d{1,2}\s+(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?,?\s+\d{4}|(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4})`)
	yearPattern        = regexp.MustCompile(`(19[7-9]\d|20[0-2]\d|2030)`)
	digitPattern       = regexp.MustCompile(`\d`)
	nonAmountPattern   = regexp.MustCompile(`[^\d.,\-]`)
)

var (
	totalKeywords    = []string{"total", "amount due", "grand total", "balance due", "payment", "grand amount"}
	subtotalKeywords = []string{"subtotal", "sub total", "net amount", "taxable"}
	taxKeywords      = []string{"tax", "vat", "gst", "hst", "sales tax"}
	tipKeywords      = []string{"tip", "gratuity", "service charge", "svc chg"}
	discountKeywords = []string{"discount", "savings", "coupon", "promo", "credit"}
)

// Parse runs the full extraction over a document's raw OCR text.
func Parse(text string) FinancialFields {
	lines := splitLines(text)

	fields := extractAmounts(lines)
	fields.Merchant = extractMerchant(lines)
	fields.Date = extractDate(lines)
	return fields
}

// splitLines returns the non-empty, trimmed lines of the text in order.
func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// normalizeAmount cleans a money token and converts it to a non-negative
// float. Sign information is discarded; it carries no meaning for extraction.
func normalizeAmount(token string) float64 {
	clean := nonAmountPattern.ReplaceAllString(token, "")
	// OCR quirk: "5.00-" means negative five
	if strings.HasSuffix(clean, "-") {
		clean = "-" + strings.TrimSuffix(clean, "-")
	}
	clean = strings.ReplaceAll(clean, ",", "")
	val, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0
	}
	return math.Abs(val)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// extractAmounts classifies money tokens into fields using the keyword tiers.
// Lines are walked bottom-up because totals conventionally sit near the
// bottom, and the last token on a line is the value in label-then-value
// layouts ("Total ........ 10.00"). Each field is set once, on its
// bottom-most match.
func extractAmounts(lines []string) FinancialFields {
	var fields FinancialFields

	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		lower := strings.ToLower(line)

		tokens := moneyPattern.FindAllString(line, -1)
		if len(tokens) == 0 {
			continue
		}
		val := normalizeAmount(tokens[len(tokens)-1])

		// "Subtotal" must not be misread as "total"
		if fields.Total == nil && containsAny(lower, totalKeywords) && !strings.Contains(lower, "sub") {
			fields.Total = &val
			continue
		}
		if fields.Subtotal == nil && containsAny(lower, subtotalKeywords) {
			fields.Subtotal = &val
			continue
		}
		if fields.Tax == nil && containsAny(lower, taxKeywords) {
			fields.Tax = &val
			continue
		}
		if fields.Tip == nil && containsAny(lower, tipKeywords) {
			fields.Tip = &val
			continue
		}
		if fields.Discount == nil && containsAny(lower, discountKeywords) {
			fields.Discount = &val
			continue
		}
	}

	// No labeled total: the grand total is heuristically the largest figure
	// anywhere in the document.
	if fields.Total == nil {
		var largest *float64
		for _, line := range lines {
			for _, token := range moneyPattern.FindAllString(line, -1) {
				v := normalizeAmount(token)
				if largest == nil || v > *largest {
					val := v
					largest = &val
				}
			}
		}
		fields.Total = largest
	}

	return fields
}

// extractMerchant scans the first five non-empty lines for the header line
// that names the merchant. Lines with digits are skipped to avoid phone
// numbers and dates.
func extractMerchant(lines []string) string {
	limit := len(lines)
	if limit > 5 {
		limit = 5
	}
	for _, line := range lines[:limit] {
		if len(line) < 3 {
			continue
		}
		if digitPattern.MatchString(line) {
			continue
		}
		if strings.Contains(strings.ToLower(line), "welcome") {
			continue
		}
		return titleCase(line)
	}
	return unknownMerchant
}

// titleCase uppercases the first letter of each word and lowercases the rest.
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// extractDate resolves the receipt date with a tiered strategy:
//  1. labeled, numeric and textual-month regexes, each resolved through the
//     natural-language date parser (highest confidence first)
//  2. a windowed scan of the whole text through the same parser
//
// A date is only accepted when its year lies in [minYear, maxYear]; nothing
// out of range or ambiguous is ever surfaced.
func extractDate(lines []string) *string {
	fullText := strings.Join(lines, "\n")

	patterns := []*regexp.Regexp{labeledDatePattern, dmyDatePattern, ymdDatePattern, textMonthPattern}
	for _, pattern := range patterns {
		m := pattern.FindStringSubmatch(fullText)
		if m == nil {
			continue
		}
		candidate := m[0]
		if len(m) > 1 && m[1] != "" {
			candidate = m[1]
		}
		if date := resolveDate(candidate); date != nil {
			return date
		}
	}

	return searchDate(fullText)
}

// resolveDate parses a candidate substring and formats it as YYYY-MM-DD when
// its year is in range.
func resolveDate(candidate string) *string {
	t, err := dateparse.ParseAny(strings.TrimSpace(candidate))
	if err != nil {
		return nil
	}
	if t.Year() < minYear || t.Year() > maxYear {
		return nil
	}
	formatted := t.Format("2006-01-02")
	return &formatted
}

// searchDate slides a short token window over the text and accepts the first
// resolvable date. A window must carry an explicit in-range year so that
// prices and quantities are never mistaken for dates, and at least one more
// digit group so year, month and day are all present.
func searchDate(text string) *string {
	tokens := strings.Fields(text)
	for i := range tokens {
		for window := 3; window >= 1; window-- {
			if i+window > len(tokens) {
				continue
			}
			candidate := strings.Trim(strings.Join(tokens[i:i+window], " "), ".,;:")
			if !yearPattern.MatchString(candidate) {
				continue
			}
			if len(digitPattern.FindAllString(candidate, -1)) < 6 {
				continue
			}
			if date := resolveDate(candidate); date != nil {
				return date
			}
		}
	}
	return nil
}

// ReferenceTime parses a YYYY-MM-DD date string, the inverse of what
// extractDate produces. Analysis rules use it to compare receipt dates
// against the current date.
func ReferenceTime(date string) (time.Time, error) {
	return time.Parse("2006-01-02", date)
}
