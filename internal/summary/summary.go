// Package summary generates a short natural-language description of a
// receipt through an external text-generation service. Summarization is
// strictly best-effort: every failure class degrades to a human-readable
// placeholder string, never to an error, so the rest of the pipeline cannot
// be affected by a flaky provider.
package summary

import (
	"context"
	"fmt"
	"strings"
)

// maxPromptText caps how much raw OCR text is sent to the provider.
const maxPromptText = 6000

// Summarizer produces a one-sentence summary of a receipt. Implementations
// must never fail: on any error they return a placeholder describing the
// failure class.
type Summarizer interface {
	Summarize(ctx context.Context, rawText string, total *float64, date *string) string
	Close() error
}

// buildPrompt assembles the shared instruction sent to every provider.
func buildPrompt(rawText string, total *float64, date *string) string {
	totalStr := "unknown"
	if total != nil {
		totalStr = fmt.Sprintf("%.2f", *total)
	}
	dateStr := "unknown"
	if date != nil {
		dateStr = *date
	}
	if len(rawText) > maxPromptText {
		rawText = rawText[:maxPromptText]
	}

	return fmt.Sprintf(`Act as a financial assistant. Analyze the following receipt text and extracted data.

Extracted Data:
- Total: %s
- Date: %s

Raw OCR Text:
%s

Task:
1. Identify the Merchant Name (Vendor) (If not available say unknown).
2. Categorize the expense (e.g., Groceries, Travel, Dining, Office Supplies) (if not possible say could not categorize).
3. Write a 1-sentence summary of the transaction.
The whole output shouldn't be no longer than 30 words.
Format the output as a simple string, do not use Markdown.`, totalStr, dateStr, rawText)
}

// stripReasoning removes a leading <think>...</think> segment some models
// prepend to their answer.
func stripReasoning(content string) string {
	if strings.Contains(content, "<think>") {
		if _, after, found := strings.Cut(content, "</think>"); found {
			return strings.TrimSpace(after)
		}
	}
	return strings.TrimSpace(content)
}
