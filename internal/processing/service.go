package processing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zombor/receipt-pipeline/internal/analysis"
	"github.com/zombor/receipt-pipeline/internal/imaging"
	"github.com/zombor/receipt-pipeline/internal/ocr"
	"github.com/zombor/receipt-pipeline/internal/parsing"
	"github.com/zombor/receipt-pipeline/internal/summary"
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service sequences the extraction pipeline for one task: fetch the source
// document, preprocess and OCR each page, parse the financial fields, tag
// them, optionally summarize, and persist a terminal result.
type Service struct {
	store        ResultStore
	objects      ObjectStore
	recognizer   ocr.Recognizer
	analyzer     *analysis.Engine
	summarizer   summary.Summarizer
	fetchTimeout time.Duration
	timeSource   TimeSource
}

// NewService creates a Service. The summarizer may be nil when summaries are
// disabled.
func NewService(store ResultStore, objects ObjectStore, recognizer ocr.Recognizer, analyzer *analysis.Engine, summarizer summary.Summarizer) *Service {
	return &Service{
		store:        store,
		objects:      objects,
		recognizer:   recognizer,
		analyzer:     analyzer,
		summarizer:   summarizer,
		fetchTimeout: 15 * time.Second,
		timeSource:   &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a Service with a custom time source for testing.
func NewServiceWithDeps(store ResultStore, objects ObjectStore, recognizer ocr.Recognizer, analyzer *analysis.Engine, summarizer summary.Summarizer, timeSource TimeSource) *Service {
	s := NewService(store, objects, recognizer, analyzer, summarizer)
	s.timeSource = timeSource
	return s
}

// Process runs the pipeline for one task. Errors before field parsing abort
// the task with an error status; parsing, analysis and summarization never
// fail, so a task that reaches them always completes, even with empty OCR
// text. Replays of the same task ID converge on one record.
func (s *Service) Process(ctx context.Context, taskID, sourceKey string, generateSummary bool) error {
	if err := s.store.SetStatus(taskID, StatusStarted, ""); err != nil {
		return fmt.Errorf("marking task started: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	data, err := s.objects.Fetch(fetchCtx, sourceKey)
	if err != nil {
		return s.fail(taskID, fmt.Errorf("fetching source document: %w", err))
	}

	rawText, err := s.extractText(ctx, data)
	if err != nil {
		return s.fail(taskID, err)
	}

	fields := parsing.Parse(rawText)
	tags := s.analyzer.Analyze(fields, s.timeSource.Now())

	var summaryText *string
	if generateSummary && s.summarizer != nil {
		text := s.summarizer.Summarize(ctx, rawText, fields.Total, fields.Date)
		summaryText = &text
	}

	result := &Result{
		TaskID:  taskID,
		Fields:  fields,
		RawText: rawText,
		Tags:    tags,
		Summary: summaryText,
		Status:  StatusCompleted,
	}
	if err := s.store.Upsert(result); err != nil {
		return s.fail(taskID, fmt.Errorf("persisting result: %w", err))
	}

	slog.Info("Task completed",
		"task_id", taskID,
		"merchant", fields.Merchant,
		"tags", tags,
	)
	return nil
}

// extractText turns the source document into OCR text: one bitmap for
// images, one per page for PDFs rendered at 300 DPI, each binarized before
// recognition. Multi-page text carries explicit page markers.
func (s *Service) extractText(ctx context.Context, data []byte) (string, error) {
	if imaging.IsPDF(data, "") {
		pages, err := imaging.RenderPDF(data)
		if err != nil {
			return "", err
		}

		var text strings.Builder
		for i, page := range pages {
			prepared, err := imaging.PrepareRendered(page)
			if err != nil {
				return "", err
			}
			pageText, err := s.recognizer.Recognize(ctx, prepared)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&text, "\n--- Page %d ---\n%s", i+1, pageText)
		}
		return text.String(), nil
	}

	prepared, err := imaging.Prepare(data, "")
	if err != nil {
		return "", err
	}
	return s.recognizer.Recognize(ctx, prepared)
}

// fail records a terminal error status with the failure description and
// passes the original error back for the queue layer to classify. Partial
// field results are discarded, not persisted.
func (s *Service) fail(taskID string, err error) error {
	slog.Error("Task failed", "task_id", taskID, "error", err)
	if storeErr := s.store.SetStatus(taskID, StatusError, err.Error()); storeErr != nil {
		slog.Error("Failed to record error status", "task_id", taskID, "error", storeErr)
	}
	return err
}
