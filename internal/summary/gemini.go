package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements Summarizer using Google Gemini.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini summarizer.
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// Summarize sends the prompt to Gemini, falling back to placeholder strings
// on any failure so the pipeline never notices a broken provider.
func (g *Gemini) Summarize(ctx context.Context, rawText string, total *float64, date *string) string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := g.model.GenerateContent(ctx, genai.Text(buildPrompt(rawText, total, date)))
	if err != nil {
		if ctx.Err() != nil {
			slog.Error("Gemini summary timed out")
			return "Summary unavailable (Timeout)."
		}
		slog.Error("Gemini summary failed", "error", err)
		return "Summary generation failed."
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		slog.Warn("No response from gemini")
		return "Summary unavailable (Invalid response format)."
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return stripReasoning(text.String())
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
