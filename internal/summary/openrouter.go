package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

const defaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenRouter implements Summarizer against the OpenRouter chat-completions
// API.
type OpenRouter struct {
	baseURL  string
	apiKey   string
	model    string
	siteURL  string
	siteName string
	client   *http.Client
}

// NewOpenRouter creates an OpenRouter summarizer. An empty API key is not an
// error here; Summarize reports it as a placeholder instead, so a worker
// without credentials still completes every task.
func NewOpenRouter(baseURL, apiKey, model string) *OpenRouter {
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	if model == "" {
		model = "google/gemma-2-27b-it:free"
	}
	return &OpenRouter{
		baseURL:  baseURL,
		apiKey:   apiKey,
		model:    model,
		siteURL:  "http://localhost:8000",
		siteName: "ReceiptProcessor",
		client: &http.Client{
			// A slow provider must not stall the worker
			Timeout: 10 * time.Second,
		},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Summarize calls the chat-completions endpoint and returns the summary, or
// a placeholder describing why one could not be produced.
func (o *OpenRouter) Summarize(ctx context.Context, rawText string, total *float64, date *string) string {
	if o.apiKey == "" {
		return "LLM Summary unavailable (API Key not configured)."
	}

	reqBody := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "user", Content: buildPrompt(rawText, total, date)},
		},
		Temperature: 0.3,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		slog.Error("Failed to marshal summary request", "error", err)
		return "Summary generation failed."
	}

	url := fmt.Sprintf("%s/chat/completions", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		slog.Error("Failed to create summary request", "error", err)
		return "Summary generation failed."
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", o.siteURL)
	req.Header.Set("X-Title", o.siteName)

	resp, err := o.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			slog.Error("Summary provider timed out")
			return "Summary unavailable (Timeout)."
		}
		slog.Error("Summary provider call failed", "error", err)
		return "Summary generation failed."
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Error("Summary provider returned an error", "status", resp.StatusCode)
		return fmt.Sprintf("Summary unavailable (Provider Error: %d)", resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		slog.Warn("Unexpected summary provider response", "error", err)
		return "Summary unavailable (Invalid response format)."
	}
	if len(chatResp.Choices) == 0 {
		slog.Warn("Summary provider returned no choices")
		return "Summary unavailable (Invalid response format)."
	}

	return stripReasoning(chatResp.Choices[0].Message.Content)
}

// Close closes the summarizer (no-op for HTTP client)
func (o *OpenRouter) Close() error {
	return nil
}
