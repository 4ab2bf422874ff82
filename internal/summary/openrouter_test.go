package summary

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

func TestSummary(t *testing.T) {
	// Disable logging during tests
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Summary Suite")
}

var _ = Describe("OpenRouter", func() {
	var (
		server     *ghttp.Server
		summarizer *OpenRouter
		total      *float64
		date       *string
		result     string
	)

	fifty := 50.00
	day := "2023-01-01"

	BeforeEach(func() {
		server = ghttp.NewServer()
		summarizer = NewOpenRouter(server.URL(), "test-key", "test-model")
		total = &fifty
		date = &day
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		result = summarizer.Summarize(context.Background(), "Walmart\nTotal: 50.00", total, date)
	})

	When("the provider responds normally", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/chat/completions"),
				ghttp.VerifyHeaderKV("Authorization", "Bearer test-key"),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"choices": []map[string]any{
						{"message": map[string]any{"role": "assistant", "content": "Walmart. Groceries. A routine grocery run for $50."}},
					},
				}),
			))
		})

		It("returns the summary text", func() {
			Expect(result).To(Equal("Walmart. Groceries. A routine grocery run for $50."))
		})
	})

	When("the model prepends a reasoning segment", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"role": "assistant", "content": "<think>figuring out the vendor</think>  Walmart. Groceries."}},
				},
			}))
		})

		It("strips the reasoning before returning", func() {
			Expect(result).To(Equal("Walmart. Groceries."))
		})
	})

	When("no API key is configured", func() {
		BeforeEach(func() {
			summarizer = NewOpenRouter(server.URL(), "", "test-model")
		})

		It("returns the credential placeholder without calling the provider", func() {
			Expect(result).To(Equal("LLM Summary unavailable (API Key not configured)."))
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})

	When("the provider returns a server error", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusBadGateway, "upstream broke"))
		})

		It("returns the provider-error placeholder", func() {
			Expect(result).To(Equal("Summary unavailable (Provider Error: 502)"))
		})
	})

	When("the provider returns malformed JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, "{not json"))
		})

		It("returns the invalid-response placeholder", func() {
			Expect(result).To(Equal("Summary unavailable (Invalid response format)."))
		})
	})

	When("the provider returns no choices", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"choices": []any{}}))
		})

		It("returns the invalid-response placeholder", func() {
			Expect(result).To(Equal("Summary unavailable (Invalid response format)."))
		})
	})

	When("the provider hangs past the client timeout", func() {
		BeforeEach(func() {
			summarizer.client.Timeout = 50 * time.Millisecond
			server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(300 * time.Millisecond)
			})
		})

		It("returns the timeout placeholder", func() {
			Expect(result).To(Equal("Summary unavailable (Timeout)."))
		})
	})

	When("total and date are unknown", func() {
		BeforeEach(func() {
			total = nil
			date = nil
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"role": "assistant", "content": "ok"}},
				},
			}))
		})

		It("still produces a summary", func() {
			Expect(result).To(Equal("ok"))
		})
	})
})

var _ = Describe("buildPrompt", func() {
	It("bounds how much raw text is included", func() {
		long := make([]byte, maxPromptText*2)
		for i := range long {
			long[i] = 'x'
		}

		prompt := buildPrompt(string(long), nil, nil)
		Expect(len(prompt)).To(BeNumerically("<", maxPromptText+1000))
	})
})
