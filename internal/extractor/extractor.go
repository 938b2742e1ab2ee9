// Package extractor wraps the Anthropic Messages API call that turns
// episode text into structured book mentions.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"radioreads/internal/models"
)

const (
	defaultBaseURL    = "https://api.anthropic.com"
	defaultModel      = "claude-3-haiku-20240307"
	defaultMaxRetries = 2
	apiVersion        = "2023-06-01"
	requestTimeout    = 60 * time.Second
	maxTokens         = 1024
)

// prompt is the extraction contract. The rules are the extraction
// policy itself: a book must be the subject of discussion (adaptations
// don't count), and every book must carry an identified author.
const prompt = `Analyze this radio episode text and determine whether a book is the subject of discussion.

Episode text: "%s"

Return ONLY valid JSON with this structure:
{
    "has_book": true/false,
    "confidence": 0.95,
    "books": [
        {
            "title": "Book Title",
            "author": "Author Name",
            "description": "A brief, engaging description of what the book is about"
        }
    ],
    "reasoning": "Brief explanation of your decision"
}

Rules:
- Only extract a book if the book itself is the subject of discussion. If the text is about a film, movie, TV series, theatre or stage production, musical, RSC or West End show adapted from a book, do NOT extract the book.
- Every extracted book must have an identified author. Never use placeholder values such as "Unknown", "N/A" or "Various" - omit the book instead.
- Require a book-type signal word ("book", "novel", "memoir", "autobiography", "short story collection") or an explicit author-plus-title combination before extracting.
- Confidence is 0.0-1.0 for the extraction as a whole (0.8+ for clear discussion, 0.5-0.8 for likely, below 0.5 for uncertain).
- For each book, write a compelling 1-2 sentence description of the book itself, not of the episode.
- If no books qualify, return has_book=false with an empty books array.

Return ONLY valid JSON, no additional text.`

// Client calls the text-understanding model. Construct it once and
// inject it into the pipeline; there is no package-level singleton.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	httpClient *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		maxRetries: defaultMaxRetries,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

func NewClientFromEnv() *Client {
	return NewClient(os.Getenv("ANTHROPIC_API_KEY"))
}

// IsAvailable reports whether a credential is configured. Callers must
// check it and short-circuit instead of calling Extract.
func (c *Client) IsAvailable() bool {
	return c.apiKey != ""
}

// Extract sends one structured prompt embedding the episode text and
// parses the model's JSON reply. Malformed JSON and transient API
// faults are retried up to the retry budget and then degrade to a
// non-extraction result; this never fails the caller for expected
// fault classes.
func (c *Client) Extract(ctx context.Context, text string) models.ExtractionResult {
	if !c.IsAvailable() {
		return models.ExtractionResult{
			Books:     []models.BookCandidate{},
			Reasoning: "API not configured",
		}
	}

	fallback := models.ExtractionResult{
		Books:     []models.BookCandidate{},
		Reasoning: "Max retries exceeded",
	}
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		raw, err := c.complete(ctx, fmt.Sprintf(prompt, text))
		if err != nil {
			log.Printf("extractor: API error (attempt %d/%d): %v", attempt+1, c.maxRetries+1, err)
			fallback = models.ExtractionResult{
				Books:     []models.BookCandidate{},
				Reasoning: "API error: " + err.Error(),
			}
			continue
		}

		result, err := parseResult(raw)
		if err != nil {
			log.Printf("extractor: invalid model response (attempt %d/%d): %v", attempt+1, c.maxRetries+1, err)
			fallback = models.ExtractionResult{
				Books:     []models.BookCandidate{},
				Reasoning: "JSON parse error",
			}
			continue
		}

		log.Printf("extractor: has_book=%t, candidates=%d", result.HasBook, len(result.Books))
		return result
	}
	return fallback
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// complete performs one Messages API round trip and returns the reply text.
func (c *Client) complete(ctx context.Context, userPrompt string) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: userPrompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Anthropic-Version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response envelope: %w", err)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", errors.New("response contains no text block")
}

// parseResult validates the model's JSON reply. has_book is mandatory;
// books and reasoning default when omitted. Markdown code fences around
// the JSON are stripped first.
func parseResult(raw string) (models.ExtractionResult, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &probe); err != nil {
		return models.ExtractionResult{}, err
	}
	if _, ok := probe["has_book"]; !ok {
		return models.ExtractionResult{}, errors.New("response missing has_book field")
	}

	var result models.ExtractionResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return models.ExtractionResult{}, err
	}
	if result.Books == nil {
		result.Books = []models.BookCandidate{}
	}
	if result.Reasoning == "" {
		result.Reasoning = "No reasoning provided"
	}
	return result, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
