// Package semantic classifies emails and extracts invoice fields through an
// OpenAI-compatible chat completions endpoint (vLLM in production). The model
// is best-effort: callers treat every failure here as an ordinary per-message
// error, never as fatal.
package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/recibo/invoicer/internal/models"
)

// Engine is the classification/extraction contract the processor runs
// against.
type Engine interface {
	// Classify decides whether the email contains an invoice or receipt.
	Classify(ctx context.Context, email *models.ParsedEmail) (*models.Classification, error)
	// Extract pulls structured invoice fields. Returns nil when the model
	// produced nothing usable; the caller records that as a message error.
	Extract(ctx context.Context, email *models.ParsedEmail) (*InvoiceFields, error)
}

// InvoiceFields is the model's extraction output before database fields are
// attached.
type InvoiceFields struct {
	InvoiceNumber string            `json:"invoice_number"`
	VendorName    string            `json:"vendor"`
	DueDate       string            `json:"due_date"` // YYYY-MM-DD or empty
	TotalAmount   *float64          `json:"total_amount"`
	Currency      string            `json:"currency"`
	PaymentStatus string            `json:"payment_status"`
	LineItems     []models.LineItem `json:"line_items"`
}

// Config holds the inference endpoint settings.
type Config struct {
	URL     string `yaml:"url"` // base URL of the OpenAI-compatible API
	Model   string `yaml:"model"`
	Timeout int    `yaml:"timeout"` // seconds
}

// Client talks to an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates an inference client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if cfg.Timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		model:   cfg.Model,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

const classifyPrompt = `Analyze this email and determine if it contains an invoice or receipt.

Subject: %s
From: %s
Body (first 2000 chars):
%s

Respond with ONLY a JSON object. Do not include thinking process, markdown blocks, or any text before or after the JSON.

Output JSON with these exact fields:
{
  "is_invoice": true or false,
  "confidence": "high" or "medium" or "low",
  "reasoning": "brief explanation"
}`

const extractPrompt = `Extract invoice information from this email.

Subject: %s
From: %s
Body:
%s

Respond with ONLY a JSON object, no markdown or extra text, with these fields:
{
  "vendor": "company name",
  "invoice_number": "invoice or receipt number, or null",
  "due_date": "YYYY-MM-DD or null",
  "total_amount": number or null,
  "currency": "currency code, default USD",
  "payment_status": "paid", "unpaid" or "unknown",
  "line_items": [{"description": "...", "quantity": number, "unit_price": number}]
}`

// Classify asks the model for a verdict. On any failure it falls back to a
// keyword scan of the subject so a flaky endpoint degrades to low-confidence
// heuristics instead of dropping messages.
func (c *Client) Classify(ctx context.Context, email *models.ParsedEmail) (*models.Classification, error) {
	prompt := fmt.Sprintf(classifyPrompt, email.Subject, email.From, truncate(email.Body(), 2000))

	raw, err := c.complete(ctx, prompt, 256)
	if err != nil {
		c.logger.Warn("classification request failed, using keyword fallback", "error", err)
		return keywordFallback(email, err), nil
	}

	var result models.Classification
	if err := json.Unmarshal([]byte(extractJSON(raw)), &result); err != nil {
		c.logger.Warn("classification response unparseable, using keyword fallback", "error", err)
		return keywordFallback(email, err), nil
	}
	return &result, nil
}

// Extract asks the model for structured invoice data. A response that cannot
// be parsed yields (nil, nil): the message is counted as an extraction miss.
func (c *Client) Extract(ctx context.Context, email *models.ParsedEmail) (*InvoiceFields, error) {
	prompt := fmt.Sprintf(extractPrompt, email.Subject, email.From, truncate(email.Body(), 4000))

	raw, err := c.complete(ctx, prompt, 1500)
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}

	var fields InvoiceFields
	if err := json.Unmarshal([]byte(extractJSON(raw)), &fields); err != nil {
		c.logger.Debug("extraction response unparseable", "error", err)
		return nil, nil
	}
	if fields.Currency == "" {
		fields.Currency = "USD"
	}
	return &fields, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
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

func (c *Client) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.1,
		TopP:        0.95,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("inference endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode inference response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("inference response contained no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

var (
	fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	bareJSON   = regexp.MustCompile(`(?s)\{.*\}`)
)

// extractJSON strips markdown fences and surrounding chatter that smaller
// models add despite the prompt.
func extractJSON(s string) string {
	if m := fencedJSON.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if m := bareJSON.FindString(s); m != "" {
		return m
	}
	return s
}

var invoiceKeywords = []string{"invoice", "receipt", "payment", "paid", "bill"}

func keywordFallback(email *models.ParsedEmail, cause error) *models.Classification {
	subject := strings.ToLower(email.Subject)
	isInvoice := false
	for _, kw := range invoiceKeywords {
		if strings.Contains(subject, kw) {
			isInvoice = true
			break
		}
	}
	return &models.Classification{
		IsInvoice:  isInvoice,
		Confidence: "low",
		Reasoning:  fmt.Sprintf("fallback classification (error: %v)", cause),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
