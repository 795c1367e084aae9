// Package whatsapp provides the Meta Cloud API client used to deliver
// template and free-text messages.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/janastudio/agenda-automation/internal/automation"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://graph.facebook.com/v21.0"
	defaultTimeout   = 15 * time.Second
	defaultRateLimit = 10.0
)

// Config holds Meta Cloud API client configuration.
type Config struct {
	BaseURL       string
	AccessToken   string
	PhoneNumberID string
	Timeout       time.Duration
	// RateLimit is the maximum requests per second against the API.
	RateLimit float64
}

// Client implements automation.Sender against the Meta Cloud API.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Meta Cloud API client. Missing credentials are not an
// error here: they surface as a configuration error at send time, which the
// engine classifies as non-retryable.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}

	slog.Info("whatsapp client configured",
		"configured", config.AccessToken != "" && config.PhoneNumberID != "",
		"rate_limit", config.RateLimit,
	)

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// SendTemplate sends a pre-approved template message with positional body
// parameters and returns the provider-assigned message id.
func (c *Client) SendTemplate(ctx context.Context, send automation.TemplateSend) (*automation.SendResult, error) {
	if err := c.checkConfigured(); err != nil {
		return nil, err
	}

	language := send.Language
	if language == "" {
		language = "pt_BR"
	}

	params := make([]templateParameter, 0, len(send.BodyParams))
	for _, p := range send.BodyParams {
		params = append(params, templateParameter{Type: "text", Text: p})
	}

	body := sendRequest{
		MessagingProduct: "whatsapp",
		To:               SanitizeNumber(send.To),
		Type:             "template",
		Template: &templatePayload{
			Name:     send.Name,
			Language: templateLanguage{Code: language},
			Components: []templateComponent{
				{Type: "body", Parameters: params},
			},
		},
	}

	return c.post(ctx, body)
}

// SendText sends a free-text session message with link preview enabled.
func (c *Client) SendText(ctx context.Context, send automation.TextSend) (*automation.SendResult, error) {
	if err := c.checkConfigured(); err != nil {
		return nil, err
	}

	body := sendRequest{
		MessagingProduct: "whatsapp",
		To:               SanitizeNumber(send.To),
		Type:             "text",
		Text: &textPayload{
			Body:       send.Body,
			PreviewURL: send.PreviewURL,
		},
	}

	return c.post(ctx, body)
}

func (c *Client) checkConfigured() error {
	if c.config.AccessToken == "" || c.config.PhoneNumberID == "" {
		return automation.NewNonRetryableError(
			fmt.Errorf("whatsapp client not configured: access token and phone number id are required"))
	}
	return nil
}

func (c *Client) post(ctx context.Context, payload sendRequest) (*automation.SendResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, automation.NewRetryableError(fmt.Errorf("rate limiter: %w", err))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.config.BaseURL, c.config.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors and timeouts are transient.
		return nil, automation.NewRetryableError(fmt.Errorf("send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	return c.handleResponse(resp)
}

func (c *Client) handleResponse(resp *http.Response) (*automation.SendResult, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, automation.NewRetryableError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := extractErrorMessage(raw)
		if message == "" {
			message = fmt.Sprintf("API responded with status %d", resp.StatusCode)
		}
		apiErr := fmt.Errorf("whatsapp api error %d: %s", resp.StatusCode, message)

		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			// Credential problems need an operator, not a retry.
			return nil, automation.NewNonRetryableError(apiErr)
		default:
			return nil, automation.NewRetryableError(apiErr)
		}
	}

	var parsed sendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, automation.NewRetryableError(fmt.Errorf("parse response: %w", err))
	}
	if len(parsed.Messages) == 0 || parsed.Messages[0].ID == "" {
		return nil, automation.NewRetryableError(fmt.Errorf("response carries no message id"))
	}

	return &automation.SendResult{
		MessageID:   parsed.Messages[0].ID,
		DeliveredAt: time.Now(),
	}, nil
}

// SanitizeNumber strips a recipient down to digits only.
func SanitizeNumber(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func extractErrorMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	return envelope.Error.Message
}

type sendRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Template         *templatePayload `json:"template,omitempty"`
	Text             *textPayload     `json:"text,omitempty"`
}

type templatePayload struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters,omitempty"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type textPayload struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}
