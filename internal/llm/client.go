package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"MediScan/internal/backend"
	"MediScan/internal/config"
)

var (
	// ErrMissingAPIKey is reported at call time when no key is configured.
	ErrMissingAPIKey = errors.New("llm api key not set")
	// ErrTimeout marks a call that exceeded the configured timeout.
	ErrTimeout = errors.New("llm call timed out")
	// ErrEmptyResponse marks a 200 response without any text.
	ErrEmptyResponse = errors.New("empty response from model")
)

// Generator produces a text completion for a single prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// APIError is a non-2xx response from a provider.
type APIError struct {
	Backend    string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %d %s - %s", e.Backend, e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Retryable reports whether a failed call may succeed when repeated.
// Server errors and dropped connections are; auth, quota, timeouts and
// malformed responses are not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusRequestTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// Client calls the configured generative backend over its JSON HTTP API.
type Client struct {
	cfg        config.LLMConfig
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	duration   metric.Float64Histogram
	retryDelay time.Duration
}

// NewClient creates a Client. Nil tracer or meter fall back to no-op
// implementations.
func NewClient(cfg config.LLMConfig, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("llm")
	}
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("llm")
	}
	duration, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		logger.Warn("failed to create histogram", "error", err)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger,
		tracer:     tracer,
		meter:      meter,
		duration:   duration,
		retryDelay: 500 * time.Millisecond,
	}
}

// Backend returns the configured backend name.
func (c *Client) Backend() string { return c.cfg.Backend }

// Generate sends prompt as a single user turn. Each attempt runs under the
// configured timeout; transient failures are retried up to MaxRetries times.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying model call", "backend", c.cfg.Backend, "attempt", attempt+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", lastErr
			case <-time.After(c.retryDelay):
			}
		}

		text, err := c.attempt(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !Retryable(err) || ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func (c *Client) attempt(ctx context.Context, prompt string) (string, error) {
	callCtx := ctx
	cancel := func() {}
	if c.cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
	}
	defer cancel()

	text, err := c.call(callCtx, prompt)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return "", fmt.Errorf("%w after %s: %v", ErrTimeout, c.cfg.Timeout, err)
	}
	return text, err
}

func (c *Client) call(ctx context.Context, prompt string) (string, error) {
	switch c.cfg.Backend {
	case config.BackendGemini:
		return c.callGemini(ctx, prompt)
	case config.BackendOpenAI:
		return c.callOpenAI(ctx, prompt)
	case config.BackendAnthropic:
		return c.callAnthropic(ctx, prompt)
	case config.BackendOllama:
		return c.callOllama(ctx, prompt)
	default:
		return "", fmt.Errorf("unknown backend: %s", c.cfg.Backend)
	}
}

// callGemini calls the Gemini generateContent API
func (c *Client) callGemini(ctx context.Context, prompt string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "gemini_api_call", trace.WithAttributes(attribute.String("llm.model", c.cfg.Model)))
	defer span.End()

	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("%w (GOOGLE_API_KEY)", ErrMissingAPIKey)
	}

	reqBody := backend.GeminiRequest{
		Contents: []backend.GeminiContent{{
			Role:  "user",
			Parts: []backend.GeminiPart{{Text: prompt}},
		}},
	}
	if c.cfg.MaxTokens > 0 {
		reqBody.GenerationConfig = &backend.GeminiGenerationConfig{MaxOutputTokens: c.cfg.MaxTokens}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.cfg.BaseURL, url.PathEscape(c.cfg.Model))
	headers := map[string]string{"x-goog-api-key": c.cfg.APIKey}

	var apiResp backend.GeminiResponse
	if err := c.post(ctx, span, endpoint, headers, reqBody, &apiResp); err != nil {
		return "", err
	}
	c.recordMetrics(ctx, apiResp.UsageMetadata)

	if len(apiResp.Candidates) == 0 {
		if apiResp.PromptFeedback != nil && apiResp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("prompt blocked by Gemini: %s", apiResp.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("%w: no candidates from Gemini", ErrEmptyResponse)
	}

	var sb strings.Builder
	for _, part := range apiResp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: Gemini finished with %s", ErrEmptyResponse, apiResp.Candidates[0].FinishReason)
	}
	return sb.String(), nil
}

// callOpenAI calls an OpenAI-compatible chat completions API
func (c *Client) callOpenAI(ctx context.Context, prompt string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "openai_api_call", trace.WithAttributes(attribute.String("llm.model", c.cfg.Model)))
	defer span.End()

	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("%w (MEDISCAN_LLM_API_KEY)", ErrMissingAPIKey)
	}

	reqBody := backend.NewOpenAIPrompt(c.cfg.Model, prompt, c.cfg.MaxTokens)
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	var apiResp backend.OpenAIResponse
	if err := c.post(ctx, span, c.cfg.BaseURL+"/v1/chat/completions", headers, reqBody, &apiResp); err != nil {
		return "", err
	}
	c.recordMetrics(ctx, apiResp.Usage)

	if len(apiResp.Choices) > 0 && apiResp.Choices[0].Message.Content != "" {
		return apiResp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("%w: no choices from OpenAI", ErrEmptyResponse)
}

// callAnthropic calls the Anthropic messages API
func (c *Client) callAnthropic(ctx context.Context, prompt string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "anthropic_api_call", trace.WithAttributes(attribute.String("llm.model", c.cfg.Model)))
	defer span.End()

	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("%w (MEDISCAN_LLM_API_KEY)", ErrMissingAPIKey)
	}

	maxTokens := c.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	reqBody := backend.AnthropicRequest{
		Model:     c.cfg.Model,
		MaxTokens: maxTokens,
		Messages:  []backend.AnthropicMessage{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": "2023-06-01",
	}

	var apiResp backend.AnthropicResponse
	if err := c.post(ctx, span, c.cfg.BaseURL+"/v1/messages", headers, reqBody, &apiResp); err != nil {
		return "", err
	}
	c.recordMetrics(ctx, apiResp.Usage)

	for _, content := range apiResp.Content {
		if content.Type == "text" {
			return content.Text, nil
		}
	}
	return "", fmt.Errorf("%w: no text block from Anthropic", ErrEmptyResponse)
}

// callOllama calls a local Ollama chat API; no key is required
func (c *Client) callOllama(ctx context.Context, prompt string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "ollama_api_call", trace.WithAttributes(attribute.String("llm.model", c.cfg.Model)))
	defer span.End()

	reqBody := backend.OllamaRequest{
		Model:    c.cfg.Model,
		Messages: []map[string]string{{"role": "user", "content": prompt}},
		Stream:   false,
	}

	var apiResp backend.OllamaResponse
	if err := c.post(ctx, span, c.cfg.BaseURL+"/api/chat", nil, reqBody, &apiResp); err != nil {
		return "", err
	}
	c.recordMetrics(ctx, map[string]interface{}{
		"prompt_tokens":     float64(apiResp.PromptEvalCount),
		"completion_tokens": float64(apiResp.EvalCount),
	})

	if apiResp.Message.Content == "" {
		return "", fmt.Errorf("%w: no message from Ollama", ErrEmptyResponse)
	}
	return apiResp.Message.Content, nil
}

// post marshals body, sends it and decodes a 200 response into out.
func (c *Client) post(ctx context.Context, span trace.Span, endpoint string, headers map[string]string, body, out interface{}) error {
	start := time.Now()

	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if c.duration != nil {
		c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("llm.backend", c.cfg.Backend)))
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Backend: c.cfg.Backend, StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, apiErr.Message)
		return apiErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// errorMessage extracts error.message from common provider envelopes and
// falls back to the truncated raw body.
func errorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}

// recordMetrics records OpenTelemetry counters from provider usage data
func (c *Client) recordMetrics(ctx context.Context, usage map[string]interface{}) {
	if usage == nil {
		return
	}

	for key, value := range usage {
		if floatVal, ok := value.(float64); ok {
			counter, err := c.meter.Int64Counter(
				fmt.Sprintf("llm.usage.%s", key),
				metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key)),
			)
			if err != nil {
				c.logger.Warn("failed to create counter", "key", key, "error", err)
				continue
			}
			counter.Add(ctx, int64(floatVal), metric.WithAttributes(attribute.String("llm.backend", c.cfg.Backend)))
		}
	}
}
