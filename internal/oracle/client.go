// Package oracle wraps the external reasoning service that decides, per
// communication, whether an alert fires and how its state should update.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"commwatch/internal/alerts"
)

// DefaultBaseURL is the default API endpoint for the evaluation service.
const DefaultBaseURL = "https://api.openai.com/v1"

// Evaluator evaluates one communication against one alert definition.
// cacheHint is an opaque token from a previous call for the same
// communication; it may reduce cost/latency but never affects correctness.
// Implementations return the result and a hint to thread into subsequent
// calls (possibly empty).
type Evaluator interface {
	Evaluate(ctx context.Context, def *alerts.AlertDefinition, currentState alerts.State, communication, cacheHint string) (*alerts.ProcessingResult, string, error)
}

// Client implements Evaluator against a chat-completions style JSON API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ Evaluator = (*Client)(nil)

// New creates a new oracle client with the given endpoint, API key, and model.
// An empty baseURL falls back to DefaultBaseURL.
func New(baseURL, apiKey, model string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []message      `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	Temperature    float64        `json:"temperature"`
	CacheKey       string         `json:"cache_key,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	CacheKey string `json:"cache_key,omitempty"`
}

// evaluationPayload is the JSON object the model is instructed to return.
type evaluationPayload struct {
	ShouldAlert  bool         `json:"should_alert"`
	AlertReason  *string      `json:"alert_reason"`
	UpdatedState alerts.State `json:"updated_state"`
}

// Evaluate sends the communication and alert context to the evaluation
// service and parses its verdict. The current state is validated against
// the schema before the call, and the returned state after it; either
// mismatch yields alerts.ErrSchemaMismatch.
func (c *Client) Evaluate(ctx context.Context, def *alerts.AlertDefinition, currentState alerts.State, communication, cacheHint string) (*alerts.ProcessingResult, string, error) {
	if !def.ValidateState(currentState) {
		return nil, "", fmt.Errorf("current state: %w", alerts.ErrSchemaMismatch)
	}

	messages, err := buildMessages(def, currentState, communication)
	if err != nil {
		return nil, "", err
	}

	req := chatRequest{
		Model:          c.model,
		Messages:       messages,
		ResponseFormat: responseFormat{Type: "json_object"},
		Temperature:    0.1,
		CacheKey:       cacheHint,
	}

	resp, err := c.send(ctx, &req)
	if err != nil {
		return nil, "", err
	}

	// Keep whatever hint the service handed back; fall back to the one we
	// sent so later calls in the same fan-out still benefit.
	newHint := resp.CacheKey
	if newHint == "" {
		newHint = cacheHint
	}

	if len(resp.Choices) == 0 {
		return nil, "", fmt.Errorf("oracle returned no choices")
	}

	var payload evaluationPayload
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &payload); err != nil {
		return nil, "", fmt.Errorf("unmarshal oracle verdict: %w", err)
	}

	if !def.ValidateState(payload.UpdatedState) {
		return nil, "", fmt.Errorf("oracle updated state: %w", alerts.ErrSchemaMismatch)
	}

	result := &alerts.ProcessingResult{
		ShouldAlert:  payload.ShouldAlert,
		UpdatedState: payload.UpdatedState,
	}
	if payload.AlertReason != nil {
		result.AlertReason = *payload.AlertReason
	}

	return result, newHint, nil
}

// send posts a chat request and decodes the response.
func (c *Client) send(ctx context.Context, req *chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle api error %d: %s", resp.StatusCode, string(respBody))
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &out, nil
}
