package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/inseam/inseam/internal/config"
	"github.com/inseam/inseam/internal/domain"
	"github.com/inseam/inseam/internal/pkg/httpretry"
	"github.com/inseam/inseam/internal/pkg/logger"
)

// OpenAIMatcher matches emails against trackers using the OpenAI chat
// completions API with a forced tool call for structured output.
type OpenAIMatcher struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	backoff     httpretry.BackoffOptions
}

// ChatMessage represents a message in the OpenAI conversation
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool call from the model
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall represents the function to call
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool represents a tool definition for OpenAI
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction represents the function definition
type ToolFunction struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  interface{} `json:"parameters"`
}

// chatRequest is the request to OpenAI chat completions
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Tools       []Tool        `json:"tools,omitempty"`
	ToolChoice  interface{}   `json:"tool_choice,omitempty"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// chatResponse is the response from OpenAI
type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIMatcher creates a matcher backed by the OpenAI API.
func NewOpenAIMatcher(cfg config.OpenAIConfig) *OpenAIMatcher {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIMatcher{
		apiKey:      cfg.APIKey,
		model:       model,
		baseURL:     baseURL,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		backoff: httpretry.DefaultBackoff(),
	}
}

// MatchAndExtract issues exactly one completion call for the email against
// all candidate trackers. Zero candidates short-circuits without an API
// call.
func (o *OpenAIMatcher) MatchAndExtract(ctx context.Context, email domain.Email, trackers []domain.Tracker) (*MatchResult, error) {
	if len(trackers) == 0 {
		return &MatchResult{
			Extracted: make(map[string]map[string]interface{}),
			Category:  domain.CategoryGeneral,
			Title:     email.Subject,
		}, nil
	}
	if o.apiKey == "" {
		return nil, fmt.Errorf("agent: OpenAI API key not configured")
	}

	userMessage, err := buildUserMessage(email, trackers)
	if err != nil {
		return nil, err
	}

	request := chatRequest{
		Model: o.model,
		Messages: []ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		Tools: []Tool{{
			Type: "function",
			Function: ToolFunction{
				Name:        "record_extraction",
				Description: "Record which trackers the email matches and the extracted field values",
				Parameters:  extractionToolParameters(),
			},
		}},
		ToolChoice: map[string]interface{}{
			"type":     "function",
			"function": map[string]string{"name": "record_extraction"},
		},
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	}

	response, err := httpretry.Execute(ctx, o.backoff, func(ctx context.Context) (*chatResponse, error) {
		return o.callOpenAI(ctx, request)
	})
	if err != nil {
		return nil, fmt.Errorf("agent: completion failed: %w", err)
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("agent: no choices in completion response")
	}
	choice := response.Choices[0]
	if len(choice.Message.ToolCalls) == 0 {
		return nil, fmt.Errorf("agent: model did not call record_extraction (finish_reason=%s)", choice.FinishReason)
	}

	var args toolArguments
	if err := json.Unmarshal([]byte(choice.Message.ToolCalls[0].Function.Arguments), &args); err != nil {
		return nil, fmt.Errorf("agent: parse tool arguments: %w", err)
	}

	result := normalizeResult(args, trackers)
	logger.Debug("matcher completed",
		"email_id", email.ID,
		"matches", len(result.Matches),
		"tokens", response.Usage.TotalTokens,
	)
	return result, nil
}

// callOpenAI makes a single request to the chat completions endpoint.
func (o *OpenAIMatcher) callOpenAI(ctx context.Context, request chatRequest) (*chatResponse, error) {
	jsonBody, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &httpretry.RetryableError{
			Err:        fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncate(string(body), 200)),
			RetryAfter: retryAfterOf(resp),
		}
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w (body: %s)", err, truncate(string(body), 200))
	}
	if response.Error != nil {
		return nil, fmt.Errorf("API error: %s", response.Error.Message)
	}
	return &response, nil
}

// retryAfterOf reads the provider's requested delay from a rate-limit
// response so the executor honors it instead of the computed backoff.
func retryAfterOf(resp *http.Response) time.Duration {
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
