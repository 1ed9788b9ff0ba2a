package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/inseam/inseam/internal/config"
	"github.com/inseam/inseam/internal/domain"
	"github.com/inseam/inseam/internal/pkg/httpretry"
	"github.com/inseam/inseam/internal/pkg/logger"
)

// BedrockMatcher is the matcher backed by AWS Bedrock (Claude). All data
// stays within AWS - no external API calls.
type BedrockMatcher struct {
	client  *bedrockruntime.Client
	modelID string
	region  string
	backoff httpretry.BackoffOptions
}

// bedrockRequest is the request body for the Anthropic messages format.
type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Tools            []bedrockTool    `json:"tools,omitempty"`
	ToolChoice       interface{}      `json:"tool_choice,omitempty"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockTool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"input_schema"`
}

// bedrockResponse is the response from Bedrock
type bedrockResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text,omitempty"`
		Name  string          `json:"name,omitempty"`
		Input json.RawMessage `json:"input,omitempty"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewBedrockMatcher creates a matcher backed by AWS Bedrock.
func NewBedrockMatcher(ctx context.Context, cfg config.BedrockConfig) (*BedrockMatcher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("agent: load AWS config: %w", err)
	}

	modelID := cfg.ModelID
	if modelID == "" {
		modelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	logger.Info("bedrock matcher initialized", "model", modelID, "region", cfg.Region)
	return &BedrockMatcher{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		modelID: modelID,
		region:  cfg.Region,
		backoff: httpretry.DefaultBackoff(),
	}, nil
}

// MatchAndExtract issues exactly one Bedrock invocation for the email
// against all candidate trackers.
func (b *BedrockMatcher) MatchAndExtract(ctx context.Context, email domain.Email, trackers []domain.Tracker) (*MatchResult, error) {
	if len(trackers) == 0 {
		return &MatchResult{
			Extracted: make(map[string]map[string]interface{}),
			Category:  domain.CategoryGeneral,
			Title:     email.Subject,
		}, nil
	}

	userMessage, err := buildUserMessage(email, trackers)
	if err != nil {
		return nil, err
	}

	request := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        4000,
		System:           systemPrompt,
		Messages: []bedrockMessage{
			{Role: "user", Content: userMessage},
		},
		Tools: []bedrockTool{{
			Name:        "record_extraction",
			Description: "Record which trackers the email matches and the extracted field values",
			InputSchema: extractionToolParameters(),
		}},
		ToolChoice: map[string]string{"type": "tool", "name": "record_extraction"},
	}

	jsonBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("agent: marshal bedrock request: %w", err)
	}

	output, err := httpretry.Execute(ctx, b.backoff, func(ctx context.Context) (*bedrockruntime.InvokeModelOutput, error) {
		return b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(b.modelID),
			ContentType: aws.String("application/json"),
			Body:        jsonBody,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("agent: bedrock invocation failed: %w", err)
	}

	var response bedrockResponse
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return nil, fmt.Errorf("agent: parse bedrock response: %w", err)
	}

	for _, block := range response.Content {
		if block.Type != "tool_use" || block.Name != "record_extraction" {
			continue
		}
		var args toolArguments
		if err := json.Unmarshal(block.Input, &args); err != nil {
			return nil, fmt.Errorf("agent: parse tool input: %w", err)
		}
		result := normalizeResult(args, trackers)
		logger.Debug("bedrock matcher completed",
			"email_id", email.ID,
			"matches", len(result.Matches),
			"tokens", response.Usage.InputTokens+response.Usage.OutputTokens,
		)
		return result, nil
	}
	return nil, fmt.Errorf("agent: model did not call record_extraction (stop_reason=%s)", response.StopReason)
}
