// Package openai implements the summarization and salience services on top
// of the OpenAI chat completion API (or any compatible endpoint via the
// BaseURL override).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo-go/pkg/core"
	"github.com/mnemo-ai/mnemo-go/pkg/services"
)

// Config is the configuration for the OpenAI services client.
// APIKey: OpenAI API key (required)
// Model: Model name to use, defaults to "gpt-4o-mini"
// BaseURL: API base URL, defaults to the OpenAI official address
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

const defaultModel = "gpt-4o-mini"

// Client talks to an OpenAI-compatible endpoint. It implements both
// services.Summarizer and services.SalienceScorer.
type Client struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a services client from the configuration.
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, core.NewLifecycleError("openai.new", errors.New("api key is required"))
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	c := &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

const summarizePrompt = `You are a memory consolidation assistant. Combine the numbered memory fragments below into one concise summary that preserves every distinct fact.

Respond with JSON only, in this exact shape:
{"summary": "...", "key_points": ["..."], "importance": 0.0}

importance is your estimate of how valuable the combined memory is, between 0 and 1.

Fragments:
%s`

const narrativePrompt = `You are a memory consolidation assistant. The numbered memory fragments below form a chronological sequence of related events. Retell them as one short narrative in time order, preserving every distinct fact.

Respond with JSON only, in this exact shape:
{"summary": "...", "key_points": ["..."], "importance": 0.0}

importance is your estimate of how valuable the combined memory is, between 0 and 1.

Fragments:
%s`

// Summarize merges the request's contents into one structured summary.
func (c *Client) Summarize(ctx context.Context, req *services.SummaryRequest) (*services.Summary, error) {
	if req == nil || len(req.Contents) == 0 {
		return nil, core.NewLifecycleError("openai.summarize", errors.New("empty request"))
	}

	var fragments strings.Builder
	for i, content := range req.Contents {
		fmt.Fprintf(&fragments, "%d. %s\n", i+1, content)
	}

	prompt := summarizePrompt
	if req.Mode == services.ModeNarrative {
		prompt = narrativePrompt
	}

	response, err := c.complete(ctx, fmt.Sprintf(prompt, fragments.String()))
	if err != nil {
		return nil, core.NewLifecycleError("openai.summarize", err)
	}

	var summary services.Summary
	if err := json.Unmarshal([]byte(removeCodeBlocks(response)), &summary); err != nil {
		return nil, core.NewLifecycleError("openai.summarize",
			fmt.Errorf("%w: %v", core.ErrSummarization, err))
	}
	if summary.Text == "" {
		return nil, core.NewLifecycleError("openai.summarize",
			fmt.Errorf("%w: empty summary text", core.ErrSummarization))
	}

	summary.Importance = core.Clamp01(summary.Importance)
	summary.SourceIDs = append([]string(nil), req.MemoryIDs...)
	return &summary, nil
}

const saliencePrompt = `Rate the following content on four dimensions, each an integer or decimal from 0 to 10:
- emotional_intensity: how emotionally charged it is
- novelty: how new or surprising the information is
- actionability: how directly it calls for action
- personal_significance: how much it matters to the person it concerns

%s

Respond with JSON only, in this exact shape:
{"emotional_intensity": 0, "novelty": 0, "actionability": 0, "personal_significance": 0}

Content:
%s`

// ScoreSalience rates the content's salience. A response that cannot be
// parsed falls back to the neutral factor set instead of failing, so a
// flaky model never blocks a scoring pass.
func (c *Client) ScoreSalience(ctx context.Context, content, contextHint string) (services.SalienceFactors, error) {
	hint := ""
	if contextHint != "" {
		hint = "Context: " + contextHint
	}

	response, err := c.complete(ctx, fmt.Sprintf(saliencePrompt, hint, content))
	if err != nil {
		return services.NeutralSalience(), err
	}

	var factors services.SalienceFactors
	if err := json.Unmarshal([]byte(removeCodeBlocks(response)), &factors); err != nil {
		c.logger.Warn("unparseable salience response, using neutral fallback",
			zap.Error(err))
		return services.NeutralSalience(), nil
	}

	factors.EmotionalIntensity = clampFactor(factors.EmotionalIntensity)
	factors.Novelty = clampFactor(factors.Novelty)
	factors.Actionability = clampFactor(factors.Actionability)
	factors.PersonalSignificance = clampFactor(factors.PersonalSignificance)
	return factors, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func clampFactor(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

// removeCodeBlocks removes code blocks (```json ... ```) from response.
func removeCodeBlocks(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}
