package ai

import (
	"context"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"chainintel/pkg/errors"
	"chainintel/pkg/logger"
)

const summarySystemPrompt = "You are an on-chain risk analyst. Summarize the transaction risk in at most two sentences. " +
	"Be factual, do not speculate beyond the supplied signals."

// OpenAISummarizer writes short natural-language summaries of risk findings
type OpenAISummarizer struct {
	client  openai.Client
	model   openai.ChatModel
	timeout time.Duration
	log     *logger.Logger
}

// NewOpenAISummarizer creates a summarizer using the official SDK.
// opts are applied after the defaults, e.g. option.WithBaseURL for a compatible gateway.
func NewOpenAISummarizer(apiKey, model string, timeout time.Duration, opts ...option.RequestOption) (*OpenAISummarizer, error) {
	if apiKey == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "openai API key is required")
	}
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	if timeout == 0 {
		timeout = 8 * time.Second
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}, opts...)

	return &OpenAISummarizer{
		client:  openai.NewClient(opts...),
		model:   openai.ChatModel(model),
		timeout: timeout,
		log:     logger.Get().With("component", "openai_summarizer", "model", model),
	}, nil
}

// Summarize returns the model's summary of the supplied findings
func (s *OpenAISummarizer) Summarize(ctx context.Context, findings string) (string, error) {
	if strings.TrimSpace(findings) == "" {
		return "", errors.Wrapf(errors.ErrInvalidInput, "findings cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(summarySystemPrompt),
			openai.UserMessage(findings),
		},
		MaxCompletionTokens: openai.Int(160),
		Temperature:         openai.Float(0.2),
	})
	if err != nil {
		return "", errors.Wrap(err, "openai API call failed")
	}
	if len(resp.Choices) == 0 {
		return "", errors.Wrapf(errors.ErrInternal, "no completion choices returned")
	}

	s.log.Debugw("Summary generated",
		"duration_ms", time.Since(start).Milliseconds(),
		"total_tokens", resp.Usage.TotalTokens,
	)

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
