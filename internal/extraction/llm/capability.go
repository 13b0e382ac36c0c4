// Package llm implements extraction.Capability on top of an OpenAI-compatible
// chat model through langchaingo, translating transport and API failures into
// the pipeline's transient/permanent sentinels.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/metrics"
)

var statusCodePattern = regexp.MustCompile(`status code:? (\d{3})`)

// Capability sends the instruction as a system message and the text as a
// human message, and returns the first choice.
type Capability struct {
	model       llms.Model
	maxTokens   int
	temperature float64
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a Capability backed by an OpenAI-compatible endpoint.
func New(cfg config.ExtractionConfig, m *metrics.Metrics) (*Capability, error) {
	token := cfg.APIKey
	if token == "" {
		// Local OpenAI-compatible servers accept any token.
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return NewWithModel(client, cfg.MaxTokens, cfg.Temperature, m), nil
}

// NewWithModel wraps an existing model.
func NewWithModel(model llms.Model, maxTokens int, temperature float64, m *metrics.Metrics) *Capability {
	return &Capability{
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		metrics:     m,
		logger:      slog.Default().With("component", "llm-capability"),
	}
}

// Complete implements extraction.Capability.
func (c *Capability) Complete(ctx context.Context, instruction, text string) (string, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(instruction)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(text)},
		},
	}

	start := time.Now()
	response, err := c.model.GenerateContent(ctx, content,
		llms.WithTemperature(c.temperature),
		llms.WithMaxTokens(c.maxTokens),
	)
	c.observe(start, err)
	if err != nil {
		classified := classifyError(err)
		c.logger.Error("extraction call failed", "error", classified)
		return "", classified
	}
	if len(response.Choices) < 1 || response.Choices[0] == nil {
		return "", fmt.Errorf("%w: model returned no choices", apperrors.ErrServiceUnavailable)
	}
	return strings.TrimSpace(response.Choices[0].Content), nil
}

func (c *Capability) observe(start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.ExtractionLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

// classifyError maps client errors onto pipeline sentinels. Requests the API
// rejects as malformed are permanent; everything else is worth another
// delivery.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.ErrServiceUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.Wrap(apperrors.ErrServiceUnavailable, err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") {
		return apperrors.Wrap(apperrors.ErrRateLimited, err)
	}
	if m := statusCodePattern.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		switch code {
		case 429:
			return apperrors.Wrap(apperrors.ErrRateLimited, err)
		case 400, 404, 413, 422:
			return apperrors.Wrap(apperrors.ErrInvalidResponse, err)
		}
	}
	return apperrors.Wrap(apperrors.ErrServiceUnavailable, err)
}
