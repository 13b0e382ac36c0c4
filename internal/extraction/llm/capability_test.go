package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	apperrors "github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/metrics"
)

type fakeModel struct {
	response *llms.ContentResponse
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.opts)
	}
	return f.response, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestCompleteSendsSystemAndHumanMessages(t *testing.T) {
	model := &fakeModel{response: &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: "  {\"company\":\"Acme\"}\n"}},
	}}
	m := metrics.New(prometheus.NewRegistry())
	c := NewWithModel(model, 1000, 0.0, m)

	out, err := c.Complete(context.Background(), "instruction", "text")
	require.NoError(t, err)
	assert.Equal(t, `{"company":"Acme"}`, out)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, llms.TextPart("text"), model.messages[1].Parts[0])
	assert.Equal(t, 1000, model.opts.MaxTokens)
	assert.Equal(t, 0.0, model.opts.Temperature)
	assert.Equal(t, 1, testutil.CollectAndCount(m.ExtractionLatency))
}

func TestCompleteNoChoices(t *testing.T) {
	c := NewWithModel(&fakeModel{response: &llms.ContentResponse{}}, 10, 0, nil)
	_, err := c.Complete(context.Background(), "i", "t")
	require.ErrorIs(t, err, apperrors.ErrServiceUnavailable)
}

func TestCompleteClassifiesErrors(t *testing.T) {
	c := NewWithModel(&fakeModel{err: errors.New("API returned unexpected status code: 429: slow down")}, 10, 0, nil)
	_, err := c.Complete(context.Background(), "i", "t")
	require.ErrorIs(t, err, apperrors.ErrRateLimited)
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"rate limit text", errors.New("Rate limit reached for gpt-4o"), apperrors.ErrRateLimited},
		{"429", errors.New("API returned unexpected status code: 429"), apperrors.ErrRateLimited},
		{"503", errors.New("API returned unexpected status code: 503"), apperrors.ErrServiceUnavailable},
		{"500", errors.New("status code 500"), apperrors.ErrServiceUnavailable},
		{"400", errors.New("API returned unexpected status code: 400: context length exceeded"), apperrors.ErrInvalidResponse},
		{"network", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, apperrors.ErrServiceUnavailable},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), apperrors.ErrServiceUnavailable},
		{"unknown", errors.New("something odd"), apperrors.ErrServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyError(tc.err)
			assert.ErrorIs(t, got, tc.want)
			assert.ErrorIs(t, got, tc.err)
		})
	}
}
