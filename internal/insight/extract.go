// Package insight turns filing sections into validated structured insights
// via the Anthropic API, with bounded retries that feed the previous
// failure back into the prompt.
package insight

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/finsight-labs/edgar-insights/internal/filing"
	"github.com/finsight-labs/edgar-insights/internal/model"
	"github.com/finsight-labs/edgar-insights/internal/resilience"
	"github.com/finsight-labs/edgar-insights/pkg/anthropic"
)

// responseError marks a malformed or schema-violating model response.
// These are retried alongside transient API errors, with the failure fed
// back into the retry prompt, and become permanent once the attempt budget
// is spent.
type responseError struct {
	err error
}

func (e *responseError) Error() string { return e.err.Error() }
func (e *responseError) Unwrap() error { return e.err }

// Extractor runs fixed-schema insight extraction.
type Extractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	retry     resilience.RetryConfig

	inputTokens  atomic.Int64
	outputTokens atomic.Int64
}

// NewExtractor creates an Extractor bound to a probed model.
func NewExtractor(client anthropic.Client, modelName string, maxTokens int64, retry resilience.RetryConfig) *Extractor {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Extractor{
		client:    client,
		model:     modelName,
		maxTokens: maxTokens,
		retry:     retry,
	}
}

// Model returns the model name used for extraction, recorded as provenance.
func (e *Extractor) Model() string { return e.model }

// Usage returns the input and output tokens consumed so far.
func (e *Extractor) Usage() (input, output int64) {
	return e.inputTokens.Load(), e.outputTokens.Load()
}

// Probe verifies model availability before the run starts, falling back
// through the candidate list in order. Paid work should not begin against
// a model that cannot answer.
func Probe(ctx context.Context, client anthropic.Client, candidates []string) (string, error) {
	for _, m := range candidates {
		resp, err := client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     m,
			MaxTokens: 16,
			Messages:  []anthropic.Message{{Role: "user", Content: "Return the word OK."}},
		})
		if err != nil {
			zap.L().Warn("model probe failed", zap.String("model", m), zap.Error(err))
			continue
		}
		zap.L().Info("model probe succeeded", zap.String("model", m), zap.String("reply", resp.Text))
		return m, nil
	}
	return "", eris.New("insight: no candidate model available")
}

// Extract submits the work item's sections and returns a validated
// insight. Returns a PermanentError when the response still violates the
// schema after all attempts; the caller records it and moves on.
func (e *Extractor) Extract(ctx context.Context, item model.WorkItem, secs *filing.Sections) (*model.Insight, error) {
	basePrompt := buildUserMessage(item, secs)
	temperature := 0.1

	retry := e.retry
	retry.ShouldRetry = func(err error) bool {
		var re *responseError
		return resilience.IsTransient(err) || errors.As(err, &re)
	}
	retry.OnRetry = resilience.RetryLogger("extract", item.Key())

	var lastErr error
	result, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*model.Insight, error) {
		prompt := basePrompt
		if lastErr != nil {
			prompt += "\n\nPrevious attempt failed: " + lastErr.Error() + ". Return ONLY valid JSON."
		}

		resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       e.model,
			MaxTokens:   e.maxTokens,
			System:      systemPrompt,
			Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
			Temperature: &temperature,
		})
		if err != nil {
			lastErr = err
			return nil, err
		}

		e.inputTokens.Add(resp.Usage.InputTokens)
		e.outputTokens.Add(resp.Usage.OutputTokens)
		resp.Usage.LogCost(e.model, item.Key())

		in, err := parseInsight(resp.Text, item)
		if err != nil {
			lastErr = err
			return nil, &responseError{err: err}
		}
		return in, nil
	})
	if err != nil {
		var re *responseError
		if errors.As(err, &re) {
			// Schema still violated after the full budget: permanent,
			// recorded with the validating error, never coerced into a
			// partially-empty result.
			return nil, resilience.NewPermanentError(eris.Wrapf(err, "insight: extract %s", item.Key()))
		}
		return nil, eris.Wrapf(err, "insight: extract %s", item.Key())
	}

	result.Tier = item.Tier
	result.MDAChars = secs.MDAChars
	result.RiskChars = secs.RiskChars
	result.Model = e.model
	result.ExtractedAt = time.Now().UTC()
	return result, nil
}
