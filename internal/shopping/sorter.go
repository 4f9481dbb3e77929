package shopping

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"mealboard/internal/llm"
	"mealboard/internal/metrics"
)

const sorterAgentName = "shopping_sorter"

// Sorter orders item names. Implementations may fail or return a different set of names; the
// Service validates every result.
type Sorter interface {
	Sort(ctx context.Context, items []string, prompt string) ([]string, error)
}

// UsageRecorder persists token usage of generator calls.
type UsageRecorder interface {
	RecordMeta(ctx context.Context, meta llm.AgentMeta) error
}

// AISorter sorts items with a text generator, retrying failed calls with exponential backoff.
type AISorter struct {
	gen        llm.TextGenerator
	language   string
	usage      UsageRecorder
	collectors *metrics.Collectors
	logger     *zap.Logger

	maxTries        uint
	initialInterval time.Duration
}

// NewAISorter creates a sorter on gen. usage and collectors may be nil.
func NewAISorter(gen llm.TextGenerator, language string, usage UsageRecorder, collectors *metrics.Collectors, logger *zap.Logger) *AISorter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AISorter{
		gen:             gen,
		language:        language,
		usage:           usage,
		collectors:      collectors,
		logger:          logger.Named("sorter"),
		maxTries:        3,
		initialInterval: 500 * time.Millisecond,
	}
}

// Sort implements Sorter. Lists with fewer than two items are returned unchanged without a call.
func (s *AISorter) Sort(ctx context.Context, items []string, prompt string) ([]string, error) {
	if len(items) <= 1 {
		return items, nil
	}

	fullPrompt := buildSortPrompt(prompt, items, s.language)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialInterval

	start := time.Now()
	attempt := 0
	resp, err := backoff.Retry(ctx, func() (llm.ContentResponse, error) {
		attempt++
		resp, err := s.gen.GenerateContent(ctx, fullPrompt)
		if err != nil {
			s.logger.Warn("sort request failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return resp, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.maxTries))
	latency := time.Since(start)
	s.collectors.ObserveGenerator(latency.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to generate sort order: %w", err)
	}

	if s.usage != nil {
		meta := llm.AgentMeta{AgentName: sorterAgentName, Usage: resp.Usage, Latency: latency}
		if err := s.usage.RecordMeta(ctx, meta); err != nil {
			s.logger.Warn("failed to record usage", zap.Error(err))
		}
	}

	return parseSortResponse(resp.Content)
}

// parseSortResponse accepts a bare JSON array or an object carrying the array under "items",
// "sortedItems" or as its only field.
func parseSortResponse(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty response from generator")
	}

	var list []string
	if err := json.Unmarshal([]byte(content), &list); err == nil {
		return list, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return nil, fmt.Errorf("unexpected response format: %w", err)
	}
	for _, key := range []string{"items", "sortedItems"} {
		if raw, ok := obj[key]; ok {
			if err := json.Unmarshal(raw, &list); err == nil {
				return list, nil
			}
		}
	}
	if len(obj) == 1 {
		for _, raw := range obj {
			if err := json.Unmarshal(raw, &list); err == nil {
				return list, nil
			}
		}
	}
	return nil, fmt.Errorf("unexpected response format")
}

// sameItems reports whether sorted is a permutation of original, ignoring case.
func sameItems(original, sorted []string) bool {
	if len(original) != len(sorted) {
		return false
	}
	counts := make(map[string]int, len(original))
	for _, name := range original {
		counts[strings.ToLower(name)]++
	}
	for _, name := range sorted {
		key := strings.ToLower(name)
		if counts[key] == 0 {
			return false
		}
		counts[key]--
	}
	return true
}
