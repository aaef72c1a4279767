// Package budget implements TokenBudget: a running account of prompt and
// completion tokens for a single thread, used by the Agent to decide
// whether a request can be made before calling the provider and whether
// compaction should run first.
package budget

import (
	"fmt"
	"strings"
	"sync"

	"github.com/lacehq/lace/pkg/models"
)

// Config configures a Budget. WarningThreshold must be in (0, 1].
type Config struct {
	MaxTokens        int
	WarningThreshold float64
	ReserveTokens    int
}

// effectiveLimit returns MaxTokens minus ReserveTokens, never negative.
func (c Config) effectiveLimit() int {
	limit := c.MaxTokens - c.ReserveTokens
	if limit < 0 {
		return 0
	}
	return limit
}

// Usage is a single provider call's token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Recommendations summarizes what the Agent should do next based on the
// current budget state.
type Recommendations struct {
	ShouldSummarise bool
	ShouldPrune     bool
	MaxRequestSize  int
	WarningMessage  string
}

// Budget tracks token usage for one thread. All methods are safe for
// concurrent use; an Agent shares a single Budget across a turn's
// suspension points (provider call, retries, tool execution).
type Budget struct {
	mu     sync.Mutex
	config Config
	used   int
}

// New returns a Budget with the given config. A zero WarningThreshold
// defaults to 0.8, mirroring the config package's default.
func New(config Config) *Budget {
	if config.WarningThreshold <= 0 {
		config.WarningThreshold = 0.8
	}
	return &Budget{config: config}
}

// Record adds usage's tokens to the running total. Negative values are
// ignored rather than subtracted, and the total never drops below zero:
// a caller cannot claw back tokens already accounted for by recording a
// negative usage.
func (b *Budget) Record(usage Usage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if usage.PromptTokens > 0 {
		b.used += usage.PromptTokens
	}
	if usage.CompletionTokens > 0 {
		b.used += usage.CompletionTokens
	}
	if b.used < 0 {
		b.used = 0
	}
}

// Used returns the total tokens recorded so far.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// CanMakeRequest reports whether used+estimated tokens fit within the
// effective limit (MaxTokens - ReserveTokens). At exactly the effective
// limit, an estimate of 0 is allowed and any positive estimate is not.
func (b *Budget) CanMakeRequest(estimatedTokens int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used+estimatedTokens <= b.config.effectiveLimit()
}

// IsNearLimit reports whether used tokens have reached warningThreshold
// fraction of MaxTokens (not the effective limit — the warning is meant
// to fire before the reserve is even touched).
func (b *Budget) IsNearLimit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	threshold := b.config.WarningThreshold * float64(b.config.MaxTokens)
	return float64(b.used) >= threshold
}

// Estimate returns a conservative character-based token estimate (roughly
// 4 characters per token) for a set of messages, used when the provider
// call has not yet returned real usage counts.
func Estimate(messages []models.MessageData) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Text)
	}
	return (chars + 3) / 4
}

// Recommendations reports what the Agent should do given current usage.
// ShouldSummarise is set once IsNearLimit holds; ShouldPrune is set once
// there is no room left for even a minimal request at the effective
// limit. MaxRequestSize is the remaining headroom under the effective
// limit.
func (b *Budget) Recommendations() Recommendations {
	b.mu.Lock()
	defer b.mu.Unlock()

	limit := b.config.effectiveLimit()
	remaining := limit - b.used
	if remaining < 0 {
		remaining = 0
	}

	threshold := b.config.WarningThreshold * float64(b.config.MaxTokens)
	nearLimit := float64(b.used) >= threshold

	rec := Recommendations{
		ShouldSummarise: nearLimit,
		ShouldPrune:     remaining == 0,
		MaxRequestSize:  remaining,
	}
	if nearLimit {
		rec.WarningMessage = fmt.Sprintf(
			"token usage %d has reached %.0f%% of the %d token limit; consider /compact",
			b.used, b.config.WarningThreshold*100, b.config.MaxTokens)
	}
	return rec
}

// Reset zeroes the running total without changing config.
func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used = 0
}

// UpdateConfig replaces the budget's config. Used tokens are preserved.
func (b *Budget) UpdateConfig(config Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if config.WarningThreshold <= 0 {
		config.WarningThreshold = 0.8
	}
	b.config = config
}

// String renders a short human-readable summary, useful in log lines.
func (b *Budget) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var sb strings.Builder
	fmt.Fprintf(&sb, "used=%d limit=%d reserve=%d", b.used, b.config.effectiveLimit(), b.config.ReserveTokens)
	return sb.String()
}
