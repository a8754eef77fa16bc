// Package llm classifies inputs with a text-generation model and falls back
// to the heuristic default whenever the model cannot give a usable answer.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docutag/lincat/heuristic"
	"github.com/docutag/lincat/logger"
	"github.com/docutag/lincat/metrics"
	"github.com/docutag/lincat/models"
)

// Config controls how the model is asked.
type Config struct {
	Timeout       time.Duration
	MaxTokens     int64
	Temperature   float64
	MaxConcurrent int // concurrent model calls allowed per process
}

// DefaultConfig returns the settings used in production.
func DefaultConfig() Config {
	return Config{
		Timeout:       15 * time.Second,
		MaxTokens:     150,
		Temperature:   0.2,
		MaxConcurrent: 4,
	}
}

// Classifier asks a Completer for a verdict. A nil completer means the model is
// not configured and every call returns the default verdict.
type Classifier struct {
	completer Completer
	config    Config
	semaphore chan struct{}
	log       logger.Logger
	metrics   *metrics.Metrics
}

// New creates a Classifier. completer may be nil.
func New(completer Completer, config Config, log logger.Logger, m *metrics.Metrics) *Classifier {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Classifier{
		completer: completer,
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrent),
		log:       log,
		metrics:   m,
	}
}

// Classify never fails: any call or parse error yields heuristic.Default.
func (c *Classifier) Classify(ctx context.Context, in models.ClassifyInput) models.Verdict {
	v, err := c.ask(ctx, in)
	if err != nil {
		var pf *ParseFailure
		switch {
		case errors.As(err, &pf):
			c.log.Warn("model reply rejected, using default category",
				logger.String("reason", pf.Reason), logger.String("raw", truncate(pf.Raw, 200)))
		case errors.Is(err, errNotConfigured):
			c.log.Debug("model not configured, using default category")
		default:
			c.log.Warn("model call failed, using default category", logger.Error(err))
		}
		c.metrics.Categorized(metrics.SourceFallback)
		return heuristic.Default(in)
	}

	c.metrics.Categorized(metrics.SourceLLM)
	return v
}

var errNotConfigured = errors.New("model not configured")

func (c *Classifier) ask(ctx context.Context, in models.ClassifyInput) (models.Verdict, error) {
	if c.completer == nil {
		return models.Verdict{}, errNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := c.acquireSlot(ctx); err != nil {
		return models.Verdict{}, fmt.Errorf("waiting for model slot: %w", err)
	}
	defer c.releaseSlot()

	start := time.Now()
	reply, err := c.completer.Complete(ctx, Request{
		System:      SystemPrompt(in.Existing),
		User:        UserPrompt(in),
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	})
	c.metrics.ObserveLLM(time.Since(start))
	if err != nil {
		return models.Verdict{}, err
	}
	if strings.TrimSpace(reply) == "" {
		return models.Verdict{}, ErrEmptyCompletion
	}

	v, err := ParseVerdict(reply)
	if err != nil {
		return models.Verdict{}, err
	}
	v = canonicalize(v, in.Existing)
	if v.Description == "" {
		v.Description = "Content: " + firstNonEmpty(in.Title, in.Input)
	}
	return v, nil
}

func (c *Classifier) acquireSlot(ctx context.Context) error {
	select {
	case c.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Classifier) releaseSlot() {
	<-c.semaphore
}

// SystemPrompt embeds the owner's category names and the reply contract.
func SystemPrompt(existing []string) string {
	var b strings.Builder
	b.WriteString("You sort saved links and notes into categories.\n\n")
	b.WriteString("Existing categories:\n")
	if len(existing) == 0 {
		b.WriteString("(none yet)\n")
	}
	for _, name := range existing {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	b.WriteString(`
Rules:
1. If the content fits an existing category, use that exact name and set "isNew" to false.
2. Otherwise propose a new category name of exactly two words in Title Case and set "isNew" to true.
3. "description" is one short sentence summarizing the content.
4. Reply with a single JSON object and nothing else, with exactly these keys:
{"category": "<name>", "description": "<summary>", "isNew": <true|false>}`)
	return b.String()
}

// UserPrompt carries the submission and whatever metadata was found.
func UserPrompt(in models.ClassifyInput) string {
	return fmt.Sprintf("Input: %q\nTitle: %q\nDescription: %q", in.Input, in.Title, in.Description)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
