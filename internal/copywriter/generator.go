// Package copywriter generates marketing copy from extracted site text.
package copywriter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"

	"github.com/cwygoda/scouter/internal/domain"
)

const (
	maxContent = 2000
	minContent = 10
	blurbCount = 3
)

var (
	ErrEmptyResponse = errors.New("empty completion")
	ErrNoJSON        = errors.New("no JSON object in completion")
)

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

var fallbackBlurbs = []string{
	"A modern solution built for today's challenges.",
	"Streamlined experience designed for efficiency.",
	"Trusted by teams who demand the best.",
}

// Completer sends one system/user prompt pair to a text model.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Options configures the Anthropic completer.
type Options struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// DefaultOptions returns the completion settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		Model:       "claude-3-5-haiku-latest",
		MaxTokens:   500,
		Temperature: 0.7,
	}
}

// Anthropic completes prompts with the Anthropic messages API.
type Anthropic struct {
	opts Options
}

// NewAnthropic creates a completer. Zero-valued settings take their defaults.
func NewAnthropic(opts Options) *Anthropic {
	def := DefaultOptions()
	if opts.Model == "" {
		opts.Model = def.Model
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = def.Temperature
	}
	return &Anthropic{opts: opts}
}

// Complete runs the request in the background so ctx can abandon it.
func (a *Anthropic) Complete(ctx context.Context, system, user string) (string, error) {
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		settings := types.RequestSettings{
			Model:       a.opts.Model,
			MaxTokens:   a.opts.MaxTokens,
			Temperature: a.opts.Temperature,
		}
		resp, err := anthropic.PromptWithSettings(system, user, "", a.opts.APIKey, settings)
		if err != nil {
			done <- result{err: fmt.Errorf("anthropic: %w", err)}
			return
		}
		if len(resp.Content) == 0 {
			done <- result{err: ErrEmptyResponse}
			return
		}
		done <- result{text: resp.Content[0].Text}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.text, r.err
	}
}

// Generator implements domain.CopyGenerator.
type Generator struct {
	completer Completer
	prompts   *Prompts
	logger    *slog.Logger
}

// New creates a generator. A nil completer always yields fallback copy.
func New(c Completer, prompts *Prompts) *Generator {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &Generator{completer: c, prompts: prompts, logger: slog.Default()}
}

// FromOptions creates a generator backed by Anthropic, or a fallback-only
// generator when no API key is set.
func FromOptions(opts Options) *Generator {
	if opts.APIKey == "" {
		return New(nil, nil)
	}
	return New(NewAnthropic(opts), nil)
}

// WithLogger replaces the generator logger.
func (g *Generator) WithLogger(l *slog.Logger) *Generator {
	g.logger = l
	return g
}

// Generate never fails; any problem degrades to Fallback.
func (g *Generator) Generate(ctx context.Context, in domain.CopyInput) domain.CopyResult {
	if g.completer == nil || len(strings.TrimSpace(in.TextContent)) < minContent {
		return Fallback(in.Domain)
	}

	user, err := g.prompts.UserPrompt(in)
	if err != nil {
		g.logger.Warn("copy prompt failed", "domain", in.Domain, "error", err)
		return Fallback(in.Domain)
	}
	raw, err := g.completer.Complete(ctx, g.prompts.System, user)
	if err != nil {
		g.logger.Warn("copy completion failed", "domain", in.Domain, "error", err)
		return Fallback(in.Domain)
	}
	result, err := Parse(raw)
	if err != nil {
		g.logger.Warn("copy response unusable", "domain", in.Domain, "error", err)
		return Fallback(in.Domain)
	}
	return result
}

// Parse extracts the copy object from a raw completion. The match is
// greedy: everything from the first '{' to the last '}'.
func Parse(raw string) (domain.CopyResult, error) {
	match := jsonObject.FindString(raw)
	if match == "" {
		return domain.CopyResult{}, ErrNoJSON
	}
	var out domain.CopyResult
	if err := json.Unmarshal([]byte(match), &out); err != nil {
		return domain.CopyResult{}, fmt.Errorf("decode copy: %w", err)
	}
	if strings.TrimSpace(out.Pitch) == "" {
		return domain.CopyResult{}, errors.New("decode copy: missing pitch")
	}

	blurbs := make([]string, 0, blurbCount)
	for _, b := range out.Blurbs {
		if b = strings.TrimSpace(b); b != "" && len(blurbs) < blurbCount {
			blurbs = append(blurbs, b)
		}
	}
	for i := len(blurbs); i < blurbCount; i++ {
		blurbs = append(blurbs, fallbackBlurbs[i])
	}
	out.Blurbs = blurbs
	return out, nil
}

// Fallback returns templated copy built from the hostname alone.
func Fallback(host string) domain.CopyResult {
	if strings.TrimSpace(host) == "" {
		host = "this product"
	}
	return domain.CopyResult{
		Pitch:   fmt.Sprintf("Discover what %s has to offer.", host),
		Blurbs:  append([]string(nil), fallbackBlurbs...),
		Twitter: fmt.Sprintf("Check out %s — a product worth exploring. 🚀", host),
		Tagline: fmt.Sprintf("%s — Built for what's next.", host),
	}
}
