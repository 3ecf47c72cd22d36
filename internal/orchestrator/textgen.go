package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

// TextGenerator produces affirmation texts for a session that has none yet.
type TextGenerator interface {
	GenerateAffirmations(ctx context.Context, intention string, count int) ([]string, error)
}

// LLMGenerator writes affirmations with a language model.
type LLMGenerator struct {
	model llms.Model
}

// NewLLMGenerator creates a Gemini-backed affirmation writer.
func NewLLMGenerator(ctx context.Context, apiKey, model string) (*LLMGenerator, error) {
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	return &LLMGenerator{model: llm}, nil
}

const affirmationPrompt = `Write %d short first-person present-tense affirmations for someone whose intention is: %q.
Rules: one affirmation per line, no numbering, no quotes, each under 12 words, calm and positive.`

func (g *LLMGenerator) GenerateAffirmations(ctx context.Context, intention string, count int) ([]string, error) {
	prompt := fmt.Sprintf(affirmationPrompt, count, intention)

	raw, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt, llms.WithTemperature(0.7))
	if err != nil {
		return nil, fmt.Errorf("affirmation generation failed: %w", err)
	}

	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.Trim(strings.TrimSpace(line), `"'-*`)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == count {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("llm returned no usable affirmations")
	}

	log.Info().Int("count", len(out)).Msg("Affirmations generated")
	return out, nil
}

// TemplateGenerator is the deterministic fallback used when no LLM is
// configured. Same intention, same output.
type TemplateGenerator struct{}

var affirmationTemplates = []string{
	"I am moving toward %s with ease",
	"Every day I grow closer to %s",
	"I trust myself on the path to %s",
	"I welcome %s into my life",
	"I am calm, steady, and ready for %s",
	"My mind is clear as I focus on %s",
	"I deserve %s and I receive it openly",
	"With every breath I strengthen %s",
}

func (TemplateGenerator) GenerateAffirmations(_ context.Context, intention string, count int) ([]string, error) {
	intention = strings.TrimSpace(intention)
	if intention == "" {
		intention = "inner peace"
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, fmt.Sprintf(affirmationTemplates[i%len(affirmationTemplates)], intention))
	}
	return out, nil
}
