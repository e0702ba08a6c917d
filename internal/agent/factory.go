package agent

import (
	"context"
	"fmt"

	"github.com/hpungsan/claimdesk/internal/config"
)

// New builds the generator selected by cfg.Generator.
func New(ctx context.Context, cfg *config.Config) (Generator, error) {
	switch cfg.Generator {
	case "", "keyword":
		return NewKeywordGenerator(), nil
	case "openai":
		c, err := NewOpenAICompleter(cfg.GeneratorAPIKey, cfg.GeneratorBaseURL, cfg.GeneratorModel)
		if err != nil {
			return nil, err
		}
		return NewLLMGenerator(c, cfg.GeneratorRPS), nil
	case "gemini":
		c, err := NewGeminiCompleter(ctx, cfg.GeneratorAPIKey, cfg.GeneratorModel)
		if err != nil {
			return nil, err
		}
		return NewLLMGenerator(c, cfg.GeneratorRPS), nil
	default:
		return nil, fmt.Errorf("unknown generator %q", cfg.Generator)
	}
}
