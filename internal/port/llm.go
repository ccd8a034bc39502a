package port

import "context"

// LLM represents a language model for text generation.
// Implementations decode deterministically (temperature 0).
type LLM interface {
	// Generate generates text for the prompt under the given system instruction.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}
