package core

import "context"

// PromptTurn is one message in the history sent to the text-generation
// service.
type PromptTurn struct {
	Role string // "user" or "model"
	Text string
}

// Generator is the text-generation service behind the turn and summarization
// calls. It is injected at construction so tests can substitute a
// deterministic fake.
type Generator interface {
	Generate(ctx context.Context, systemInstruction string, history []PromptTurn) (string, error)
}
