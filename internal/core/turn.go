package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"tallyr.io/worklog/internal/store"
)

// Turn calls get a shorter deadline than summarization; the reply is one
// question, not a full digest.
const turnTimeout = 45 * time.Second

// TurnResult is what one completed exchange hands back to the state machine.
type TurnResult struct {
	Message         string
	Extracted       *ExtractedData
	ShouldSummarize bool
}

type turnReply struct {
	Message         string         `json:"message"`
	ExtractedData   *ExtractedData `json:"extractedData"`
	ShouldSummarize bool           `json:"shouldSummarize"`
}

// TurnExecutor runs one conversational turn against the text-generation
// service and normalizes its loosely structured reply.
type TurnExecutor struct {
	gen     Generator
	timeout time.Duration
}

func NewTurnExecutor(gen Generator) *TurnExecutor {
	return &TurnExecutor{gen: gen, timeout: turnTimeout}
}

// Execute sends the running history plus context and parses the reply.
// Unparsable structure never reaches the user: a plain-text reply becomes the
// assistant message verbatim, and anything else degrades to the fixed
// fallback question.
func (e *TurnExecutor) Execute(ctx context.Context, messages []ChatMessage, exchangeCount int, industry string, targets []store.Target) (*TurnResult, error) {
	system := turnSystemInstruction(industry, exchangeCount, targets)

	history := make([]PromptTurn, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		history = append(history, PromptTurn{Role: role, Text: m.Text})
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.gen.Generate(ctx, system, history)
	if err != nil {
		return nil, fmt.Errorf("turn %w: %v", ErrGenerationFailed, err)
	}

	var reply turnReply
	if res := DecodeLoose(raw, &reply); !res.Parsed {
		log.Printf("Turn reply was not JSON (%s); using the raw text as the assistant message", res.Reason)
		return &TurnResult{Message: guardMessage(strings.TrimSpace(raw))}, nil
	}

	message := strings.TrimSpace(reply.Message)
	if message == "" {
		log.Printf("Turn reply parsed but carried an empty message; substituting the fallback question")
		message = fallbackQuestion
	}

	return &TurnResult{
		Message:         guardMessage(message),
		Extracted:       reply.ExtractedData,
		ShouldSummarize: reply.ShouldSummarize,
	}, nil
}

// guardMessage is the last check before a message goes out: anything that
// still looks like unparsed structure is replaced wholesale.
func guardMessage(message string) string {
	if strings.HasPrefix(message, "{") || strings.HasPrefix(message, "[") {
		return fallbackQuestion
	}
	return message
}
