package core

import (
	"errors"
	"time"
)

// Status is the lifecycle phase of a logging conversation.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusInProgress  Status = "in_progress"
	StatusSummarizing Status = "summarizing"
	StatusReview      Status = "review"
	StatusCompleted   Status = "completed"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxExchanges is the fixed turn cap. Reaching it forces summarization
// even when the model never signals it.
const MaxExchanges = 5

type ChatMessage struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ExtractedData accumulates structured facts across turns. It only grows;
// a full reset is the only way facts are dropped.
type ExtractedData struct {
	Skills       []string       `json:"skills,omitempty"`
	Achievements []string       `json:"achievements,omitempty"`
	Metrics      map[string]any `json:"metrics,omitempty"`
	Category     string         `json:"category,omitempty"`
}

type SMARTBreakdown struct {
	Specific   string `json:"specific,omitempty"`
	Measurable string `json:"measurable,omitempty"`
	Achievable string `json:"achievable,omitempty"`
	Relevant   string `json:"relevant,omitempty"`
	TimeBound  string `json:"timeBound,omitempty"`
}

// TargetMapping is a proposed contribution from a work entry to one of the
// user's targets. Proposals come from the model and are best-effort; invalid
// ones are silently dropped by ValidateMappings.
type TargetMapping struct {
	TargetID          string          `json:"targetId"`
	TargetName        string          `json:"targetName,omitempty"`
	ContributionValue *float64        `json:"contributionValue,omitempty"`
	ContributionNote  string          `json:"contributionNote,omitempty"`
	SMART             *SMARTBreakdown `json:"smart,omitempty"`
}

// SummaryDraft holds the candidate work entry awaiting human review.
type SummaryDraft struct {
	RedactedSummary string          `json:"redactedSummary"`
	Skills          []string        `json:"skills,omitempty"`
	Achievements    []string        `json:"achievements,omitempty"`
	Metrics         map[string]any  `json:"metrics,omitempty"`
	Category        string          `json:"category,omitempty"`
	TargetMappings  []TargetMapping `json:"targetMappings,omitempty"`
}

// ConversationState is the full client-visible state of one logging session.
// It is owned by exactly one user and rehydrated from session storage keyed
// by that user's id.
type ConversationState struct {
	Status        Status        `json:"status"`
	Messages      []ChatMessage `json:"messages"`
	ExchangeCount int           `json:"exchangeCount"`
	Extracted     ExtractedData `json:"extractedData"`
	Draft         *SummaryDraft `json:"summaryDraft,omitempty"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func NewConversationState() *ConversationState {
	return &ConversationState{Status: StatusIdle}
}

var (
	// ErrConversationBusy means another turn or summarization call is in
	// flight for this user. The client retries after the current one lands.
	ErrConversationBusy = errors.New("a request is already in flight for this conversation")

	ErrNotAcceptingMessages = errors.New("conversation is not accepting messages in its current state")
	ErrNothingToSummarize   = errors.New("conversation has no messages to summarize")
	ErrNoDraftToAccept      = errors.New("no summary draft is awaiting review")

	// ErrGenerationFailed marks transport or timeout failures talking to the
	// text-generation service, as opposed to conversation-state violations.
	ErrGenerationFailed = errors.New("generation failed")
)
