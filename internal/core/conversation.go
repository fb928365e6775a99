package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tallyr.io/worklog/internal/store"
)

// StateStore is the session-scoped persistence behind a conversation. Every
// mutation is saved through it so a reload resumes mid-conversation, and its
// lock keeps a user to one in-flight AI call at a time.
type StateStore interface {
	Load(ctx context.Context, userID int64) (*ConversationState, error)
	Save(ctx context.Context, userID int64, st *ConversationState) error
	Clear(ctx context.Context, userID int64) error
	TryLock(ctx context.Context, userID int64) (bool, error)
	Unlock(ctx context.Context, userID int64)
}

// Encryptor seals the raw conversation before it is written anywhere.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
}

// Persister is the slice of the store this pipeline writes through.
type Persister interface {
	GetUserByID(id int64) (*store.User, error)
	GetTargetsByUserID(userID int64, activeOnly bool) ([]store.Target, error)
	CreateWorkEntry(e *store.WorkEntry) error
	CreateWorkEntryTarget(m *store.WorkEntryTarget) error
	GetWorkEntryTargets(workEntryID string) ([]store.WorkEntryTarget, error)
	GetWorkEntryByID(entryID string, userID int64) (*store.WorkEntry, error)
	DeleteWorkEntry(entryID string, userID int64) error
	IncrementTargetValue(targetID string, userID int64, delta float64) error
}

var ErrWorkEntryNotFound = errors.New("work entry not found")

// ConversationService drives the logging conversation: turn loop, forced or
// model-signalled summarization, review, and the accept transaction.
type ConversationService struct {
	states     StateStore
	turns      *TurnExecutor
	summarizer *Summarizer
	persister  Persister
	encryptor  Encryptor
}

func NewConversationService(states StateStore, gen Generator, p Persister, enc Encryptor) *ConversationService {
	return &ConversationService{
		states:     states,
		turns:      NewTurnExecutor(gen),
		summarizer: NewSummarizer(gen),
		persister:  p,
		encryptor:  enc,
	}
}

// GetState returns the user's current conversation, or a fresh idle one.
func (s *ConversationService) GetState(ctx context.Context, userID int64) (*ConversationState, error) {
	st, err := s.states.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = NewConversationState()
	}
	return st, nil
}

// SendMessage runs one turn. On executor failure nothing is saved, so the
// user retries without losing history.
func (s *ConversationService) SendMessage(ctx context.Context, userID int64, text string) (*ConversationState, error) {
	ok, unlock := s.tryLock(ctx, userID)
	if !ok {
		return nil, ErrConversationBusy
	}
	defer unlock()

	st, err := s.GetState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st.Status != StatusIdle && st.Status != StatusInProgress {
		return nil, ErrNotAcceptingMessages
	}

	user, targets, err := s.loadContext(userID)
	if err != nil {
		return nil, err
	}

	pending := append(append([]ChatMessage{}, st.Messages...), ChatMessage{
		Role:      RoleUser,
		Text:      text,
		Timestamp: time.Now(),
	})

	res, err := s.turns.Execute(ctx, pending, st.ExchangeCount, user.Industry, targets)
	if err != nil {
		return nil, err
	}

	st.Status = StatusInProgress
	st.Messages = append(pending, ChatMessage{
		Role:      RoleAssistant,
		Text:      res.Message,
		Timestamp: time.Now(),
	})
	st.ExchangeCount++
	MergeExtraction(&st.Extracted, res.Extracted)

	if res.ShouldSummarize || st.ExchangeCount >= MaxExchanges {
		return s.runSummarization(ctx, userID, user, targets, st)
	}

	if err := s.states.Save(ctx, userID, st); err != nil {
		return nil, err
	}
	return st, nil
}

// SkipToSummary ends the turn loop on the user's initiative. Also the retry
// path when a summarization call failed and the state is stuck in
// summarizing.
func (s *ConversationService) SkipToSummary(ctx context.Context, userID int64) (*ConversationState, error) {
	ok, unlock := s.tryLock(ctx, userID)
	if !ok {
		return nil, ErrConversationBusy
	}
	defer unlock()

	st, err := s.GetState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(st.Messages) == 0 {
		return nil, ErrNothingToSummarize
	}
	if st.Status != StatusInProgress && st.Status != StatusSummarizing {
		return nil, ErrNotAcceptingMessages
	}

	user, targets, err := s.loadContext(userID)
	if err != nil {
		return nil, err
	}
	return s.runSummarization(ctx, userID, user, targets, st)
}

func (s *ConversationService) runSummarization(ctx context.Context, userID int64, user *store.User, targets []store.Target, st *ConversationState) (*ConversationState, error) {
	st.Status = StatusSummarizing
	if err := s.states.Save(ctx, userID, st); err != nil {
		return nil, err
	}

	draft, err := s.summarizer.Summarize(ctx, st, user.Industry, user.EmploymentStatus, targets)
	if err != nil {
		// State stays in summarizing; the user retries via skip, or undoes
		// the last exchange to keep talking.
		return nil, err
	}

	st.Draft = draft
	st.Status = StatusReview
	if err := s.states.Save(ctx, userID, st); err != nil {
		return nil, err
	}
	return st, nil
}

// UndoLastExchange removes the most recent assistant/user message pair and
// decrements the exchange count, floored at zero. Merged extraction is
// intentionally not rolled back, so facts from the retracted turn may still
// reach the final summary.
func (s *ConversationService) UndoLastExchange(ctx context.Context, userID int64) (*ConversationState, error) {
	ok, unlock := s.tryLock(ctx, userID)
	if !ok {
		return nil, ErrConversationBusy
	}
	defer unlock()

	st, err := s.GetState(ctx, userID)
	if err != nil {
		return nil, err
	}

	if n := len(st.Messages); n > 0 && st.Messages[n-1].Role == RoleAssistant {
		st.Messages = st.Messages[:n-1]
	}
	if n := len(st.Messages); n > 0 && st.Messages[n-1].Role == RoleUser {
		st.Messages = st.Messages[:n-1]
	}
	if st.ExchangeCount > 0 {
		st.ExchangeCount--
	}
	st.Draft = nil
	if len(st.Messages) == 0 {
		st.Status = StatusIdle
	} else {
		st.Status = StatusInProgress
	}

	if err := s.states.Save(ctx, userID, st); err != nil {
		return nil, err
	}
	return st, nil
}

// UpdateDraft applies the user's review edits. Edited text goes through the
// redaction filter again; a human paste can leak just as well as a model.
func (s *ConversationService) UpdateDraft(ctx context.Context, userID int64, draft *SummaryDraft) (*ConversationState, error) {
	ok, unlock := s.tryLock(ctx, userID)
	if !ok {
		return nil, ErrConversationBusy
	}
	defer unlock()

	st, err := s.GetState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st.Status != StatusReview || st.Draft == nil {
		return nil, ErrNoDraftToAccept
	}

	ScrubDraft(draft)
	auditSummary(draft.RedactedSummary)
	st.Draft = draft

	if err := s.states.Save(ctx, userID, st); err != nil {
		return nil, err
	}
	return st, nil
}

// AcceptSummary commits the reviewed draft. On success the conversation is
// completed and its session state cleared; on failure it stays in review so
// the user can retry.
func (s *ConversationService) AcceptSummary(ctx context.Context, userID int64) (*store.WorkEntry, *ConversationState, error) {
	ok, unlock := s.tryLock(ctx, userID)
	if !ok {
		return nil, nil, ErrConversationBusy
	}
	defer unlock()

	st, err := s.GetState(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if st.Status != StatusReview || st.Draft == nil {
		return nil, nil, ErrNoDraftToAccept
	}

	entry, err := s.persistAccept(ctx, userID, st)
	if err != nil {
		return nil, nil, err
	}

	st.Status = StatusCompleted
	if err := s.states.Clear(ctx, userID); err != nil {
		log.Printf("Failed to clear conversation state for user %d after accept: %v", userID, err)
	}
	return entry, st, nil
}

// ResetConversation throws away all state, from any status.
func (s *ConversationService) ResetConversation(ctx context.Context, userID int64) error {
	return s.states.Clear(ctx, userID)
}

// DeleteWorkEntry removes an accepted entry and compensates any progress
// increments it applied to targets.
func (s *ConversationService) DeleteWorkEntry(ctx context.Context, userID int64, entryID string) error {
	entry, err := s.persister.GetWorkEntryByID(entryID, userID)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrWorkEntryNotFound
	}

	mappings, err := s.persister.GetWorkEntryTargets(entryID)
	if err != nil {
		log.Printf("Failed to load mappings for entry %s; deleting without compensation: %v", entryID, err)
		mappings = nil
	}
	for _, m := range mappings {
		if m.ContributionValue == nil || *m.ContributionValue <= 0 {
			continue
		}
		cmd := progressIncrement{targetID: m.TargetID, userID: userID, delta: *m.ContributionValue}
		if err := cmd.Compensate(s.persister); err != nil {
			log.Printf("Failed to compensate increment of %v on target %s: %v", *m.ContributionValue, m.TargetID, err)
		}
	}

	return s.persister.DeleteWorkEntry(entryID, userID)
}

func (s *ConversationService) loadContext(userID int64) (*store.User, []store.Target, error) {
	user, err := s.persister.GetUserByID(userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load user profile: %w", err)
	}

	targets, err := s.persister.GetTargetsByUserID(userID, true)
	if err != nil {
		log.Printf("Failed to load targets for user %d, proceeding without them: %v", userID, err)
		targets = nil
	}
	return user, targets, nil
}

// tryLock marks an AI call in flight. A lock-store failure is logged and the
// call proceeds; the guard is an optimization, not a correctness boundary.
func (s *ConversationService) tryLock(ctx context.Context, userID int64) (bool, func()) {
	ok, err := s.states.TryLock(ctx, userID)
	if err != nil {
		log.Printf("Conversation lock unavailable for user %d, proceeding: %v", userID, err)
		return true, func() {}
	}
	if !ok {
		return false, func() {}
	}
	return true, func() { s.states.Unlock(ctx, userID) }
}
