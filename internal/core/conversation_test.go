package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"tallyr.io/worklog/internal/store"
)

const (
	turnAsk        = `{"message": "What else did you get done?", "shouldSummarize": false}`
	turnAskExtract = `{"message": "How did the launch go?", "extractedData": {"skills": ["Go"]}, "shouldSummarize": false}`
	turnDone       = `{"message": "Sounds like a full day.", "shouldSummarize": true}`
	summaryReplyOK = `{
		"redactedSummary": "Closed two renewals and shipped the CSV importer.",
		"skills": ["negotiation"],
		"achievements": ["importer shipped"],
		"metrics": {"deals": 2},
		"category": "sales",
		"targetMappings": [{"targetId": "t-1", "contributionValue": 2, "contributionNote": "two renewals"}]
	}`
)

func newTestService(g *fakeGenerator, enc Encryptor) (*ConversationService, *memoryStateStore, *fakePersister) {
	states := newMemoryStateStore()
	p := newFakePersister()
	p.targets = []store.Target{{ID: "t-1", UserID: 1, Name: "Close 10 deals", Status: store.TargetStatusActive}}
	return NewConversationService(states, g, p, enc), states, p
}

// driveToReview runs one exchange whose reply signals summarization, then the
// scripted summary, leaving the conversation in review.
func driveToReview(t *testing.T, svc *ConversationService) *ConversationState {
	t.Helper()
	st, err := svc.SendMessage(context.Background(), 1, "Closed two renewals and shipped the importer.")
	require.NoError(t, err)
	require.Equal(t, StatusReview, st.Status)
	require.NotNil(t, st.Draft)
	return st
}

func TestGetStateStartsIdle(t *testing.T) {
	svc, _, _ := newTestService(&fakeGenerator{}, fakeEncryptor{})

	st, err := svc.GetState(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusIdle, st.Status)
	require.Empty(t, st.Messages)
	require.Zero(t, st.ExchangeCount)
}

func TestSendMessageRunsOneExchange(t *testing.T) {
	svc, states, _ := newTestService(&fakeGenerator{replies: []string{turnAskExtract}}, fakeEncryptor{})

	st, err := svc.SendMessage(context.Background(), 1, "Launched the new importer today.")
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, st.Status)
	require.Len(t, st.Messages, 2)
	require.Equal(t, RoleUser, st.Messages[0].Role)
	require.Equal(t, "Launched the new importer today.", st.Messages[0].Text)
	require.Equal(t, RoleAssistant, st.Messages[1].Role)
	require.Equal(t, "How did the launch go?", st.Messages[1].Text)
	require.Equal(t, 1, st.ExchangeCount)
	require.Equal(t, []string{"Go"}, st.Extracted.Skills)

	// The state survives a reload through the store.
	saved, err := states.Load(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, saved.Messages, 2)
	require.Equal(t, 1, saved.ExchangeCount)
}

func TestExchangeCapForcesSummarization(t *testing.T) {
	replies := make([]string, 0, MaxExchanges+1)
	for i := 0; i < MaxExchanges; i++ {
		replies = append(replies, turnAsk)
	}
	replies = append(replies, summaryReplyOK)
	svc, _, _ := newTestService(&fakeGenerator{replies: replies}, fakeEncryptor{})

	var st *ConversationState
	var err error
	for i := 1; i < MaxExchanges; i++ {
		st, err = svc.SendMessage(context.Background(), 1, "More work happened.")
		require.NoError(t, err)
		require.Equal(t, StatusInProgress, st.Status)
		require.Equal(t, i, st.ExchangeCount)
	}

	st, err = svc.SendMessage(context.Background(), 1, "And one last thing.")
	require.NoError(t, err)
	require.Equal(t, StatusReview, st.Status)
	require.Equal(t, MaxExchanges, st.ExchangeCount)
	require.NotNil(t, st.Draft)

	_, err = svc.SendMessage(context.Background(), 1, "one more?")
	require.ErrorIs(t, err, ErrNotAcceptingMessages)
}

func TestModelSignalledSummarization(t *testing.T) {
	svc, _, _ := newTestService(&fakeGenerator{replies: []string{turnDone, summaryReplyOK}}, fakeEncryptor{})

	st := driveToReview(t, svc)
	require.Equal(t, 1, st.ExchangeCount)
	require.Equal(t, "Closed two renewals and shipped the CSV importer.", st.Draft.RedactedSummary)
	require.Len(t, st.Draft.TargetMappings, 1)
}

func TestSkipToSummary(t *testing.T) {
	svc, _, _ := newTestService(&fakeGenerator{replies: []string{turnAsk, summaryReplyOK}}, fakeEncryptor{})

	_, err := svc.SendMessage(context.Background(), 1, "Shipped the importer.")
	require.NoError(t, err)

	st, err := svc.SkipToSummary(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusReview, st.Status)
	require.NotNil(t, st.Draft)
}

func TestSkipWithNothingToSummarize(t *testing.T) {
	svc, _, _ := newTestService(&fakeGenerator{}, fakeEncryptor{})

	_, err := svc.SkipToSummary(context.Background(), 1)
	require.ErrorIs(t, err, ErrNothingToSummarize)
}

func TestSkipFromReviewIsRejected(t *testing.T) {
	svc, _, _ := newTestService(&fakeGenerator{replies: []string{turnDone, summaryReplyOK}}, fakeEncryptor{})
	driveToReview(t, svc)

	_, err := svc.SkipToSummary(context.Background(), 1)
	require.ErrorIs(t, err, ErrNotAcceptingMessages)
}

func TestTurnFailureLeavesStateUnsaved(t *testing.T) {
	g := &fakeGenerator{replies: []string{turnAsk}, err: errors.New("upstream timeout"), errOnCall: 2}
	svc, _, _ := newTestService(g, fakeEncryptor{})

	_, err := svc.SendMessage(context.Background(), 1, "First update.")
	require.NoError(t, err)

	_, err = svc.SendMessage(context.Background(), 1, "Second update.")
	require.Error(t, err)

	st, err := svc.GetState(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, st.Messages, 2, "failed turn must not leave a dangling user message")
	require.Equal(t, 1, st.ExchangeCount)
	require.Equal(t, StatusInProgress, st.Status)
}

func TestSummaryFailureIsRetryableViaSkip(t *testing.T) {
	g := &fakeGenerator{replies: []string{turnDone, summaryReplyOK}, err: errors.New("connection reset"), errOnCall: 2}
	svc, _, _ := newTestService(g, fakeEncryptor{})

	_, err := svc.SendMessage(context.Background(), 1, "Closed two renewals.")
	require.Error(t, err)

	st, err := svc.GetState(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusSummarizing, st.Status)
	require.Len(t, st.Messages, 2, "the completed exchange is kept for the retry")

	g.err = nil
	st, err = svc.SkipToSummary(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusReview, st.Status)
	require.NotNil(t, st.Draft)
}

func TestUndoRemovesExactlyOneExchange(t *testing.T) {
	svc, _, _ := newTestService(&fakeGenerator{replies: []string{turnAsk}}, fakeEncryptor{})

	_, err := svc.SendMessage(context.Background(), 1, "First.")
	require.NoError(t, err)
	_, err = svc.SendMessage(context.Background(), 1, "Second.")
	require.NoError(t, err)

	st, err := svc.UndoLastExchange(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, st.Messages, 2)
	require.Equal(t, 1, st.ExchangeCount)
	require.Equal(t, StatusInProgress, st.Status)

	st, err = svc.UndoLastExchange(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, st.Messages)
	require.Zero(t, st.ExchangeCount)
	require.Equal(t, StatusIdle, st.Status)

	// Undo on an empty conversation is harmless.
	st, err = svc.UndoLastExchange(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, st.ExchangeCount)
	require.Equal(t, StatusIdle, st.Status)
}

func TestUndoFromReviewClearsDraft(t *testing.T) {
	svc, _, _ := newTestService(&fakeGenerator{replies: []string{turnDone, summaryReplyOK, turnAsk}}, fakeEncryptor{})
	driveToReview(t, svc)

	st, err := svc.UndoLastExchange(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusIdle, st.Status)
	require.Nil(t, st.Draft)
	require.Empty(t, st.Messages)

	// The conversation is live again.
	st, err = svc.SendMessage(context.Background(), 1, "Let me restate that.")
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, st.Status)
}

func TestUndoKeepsMergedExtraction(t *testing.T) {
	svc, _, _ := newTestService(&fakeGenerator{replies: []string{turnAskExtract}}, fakeEncryptor{})

	_, err := svc.SendMessage(context.Background(), 1, "Shipped the Go rewrite.")
	require.NoError(t, err)

	st, err := svc.UndoLastExchange(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []string{"Go"}, st.Extracted.Skills, "extraction outlives the retracted exchange")
}

func TestUpdateDraftScrubsHumanEdits(t *testing.T) {
	svc, _, _ := newTestService(&fakeGenerator{replies: []string{turnDone, summaryReplyOK}}, fakeEncryptor{})
	driveToReview(t, svc)

	st, err := svc.UpdateDraft(context.Background(), 1, &SummaryDraft{
		RedactedSummary: "Actually I also mailed jane.doe@example.com about it.",
		Category:        "sales",
	})
	require.NoError(t, err)
	require.Equal(t, "Actually I also mailed [EMAIL] about it.", st.Draft.RedactedSummary)
}

func TestUpdateDraftOutsideReviewIsRejected(t *testing.T) {
	svc, _, _ := newTestService(&fakeGenerator{}, fakeEncryptor{})

	_, err := svc.UpdateDraft(context.Background(), 1, &SummaryDraft{RedactedSummary: "x"})
	require.ErrorIs(t, err, ErrNoDraftToAccept)
}

func TestAcceptPersistsEntryMappingsAndProgress(t *testing.T) {
	svc, _, p := newTestService(&fakeGenerator{replies: []string{turnDone, summaryReplyOK}}, fakeEncryptor{})
	driveToReview(t, svc)

	entry, st, err := svc.AcceptSummary(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, st.Status)

	require.Equal(t, "entry-1", entry.ID)
	require.Equal(t, "Closed two renewals and shipped the CSV importer.", entry.RedactedSummary)
	require.True(t, strings.HasPrefix(string(entry.EncryptedOriginal), "sealed:"))
	require.Equal(t, []string{"t-1"}, entry.TargetIDs)

	require.Len(t, p.mappingRows, 1)
	require.Equal(t, "entry-1", p.mappingRows[0].WorkEntryID)
	require.Equal(t, 2.0, p.increments["t-1"])

	fresh, err := svc.GetState(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusIdle, fresh.Status, "accept clears the session state")
}

func TestAcceptWithoutDraftIsRejected(t *testing.T) {
	svc, _, _ := newTestService(&fakeGenerator{}, fakeEncryptor{})

	_, _, err := svc.AcceptSummary(context.Background(), 1)
	require.ErrorIs(t, err, ErrNoDraftToAccept)
}

func TestAcceptEncryptionFailureKeepsReview(t *testing.T) {
	svc, _, p := newTestService(&fakeGenerator{replies: []string{turnDone, summaryReplyOK}}, fakeEncryptor{err: errors.New("bad key")})
	driveToReview(t, svc)

	_, _, err := svc.AcceptSummary(context.Background(), 1)
	require.Error(t, err)
	require.Empty(t, p.entries)
	require.Empty(t, p.increments)

	st, err := svc.GetState(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusReview, st.Status)
	require.NotNil(t, st.Draft)
}

func TestAcceptEntryInsertFailureKeepsReview(t *testing.T) {
	svc, _, p := newTestService(&fakeGenerator{replies: []string{turnDone, summaryReplyOK}}, fakeEncryptor{})
	driveToReview(t, svc)
	p.entryErr = errors.New("disk full")

	_, _, err := svc.AcceptSummary(context.Background(), 1)
	require.Error(t, err)
	require.Empty(t, p.increments)

	st, err := svc.GetState(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusReview, st.Status)
}

func TestAcceptMappingRowFailureIsNonFatal(t *testing.T) {
	svc, _, p := newTestService(&fakeGenerator{replies: []string{turnDone, summaryReplyOK}}, fakeEncryptor{})
	driveToReview(t, svc)
	p.mappingErr = errors.New("constraint violation")

	entry, st, err := svc.AcceptSummary(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, st.Status)
	require.NotNil(t, entry)
	require.Equal(t, 2.0, p.increments["t-1"], "increments apply independently of mapping rows")
}

func TestAcceptIncrementFailureIsNonFatal(t *testing.T) {
	svc, _, p := newTestService(&fakeGenerator{replies: []string{turnDone, summaryReplyOK}}, fakeEncryptor{})
	driveToReview(t, svc)
	p.incrementErr = errors.New("row locked")

	_, st, err := svc.AcceptSummary(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, st.Status)
	require.Len(t, p.mappingRows, 1)
}

func TestAcceptDropsMappingsGoneStale(t *testing.T) {
	svc, _, p := newTestService(&fakeGenerator{replies: []string{turnDone, summaryReplyOK}}, fakeEncryptor{})
	driveToReview(t, svc)

	// The target was archived between review and accept.
	p.targets[0].Status = store.TargetStatusArchived

	entry, _, err := svc.AcceptSummary(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, entry.TargetIDs)
	require.Empty(t, p.mappingRows)
	require.Empty(t, p.increments)
}

func TestBusySessionRejectsConcurrentCalls(t *testing.T) {
	svc, states, _ := newTestService(&fakeGenerator{replies: []string{turnAsk}}, fakeEncryptor{})
	states.busy = true

	_, err := svc.SendMessage(context.Background(), 1, "hello")
	require.ErrorIs(t, err, ErrConversationBusy)

	_, err = svc.SkipToSummary(context.Background(), 1)
	require.ErrorIs(t, err, ErrConversationBusy)

	_, _, err = svc.AcceptSummary(context.Background(), 1)
	require.ErrorIs(t, err, ErrConversationBusy)

	_, err = svc.UndoLastExchange(context.Background(), 1)
	require.ErrorIs(t, err, ErrConversationBusy)

	_, err = svc.UpdateDraft(context.Background(), 1, &SummaryDraft{RedactedSummary: "x"})
	require.ErrorIs(t, err, ErrConversationBusy)
}

func TestLockStoreFailureFailsOpen(t *testing.T) {
	svc, states, _ := newTestService(&fakeGenerator{replies: []string{turnAsk}}, fakeEncryptor{})
	states.lockErr = errors.New("lock backend down")

	st, err := svc.SendMessage(context.Background(), 1, "Still works.")
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, st.Status)
}

func TestResetClearsEverything(t *testing.T) {
	svc, _, _ := newTestService(&fakeGenerator{replies: []string{turnAsk}}, fakeEncryptor{})

	_, err := svc.SendMessage(context.Background(), 1, "Some work.")
	require.NoError(t, err)

	require.NoError(t, svc.ResetConversation(context.Background(), 1))

	st, err := svc.GetState(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, StatusIdle, st.Status)
	require.Empty(t, st.Messages)
}

func TestDeleteWorkEntryCompensatesProgress(t *testing.T) {
	svc, _, p := newTestService(&fakeGenerator{replies: []string{turnDone, summaryReplyOK}}, fakeEncryptor{})
	driveToReview(t, svc)

	entry, _, err := svc.AcceptSummary(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 2.0, p.increments["t-1"])

	require.NoError(t, svc.DeleteWorkEntry(context.Background(), 1, entry.ID))
	require.Empty(t, p.entries)
	require.Equal(t, 0.0, p.increments["t-1"], "the applied increment is reversed")
}

func TestDeleteUnknownWorkEntry(t *testing.T) {
	svc, _, _ := newTestService(&fakeGenerator{}, fakeEncryptor{})

	err := svc.DeleteWorkEntry(context.Background(), 1, "missing")
	require.ErrorIs(t, err, ErrWorkEntryNotFound)
}
