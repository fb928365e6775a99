package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"tallyr.io/worklog/internal/store"
)

// progressIncrement is the additive update a work entry applies to a target.
// Apply and Compensate live on the same value so the reversal stays next to
// the mutation it reverses.
type progressIncrement struct {
	targetID string
	userID   int64
	delta    float64
}

func (c progressIncrement) Apply(p Persister) error {
	return p.IncrementTargetValue(c.targetID, c.userID, c.delta)
}

func (c progressIncrement) Compensate(p Persister) error {
	return p.IncrementTargetValue(c.targetID, c.userID, -c.delta)
}

// persistAccept runs the multi-step accept write. The store exposes no
// multi-table transaction here, so failure handling is explicit per step:
// encryption and the work-entry insert abort the accept; mapping rows and
// progress increments are logged and skipped individually.
func (s *ConversationService) persistAccept(ctx context.Context, userID int64, st *ConversationState) (*store.WorkEntry, error) {
	draft := st.Draft

	plaintext, err := json.Marshal(st.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize conversation: %w", err)
	}
	ciphertext, err := s.encryptor.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt conversation: %w", err)
	}

	// Re-validate against the live target list; the draft may have been
	// edited during review, and targets may have changed underneath it.
	targets, err := s.persister.GetTargetsByUserID(userID, true)
	if err != nil {
		log.Printf("Failed to load targets during accept for user %d; dropping all mappings: %v", userID, err)
		targets = nil
	}
	valid := ValidateMappings(draft.TargetMappings, targets)

	targetIDs := make([]string, 0, len(valid))
	for _, m := range valid {
		targetIDs = append(targetIDs, m.TargetID)
	}

	entry := &store.WorkEntry{
		UserID:            userID,
		RedactedSummary:   draft.RedactedSummary,
		EncryptedOriginal: ciphertext,
		Skills:            draft.Skills,
		Achievements:      draft.Achievements,
		Metrics:           draft.Metrics,
		Category:          draft.Category,
		TargetIDs:         targetIDs,
	}
	if err := s.persister.CreateWorkEntry(entry); err != nil {
		return nil, fmt.Errorf("failed to save work entry: %w", err)
	}

	for _, m := range valid {
		var smartJSON json.RawMessage
		if m.SMART != nil {
			if b, err := json.Marshal(m.SMART); err == nil {
				smartJSON = b
			}
		}
		row := &store.WorkEntryTarget{
			WorkEntryID:       entry.ID,
			TargetID:          m.TargetID,
			ContributionValue: m.ContributionValue,
			ContributionNote:  m.ContributionNote,
			SMARTData:         smartJSON,
		}
		if err := s.persister.CreateWorkEntryTarget(row); err != nil {
			log.Printf("Failed to save mapping row for entry %s target %s: %v", entry.ID, m.TargetID, err)
		}

		if m.ContributionValue != nil && *m.ContributionValue > 0 {
			cmd := progressIncrement{targetID: m.TargetID, userID: userID, delta: *m.ContributionValue}
			if err := cmd.Apply(s.persister); err != nil {
				log.Printf("Failed to apply progress increment of %v to target %s: %v", *m.ContributionValue, m.TargetID, err)
			}
		}
	}

	return entry, nil
}
