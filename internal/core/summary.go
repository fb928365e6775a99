package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"tallyr.io/worklog/internal/store"
)

// Summarization gets the extended timeout tier; the model is digesting the
// whole conversation, not producing one question.
const summaryTimeout = 2 * time.Minute

type summaryReply struct {
	RedactedSummary string          `json:"redactedSummary"`
	Skills          []string        `json:"skills"`
	Achievements    []string        `json:"achievements"`
	Metrics         map[string]any  `json:"metrics"`
	Category        string          `json:"category"`
	TargetMappings  []TargetMapping `json:"targetMappings"`
}

// Summarizer turns a finished conversation into a reviewed-before-save
// SummaryDraft.
type Summarizer struct {
	gen     Generator
	timeout time.Duration
}

func NewSummarizer(gen Generator) *Summarizer {
	return &Summarizer{gen: gen, timeout: summaryTimeout}
}

// Summarize sends the conversation plus merged extraction to the model and
// builds the draft. A transport failure is returned to the caller; a
// malformed reply is not — the raw text becomes the summary and the mapping
// list stays empty. Every string in the draft passes through the
// deterministic redaction filter regardless of what the model claims to have
// redacted.
func (s *Summarizer) Summarize(ctx context.Context, st *ConversationState, industry, employmentStatus string, targets []store.Target) (*SummaryDraft, error) {
	system := summarySystemInstruction(industry, employmentStatus, targets)
	prompt := summaryUserPrompt(st)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.gen.Generate(ctx, system, []PromptTurn{{Role: "user", Text: prompt}})
	if err != nil {
		return nil, fmt.Errorf("summary %w: %v", ErrGenerationFailed, err)
	}

	var draft *SummaryDraft
	var reply summaryReply
	if res := DecodeLoose(raw, &reply); !res.Parsed {
		log.Printf("Summary reply was not JSON (%s); falling back to the raw text", res.Reason)
		draft = &SummaryDraft{
			RedactedSummary: strings.TrimSpace(raw),
			Skills:          st.Extracted.Skills,
			Achievements:    st.Extracted.Achievements,
			Metrics:         st.Extracted.Metrics,
			Category:        st.Extracted.Category,
		}
	} else {
		var merged ExtractedData
		MergeExtraction(&merged, &st.Extracted)
		MergeExtraction(&merged, &ExtractedData{
			Skills:       reply.Skills,
			Achievements: reply.Achievements,
			Metrics:      reply.Metrics,
			Category:     reply.Category,
		})

		// In this branch raw is the JSON blob itself, so an empty summary
		// falls back to the extracted facts, never to raw text.
		summary := strings.TrimSpace(reply.RedactedSummary)
		if summary == "" {
			summary = extractionSummary(&merged)
		}

		draft = &SummaryDraft{
			RedactedSummary: summary,
			Skills:          merged.Skills,
			Achievements:    merged.Achievements,
			Metrics:         merged.Metrics,
			Category:        merged.Category,
			TargetMappings:  ValidateMappings(reply.TargetMappings, targets),
		}
	}

	ScrubDraft(draft)
	auditSummary(draft.RedactedSummary)
	return draft, nil
}

// extractionSummary builds a minimal reviewable summary out of the facts
// gathered so far.
func extractionSummary(d *ExtractedData) string {
	if len(d.Achievements) > 0 {
		return strings.Join(d.Achievements, ". ") + "."
	}
	if len(d.Skills) > 0 {
		return "Worked with " + strings.Join(d.Skills, ", ") + "."
	}
	return "Logged a work session."
}

// ScrubDraft runs the post-filter over every string field of a draft,
// including nested SMART breakdowns. Applied to model output and again to
// human edits.
func ScrubDraft(d *SummaryDraft) {
	d.RedactedSummary = Redact(d.RedactedSummary)
	d.Skills = ScrubStrings(d.Skills)
	d.Achievements = ScrubStrings(d.Achievements)
	if scrubbed, ok := ScrubValue(d.Metrics).(map[string]any); ok {
		d.Metrics = scrubbed
	}
	d.Category = Redact(d.Category)
	for i := range d.TargetMappings {
		m := &d.TargetMappings[i]
		m.ContributionNote = Redact(m.ContributionNote)
		if m.SMART != nil {
			m.SMART.Specific = Redact(m.SMART.Specific)
			m.SMART.Measurable = Redact(m.SMART.Measurable)
			m.SMART.Achievable = Redact(m.SMART.Achievable)
			m.SMART.Relevant = Redact(m.SMART.Relevant)
			m.SMART.TimeBound = Redact(m.SMART.TimeBound)
		}
	}
}
