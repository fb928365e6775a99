package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"tallyr.io/worklog/internal/store"
)

// The redaction instructions are the first of the two defense layers; the
// deterministic post-filter in redact.go is the second and does not trust
// the model to have complied.
const redactionInstruction = "Redact before writing anything down: monetary amounts tied to salaries or deals, " +
	"email addresses, phone numbers, client or company names used in a confidential context, and internal project codenames. " +
	"Preserve: public brand and product names, the user's own employer, job titles, course codes, and open-source project names."

const fallbackQuestion = "Could you tell me a bit more about the work you completed today?"

func turnSystemInstruction(industry string, exchangeCount int, targets []store.Target) string {
	var b strings.Builder
	b.WriteString("You are a work-logging assistant. The user narrates work they completed today and you draw it out with short follow-up questions.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Ask about today's completed work only, never about plans or future work.\n")
	b.WriteString("- Ask one question at a time, at most 25 words.\n")
	b.WriteString("- Never mention the user's targets unless the user raised them first.\n")
	fmt.Fprintf(&b, "- The conversation is capped at %d exchanges; this is exchange %d. Set shouldSummarize to true once you have enough detail.\n", MaxExchanges, exchangeCount+1)
	b.WriteString("- " + redactionInstruction + "\n\n")

	if industry != "" {
		fmt.Fprintf(&b, "The user works in the %s industry; use its terminology when asking questions.\n\n", industry)
	}

	b.WriteString(formatTargets(targets))

	b.WriteString("\nRespond with only a JSON object, no surrounding prose:\n")
	b.WriteString(`{"message": "<your next question>", "extractedData": {"skills": [], "achievements": [], "metrics": {}, "category": ""}, "shouldSummarize": false}`)
	return b.String()
}

func summarySystemInstruction(industry, employmentStatus string, targets []store.Target) string {
	var b strings.Builder
	b.WriteString("You turn a finished work-logging conversation into a structured work entry.\n\n")
	b.WriteString("Produce:\n")
	b.WriteString("- redactedSummary: a factual 2-3 sentence summary of the work, written with the redaction rules already applied.\n")
	b.WriteString("- skills, achievements, metrics: everything the conversation supports, nothing it does not.\n")
	b.WriteString("- category: exactly one of development, design, sales, support, operations, research, management, learning, other.\n")
	b.WriteString("- targetMappings: best-effort proposals linking the work to the user's targets listed below. " +
		"Each needs targetId; add contributionValue (a positive number in the target's unit) and contributionNote (one sentence of rationale) when the conversation justifies them, " +
		"and a smart breakdown (specific/measurable/achievable/relevant/timeBound) when it is clear. Propose nothing rather than guess.\n\n")
	b.WriteString(redactionInstruction + "\n\n")

	if industry != "" {
		fmt.Fprintf(&b, "Industry: %s.\n", industry)
	}
	if employmentStatus != "" {
		fmt.Fprintf(&b, "Employment status: %s.\n", employmentStatus)
	}
	b.WriteString(formatTargets(targets))

	b.WriteString("\nRespond with only a JSON object:\n")
	b.WriteString(`{"redactedSummary": "", "skills": [], "achievements": [], "metrics": {}, "category": "", "targetMappings": [{"targetId": "", "contributionValue": 0, "contributionNote": "", "smart": {"specific": "", "measurable": "", "achievable": "", "relevant": "", "timeBound": ""}}]}`)
	return b.String()
}

func formatTargets(targets []store.Target) string {
	if len(targets) == 0 {
		return "The user has no active targets.\n"
	}
	var b strings.Builder
	b.WriteString("The user's active targets:\n")
	for _, t := range targets {
		fmt.Fprintf(&b, "- id=%s name=%q type=%s current=%.2f", t.ID, t.Name, t.Type, t.CurrentValue)
		if t.TargetValue != nil {
			fmt.Fprintf(&b, " target=%.2f", *t.TargetValue)
		}
		if t.Unit != "" {
			fmt.Fprintf(&b, " unit=%s", t.Unit)
		}
		if t.Deadline != nil {
			fmt.Fprintf(&b, " deadline=%s", t.Deadline.Format("2006-01-02"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func summaryUserPrompt(st *ConversationState) string {
	var b strings.Builder
	b.WriteString("The user's answers from today's logging conversation, in order:\n\n")
	for _, m := range st.Messages {
		if m.Role != RoleUser {
			continue
		}
		b.WriteString(m.Text)
		b.WriteString("\n")
	}

	if facts, err := json.Marshal(st.Extracted); err == nil {
		b.WriteString("\nFacts already extracted during the conversation:\n")
		b.Write(facts)
		b.WriteString("\n")
	}

	b.WriteString("\nProduce the work entry JSON now.")
	return b.String()
}
