package core

import (
	"log"
	"strings"

	"tallyr.io/worklog/internal/store"
)

// ValidateMappings filters model-proposed target mappings against the user's
// live targets. A mapping survives only when its target id resolves to a
// target owned by this user, the target has a non-empty name and is active,
// and any proposed contribution is strictly positive. Rejections are logged
// for observability but never surfaced to the user; the mapping feature is
// best-effort enrichment.
func ValidateMappings(proposed []TargetMapping, targets []store.Target) []TargetMapping {
	byID := make(map[string]store.Target, len(targets))
	for _, t := range targets {
		byID[t.ID] = t
	}

	var valid []TargetMapping
	for _, m := range proposed {
		target, ok := byID[m.TargetID]
		if !ok {
			log.Printf("Dropping target mapping: unknown target id %q (name=%q, value=%v)", m.TargetID, m.TargetName, contributionForLog(m))
			continue
		}
		if strings.TrimSpace(target.Name) == "" {
			log.Printf("Dropping target mapping: target %q has an empty name", m.TargetID)
			continue
		}
		if target.Status != store.TargetStatusActive {
			log.Printf("Dropping target mapping: target %q (%s) is %s, not active", m.TargetID, target.Name, target.Status)
			continue
		}
		if m.ContributionValue != nil && *m.ContributionValue <= 0 {
			log.Printf("Dropping target mapping: target %q (%s) has non-positive contribution %v", m.TargetID, target.Name, *m.ContributionValue)
			continue
		}

		// Carry the authoritative name, not whatever the model echoed.
		m.TargetName = target.Name
		valid = append(valid, m)
	}
	return valid
}

func contributionForLog(m TargetMapping) any {
	if m.ContributionValue == nil {
		return "<none>"
	}
	return *m.ContributionValue
}
