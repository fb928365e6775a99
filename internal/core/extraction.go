package core

import "strings"

// MergeExtraction folds newly extracted facts into the accumulated set.
// Skills and achievements are unioned, keeping first-seen order; metrics are
// shallow-merged with later values overwriting earlier ones for the same key;
// category is only replaced by a non-empty value. Previously captured facts
// are never removed.
func MergeExtraction(dst *ExtractedData, src *ExtractedData) {
	if src == nil {
		return
	}

	dst.Skills = unionStrings(dst.Skills, src.Skills)
	dst.Achievements = unionStrings(dst.Achievements, src.Achievements)

	if len(src.Metrics) > 0 {
		if dst.Metrics == nil {
			dst.Metrics = make(map[string]any, len(src.Metrics))
		}
		for k, v := range src.Metrics {
			dst.Metrics[k] = v
		}
	}

	if strings.TrimSpace(src.Category) != "" {
		dst.Category = src.Category
	}
}

func unionStrings(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		seen[s] = struct{}{}
	}
	for _, s := range incoming {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		existing = append(existing, s)
	}
	return existing
}
