package core

import (
	"encoding/json"
	"reflect"
	"strings"
)

// ParseResult tags the outcome of decoding a model reply: either a JSON
// object was located and parsed, or the caller takes its fallback path.
// The fallback is a first-class branch, not an exception handler.
type ParseResult struct {
	Parsed bool
	Reason string
}

// DecodeLoose tries to pull a JSON object out of free-form model text and
// unmarshal it into v (a non-nil pointer). Candidates are tried in priority
// order: a fenced code block, the outermost {...} span, then the whole reply.
// v is only written when a candidate parses.
func DecodeLoose(raw string, v any) ParseResult {
	for _, candidate := range jsonCandidates(raw) {
		fresh := reflect.New(reflect.TypeOf(v).Elem())
		if err := json.Unmarshal([]byte(candidate), fresh.Interface()); err != nil {
			continue
		}
		reflect.ValueOf(v).Elem().Set(fresh.Elem())
		return ParseResult{Parsed: true}
	}
	return ParseResult{Reason: "no parsable JSON object in model reply"}
}

func jsonCandidates(raw string) []string {
	var candidates []string
	if block, ok := fencedBlock(raw); ok {
		candidates = append(candidates, block)
	}
	if span, ok := braceSpan(raw); ok {
		candidates = append(candidates, span)
	}
	return append(candidates, strings.TrimSpace(raw))
}

// fencedBlock returns the contents of the first ``` fence, tolerating an
// optional json language tag.
func fencedBlock(raw string) (string, bool) {
	start := strings.Index(raw, "```")
	if start == -1 {
		return "", false
	}
	rest := raw[start+3:]
	rest = strings.TrimPrefix(rest, "json")
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func braceSpan(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}
