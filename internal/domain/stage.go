package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NoStageLabel buckets follow-ups recorded without a due-process stage.
const NoStageLabel = "Sin etapa"

// AutoStartMarker flags system-generated "process started" follow-ups.
const AutoStartMarker = "inicio automatico"

// NormalizeStageLabel trims a stage label and collapses internal whitespace.
func NormalizeStageLabel(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// NormalizeStages normalizes a configured stage sequence, dropping blanks and repeats.
func NormalizeStages(stages []string) []string {
	out := make([]string, 0, len(stages))
	seen := map[string]struct{}{}
	for _, raw := range stages {
		stage := NormalizeStageLabel(raw)
		if stage == "" {
			continue
		}
		if _, ok := seen[stage]; ok {
			continue
		}
		seen[stage] = struct{}{}
		out = append(out, stage)
	}
	return out
}

// FoldText lowercases text and strips combining accents ("Automático" -> "automatico").
func FoldText(in string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, in)
	if err != nil {
		out = in
	}
	return strings.ToLower(out)
}
