package automation

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Action is a normalized inbound button action.
type Action string

// Recognized button actions.
const (
	ActionConfirm    Action = "confirm"
	ActionReschedule Action = "reschedule"
	ActionTalkToJana Action = "talk_to_jana"
)

// foldTransformer strips diacritics so "reagendar" matches "Reagendar" as
// well as variants typed with accents.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func foldSelection(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// MapButtonSelection maps a free-text button selection (title or id) to a
// normalized action. Matching is case- and diacritic-insensitive substring
// matching; unrecognized selections return ok=false and are ignored, not
// treated as errors.
func MapButtonSelection(selection string) (Action, bool) {
	folded := foldSelection(selection)
	if folded == "" {
		return "", false
	}

	switch {
	case strings.Contains(folded, "confirm"):
		return ActionConfirm, true
	case strings.Contains(folded, "reagendar"):
		return ActionReschedule, true
	case strings.Contains(folded, "falar"), strings.Contains(folded, "jana"):
		return ActionTalkToJana, true
	}
	return "", false
}
