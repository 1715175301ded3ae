package poller

import "strings"

// Outcome is the normalized meaning of a provider status string.
type Outcome int

const (
	// OutcomeInProgress covers every status not explicitly listed as
	// terminal. Unknown statuses are never guessed terminal; they ride
	// the poll budget instead.
	OutcomeInProgress Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

// The provider reports several distinct strings for the same terminal
// meaning. New statuses must be added here explicitly.
var successStatuses = map[string]struct{}{
	"COMPLETED":                          {},
	"COMPLETE":                           {},
	"SUCCEEDED":                          {},
	"MEDIA_GENERATION_STATUS_COMPLETE":   {},
	"MEDIA_GENERATION_STATUS_COMPLETED":  {},
	"MEDIA_GENERATION_STATUS_SUCCESSFUL": {},
}

var failureStatuses = map[string]struct{}{
	"FAILED":                         {},
	"ERROR":                          {},
	"CANCELLED":                      {},
	"MEDIA_GENERATION_STATUS_FAILED": {},
	"MEDIA_GENERATION_STATUS_ERROR":  {},
}

// Normalize maps a raw provider status onto exactly one of the three
// outcomes. Matching is case-insensitive.
func Normalize(raw string) Outcome {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if _, ok := successStatuses[s]; ok {
		return OutcomeSuccess
	}
	if _, ok := failureStatuses[s]; ok {
		return OutcomeFailure
	}
	return OutcomeInProgress
}
