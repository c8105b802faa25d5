// Package ranking turns raw quiz results into the extraction turn order.
package ranking

import (
	"sort"
	"time"

	"github.com/giftswap/exchange-backend/internal/engine"
)

// Result is one participant's quiz outcome as delivered by the external
// scoring collaborator. A participant with no entry never submitted.
type Result struct {
	Correct        bool      `json:"correct"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// Order returns the participants sorted for extraction: everyone who answered
// correctly first, then wrong answers, then non-submitters; within a group,
// faster answers first, submission time breaking ties. Non-submitters keep
// their registration order (the order of the input slice). The sort is stable,
// so identical inputs always produce identical output.
func Order(participants []engine.Participant, results map[string]Result) []engine.Participant {
	ordered := make([]engine.Participant, len(participants))
	copy(ordered, participants)

	sort.SliceStable(ordered, func(i, j int) bool {
		gi, gj := group(results, ordered[i].ID), group(results, ordered[j].ID)
		if gi != gj {
			return gi < gj
		}
		if gi == groupAbsent {
			return false // keep registration order
		}
		ri, rj := results[ordered[i].ID], results[ordered[j].ID]
		if ri.ElapsedSeconds != rj.ElapsedSeconds {
			return ri.ElapsedSeconds < rj.ElapsedSeconds
		}
		return ri.SubmittedAt.Before(rj.SubmittedAt)
	})
	return ordered
}

const (
	groupCorrect = iota
	groupIncorrect
	groupAbsent
)

func group(results map[string]Result, id string) int {
	r, ok := results[id]
	switch {
	case !ok:
		return groupAbsent
	case r.Correct:
		return groupCorrect
	default:
		return groupIncorrect
	}
}
