package compactor

import "github.com/sealteam/sealteam/internal/models"

// Compact applies the same summarization/trim rules Assemble uses to
// the in-memory iteration-state list, producing a new list rather than
// mutating states. The life loop calls this on hard pressure before
// the next API call, and optionally on soft pressure once the current
// step has finished.
func Compact(states []models.IterationState, currentIter int) []models.IterationState {
	out := make([]models.IterationState, 0, len(states))
	for _, s := range states {
		switch {
		case s.Iteration <= currentIter-FullDetailWindow:
			out = append(out, summarizedState(s))
		case s.Iteration <= currentIter-SemiOldCutoff:
			out = append(out, trimmedState(s))
		default:
			out = append(out, s)
		}
	}
	return out
}

// summarizedState collapses a step's output to its summary line for
// iterations outside the full-detail window, keeping the
// iteration/step/timestamp identity intact for LastCompletedStep-style
// bookkeeping callers.
func summarizedState(s models.IterationState) models.IterationState {
	summarized := s
	pair := summaryPair(s.Iteration, []models.IterationState{s})
	summarized.Output = pair[0].Content
	summarized.Input = nil
	return summarized
}

func trimmedState(s models.IterationState) models.IterationState {
	trimmed := s
	trimmed.Output = TrimValue(s.Output)
	return trimmed
}
