package counter

import (
	"time"

	"github.com/korzewarrior/discord-countingbot/internal/domain"
)

// Apply folds one scan result into the counter state and names the action the
// dispatcher must take. A reset is an authoritative external signal that
// invalidates any pending plan, so it clears the state unconditionally: the
// engine must never post a stale next value on top of a just-invalidated
// sequence.
func Apply(st *domain.CounterState, res domain.ScanResult, autoRestart bool, now time.Time) domain.Action {
	switch res.Outcome {
	case domain.ScanResetDetected:
		st.CurrentCount = 0
		st.LastPosterIndex = -1
		st.LastPosterID = ""
		if !res.ResetAt.IsZero() {
			st.LastResetAt = res.ResetAt
		} else {
			st.LastResetAt = now
		}
		if autoRestart {
			return domain.ActionAutoRestart
		}
		return domain.ActionStopReset

	case domain.ScanCountFound:
		st.CurrentCount = res.Count
		st.LastPosterIndex = res.PosterIndex
		st.LastPosterID = res.PosterID
		return domain.ActionContinue

	case domain.ScanNoChange:
		// With a zero count this is the expected quiet period right after a
		// reset; the next post is "1". Otherwise something transient hid the
		// history and we retry.
		if st.CurrentCount == 0 {
			return domain.ActionContinue
		}
		return domain.ActionWaitRetry

	default: // domain.ScanFailed
		return domain.ActionWaitRetry
	}
}
