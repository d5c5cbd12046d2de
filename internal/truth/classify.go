package truth

import "signal-core/internal/mission"

// Excursion knees in pips for entry quality grading.
const (
	perfectKneePips = 5.0
	earlyKneePips   = 10.0
)

// classify grades how well-timed the entry was, from the excursion the
// position suffered before resolving. The grade feeds pattern review, not
// any live decision.
func classify(w *watch, result mission.Result) mission.EntryQuality {
	if result == mission.ResultUnresolved {
		return ""
	}
	switch {
	case w.mae < perfectKneePips:
		return mission.EntryPerfect
	case w.mae < earlyKneePips:
		return mission.EntryGood
	case result == mission.ResultWin && w.recovered:
		// Swept deep against the position, then came back all the way.
		return mission.EntryEarly
	case result == mission.ResultLoss && w.mfe < w.mae/2:
		// Never saw meaningful favorable movement before the stop.
		return mission.EntryTrapped
	default:
		return mission.EntryLate
	}
}
