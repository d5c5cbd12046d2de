package events

// Event enumerates high-level topics inside the signal core.
type Event string

const (
	EventQuote             Event = "market.quote"
	EventSignal            Event = "signal.published"
	EventFireDispatched    Event = "fire.dispatched"
	EventConfirmation      Event = "confirm.received"
	EventHeartbeat         Event = "heartbeat"
	EventMissionTransition Event = "mission.transition"
	EventOutcome           Event = "outcome.recorded"
	EventRiskAlert         Event = "risk.alert"
	EventChannelDegraded   Event = "transport.degraded"
)
