package mission

import "time"

// Direction of a trade.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Mode classifies a signal's intended horizon. The fast/patient split is
// tracked as a monitored distribution, never enforced as a gate.
type Mode string

const (
	ModeFast    Mode = "FAST"
	ModePatient Mode = "PATIENT"
)

// fastHorizon is the lifetime at or below which a signal counts as FAST.
const fastHorizon = 35 * time.Minute

// Signal is a candidate trade produced by the external detector. It is
// immutable once published; this core never writes to it.
type Signal struct {
	ID          string    `json:"signal_id"`
	Symbol      string    `json:"symbol"`
	Direction   Direction `json:"direction"`
	Entry       float64   `json:"entry"`
	Stop        float64   `json:"stop"`
	Target      float64   `json:"target"`
	Confidence  float64   `json:"confidence"` // 0-100
	Pattern     string    `json:"pattern"`
	GeneratedAt time.Time `json:"ts"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Lifetime returns the signal's nominal validity window.
func (s Signal) Lifetime() time.Duration {
	return s.ExpiresAt.Sub(s.GeneratedAt)
}

// Mode classifies the signal by horizon.
func (s Signal) Mode() Mode {
	if lt := s.Lifetime(); lt > 0 && lt <= fastHorizon {
		return ModeFast
	}
	return ModePatient
}

// RiskReward returns the signal's risk:reward ratio, 0 if degenerate.
func (s Signal) RiskReward() float64 {
	risk := s.Entry - s.Stop
	reward := s.Target - s.Entry
	if s.Direction == Sell {
		risk, reward = -risk, -reward
	}
	if risk <= 0 {
		return 0
	}
	return reward / risk
}

// State is a mission lifecycle state.
type State string

const (
	StatePending    State = "PENDING"
	StateValidated  State = "VALIDATED"
	StateFired      State = "FIRED"
	StateConfirmed  State = "CONFIRMED"
	StateClosedWin  State = "CLOSED_WIN"
	StateClosedLoss State = "CLOSED_LOSS"
	StateClosedBE   State = "CLOSED_BE"
	StateRejected   State = "REJECTED"
	StateExpired    State = "EXPIRED"
)

// Terminal reports whether the state ends the mission lifecycle.
func (s State) Terminal() bool {
	switch s {
	case StateClosedWin, StateClosedLoss, StateClosedBE, StateRejected, StateExpired:
		return true
	}
	return false
}

// validNext encodes the lifecycle graph. A transition absent here is refused.
var validNext = map[State][]State{
	StatePending:   {StateValidated, StateRejected, StateExpired},
	StateValidated: {StateFired, StateRejected, StateExpired},
	StateFired:     {StateConfirmed, StateRejected},
	StateConfirmed: {StateClosedWin, StateClosedLoss, StateClosedBE, StateExpired},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to State) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Mission is a per-user instantiation of a Signal carrying lifecycle state.
type Mission struct {
	ID         string    `json:"mission_id"`
	Signal     Signal    `json:"signal"`
	UserID     string    `json:"user_id"`
	Tier       string    `json:"tier"`
	State      State     `json:"state"`
	ReasonCode string    `json:"reason_code,omitempty"` // set on REJECTED/EXPIRED
	OrderID    string    `json:"order_id,omitempty"`    // set once FIRED
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	ClosedAt   time.Time `json:"closed_at,omitempty"`
}

// FireOrder is the concrete instruction sent to the execution terminal.
// Immutable after dispatch.
type FireOrder struct {
	OrderID         string    `json:"order_id"`
	MissionID       string    `json:"mission_id"`
	UserID          string    `json:"user_id"`
	Symbol          string    `json:"symbol"`
	Direction       Direction `json:"direction"`
	Volume          float64   `json:"volume"`
	Entry           float64   `json:"entry"`
	Stop            float64   `json:"stop"`
	Target          float64   `json:"target"`
	RiskPercentUsed float64   `json:"risk_percent_used"`
	DispatchedAt    time.Time `json:"dispatched_at"`
}

// ConfirmStatus is the remote terminal's verdict on a fire order.
type ConfirmStatus string

const (
	ConfirmFilled   ConfirmStatus = "FILLED"
	ConfirmRejected ConfirmStatus = "REJECTED"
)

// Confirmation is the terminal's acknowledgment for one FireOrder.
type Confirmation struct {
	OrderID    string        `json:"order_id"`
	Status     ConfirmStatus `json:"status"`
	Ticket     string        `json:"ticket"`
	FillPrice  float64       `json:"fill_price"`
	Balance    float64       `json:"balance"`
	ReceivedAt time.Time     `json:"ts"`
}

// Result is the terminal outcome of a filled order.
type Result string

const (
	ResultWin        Result = "WIN"
	ResultLoss       Result = "LOSS"
	ResultBreakeven  Result = "BREAKEVEN"
	ResultUnresolved Result = "UNRESOLVED"
)

// EntryQuality classifies how well-timed the entry turned out to be.
type EntryQuality string

const (
	EntryPerfect EntryQuality = "PERFECT" // < 5 pips adverse excursion
	EntryGood    EntryQuality = "GOOD"    // < 10 pips adverse
	EntryEarly   EntryQuality = "EARLY"   // swept beyond 10 pips yet recovered to a win
	EntryLate    EntryQuality = "LATE"    // efficiency below half of the best available entry
	EntryTrapped EntryQuality = "TRAPPED" // adverse with no recovery, ended in loss
)

// Outcome is the append-only post-mortem record for one filled order.
// Written exactly once, never mutated.
type Outcome struct {
	OrderID      string        `json:"order_id"`
	MissionID    string        `json:"mission_id"`
	UserID       string        `json:"user_id"`
	Symbol       string        `json:"symbol"`
	Pattern      string        `json:"pattern"`
	Mode         Mode          `json:"mode"`
	Result       Result        `json:"result"`
	ExitPrice    float64       `json:"exit_price"`
	Pips         float64       `json:"pips"`
	Duration     time.Duration `json:"duration_ns"`
	MaxAdverse   float64       `json:"max_adverse_pips"`
	MaxFavorable float64       `json:"max_favorable_pips"`
	EntryQuality EntryQuality  `json:"entry_quality,omitempty"`
	ResolvedAt   time.Time     `json:"resolved_at"`
}
