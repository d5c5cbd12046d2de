package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"signal-core/internal/mission"
	"signal-core/pkg/cache"
)

// Envelope is the tagged union carried on every wire frame. Payloads are
// validated here, at the boundary, before anything enters business logic.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	typeQuote     = "quote"
	typeSignal    = "signal"
	typeFire      = "fire"
	typeConfirm   = "confirm"
	typeHeartbeat = "heartbeat"
)

// Heartbeat is the periodic liveness payload.
type Heartbeat struct {
	NodeID string    `json:"node_id"`
	Ts     time.Time `json:"ts"`
}

func encode(typ string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal %s: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Data: data})
}

// EncodeFire frames a fire order for the wire.
func EncodeFire(o mission.FireOrder) ([]byte, error) { return encode(typeFire, o) }

// EncodeHeartbeat frames a heartbeat.
func EncodeHeartbeat(hb Heartbeat) ([]byte, error) { return encode(typeHeartbeat, hb) }

// EncodeQuote frames a quote (used by the loopback feed and tests).
func EncodeQuote(q cache.Quote) ([]byte, error) { return encode(typeQuote, q) }

// EncodeSignal frames a signal (used by tests).
func EncodeSignal(s mission.Signal) ([]byte, error) { return encode(typeSignal, s) }

// EncodeConfirmation frames a confirmation (used by tests).
func EncodeConfirmation(c mission.Confirmation) ([]byte, error) { return encode(typeConfirm, c) }

// DecodeQuote validates a market-data frame.
func DecodeQuote(raw []byte) (cache.Quote, error) {
	var q cache.Quote
	if err := decodeAs(raw, typeQuote, &q); err != nil {
		return q, err
	}
	if q.Symbol == "" || q.Bid <= 0 || q.Ask <= 0 {
		return q, fmt.Errorf("transport: invalid quote frame: %+v", q)
	}
	return q, nil
}

// DecodeSignal validates a signal frame.
func DecodeSignal(raw []byte) (mission.Signal, error) {
	var s mission.Signal
	if err := decodeAs(raw, typeSignal, &s); err != nil {
		return s, err
	}
	switch {
	case s.ID == "" || s.Symbol == "":
		return s, fmt.Errorf("transport: signal frame missing id/symbol")
	case s.Direction != mission.Buy && s.Direction != mission.Sell:
		return s, fmt.Errorf("transport: signal %s has bad direction %q", s.ID, s.Direction)
	case s.Entry <= 0 || s.Stop <= 0 || s.Target <= 0:
		return s, fmt.Errorf("transport: signal %s has non-positive levels", s.ID)
	case s.Confidence < 0 || s.Confidence > 100:
		return s, fmt.Errorf("transport: signal %s confidence %.1f out of range", s.ID, s.Confidence)
	}
	return s, nil
}

// DecodeConfirmation validates a confirm frame.
func DecodeConfirmation(raw []byte) (mission.Confirmation, error) {
	var c mission.Confirmation
	if err := decodeAs(raw, typeConfirm, &c); err != nil {
		return c, err
	}
	if c.OrderID == "" {
		return c, fmt.Errorf("transport: confirmation frame missing order_id")
	}
	if c.Status != mission.ConfirmFilled && c.Status != mission.ConfirmRejected {
		return c, fmt.Errorf("transport: confirmation %s has bad status %q", c.OrderID, c.Status)
	}
	if c.ReceivedAt.IsZero() {
		c.ReceivedAt = time.Now()
	}
	return c, nil
}

// DecodeHeartbeat validates a heartbeat frame.
func DecodeHeartbeat(raw []byte) (Heartbeat, error) {
	var hb Heartbeat
	if err := decodeAs(raw, typeHeartbeat, &hb); err != nil {
		return hb, err
	}
	if hb.NodeID == "" {
		return hb, fmt.Errorf("transport: heartbeat frame missing node_id")
	}
	return hb, nil
}

func decodeAs(raw []byte, want string, out any) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("transport: bad envelope: %w", err)
	}
	if env.Type != want {
		return fmt.Errorf("transport: expected %s frame, got %q", want, env.Type)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("transport: bad %s payload: %w", want, err)
	}
	return nil
}
