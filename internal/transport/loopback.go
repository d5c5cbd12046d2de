package transport

import (
	"context"
	"sync"

	"signal-core/internal/mission"
	"signal-core/pkg/cache"
)

// Loopback is an in-process Transport used for local runs and tests. Frames
// still round-trip through the envelope codec so boundary validation stays
// exercised even without a socket.
type Loopback struct {
	quotes  chan cache.Quote
	sigCh   chan mission.Signal
	confCh  chan mission.Confirmation
	fired   chan mission.FireOrder
	mu      sync.RWMutex
	healthy map[Channel]bool
}

// NewLoopback creates a loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{
		quotes:  make(chan cache.Quote, 4096),
		sigCh:   make(chan mission.Signal, 256),
		confCh:  make(chan mission.Confirmation, 1024),
		fired:   make(chan mission.FireOrder, 256),
		healthy: make(map[Channel]bool),
	}
}

// InjectQuote feeds a quote as if it arrived on market-data-in.
func (t *Loopback) InjectQuote(q cache.Quote) {
	select {
	case t.quotes <- q:
	default:
	}
}

// InjectSignal feeds a detector signal through the boundary codec.
func (t *Loopback) InjectSignal(s mission.Signal) error {
	frame, err := EncodeSignal(s)
	if err != nil {
		return err
	}
	decoded, err := DecodeSignal(frame)
	if err != nil {
		return err
	}
	t.sigCh <- decoded
	return nil
}

// InjectConfirmation feeds a terminal confirmation through the codec.
func (t *Loopback) InjectConfirmation(c mission.Confirmation) error {
	frame, err := EncodeConfirmation(c)
	if err != nil {
		return err
	}
	decoded, err := DecodeConfirmation(frame)
	if err != nil {
		return err
	}
	t.confCh <- decoded
	return nil
}

// Fired exposes dispatched orders to the test terminal.
func (t *Loopback) Fired() <-chan mission.FireOrder { return t.fired }

// SetHealthy overrides a channel's health (default healthy).
func (t *Loopback) SetHealthy(ch Channel, ok bool) {
	t.mu.Lock()
	t.healthy[ch] = ok
	t.mu.Unlock()
}

// Quotes implements Transport.
func (t *Loopback) Quotes() <-chan cache.Quote { return t.quotes }

// Signals implements Transport.
func (t *Loopback) Signals() <-chan mission.Signal { return t.sigCh }

// Confirmations implements Transport.
func (t *Loopback) Confirmations() <-chan mission.Confirmation { return t.confCh }

// SendFire implements Transport.
func (t *Loopback) SendFire(ctx context.Context, o mission.FireOrder) error {
	if !t.Healthy(ChannelFireOut) {
		return ErrChannelDegraded
	}
	select {
	case t.fired <- o:
	default:
	}
	return ErrDeliveryUncertain
}

// Healthy implements Transport.
func (t *Loopback) Healthy(ch Channel) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if v, ok := t.healthy[ch]; ok {
		return v
	}
	return true
}

// Close implements Transport.
func (t *Loopback) Close() error { return nil }
