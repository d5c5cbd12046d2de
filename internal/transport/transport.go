// Package transport provides the five logical channels connecting the core
// to its external collaborators: market data in, signal in, fire commands
// out, confirmations in, and heartbeats. Each channel is an independent link
// so failure of one cannot block another.
package transport

import (
	"context"
	"errors"

	"signal-core/internal/mission"
	"signal-core/pkg/cache"
)

// Channel names the five logical links.
type Channel string

const (
	ChannelMarketData Channel = "market-data-in"
	ChannelSignalIn   Channel = "signal-in"
	ChannelFireOut    Channel = "fire-out"
	ChannelConfirmIn  Channel = "confirm-in"
	ChannelHeartbeat  Channel = "heartbeat"
)

// ErrDeliveryUncertain is returned by a fire dispatch that was sent (or
// buffered) without any acknowledgment. It is neither success nor failure;
// only a confirmation or a dispatch timeout resolves it.
var ErrDeliveryUncertain = errors.New("transport: delivery uncertain")

// ErrChannelDegraded is returned when the target channel has missed its
// heartbeat window and must not accept new dispatches.
var ErrChannelDegraded = errors.New("transport: channel degraded")

// Transport is the socket abstraction the rest of the core talks through.
// Receivers run dedicated loops internally; the returned channels are
// buffered and lossy-tolerant where the channel semantics allow it.
type Transport interface {
	// Quotes streams market data. Best effort, high rate.
	Quotes() <-chan cache.Quote
	// Signals streams detector signals. Broadcast, non-durable.
	Signals() <-chan mission.Signal
	// Confirmations streams terminal acknowledgments. At least once.
	Confirmations() <-chan mission.Confirmation
	// SendFire dispatches an order without blocking. A nil error means
	// the frame left this process, nothing more. ErrDeliveryUncertain
	// means the remote may or may not have received it.
	SendFire(ctx context.Context, o mission.FireOrder) error
	// Healthy reports whether the channel is within its heartbeat window.
	Healthy(ch Channel) bool
	// Close tears down all links.
	Close() error
}
