package transport

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"signal-core/internal/mission"
	"signal-core/pkg/cache"
)

// wsLink owns one websocket connection: dial, read/write pumps, and
// automatic reconnection with capped exponential backoff. Callers only see
// the buffered channels; reconnects are transparent.
type wsLink struct {
	name   Channel
	url    string
	dialer *websocket.Dialer

	sendCh chan []byte
	recvCh chan []byte

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

const (
	linkSendBuffer = 256
	linkRecvBuffer = 1024
	backoffStart   = time.Second
	backoffMax     = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

func newWSLink(name Channel, url string) *wsLink {
	return &wsLink{
		name:   name,
		url:    url,
		dialer: websocket.DefaultDialer,
		sendCh: make(chan []byte, linkSendBuffer),
		recvCh: make(chan []byte, linkRecvBuffer),
	}
}

// run keeps the link alive until ctx is done.
func (l *wsLink) run(ctx context.Context) {
	backoff := backoffStart
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
		if err != nil {
			log.Printf("transport[%s]: dial %s failed: %v (retry in %v)", l.name, l.url, err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}
		backoff = backoffStart
		log.Printf("transport[%s]: connected to %s", l.name, l.url)

		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()

		lost := make(chan struct{})
		var once sync.Once
		drop := func() { once.Do(func() { close(lost); _ = conn.Close() }) }

		go l.readPump(conn, drop)
		l.writePump(ctx, conn, lost, drop)

		if ctx.Err() != nil {
			return
		}
	}
}

func (l *wsLink) readPump(conn *websocket.Conn, drop func()) {
	defer drop()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("transport[%s]: read error: %v", l.name, err)
			}
			return
		}
		select {
		case l.recvCh <- msg:
		default:
			// Receiver loops drain fast; if this fills, shed load
			// rather than stall the socket.
		}
	}
}

func (l *wsLink) writePump(ctx context.Context, conn *websocket.Conn, lost <-chan struct{}, drop func()) {
	defer drop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-lost:
			return
		case frame := <-l.sendCh:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("transport[%s]: write error: %v", l.name, err)
				return
			}
		}
	}
}

// send enqueues a frame without blocking. Full buffer or a dead link means
// the caller gets ErrDeliveryUncertain immediately.
func (l *wsLink) send(frame []byte) error {
	select {
	case l.sendCh <- frame:
		return ErrDeliveryUncertain // buffered, not acknowledged
	default:
		return ErrDeliveryUncertain
	}
}

// WSTransport implements Transport over five independent websocket links.
type WSTransport struct {
	nodeID  string
	monitor *HealthMonitor
	limiter *rate.Limiter

	market    *wsLink
	signals   *wsLink
	fire      *wsLink
	confirm   *wsLink
	heartbeat *wsLink

	quotes  chan cache.Quote
	sigCh   chan mission.Signal
	confCh  chan mission.Confirmation
	beatInt time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// WSConfig carries endpoint and pacing configuration.
type WSConfig struct {
	NodeID            string
	MarketDataURL     string
	SignalInURL       string
	FireOutURL        string
	ConfirmInURL      string
	HeartbeatURL      string
	HeartbeatWindow   time.Duration
	HeartbeatInterval time.Duration
	FireRateLimit     float64
	FireRateBurst     int
}

// NewWS builds the websocket transport and starts all link loops.
func NewWS(ctx context.Context, cfg WSConfig) *WSTransport {
	ctx, cancel := context.WithCancel(ctx)

	if cfg.FireRateLimit <= 0 {
		cfg.FireRateLimit = 10
	}
	if cfg.FireRateBurst <= 0 {
		cfg.FireRateBurst = 20
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}

	t := &WSTransport{
		nodeID:    NodeID(cfg.NodeID),
		monitor:   NewHealthMonitor(cfg.HeartbeatWindow),
		limiter:   rate.NewLimiter(rate.Limit(cfg.FireRateLimit), cfg.FireRateBurst),
		market:    newWSLink(ChannelMarketData, cfg.MarketDataURL),
		signals:   newWSLink(ChannelSignalIn, cfg.SignalInURL),
		fire:      newWSLink(ChannelFireOut, cfg.FireOutURL),
		confirm:   newWSLink(ChannelConfirmIn, cfg.ConfirmInURL),
		heartbeat: newWSLink(ChannelHeartbeat, cfg.HeartbeatURL),
		quotes:    make(chan cache.Quote, 4096),
		sigCh:     make(chan mission.Signal, 256),
		confCh:    make(chan mission.Confirmation, 1024),
		beatInt:   cfg.HeartbeatInterval,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	for _, l := range []*wsLink{t.market, t.signals, t.fire, t.confirm, t.heartbeat} {
		go l.run(ctx)
	}

	// Dedicated decode loops per ingest channel: a slow consumer on one
	// can never starve another.
	go t.decodeQuotes(ctx)
	go t.decodeSignals(ctx)
	go t.decodeConfirmations(ctx)
	go t.heartbeatLoop(ctx)
	t.monitor.Run(t.done)

	return t
}

// OnDegraded registers the degradation callback.
func (t *WSTransport) OnDegraded(cb func(ch Channel, silent time.Duration)) {
	t.monitor.OnDegraded = cb
}

func (t *WSTransport) decodeQuotes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-t.market.recvCh:
			q, err := DecodeQuote(raw)
			if err != nil {
				continue // lossy-tolerant channel, bad frames dropped
			}
			t.monitor.Beat(ChannelMarketData)
			select {
			case t.quotes <- q:
			default:
			}
		}
	}
}

func (t *WSTransport) decodeSignals(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-t.signals.recvCh:
			s, err := DecodeSignal(raw)
			if err != nil {
				log.Printf("transport: rejected signal frame: %v", err)
				continue
			}
			t.monitor.Beat(ChannelSignalIn)
			select {
			case t.sigCh <- s:
			default:
				log.Printf("transport: signal buffer full, dropped %s", s.ID)
			}
		}
	}
}

func (t *WSTransport) decodeConfirmations(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-t.confirm.recvCh:
			c, err := DecodeConfirmation(raw)
			if err != nil {
				log.Printf("transport: rejected confirmation frame: %v", err)
				continue
			}
			t.monitor.Beat(ChannelConfirmIn)
			// At-least-once channel: block rather than drop so the
			// producer's redelivery is never wasted.
			select {
			case t.confCh <- c:
			case <-ctx.Done():
				return
			}
		}
	}
}

// heartbeatLoop sends our beat and drains the remote's.
func (t *WSTransport) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(t.beatInt)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := EncodeHeartbeat(Heartbeat{NodeID: t.nodeID, Ts: time.Now()})
			if err == nil {
				_ = t.heartbeat.send(frame)
			}
		case raw := <-t.heartbeat.recvCh:
			if _, err := DecodeHeartbeat(raw); err == nil {
				t.monitor.Beat(ChannelHeartbeat)
			}
		}
	}
}

// Quotes implements Transport.
func (t *WSTransport) Quotes() <-chan cache.Quote { return t.quotes }

// Signals implements Transport.
func (t *WSTransport) Signals() <-chan mission.Signal { return t.sigCh }

// Confirmations implements Transport.
func (t *WSTransport) Confirmations() <-chan mission.Confirmation { return t.confCh }

// SendFire dispatches a fire order. Never blocks: pacing is enforced with
// Allow, not Wait, and a saturated link reports delivery-uncertain.
func (t *WSTransport) SendFire(ctx context.Context, o mission.FireOrder) error {
	if !t.Healthy(ChannelFireOut) {
		return ErrChannelDegraded
	}
	if !t.limiter.Allow() {
		return ErrDeliveryUncertain
	}
	frame, err := EncodeFire(o)
	if err != nil {
		return err
	}
	return t.fire.send(frame)
}

// Healthy implements Transport. Fire-out liveness is only observable via
// the remote terminal's heartbeats.
func (t *WSTransport) Healthy(ch Channel) bool {
	if ch == ChannelFireOut {
		return t.monitor.Healthy(ChannelFireOut) && t.monitor.Healthy(ChannelHeartbeat)
	}
	return t.monitor.Healthy(ch)
}

// Close implements Transport.
func (t *WSTransport) Close() error {
	t.cancel()
	close(t.done)
	return nil
}
