package transport

import (
	"testing"
	"time"
)

func TestSilentFromStartDegrades(t *testing.T) {
	h := NewHealthMonitor(time.Minute)

	// No channel has ever beaten. Within the first window everything is
	// still considered healthy.
	h.Check(time.Now().Add(30 * time.Second))
	if !h.Healthy(ChannelFireOut) {
		t.Fatal("channel degraded inside the first window")
	}

	// Past the window with zero traffic, every channel must degrade,
	// including ones that never produced a single beat.
	h.Check(time.Now().Add(2 * time.Minute))
	for _, ch := range []Channel{
		ChannelMarketData, ChannelSignalIn, ChannelFireOut,
		ChannelConfirmIn, ChannelHeartbeat,
	} {
		if h.Healthy(ch) {
			t.Fatalf("channel %s still healthy with no beat ever recorded", ch)
		}
	}
}

func TestBeatRecoversDegradedChannel(t *testing.T) {
	h := NewHealthMonitor(time.Minute)
	h.Check(time.Now().Add(2 * time.Minute))
	if h.Healthy(ChannelFireOut) {
		t.Fatal("channel not degraded after silence")
	}

	h.Beat(ChannelFireOut)
	if !h.Healthy(ChannelFireOut) {
		t.Fatal("beat did not recover the channel")
	}
	if h.Healthy(ChannelConfirmIn) {
		t.Fatal("recovery leaked to a channel that did not beat")
	}
}

func TestDegradedEdgeFiresOnce(t *testing.T) {
	h := NewHealthMonitor(time.Minute)
	edges := map[Channel]int{}
	h.OnDegraded = func(ch Channel, _ time.Duration) { edges[ch]++ }

	late := time.Now().Add(5 * time.Minute)
	h.Check(late)
	h.Check(late.Add(time.Minute))

	if edges[ChannelFireOut] != 1 {
		t.Fatalf("degradation edge fired %d times, want 1", edges[ChannelFireOut])
	}
}
