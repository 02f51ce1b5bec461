// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sync

import (
	"testing"
	"time"

	"github.com/nishisan-dev/n-quic/internal/frame"
	"github.com/nishisan-dev/n-quic/internal/transmission"
	"github.com/nishisan-dev/n-quic/internal/varint"
)

// maxStreamsWriter serializa o valor como MAX_STREAMS bidi, como o
// controller faz para streams remotos.
type maxStreamsWriter struct{}

func (maxStreamsWriter) Write(v varint.VarInt, ctx transmission.WriteContext) (transmission.PacketNumber, bool) {
	return ctx.WriteFrame(&frame.MaxStreams{Bidi: true, Limit: v})
}

// blockedWriter serializa o valor como STREAMS_BLOCKED uni.
type blockedWriter struct{}

func (blockedWriter) Write(v varint.VarInt, ctx transmission.WriteContext) (transmission.PacketNumber, bool) {
	return ctx.WriteFrame(&frame.StreamsBlocked{Bidi: false, Limit: v})
}

func newCtx(pn transmission.PacketNumber, capacity int) *transmission.PacketContext {
	return transmission.NewPacketContext(pn, capacity, transmission.ConstraintNone, transmission.ModeNormal)
}

func contains(pns ...transmission.PacketNumber) func(transmission.PacketNumber) bool {
	return func(pn transmission.PacketNumber) bool {
		for _, p := range pns {
			if p == pn {
				return true
			}
		}
		return false
	}
}

func TestPeriodicSync_RequestTransmitAck(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewPeriodicSync[varint.VarInt](blockedWriter{}, 100*time.Millisecond)

	if s.TransmissionInterest() != transmission.InterestNone {
		t.Fatal("idle sync should have no interest")
	}

	s.Request(now, 3)
	if s.TransmissionInterest() != transmission.InterestNewData {
		t.Fatal("requested sync should have new_data interest")
	}

	ctx := newCtx(1, 1200)
	s.OnTransmit(ctx)
	if !s.IsInFlight() {
		t.Fatal("expected in-flight after transmit")
	}
	if len(ctx.Frames()) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(ctx.Frames()))
	}
	sb := ctx.Frames()[0].(*frame.StreamsBlocked)
	if sb.Limit != 3 {
		t.Errorf("blocked limit: want 3, got %d", sb.Limit)
	}

	// Sem ACK, não retransmite em nova oportunidade.
	ctx2 := newCtx(2, 1200)
	s.OnTransmit(ctx2)
	if len(ctx2.Frames()) != 0 {
		t.Error("in-flight sync must not retransmit before loss or timeout")
	}

	s.OnPacketAck(contains(1))
	if !s.IsIdle() {
		t.Error("acked sync should be idle")
	}
}

func TestPeriodicSync_TimeoutRetransmits(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewPeriodicSync[varint.VarInt](blockedWriter{}, 100*time.Millisecond)
	s.Request(now, 5)

	ctx := newCtx(1, 1200)
	s.OnTransmit(ctx)

	s.OnTimeout(now.Add(50 * time.Millisecond))
	if s.TransmissionInterest() != transmission.InterestNone {
		t.Error("timer not elapsed: no retransmission yet")
	}

	s.OnTimeout(now.Add(150 * time.Millisecond))
	if s.TransmissionInterest() != transmission.InterestNewData {
		t.Error("elapsed timer should rearm the request")
	}
}

func TestPeriodicSync_LossRetransmits(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewPeriodicSync[varint.VarInt](blockedWriter{}, 100*time.Millisecond)
	s.Request(now, 5)
	s.OnTransmit(newCtx(9, 1200))

	s.OnPacketLoss(contains(9), now)
	if s.TransmissionInterest() != transmission.InterestNewData {
		t.Error("lost frame should be retransmittable")
	}
}

func TestPeriodicSync_CancelStopsRetransmit(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewPeriodicSync[varint.VarInt](blockedWriter{}, 100*time.Millisecond)
	s.Request(now, 3)
	s.OnTransmit(newCtx(1, 1200))

	s.Cancel()
	if !s.IsIdle() {
		t.Fatal("cancelled sync should be idle")
	}
	s.OnTimeout(now.Add(time.Second))
	ctx := newCtx(2, 1200)
	s.OnTransmit(ctx)
	if len(ctx.Frames()) != 0 {
		t.Error("cancelled sync must not transmit")
	}
}

func TestPeriodicSync_DeliveredIgnoresStaleRequests(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewPeriodicSync[varint.VarInt](blockedWriter{}, 100*time.Millisecond)
	s.Request(now, 3)
	s.OnTransmit(newCtx(1, 1200))
	s.OnPacketAck(contains(1))

	s.Request(now, 3)
	if s.TransmissionInterest() != transmission.InterestNone {
		t.Error("request at delivered value must be ignored")
	}
	s.Request(now, 4)
	if s.TransmissionInterest() != transmission.InterestNewData {
		t.Error("request at greater value must rearm")
	}
}

func TestIncrementalValueSync_Lifecycle(t *testing.T) {
	s := NewIncrementalValueSync[varint.VarInt](maxStreamsWriter{}, 10)

	if s.TransmissionInterest() != transmission.InterestNone {
		t.Fatal("initial value is already known to the peer")
	}

	s.Update(11)
	if s.TransmissionInterest() != transmission.InterestNewData {
		t.Fatal("raised value should be dirty")
	}

	ctx := newCtx(1, 1200)
	s.OnTransmit(ctx)
	ms := ctx.Frames()[0].(*frame.MaxStreams)
	if ms.Limit != 11 {
		t.Fatalf("transmitted limit: want 11, got %d", ms.Limit)
	}
	if s.TransmissionInterest() != transmission.InterestNone {
		t.Error("value in flight is not dirty")
	}

	s.OnPacketAck(contains(1))
	if s.LastAcked() != 11 {
		t.Errorf("last acked: want 11, got %d", s.LastAcked())
	}
}

func TestIncrementalValueSync_LossRetransmitsCurrentValue(t *testing.T) {
	// Cenário: perda do primeiro MAX_STREAMS causa retransmissão do valor
	// corrente, não do valor obsoleto.
	s := NewIncrementalValueSync[varint.VarInt](maxStreamsWriter{}, 10)

	s.Update(11)
	s.OnTransmit(newCtx(1, 1200))

	// Antes do ACK, o valor avança.
	s.Update(15)
	s.OnPacketLoss(contains(1))

	ctx := newCtx(2, 1200)
	s.OnTransmit(ctx)
	ms := ctx.Frames()[0].(*frame.MaxStreams)
	if ms.Limit != 15 {
		t.Errorf("retransmission must carry current value 15, got %d", ms.Limit)
	}
}

func TestIncrementalValueSync_StaleAckDoesNotLowerValue(t *testing.T) {
	s := NewIncrementalValueSync[varint.VarInt](maxStreamsWriter{}, 10)
	s.Update(11)
	s.OnTransmit(newCtx(1, 1200))
	s.Update(12)
	s.OnTransmit(newCtx(2, 1200))

	// ACK do valor mais novo primeiro; o antigo não rebaixa lastAcked.
	s.OnPacketAck(contains(2))
	if s.LastAcked() != 12 {
		t.Fatalf("last acked: want 12, got %d", s.LastAcked())
	}
	s.OnPacketAck(contains(1))
	if s.LastAcked() != 12 {
		t.Errorf("stale ack lowered last acked to %d", s.LastAcked())
	}
	if s.TransmissionInterest() != transmission.InterestNone {
		t.Error("fully acked sync should be clean")
	}
}

func TestIncrementalValueSync_MonotoneUpdate(t *testing.T) {
	s := NewIncrementalValueSync[varint.VarInt](maxStreamsWriter{}, 10)
	s.Update(20)
	s.Update(15)
	if s.Latest() != 20 {
		t.Errorf("latest must be monotone: want 20, got %d", s.Latest())
	}
}

func TestFlag_WritesPingWhenPacketNotEliciting(t *testing.T) {
	f := NewFlag()
	f.Set()
	if f.TransmissionInterest() != transmission.InterestForced {
		t.Fatal("set flag should force a packet")
	}

	ctx := newCtx(1, 1200)
	f.OnTransmit(ctx)
	if len(ctx.Frames()) != 1 {
		t.Fatalf("expected PING frame, got %d frames", len(ctx.Frames()))
	}
	if _, ok := ctx.Frames()[0].(frame.Ping); !ok {
		t.Errorf("expected PING, got %T", ctx.Frames()[0])
	}
	if f.IsSet() {
		t.Error("flag should clear after transmit")
	}
}

func TestFlag_PiggybacksOnElicitingPacket(t *testing.T) {
	f := NewFlag()
	f.Set()

	ctx := newCtx(1, 1200)
	ctx.WriteFrame(&frame.Stream{StreamID: 0, Data: []byte("x")})
	f.OnTransmit(ctx)

	for _, fr := range ctx.Frames() {
		if _, ok := fr.(frame.Ping); ok {
			t.Fatal("PING written into an already ack-eliciting packet")
		}
	}
	if f.IsSet() {
		t.Error("flag should clear when piggybacking")
	}
}

func TestFlag_LossRearms(t *testing.T) {
	f := NewFlag()
	f.Set()
	ctx := newCtx(4, 1200)
	f.OnTransmit(ctx)

	f.OnPacketLoss(contains(4))
	if !f.IsSet() {
		t.Error("lost PING should rearm the flag")
	}
}
