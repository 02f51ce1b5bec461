// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transmission

import (
	"testing"

	"github.com/nishisan-dev/n-quic/internal/frame"
)

// recordingProducer registra a ordem de invocação num log compartilhado.
type recordingProducer struct {
	name     string
	log      *[]string
	interest Interest
	write    frame.Frame
}

func (p *recordingProducer) OnTransmit(ctx WriteContext) {
	*p.log = append(*p.log, p.name)
	if p.write != nil {
		ctx.WriteFrame(p.write)
	}
}

func (p *recordingProducer) TransmissionInterest() Interest { return p.interest }

type recordingAck struct {
	recordingProducer
	complete *[]string
	sendAck  bool
}

func (a *recordingAck) OnTransmit(ctx WriteContext) bool {
	*a.log = append(*a.log, a.name)
	if a.sendAck {
		ctx.WriteFrame(&frame.Ack{Ranges: []frame.AckRange{{Smallest: 0, Largest: 0}}})
	}
	return a.sendAck
}

func (a *recordingAck) OnTransmitComplete(ctx WriteContext) {
	*a.complete = append(*a.complete, a.name+"_complete")
}

type recordingDatagram struct {
	recordingProducer
	prioritized *[]bool
}

func (d *recordingDatagram) OnTransmit(ctx WriteContext, prioritized bool) {
	*d.log = append(*d.log, d.name)
	*d.prioritized = append(*d.prioritized, prioritized)
}

type pingProducer struct {
	log *[]string
}

func (p *pingProducer) OnTransmit(ctx WriteContext) {
	*p.log = append(*p.log, "ping")
	if !ctx.AckElicitation() {
		ctx.WriteFrame(frame.Ping{})
	}
}

func (p *pingProducer) TransmissionInterest() Interest { return InterestNone }

func testProducers(log *[]string, prioritizedLog *[]bool) (Producers, *recordingAck) {
	ackP := &recordingAck{
		recordingProducer: recordingProducer{name: "ack", log: log},
		complete:          log,
		sendAck:           true,
	}
	return Producers{
		Ack:             ackP,
		HandshakeStatus: &recordingProducer{name: "handshake_done", log: log},
		DcManager:       &recordingProducer{name: "dc", log: log},
		CryptoStream:    &recordingProducer{name: "crypto", log: log},
		ActivePath:      &recordingProducer{name: "active_path", log: log},
		LocalIDRegistry: &recordingProducer{name: "cid_registry", log: log},
		PathManager:     &recordingProducer{name: "path_manager", log: log},
		DatagramManager: &recordingDatagram{recordingProducer: recordingProducer{name: "datagram", log: log}, prioritized: prioritizedLog},
		StreamManager:   &recordingProducer{name: "streams", log: log, write: &frame.Stream{StreamID: 0, Data: []byte("x")}},
		RecoveryManager: &recordingProducer{name: "recovery", log: log},
		Ping:            &pingProducer{log: log},
	}, ackP
}

func TestNormal_OrderedWriteProtocol(t *testing.T) {
	var log []string
	var prioritized []bool
	producers, _ := testProducers(&log, &prioritized)

	n := NewNormal(producers, false)
	ctx := NewPacketContext(1, 1200, ConstraintNone, ModeNormal)
	n.OnTransmit(ctx)

	want := []string{
		"ack", "handshake_done", "dc", "crypto", "active_path",
		"cid_registry", "path_manager", "datagram", "streams",
		"recovery", "ping", "ack_complete",
	}
	if len(log) != len(want) {
		t.Fatalf("invocation count: want %d, got %d: %v", len(want), len(log), log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("position %d: want %s, got %s (full: %v)", i, want[i], log[i], log)
		}
	}
	if prioritized[0] {
		t.Error("first packet: datagram must be invoked without priority")
	}
}

func TestNormal_PrioritizedDatagramsGoFirst(t *testing.T) {
	var log []string
	var prioritized []bool
	producers, _ := testProducers(&log, &prioritized)

	n := NewNormal(producers, true)
	ctx := NewPacketContext(1, 1200, ConstraintNone, ModeNormal)
	n.OnTransmit(ctx)

	if log[0] != "datagram" {
		t.Fatalf("prioritized packet must invoke datagrams first, got %v", log)
	}
	if !prioritized[0] {
		t.Error("datagram invocation should carry the priority flag")
	}
	// Sem segunda invocação do datagram no mesmo pacote.
	count := 0
	for _, e := range log {
		if e == "datagram" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("datagram invoked %d times in one packet", count)
	}
}

// Justiça da alternância: em N pacotes, datagramas são priorizados em
// exatamente ⌈N/2⌉ quando o estado inicial é true.
func TestNormal_DatagramAlternationFairness(t *testing.T) {
	var log []string
	var prioritized []bool
	producers, _ := testProducers(&log, &prioritized)

	n := NewNormal(producers, true)
	const packets = 7
	for pn := PacketNumber(1); pn <= packets; pn++ {
		ctx := NewPacketContext(pn, 1200, ConstraintNone, ModeNormal)
		n.OnTransmit(ctx)
	}

	count := 0
	for _, p := range prioritized {
		if p {
			count++
		}
	}
	if count != (packets+1)/2 {
		t.Errorf("prioritized in %d of %d packets, want %d", count, packets, (packets+1)/2)
	}
	// A alternância é estrita.
	for i := 1; i < len(prioritized); i++ {
		if prioritized[i] == prioritized[i-1] {
			t.Fatalf("prioritize_datagrams did not alternate at packet %d: %v", i, prioritized)
		}
	}
}

func TestNormal_CongestionLimitedOnlySendsAck(t *testing.T) {
	var log []string
	var prioritized []bool
	producers, _ := testProducers(&log, &prioritized)

	n := NewNormal(producers, true)
	ctx := NewPacketContext(1, 1200, ConstraintCongestionLimited, ModeNormal)
	n.OnTransmit(ctx)

	for _, e := range log {
		switch e {
		case "ack", "ack_complete":
		default:
			t.Fatalf("congestion-limited packet invoked %q", e)
		}
	}
}

func TestNormal_PingOnlyWhenNotAckEliciting(t *testing.T) {
	var log []string
	var prioritized []bool
	producers, _ := testProducers(&log, &prioritized)

	// O stream manager escreve um frame ack-eliciting: nada de PING.
	n := NewNormal(producers, false)
	ctx := NewPacketContext(1, 1200, ConstraintNone, ModeNormal)
	n.OnTransmit(ctx)
	for _, f := range ctx.Frames() {
		if _, ok := f.(frame.Ping); ok {
			t.Fatal("PING written into an ack-eliciting packet")
		}
	}

	// Sem o stream frame, o pacote fica só com ACK → PING entra.
	log = nil
	producers2, _ := testProducers(&log, &prioritized)
	producers2.StreamManager = &recordingProducer{name: "streams", log: &log}
	n2 := NewNormal(producers2, false)
	ctx2 := NewPacketContext(2, 1200, ConstraintNone, ModeNormal)
	n2.OnTransmit(ctx2)
	found := false
	for _, f := range ctx2.Frames() {
		if _, ok := f.(frame.Ping); ok {
			found = true
		}
	}
	if !found {
		t.Fatal("expected PING in otherwise non-eliciting packet")
	}
}

func TestNormal_InterestAggregation(t *testing.T) {
	var log []string
	var prioritized []bool
	producers, ackP := testProducers(&log, &prioritized)

	// Todos None → None.
	n := NewNormal(producers, false)
	if got := n.TransmissionInterest(); got != InterestNone {
		t.Fatalf("all-none aggregation: want none, got %v", got)
	}

	// Um produtor com LostData domina NewData.
	ackP.interest = InterestNewData
	producers.CryptoStream.(*recordingProducer).interest = InterestLostData
	n = NewNormal(producers, false)
	if got := n.TransmissionInterest(); got != InterestLostData {
		t.Fatalf("supremum: want lost_data, got %v", got)
	}
}

func TestNewPayload_NormalRequiresActivePath(t *testing.T) {
	var log []string
	var prioritized []bool
	producers, _ := testProducers(&log, &prioritized)

	if _, err := NewPayload(ModeNormal, false, producers, false); err == nil {
		t.Fatal("Normal payload on non-active path must fail")
	}
	if _, err := NewPayload(ModeLossRecoveryProbing, false, producers, false); err == nil {
		t.Fatal("LossRecoveryProbing payload on non-active path must fail")
	}
	if _, err := NewPayload(ModePathValidationOnly, false, producers, false); err != nil {
		t.Fatalf("PathValidationOnly allows non-active paths: %v", err)
	}
}

func TestMtuProbe_GatedOnCanTransmit(t *testing.T) {
	var log []string
	mtu := &recordingProducer{name: "mtu", log: &log, interest: InterestNone}
	probe := &MtuProbe{mtu: mtu}

	ctx := NewPacketContext(1, 1500, ConstraintCongestionLimited, ModeMtuProbing)
	probe.OnTransmit(ctx)
	if len(log) != 0 {
		t.Error("congestion-limited MTU probe must not invoke the controller")
	}
	if probe.TransmissionInterest() != InterestNone {
		t.Error("interest must be none when the controller has none")
	}
}

func TestPayload_SizeHintAtLeastOne(t *testing.T) {
	var log []string
	var prioritized []bool
	producers, _ := testProducers(&log, &prioritized)
	n := NewNormal(producers, false)
	if got := n.SizeHint(0); got != 1 {
		t.Errorf("size hint must be at least 1 byte, got %d", got)
	}
	if got := n.SizeHint(1200); got != 1200 {
		t.Errorf("size hint should pass larger minimums through, got %d", got)
	}
}

func TestInterest_Lattice(t *testing.T) {
	if InterestNone.Merge(InterestNewData) != InterestNewData {
		t.Error("none ∨ new_data = new_data")
	}
	if InterestForced.Merge(InterestLostData) != InterestForced {
		t.Error("forced ∨ lost_data = forced")
	}
	if InterestNone.CanSend() {
		t.Error("none must not justify a packet")
	}
	if !InterestNewData.CanSend() || !InterestForced.IsForced() {
		t.Error("lattice predicates broken")
	}
}
