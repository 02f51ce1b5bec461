// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ack

import (
	"time"

	"github.com/nishisan-dev/n-quic/internal/clock"
	"github.com/nishisan-dev/n-quic/internal/frame"
	"github.com/nishisan-dev/n-quic/internal/transmission"
	"github.com/nishisan-dev/n-quic/internal/varint"
)

// ackDelayExponent é o expoente padrão do transport parameter
// ack_delay_exponent (RFC 9000 §18.2).
const ackDelayExponent = 3

// Manager rastreia os pacotes recebidos que precisam ser reconhecidos e
// produz no máximo um frame ACK por pacote transmitido.
type Manager struct {
	// pending acumula os packet numbers recebidos ainda não cobertos por
	// um ACK reconhecido pelo peer.
	pending Set

	// ackEliciting indica que ao menos um pacote pendente solicita ACK.
	ackEliciting bool

	// inFlight mapeia o pacote que carregou um ACK para o maior packet
	// number reconhecido nele. No ack desse pacote, tudo ≤ esse valor
	// sai de pending.
	inFlight map[transmission.PacketNumber]transmission.PacketNumber

	largestRecvTime time.Time
	clock           clock.Clock
}

// NewManager cria um Manager com a fonte de tempo dada.
func NewManager(clk clock.Clock) *Manager {
	return &Manager{
		inFlight: make(map[transmission.PacketNumber]transmission.PacketNumber),
		clock:    clk,
	}
}

// OnPacketReceived registra um pacote recebido do peer.
func (m *Manager) OnPacketReceived(pn transmission.PacketNumber, ackEliciting bool) {
	m.pending.Insert(pn)
	if ackEliciting {
		m.ackEliciting = true
		m.largestRecvTime = m.clock.Now()
	}
}

// TransmissionInterest retorna NewData enquanto houver pacote
// ack-eliciting pendente de reconhecimento.
func (m *Manager) TransmissionInterest() transmission.Interest {
	if m.ackEliciting && !m.pending.IsEmpty() {
		return transmission.InterestNewData
	}
	return transmission.InterestNone
}

// OnTransmit escreve um frame ACK se houver pacotes pendentes e espaço.
// Retorna true se um ACK foi escrito (o chamador deve então invocar
// OnTransmitComplete ao fim do pacote).
func (m *Manager) OnTransmit(ctx transmission.WriteContext) bool {
	if m.pending.IsEmpty() {
		return false
	}
	delay := varDelay(m.clock.Now().Sub(m.largestRecvTime))
	ranges := m.pending.Descending()
	// Se o frame completo não cabe, descarta os ranges mais antigos até
	// caber; um ACK parcial ainda progride o peer.
	for len(ranges) > 0 {
		f := &frame.Ack{AckDelay: delay, Ranges: toFrameRanges(ranges)}
		if pn, ok := ctx.WriteFrame(f); ok {
			m.inFlight[pn] = ranges[0].Largest
			return true
		}
		ranges = ranges[:len(ranges)-1]
	}
	return false
}

// OnTransmitComplete informa que o pacote contendo o ACK foi preenchido
// por todos os produtores. O interesse é zerado mesmo quando o ACK foi
// parcial (ranges antigos descartados por falta de espaço); só um novo
// pacote ack-eliciting do peer o rearma.
func (m *Manager) OnTransmitComplete(ctx transmission.WriteContext) {
	m.ackEliciting = false
}

// OnPacketAck processa o reconhecimento de pacotes que carregavam ACKs.
func (m *Manager) OnPacketAck(set *Set) {
	for pn, largest := range m.inFlight {
		if set.Contains(pn) {
			m.pending.RemoveUpTo(largest)
			delete(m.inFlight, pn)
		}
	}
	if m.pending.IsEmpty() {
		m.ackEliciting = false
	}
}

// OnPacketLoss processa a perda de pacotes que carregavam ACKs; os
// ranges voltam a ser elegíveis para um novo frame.
func (m *Manager) OnPacketLoss(set *Set) {
	for pn := range m.inFlight {
		if set.Contains(pn) {
			delete(m.inFlight, pn)
		}
	}
}

func toFrameRanges(ranges []Range) []frame.AckRange {
	out := make([]frame.AckRange, len(ranges))
	for i, r := range ranges {
		out[i] = frame.AckRange{Smallest: uint64(r.Smallest), Largest: uint64(r.Largest)}
	}
	return out
}

func varDelay(d time.Duration) varint.VarInt {
	if d <= 0 {
		return 0
	}
	return varint.VarInt(d.Microseconds() >> ackDelayExponent)
}
