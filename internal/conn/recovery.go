// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package conn

import (
	"time"

	"github.com/nishisan-dev/n-quic/internal/ack"
	"github.com/nishisan-dev/n-quic/internal/clock"
	"github.com/nishisan-dev/n-quic/internal/frame"
	"github.com/nishisan-dev/n-quic/internal/transmission"
)

// packetThreshold declara perda quando um pacote fica este tanto atrás
// do maior reconhecido (RFC 9002 §6.1.1).
const packetThreshold = 3

// defaultPTO é o probe timeout inicial, antes de amostras de RTT.
const defaultPTO = 300 * time.Millisecond

// RecoveryManager apresenta ao pipeline o contrato da recuperação de
// perda: detecta pacotes perdidos por limiar de reordenação, arma o
// probe timeout e escreve o PING de probe quando o timer dispara.
type RecoveryManager struct {
	sent         map[transmission.PacketNumber]sentPacket
	largestAcked transmission.PacketNumber
	hasAcked     bool

	ptoDeadline time.Time
	probe       bool
	probePN     transmission.PacketNumber
	probeSent   bool

	clock clock.Clock
}

type sentPacket struct {
	time         time.Time
	ackEliciting bool
}

// NewRecoveryManager cria o gerenciador.
func NewRecoveryManager(clk clock.Clock) *RecoveryManager {
	return &RecoveryManager{
		sent:  make(map[transmission.PacketNumber]sentPacket),
		clock: clk,
	}
}

// OnPacketSent registra um pacote transmitido; ack-eliciting rearma o
// probe timeout.
func (r *RecoveryManager) OnPacketSent(pn transmission.PacketNumber, ackEliciting bool) {
	r.sent[pn] = sentPacket{time: r.clock.Now(), ackEliciting: ackEliciting}
	if ackEliciting {
		r.ptoDeadline = r.clock.Now().Add(defaultPTO)
		r.probe = false
	}
}

// OnAckReceived processa um frame ACK do peer. Retorna os conjuntos de
// pacotes recém-reconhecidos e recém-declarados perdidos, para a
// conexão distribuir aos produtores.
func (r *RecoveryManager) OnAckReceived(f *frame.Ack) (acked, lost *ack.Set) {
	acked, lost = &ack.Set{}, &ack.Set{}
	for _, rng := range f.Ranges {
		for pn := transmission.PacketNumber(rng.Smallest); pn <= transmission.PacketNumber(rng.Largest); pn++ {
			if _, ok := r.sent[pn]; !ok {
				continue
			}
			delete(r.sent, pn)
			acked.Insert(pn)
			if pn > r.largestAcked || !r.hasAcked {
				r.largestAcked = pn
				r.hasAcked = true
			}
		}
	}
	// Limiar de reordenação: tudo packetThreshold atrás do maior
	// reconhecido está perdido.
	if r.hasAcked && r.largestAcked >= packetThreshold {
		cutoff := r.largestAcked - packetThreshold
		for pn := range r.sent {
			if pn <= cutoff {
				delete(r.sent, pn)
				lost.Insert(pn)
			}
		}
	}
	if !acked.IsEmpty() {
		r.ptoDeadline = time.Time{}
		r.probe = false
	}
	return acked, lost
}

// OnTimeout arma o probe quando o PTO expira com pacotes em voo.
func (r *RecoveryManager) OnTimeout(now time.Time) {
	if r.ptoDeadline.IsZero() || now.Before(r.ptoDeadline) {
		return
	}
	for _, p := range r.sent {
		if p.ackEliciting {
			r.probe = true
			// Rearma com o dobro do PTO padrão; o intervalo é fixo e
			// não cresce a cada disparo.
			r.ptoDeadline = now.Add(2 * defaultPTO)
			return
		}
	}
	r.ptoDeadline = time.Time{}
}

// TransmissionInterest exige um pacote ack-eliciting quando o probe está
// armado.
func (r *RecoveryManager) TransmissionInterest() transmission.Interest {
	if r.probe {
		return transmission.InterestForced
	}
	return transmission.InterestNone
}

// OnTransmit escreve o PING de probe se o pacote ainda não for
// ack-eliciting.
func (r *RecoveryManager) OnTransmit(ctx transmission.WriteContext) {
	if !r.probe {
		return
	}
	if ctx.AckElicitation() {
		r.probe = false
		return
	}
	if _, ok := ctx.WriteFrame(frame.Ping{}); ok {
		r.probe = false
	}
}
