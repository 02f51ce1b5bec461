// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package conn

import (
	"github.com/nishisan-dev/n-quic/internal/frame"
	"github.com/nishisan-dev/n-quic/internal/transmission"
)

// StatelessResetSync anuncia cedo o stateless reset token do CID do
// handshake. O token do CID inicial não viaja no handshake em si, então
// o anúncio sai no primeiro pacote 1-RTT possível — logo após o
// HANDSHAKE_DONE no bloco de controle, antes de crypto e dados: sem ele
// o peer não distingue um reset nosso de um blackhole.
type StatelessResetSync struct {
	pending  bool
	f        *frame.NewConnectionID
	inFlight map[transmission.PacketNumber]struct{}
}

// NewStatelessResetSync arma o anúncio do token do CID do handshake.
func NewStatelessResetSync(registry *LocalIDRegistry) *StatelessResetSync {
	cid := registry.entries[0].id
	return &StatelessResetSync{
		pending: true,
		f: &frame.NewConnectionID{
			SequenceNumber:      0,
			ConnectionID:        cid,
			StatelessResetToken: registry.ResetToken(cid),
		},
		inFlight: make(map[transmission.PacketNumber]struct{}),
	}
}

// TransmissionInterest retorna NewData enquanto o anúncio estiver
// pendente.
func (s *StatelessResetSync) TransmissionInterest() transmission.Interest {
	if s.pending {
		return transmission.InterestNewData
	}
	return transmission.InterestNone
}

// OnTransmit escreve o anúncio pendente.
func (s *StatelessResetSync) OnTransmit(ctx transmission.WriteContext) {
	if !s.pending {
		return
	}
	if pn, ok := ctx.WriteFrame(s.f); ok {
		s.pending = false
		s.inFlight[pn] = struct{}{}
	}
}

// OnPacketAck descarta os anúncios reconhecidos.
func (s *StatelessResetSync) OnPacketAck(contains func(transmission.PacketNumber) bool) {
	for pn := range s.inFlight {
		if contains(pn) {
			delete(s.inFlight, pn)
		}
	}
}

// OnPacketLoss rearma os anúncios perdidos.
func (s *StatelessResetSync) OnPacketLoss(contains func(transmission.PacketNumber) bool) {
	for pn := range s.inFlight {
		if contains(pn) {
			delete(s.inFlight, pn)
			s.pending = true
		}
	}
}
