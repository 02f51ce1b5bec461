// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sync

import (
	"github.com/nishisan-dev/n-quic/internal/frame"
	"github.com/nishisan-dev/n-quic/internal/transmission"
)

// Flag sincroniza um frame sem payload cujo único propósito é tornar um
// pacote ack-eliciting (PING pedido pela aplicação, probe de recuperação).
// Se o pacote em montagem já contém um frame ack-eliciting, o flag pega
// carona nele em vez de escrever um PING redundante.
type Flag struct {
	requested bool
	inFlight  map[transmission.PacketNumber]struct{}
}

// NewFlag cria um Flag desativado.
func NewFlag() *Flag {
	return &Flag{inFlight: make(map[transmission.PacketNumber]struct{})}
}

// Set pede a emissão de um pacote ack-eliciting.
func (f *Flag) Set() { f.requested = true }

// IsSet indica emissão pendente.
func (f *Flag) IsSet() bool { return f.requested }

// TransmissionInterest retorna Forced enquanto a emissão estiver
// pendente: o pacote deve sair mesmo que nenhum outro produtor tenha
// dados.
func (f *Flag) TransmissionInterest() transmission.Interest {
	if f.requested {
		return transmission.InterestForced
	}
	return transmission.InterestNone
}

// OnTransmit resolve o flag: escreve um PING apenas se o pacote ainda
// não for ack-eliciting. Deve ser o último produtor invocado no payload,
// pois só então a elicitação do pacote é conhecida.
func (f *Flag) OnTransmit(ctx transmission.WriteContext) {
	if !f.requested {
		return
	}
	if ctx.AckElicitation() {
		// Carona: o pacote já solicita ACK.
		f.requested = false
		return
	}
	if pn, ok := ctx.WriteFrame(frame.Ping{}); ok {
		f.inFlight[pn] = struct{}{}
		f.requested = false
	}
}

// OnPacketAck descarta os PINGs reconhecidos.
func (f *Flag) OnPacketAck(contains func(transmission.PacketNumber) bool) {
	for pn := range f.inFlight {
		if contains(pn) {
			delete(f.inFlight, pn)
		}
	}
}

// OnPacketLoss rearma o flag para os PINGs perdidos.
func (f *Flag) OnPacketLoss(contains func(transmission.PacketNumber) bool) {
	for pn := range f.inFlight {
		if contains(pn) {
			delete(f.inFlight, pn)
			f.requested = true
		}
	}
}
