// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package conn implementa os produtores de frames da conexão e o loop
// de eventos que os compõe num pipeline de transmissão por pacote.
package conn

import (
	"github.com/nishisan-dev/n-quic/internal/frame"
	"github.com/nishisan-dev/n-quic/internal/stream"
	"github.com/nishisan-dev/n-quic/internal/transmission"
)

// HandshakeStatus sincroniza a confirmação do handshake. Só o servidor
// emite HANDSHAKE_DONE; o cliente confirma ao recebê-lo (RFC 9000 §19.20).
type HandshakeStatus struct {
	perspective stream.Perspective

	pending   bool
	confirmed bool
	inFlight  map[transmission.PacketNumber]struct{}
}

// NewHandshakeStatus cria o produtor para a perspectiva dada.
func NewHandshakeStatus(p stream.Perspective) *HandshakeStatus {
	return &HandshakeStatus{
		perspective: p,
		inFlight:    make(map[transmission.PacketNumber]struct{}),
	}
}

// IsConfirmed indica se o handshake está confirmado.
func (h *HandshakeStatus) IsConfirmed() bool { return h.confirmed }

// OnHandshakeComplete registra a conclusão do handshake TLS. No servidor
// isso arma a emissão de HANDSHAKE_DONE.
func (h *HandshakeStatus) OnHandshakeComplete() {
	h.confirmed = true
	if h.perspective == stream.Server {
		h.pending = true
	}
}

// OnHandshakeDoneReceived processa um HANDSHAKE_DONE do peer. Servidores
// nunca o recebem: é violação de protocolo.
func (h *HandshakeStatus) OnHandshakeDoneReceived() error {
	if h.perspective == stream.Server {
		return frame.ProtocolViolation("client sent HANDSHAKE_DONE")
	}
	h.confirmed = true
	return nil
}

// TransmissionInterest retorna NewData enquanto o HANDSHAKE_DONE estiver
// pendente.
func (h *HandshakeStatus) TransmissionInterest() transmission.Interest {
	if h.pending {
		return transmission.InterestNewData
	}
	return transmission.InterestNone
}

// OnTransmit escreve o HANDSHAKE_DONE pendente.
func (h *HandshakeStatus) OnTransmit(ctx transmission.WriteContext) {
	if !h.pending {
		return
	}
	if pn, ok := ctx.WriteFrame(frame.HandshakeDone{}); ok {
		h.pending = false
		h.inFlight[pn] = struct{}{}
	}
}

// OnPacketAck descarta os HANDSHAKE_DONE reconhecidos.
func (h *HandshakeStatus) OnPacketAck(contains func(transmission.PacketNumber) bool) {
	for pn := range h.inFlight {
		if contains(pn) {
			delete(h.inFlight, pn)
		}
	}
}

// OnPacketLoss rearma os HANDSHAKE_DONE perdidos.
func (h *HandshakeStatus) OnPacketLoss(contains func(transmission.PacketNumber) bool) {
	for pn := range h.inFlight {
		if contains(pn) {
			delete(h.inFlight, pn)
			h.pending = true
		}
	}
}
