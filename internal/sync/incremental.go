// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sync

import (
	"cmp"

	"github.com/nishisan-dev/n-quic/internal/transmission"
)

// IncrementalValueSync sincroniza um valor monótono com o peer,
// retransmitindo o valor mais recente até ser reconhecido. Valores
// antigos em voo são descartados quando um maior é reconhecido; a perda
// de um frame reexpõe o valor corrente, nunca o perdido.
type IncrementalValueSync[T cmp.Ordered, W FrameWriter[T]] struct {
	writer W

	latest    T
	lastAcked T
	inFlight  map[transmission.PacketNumber]T
}

// NewIncrementalValueSync cria a máquina com o valor inicial já
// considerado reconhecido (o peer o conhece pelos transport parameters).
func NewIncrementalValueSync[T cmp.Ordered, W FrameWriter[T]](writer W, initial T) *IncrementalValueSync[T, W] {
	return &IncrementalValueSync[T, W]{
		writer:    writer,
		latest:    initial,
		lastAcked: initial,
		inFlight:  make(map[transmission.PacketNumber]T),
	}
}

// Latest retorna o valor corrente a sincronizar.
func (s *IncrementalValueSync[T, W]) Latest() T { return s.latest }

// LastAcked retorna o último valor reconhecido pelo peer.
func (s *IncrementalValueSync[T, W]) LastAcked() T { return s.lastAcked }

// Update eleva o valor a sincronizar. Valores menores são ignorados
// (o valor é monótono).
func (s *IncrementalValueSync[T, W]) Update(value T) {
	if value > s.latest {
		s.latest = value
	}
}

// isDirty indica que o valor corrente ainda não foi reconhecido nem está
// em voo.
func (s *IncrementalValueSync[T, W]) isDirty() bool {
	if s.latest <= s.lastAcked {
		return false
	}
	for _, v := range s.inFlight {
		if v == s.latest {
			return false
		}
	}
	return true
}

// TransmissionInterest retorna NewData quando há valor a emitir.
func (s *IncrementalValueSync[T, W]) TransmissionInterest() transmission.Interest {
	if s.isDirty() {
		return transmission.InterestNewData
	}
	return transmission.InterestNone
}

// OnTransmit escreve o valor corrente se a máquina estiver suja.
func (s *IncrementalValueSync[T, W]) OnTransmit(ctx transmission.WriteContext) {
	if !s.isDirty() {
		return
	}
	if pn, ok := s.writer.Write(s.latest, ctx); ok {
		s.inFlight[pn] = s.latest
	}
}

// OnPacketAck processa reconhecimentos: eleva lastAcked ao maior valor
// reconhecido e descarta todo voo menor ou igual a ele.
func (s *IncrementalValueSync[T, W]) OnPacketAck(contains func(transmission.PacketNumber) bool) {
	for pn, v := range s.inFlight {
		if contains(pn) {
			if v > s.lastAcked {
				s.lastAcked = v
			}
			delete(s.inFlight, pn)
		}
	}
	for pn, v := range s.inFlight {
		if v <= s.lastAcked {
			delete(s.inFlight, pn)
		}
	}
}

// OnPacketLoss remove entradas perdidas do voo para que o valor corrente
// volte a ser emitido.
func (s *IncrementalValueSync[T, W]) OnPacketLoss(contains func(transmission.PacketNumber) bool) {
	for pn := range s.inFlight {
		if contains(pn) {
			delete(s.inFlight, pn)
		}
	}
}
