// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sync

import (
	"cmp"
	"time"

	"github.com/nishisan-dev/n-quic/internal/transmission"
)

// DefaultSyncPeriod é o período padrão de retransmissão do PeriodicSync.
const DefaultSyncPeriod = 100 * time.Millisecond

type periodicState uint8

const (
	periodicIdle periodicState = iota
	periodicRequested
	periodicInFlight
	periodicDelivered
)

// PeriodicSync emite um frame de flag carregando um valor e o retransmite
// periodicamente até ser reconhecido. No máximo um frame fica em voo por
// valor: um novo pedido só reativa a máquina com valor estritamente maior
// que o último entregue.
type PeriodicSync[T cmp.Ordered, W FrameWriter[T]] struct {
	writer W
	period time.Duration

	state     periodicState
	value     T
	delivered T
	packet    transmission.PacketNumber
	deadline  time.Time
}

// NewPeriodicSync cria um PeriodicSync com o writer e o período dados.
// period ≤ 0 usa DefaultSyncPeriod.
func NewPeriodicSync[T cmp.Ordered, W FrameWriter[T]](writer W, period time.Duration) *PeriodicSync[T, W] {
	if period <= 0 {
		period = DefaultSyncPeriod
	}
	return &PeriodicSync[T, W]{writer: writer, period: period}
}

// Request pede a emissão do frame carregando value.
// Pedidos com valor já entregue são ignorados.
func (s *PeriodicSync[T, W]) Request(now time.Time, value T) {
	switch s.state {
	case periodicDelivered:
		if value <= s.delivered {
			return
		}
	case periodicRequested, periodicInFlight:
		if value <= s.value {
			return
		}
	}
	s.state = periodicRequested
	s.value = value
	s.deadline = now.Add(s.period)
}

// Cancel desativa a máquina sem esperar reconhecimento. Usado quando o
// valor em voo ficou obsoleto (ex: o peer elevou o limite que causou o
// bloqueio).
func (s *PeriodicSync[T, W]) Cancel() {
	s.state = periodicIdle
}

// IsInFlight indica se há um frame aguardando reconhecimento.
func (s *PeriodicSync[T, W]) IsInFlight() bool { return s.state == periodicInFlight }

// IsIdle indica se a máquina está inativa (Idle ou Delivered).
func (s *PeriodicSync[T, W]) IsIdle() bool {
	return s.state == periodicIdle || s.state == periodicDelivered
}

// TransmissionInterest retorna NewData enquanto houver emissão pendente.
func (s *PeriodicSync[T, W]) TransmissionInterest() transmission.Interest {
	if s.state == periodicRequested {
		return transmission.InterestNewData
	}
	return transmission.InterestNone
}

// OnTransmit escreve o frame se houver emissão pendente e espaço.
func (s *PeriodicSync[T, W]) OnTransmit(ctx transmission.WriteContext) {
	if s.state != periodicRequested {
		return
	}
	pn, ok := s.writer.Write(s.value, ctx)
	if !ok {
		return
	}
	s.state = periodicInFlight
	s.packet = pn
}

// OnPacketAck processa reconhecimentos; o frame em voo vira entregue.
func (s *PeriodicSync[T, W]) OnPacketAck(contains func(transmission.PacketNumber) bool) {
	if s.state == periodicInFlight && contains(s.packet) {
		s.state = periodicDelivered
		s.delivered = s.value
	}
}

// OnPacketLoss processa perdas; o frame perdido volta a Requested.
func (s *PeriodicSync[T, W]) OnPacketLoss(contains func(transmission.PacketNumber) bool, now time.Time) {
	if s.state == periodicInFlight && contains(s.packet) {
		s.state = periodicRequested
		s.deadline = now.Add(s.period)
	}
}

// OnTimeout retransmite o frame em voo se o período expirou sem ACK.
func (s *PeriodicSync[T, W]) OnTimeout(now time.Time) {
	if s.state == periodicInFlight && !now.Before(s.deadline) {
		s.state = periodicRequested
		s.deadline = now.Add(s.period)
	}
}
