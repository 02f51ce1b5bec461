// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package path

import (
	"log/slog"
	"time"

	"github.com/nishisan-dev/n-quic/internal/clock"
	"github.com/nishisan-dev/n-quic/internal/frame"
	"github.com/nishisan-dev/n-quic/internal/transmission"
)

// Manager mantém o caminho ativo e os caminhos em sondagem de migração.
// No payload Normal ele cuida da contabilidade de migração: respostas
// devidas em caminhos não-ativos saem na primeira oportunidade, mesmo
// que o caminho nunca seja promovido.
type Manager struct {
	paths  []*Path
	active ID

	mtu *MTUController

	clock  clock.Clock
	logger *slog.Logger
}

// NewManager cria o gerenciador com o caminho 0 ativo.
func NewManager(maxMTU int, clk clock.Clock, logger *slog.Logger) *Manager {
	m := &Manager{
		clock:  clk,
		logger: logger.With("component", "path_manager"),
		mtu:    NewMTUController(maxMTU, clk),
	}
	m.paths = append(m.paths, New(0, true, clk, logger))
	return m
}

// ActivePath retorna o caminho ativo.
func (m *Manager) ActivePath() *Path { return m.paths[m.active] }

// ActivePathID retorna o id do caminho ativo.
func (m *Manager) ActivePathID() ID { return m.active }

// MTUController retorna o controlador de MTU do caminho ativo.
func (m *Manager) MTUController() *MTUController { return m.mtu }

// Path retorna o caminho pelo id, criando-o se for novo (um pacote
// chegando de um endereço inédito inicia a sondagem de migração).
func (m *Manager) Path(id ID) *Path {
	for _, p := range m.paths {
		if p.id == id {
			return p
		}
	}
	p := New(id, false, m.clock, m.logger)
	p.StartValidation()
	m.paths = append(m.paths, p)
	m.logger.Debug("new path pending validation", "path_id", uint64(id))
	return p
}

// Promote torna ativo um caminho já validado.
func (m *Manager) Promote(id ID) bool {
	p := m.Path(id)
	if !p.validated {
		return false
	}
	m.ActivePath().active = false
	p.active = true
	m.active = id
	m.logger.Info("path promoted", "path_id", uint64(id))
	return true
}

// TransmissionInterest agrega o interesse dos caminhos não-ativos
// (o ativo é consultado diretamente pelo payload).
func (m *Manager) TransmissionInterest() transmission.Interest {
	i := transmission.InterestNone
	for _, p := range m.paths {
		if !p.active && len(p.responses) > 0 {
			i = i.Merge(transmission.InterestNewData)
		}
	}
	return i
}

// OnTransmit executa a contabilidade de migração no payload Normal:
// respostas devidas em caminhos não-ativos.
func (m *Manager) OnTransmit(ctx transmission.WriteContext) {
	for _, p := range m.paths {
		if p.active {
			continue
		}
		for len(p.responses) > 0 {
			if _, ok := ctx.WriteFrame(&frame.PathResponse{Data: p.responses[0]}); !ok {
				return
			}
			p.responses = p.responses[1:]
		}
	}
}

// OnPacketLoss encaminha perdas a todos os caminhos.
func (m *Manager) OnPacketLoss(contains func(transmission.PacketNumber) bool) {
	for _, p := range m.paths {
		p.OnPacketLoss(contains)
	}
	m.mtu.OnPacketLoss(contains)
}

// OnPacketAck encaminha reconhecimentos ao controlador de MTU.
func (m *Manager) OnPacketAck(contains func(transmission.PacketNumber) bool) {
	m.mtu.OnPacketAck(contains)
}

// OnTimeout dirige os timers de validação e de probe.
func (m *Manager) OnTimeout(now time.Time) {
	for _, p := range m.paths {
		p.OnTimeout(now)
	}
	m.mtu.OnTimeout(now)
}
