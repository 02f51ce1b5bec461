// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package path implementa a validação de caminho (PATH_CHALLENGE /
// PATH_RESPONSE), o controlador de sondagem de MTU e o gerenciador de
// caminhos da conexão.
package path

import (
	"log/slog"
	"time"

	"lukechampine.com/frand"

	"github.com/nishisan-dev/n-quic/internal/clock"
	"github.com/nishisan-dev/n-quic/internal/frame"
	"github.com/nishisan-dev/n-quic/internal/transmission"
)

// validationTimeout é o tempo de espera por um PATH_RESPONSE antes de
// reemitir o challenge.
const validationTimeout = 500 * time.Millisecond

// ID identifica um caminho dentro da conexão.
type ID uint8

// Path é um caminho de rede da conexão: o ativo carrega todo o tráfego;
// os demais só trocam frames de validação durante a migração.
type Path struct {
	id     ID
	active bool

	// challenge que enviamos e aguarda eco do peer.
	challengeData    [8]byte
	challengePending bool
	challengeSent    bool
	challengePN      transmission.PacketNumber
	deadline         time.Time
	validated        bool

	// respostas devidas a challenges recebidos neste caminho.
	responses [][8]byte

	clock  clock.Clock
	logger *slog.Logger
}

// New cria um caminho.
func New(id ID, active bool, clk clock.Clock, logger *slog.Logger) *Path {
	return &Path{
		id:     id,
		active: active,
		clock:  clk,
		logger: logger.With("component", "path", "path_id", uint64(id)),
	}
}

// IsActive indica se este é o caminho ativo.
func (p *Path) IsActive() bool { return p.active }

// ID retorna o identificador do caminho.
func (p *Path) ID() ID { return p.id }

// IsValidated indica se o peer já ecoou nosso challenge.
func (p *Path) IsValidated() bool { return p.validated }

// StartValidation arma um novo PATH_CHALLENGE com 8 bytes aleatórios.
func (p *Path) StartValidation() {
	frand.Read(p.challengeData[:])
	p.challengePending = true
	p.challengeSent = false
	p.validated = false
}

// ChallengeData retorna o token do challenge corrente.
func (p *Path) ChallengeData() [8]byte { return p.challengeData }

// OnPathChallengeReceived enfileira a resposta devida a um challenge do
// peer.
func (p *Path) OnPathChallengeReceived(data [8]byte) {
	p.responses = append(p.responses, data)
}

// OnPathResponseReceived valida o caminho se o eco confere com o
// challenge em aberto. Ecos desconhecidos são ignorados (RFC 9000 §8.2.3).
func (p *Path) OnPathResponseReceived(data [8]byte) {
	if p.challengeSent && data == p.challengeData {
		p.validated = true
		p.challengePending = false
		p.challengeSent = false
		p.logger.Debug("path validated")
	}
}

// TransmissionInterest retorna NewData enquanto houver challenge ou
// resposta a emitir.
func (p *Path) TransmissionInterest() transmission.Interest {
	if len(p.responses) > 0 || p.challengePending {
		return transmission.InterestNewData
	}
	return transmission.InterestNone
}

// OnTransmit escreve as respostas devidas e o challenge pendente.
// PATH_RESPONSE sai primeiro: destravar a validação do peer não depende
// da nossa.
func (p *Path) OnTransmit(ctx transmission.WriteContext) {
	for len(p.responses) > 0 {
		f := &frame.PathResponse{Data: p.responses[0]}
		if _, ok := ctx.WriteFrame(f); !ok {
			return
		}
		p.responses = p.responses[1:]
	}
	if p.challengePending {
		f := &frame.PathChallenge{Data: p.challengeData}
		if pn, ok := ctx.WriteFrame(f); ok {
			p.challengePending = false
			p.challengeSent = true
			p.challengePN = pn
			p.deadline = p.clock.Now().Add(validationTimeout)
		}
	}
}

// OnPacketLoss rearma o challenge perdido.
func (p *Path) OnPacketLoss(contains func(transmission.PacketNumber) bool) {
	if p.challengeSent && contains(p.challengePN) {
		p.challengeSent = false
		p.challengePending = true
	}
}

// OnTimeout reemite o challenge sem resposta dentro do prazo.
func (p *Path) OnTimeout(now time.Time) {
	if p.challengeSent && !p.validated && !now.Before(p.deadline) {
		p.challengeSent = false
		p.challengePending = true
	}
}
