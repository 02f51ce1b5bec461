// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package path

import (
	"time"

	"github.com/nishisan-dev/n-quic/internal/clock"
	"github.com/nishisan-dev/n-quic/internal/frame"
	"github.com/nishisan-dev/n-quic/internal/transmission"
)

// BaseMTU é o MTU mínimo garantido do QUIC v1 (RFC 9000 §14.1).
const BaseMTU = 1200

// probeTimeout é a espera por ACK de um probe antes de tratá-lo como
// perdido.
const probeTimeout = time.Second

// searchGranularity encerra a busca quando a janela fica menor que isso.
const searchGranularity = 16

type mtuState uint8

const (
	mtuSearching mtuState = iota
	mtuComplete
)

// MTUController descobre o maior tamanho de datagrama que o caminho
// transporta, por busca binária entre o MTU base e o máximo configurado.
// Cada probe é um pacote PING + PADDING do tamanho candidato.
type MTUController struct {
	current   int // maior tamanho confirmado
	lo, hi    int // janela de busca
	probeSize int

	state    mtuState
	inFlight map[transmission.PacketNumber]int
	deadline time.Time

	clock clock.Clock
}

// NewMTUController cria o controlador buscando entre BaseMTU e max.
func NewMTUController(max int, clk clock.Clock) *MTUController {
	c := &MTUController{
		current:  BaseMTU,
		lo:       BaseMTU,
		hi:       max,
		inFlight: make(map[transmission.PacketNumber]int),
		clock:    clk,
	}
	if max <= BaseMTU {
		c.state = mtuComplete
		return c
	}
	c.probeSize = c.nextProbe()
	return c
}

// CurrentMTU retorna o maior tamanho de pacote confirmado.
func (c *MTUController) CurrentMTU() int { return c.current }

// IsSearching indica se a busca ainda está aberta.
func (c *MTUController) IsSearching() bool { return c.state == mtuSearching }

// ProbeSize retorna o tamanho do próximo probe.
func (c *MTUController) ProbeSize() int { return c.probeSize }

func (c *MTUController) nextProbe() int {
	return c.lo + (c.hi-c.lo+1)/2
}

// TransmissionInterest retorna NewData enquanto houver probe a emitir.
func (c *MTUController) TransmissionInterest() transmission.Interest {
	if c.state == mtuSearching && len(c.inFlight) == 0 {
		return transmission.InterestNewData
	}
	return transmission.InterestNone
}

// OnTransmit preenche o pacote de probe: um PING ack-eliciting e PADDING
// até o tamanho candidato. Gated em CanTransmit — probes são dados novos
// perante o controlador de congestionamento.
func (c *MTUController) OnTransmit(ctx transmission.WriteContext) {
	if c.state != mtuSearching || len(c.inFlight) > 0 {
		return
	}
	if !ctx.Constraint().CanTransmit() {
		return
	}
	pn, ok := ctx.WriteFrame(frame.Ping{})
	if !ok {
		return
	}
	if pad := ctx.RemainingCapacity(); pad > 0 {
		ctx.WriteFrame(frame.Padding{Count: pad})
	}
	c.inFlight[pn] = c.probeSize
	c.deadline = c.clock.Now().Add(probeTimeout)
}

// OnPacketAck confirma o probe: o tamanho candidato passa a ser o MTU
// corrente e a busca sobe.
func (c *MTUController) OnPacketAck(contains func(transmission.PacketNumber) bool) {
	for pn, size := range c.inFlight {
		if !contains(pn) {
			continue
		}
		delete(c.inFlight, pn)
		c.current = size
		c.lo = size
		c.advance()
	}
}

// OnPacketLoss descarta o probe: o caminho não transporta o candidato e
// a busca desce.
func (c *MTUController) OnPacketLoss(contains func(transmission.PacketNumber) bool) {
	for pn, size := range c.inFlight {
		if !contains(pn) {
			continue
		}
		delete(c.inFlight, pn)
		if size-1 < c.hi {
			c.hi = size - 1
		}
		c.advance()
	}
}

// OnTimeout trata probe sem ACK dentro do prazo como perdido.
func (c *MTUController) OnTimeout(now time.Time) {
	if len(c.inFlight) == 0 || now.Before(c.deadline) {
		return
	}
	for pn, size := range c.inFlight {
		delete(c.inFlight, pn)
		if size-1 < c.hi {
			c.hi = size - 1
		}
	}
	c.advance()
}

func (c *MTUController) advance() {
	if c.hi-c.lo < searchGranularity {
		c.state = mtuComplete
		return
	}
	c.probeSize = c.nextProbe()
}
