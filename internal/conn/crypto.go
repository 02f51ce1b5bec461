// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package conn

import (
	"github.com/nishisan-dev/n-quic/internal/frame"
	"github.com/nishisan-dev/n-quic/internal/transmission"
	"github.com/nishisan-dev/n-quic/internal/varint"
)

// CryptoStream transporta os bytes do handshake TLS no espaço 1-RTT
// (session tickets, key updates). O provedor TLS empurra bytes; o
// produtor os fatia em frames CRYPTO respeitando a capacidade.
type CryptoStream struct {
	offset     varint.VarInt // primeiro byte ainda não enviado
	queue      []byte
	inFlight   map[transmission.PacketNumber][]cryptoChunk
	retransmit []cryptoChunk

	// Recebimento: entrega contígua ao provedor TLS.
	recvNext varint.VarInt
	segments map[uint64][]byte

	// Deliver recebe os bytes contíguos do peer. Opcional.
	Deliver func(data []byte)
}

type cryptoChunk struct {
	offset varint.VarInt
	data   []byte
}

// NewCryptoStream cria o stream de crypto vazio.
func NewCryptoStream() *CryptoStream {
	return &CryptoStream{
		inFlight: make(map[transmission.PacketNumber][]cryptoChunk),
		segments: make(map[uint64][]byte),
	}
}

// Push enfileira bytes do handshake para envio.
func (c *CryptoStream) Push(data []byte) {
	c.queue = append(c.queue, data...)
}

// TransmissionInterest reflete a fila e as retransmissões pendentes.
func (c *CryptoStream) TransmissionInterest() transmission.Interest {
	if len(c.retransmit) > 0 {
		return transmission.InterestLostData
	}
	if len(c.queue) > 0 {
		return transmission.InterestNewData
	}
	return transmission.InterestNone
}

// OnTransmit escreve retransmissões e depois dados novos.
func (c *CryptoStream) OnTransmit(ctx transmission.WriteContext) {
	for len(c.retransmit) > 0 {
		ch := c.retransmit[0]
		f := &frame.Crypto{Offset: ch.offset, Data: ch.data}
		pn, ok := ctx.WriteFrame(f)
		if !ok {
			return
		}
		c.retransmit = c.retransmit[1:]
		c.inFlight[pn] = append(c.inFlight[pn], ch)
	}
	for len(c.queue) > 0 {
		overhead := 1 + c.offset.Len() + varint.VarInt(len(c.queue)).Len()
		space := ctx.RemainingCapacity() - overhead
		if space <= 0 {
			return
		}
		n := len(c.queue)
		if n > space {
			n = space
		}
		data := make([]byte, n)
		copy(data, c.queue[:n])
		f := &frame.Crypto{Offset: c.offset, Data: data}
		pn, ok := ctx.WriteFrame(f)
		if !ok {
			return
		}
		ch := cryptoChunk{offset: c.offset, data: data}
		c.inFlight[pn] = append(c.inFlight[pn], ch)
		c.queue = c.queue[n:]
		c.offset = c.offset.SaturatingAdd(varint.VarInt(n))
	}
}

// OnCryptoFrame ingere um frame CRYPTO recebido e entrega o prefixo
// contíguo.
func (c *CryptoStream) OnCryptoFrame(f *frame.Crypto) {
	end := f.Offset.SaturatingAdd(varint.VarInt(len(f.Data)))
	if end > c.recvNext {
		c.segments[uint64(f.Offset)] = f.Data
	}
	for {
		data, ok := c.segments[uint64(c.recvNext)]
		if !ok {
			return
		}
		delete(c.segments, uint64(c.recvNext))
		c.recvNext = c.recvNext.SaturatingAdd(varint.VarInt(len(data)))
		if c.Deliver != nil {
			c.Deliver(data)
		}
	}
}

// OnPacketAck descarta os chunks reconhecidos.
func (c *CryptoStream) OnPacketAck(contains func(transmission.PacketNumber) bool) {
	for pn := range c.inFlight {
		if contains(pn) {
			delete(c.inFlight, pn)
		}
	}
}

// OnPacketLoss reenfileira os chunks perdidos.
func (c *CryptoStream) OnPacketLoss(contains func(transmission.PacketNumber) bool) {
	for pn, chunks := range c.inFlight {
		if contains(pn) {
			delete(c.inFlight, pn)
			c.retransmit = append(c.retransmit, chunks...)
		}
	}
}
