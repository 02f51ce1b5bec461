// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package conn

import (
	"golang.org/x/crypto/blake2b"
	"lukechampine.com/frand"

	"github.com/nishisan-dev/n-quic/internal/frame"
	"github.com/nishisan-dev/n-quic/internal/transmission"
	"github.com/nishisan-dev/n-quic/internal/varint"
)

// cidLength é o comprimento dos connection IDs emitidos.
const cidLength = 8

// activeCIDTarget é quantos CIDs mantemos anunciados ao peer.
const activeCIDTarget = 4

// LocalIDRegistry emite e aposenta os connection IDs locais. Cada CID
// novo sai num NEW_CONNECTION_ID com o stateless reset token derivado
// do próprio CID por hash keyed, para que o emissor de resets não
// precise de estado por conexão.
type LocalIDRegistry struct {
	resetKey [32]byte

	nextSeq varint.VarInt
	entries []cidEntry

	pendingRetire []varint.VarInt // RETIRE_CONNECTION_ID devidos ao peer

	inFlight map[transmission.PacketNumber][]varint.VarInt
}

type cidEntry struct {
	seq        varint.VarInt
	id         []byte
	advertised bool
	retired    bool
}

// NewLocalIDRegistry cria o registro com a chave de derivação de reset
// tokens e o CID inicial (seq 0, já conhecido do handshake).
func NewLocalIDRegistry(resetKey [32]byte) *LocalIDRegistry {
	r := &LocalIDRegistry{
		resetKey: resetKey,
		inFlight: make(map[transmission.PacketNumber][]varint.VarInt),
	}
	// Seq 0 é o CID do handshake; já anunciado por definição.
	r.entries = append(r.entries, cidEntry{seq: 0, id: frand.Bytes(cidLength), advertised: true})
	r.nextSeq = 1
	r.fill()
	return r
}

// ResetToken deriva o stateless reset token de um CID.
func (r *LocalIDRegistry) ResetToken(cid []byte) [16]byte {
	h, _ := blake2b.New256(r.resetKey[:])
	h.Write(cid)
	var token [16]byte
	copy(token[:], h.Sum(nil))
	return token
}

// ActiveCID retorna o CID mais recente não aposentado.
func (r *LocalIDRegistry) ActiveCID() []byte {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if !r.entries[i].retired {
			return r.entries[i].id
		}
	}
	return nil
}

// fill emite CIDs novos até o alvo de anunciados.
func (r *LocalIDRegistry) fill() {
	live := 0
	for _, e := range r.entries {
		if !e.retired {
			live++
		}
	}
	for live < activeCIDTarget {
		r.entries = append(r.entries, cidEntry{seq: r.nextSeq, id: frand.Bytes(cidLength)})
		r.nextSeq++
		live++
	}
}

// OnRetireConnectionIDFrame processa o pedido do peer de aposentar um
// dos nossos CIDs; um substituto é emitido.
func (r *LocalIDRegistry) OnRetireConnectionIDFrame(f *frame.RetireConnectionID) error {
	if f.SequenceNumber >= r.nextSeq {
		return frame.ProtocolViolation("RETIRE_CONNECTION_ID for never-issued sequence")
	}
	for i := range r.entries {
		if r.entries[i].seq == f.SequenceNumber {
			r.entries[i].retired = true
		}
	}
	r.fill()
	return nil
}

// OnNewConnectionIDFrame processa CIDs novos do peer: devolvemos
// RETIRE_CONNECTION_ID para sequências abaixo de RetirePriorTo.
func (r *LocalIDRegistry) OnNewConnectionIDFrame(f *frame.NewConnectionID) {
	for seq := varint.VarInt(0); seq < f.RetirePriorTo; seq++ {
		r.pendingRetire = append(r.pendingRetire, seq)
	}
}

// TransmissionInterest reflete anúncios e aposentadorias pendentes.
func (r *LocalIDRegistry) TransmissionInterest() transmission.Interest {
	if len(r.pendingRetire) > 0 {
		return transmission.InterestNewData
	}
	for _, e := range r.entries {
		if !e.advertised && !e.retired {
			return transmission.InterestNewData
		}
	}
	return transmission.InterestNone
}

// OnTransmit escreve NEW_CONNECTION_ID para CIDs não anunciados e os
// RETIRE_CONNECTION_ID devidos.
func (r *LocalIDRegistry) OnTransmit(ctx transmission.WriteContext) {
	for i := range r.entries {
		e := &r.entries[i]
		if e.advertised || e.retired {
			continue
		}
		f := &frame.NewConnectionID{
			SequenceNumber:      e.seq,
			ConnectionID:        e.id,
			StatelessResetToken: r.ResetToken(e.id),
		}
		pn, ok := ctx.WriteFrame(f)
		if !ok {
			return
		}
		e.advertised = true
		r.inFlight[pn] = append(r.inFlight[pn], e.seq)
	}
	for len(r.pendingRetire) > 0 {
		f := &frame.RetireConnectionID{SequenceNumber: r.pendingRetire[0]}
		if _, ok := ctx.WriteFrame(f); !ok {
			return
		}
		r.pendingRetire = r.pendingRetire[1:]
	}
}

// OnPacketAck descarta os anúncios reconhecidos.
func (r *LocalIDRegistry) OnPacketAck(contains func(transmission.PacketNumber) bool) {
	for pn := range r.inFlight {
		if contains(pn) {
			delete(r.inFlight, pn)
		}
	}
}

// OnPacketLoss rearma os anúncios perdidos.
func (r *LocalIDRegistry) OnPacketLoss(contains func(transmission.PacketNumber) bool) {
	for pn, seqs := range r.inFlight {
		if !contains(pn) {
			continue
		}
		delete(r.inFlight, pn)
		for _, seq := range seqs {
			for i := range r.entries {
				if r.entries[i].seq == seq && !r.entries[i].retired {
					r.entries[i].advertised = false
				}
			}
		}
	}
}
