// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package stream implementa a identificação de streams QUIC, o
// controlador de concorrência de streams (limites MAX_STREAMS /
// STREAMS_BLOCKED) e o gerenciador de streams que produz os frames de
// dados e de flow control no pipeline de transmissão.
package stream

import (
	"fmt"

	"github.com/nishisan-dev/n-quic/internal/varint"
)

// Perspective indica o papel do endpoint local na conexão. O quadrante
// de um stream id depende de quem o iniciou em termos absolutos
// (cliente ou servidor), então a conversão local/remoto passa pela
// perspectiva.
type Perspective uint8

const (
	// Client indica que o endpoint local é o cliente.
	Client Perspective = iota
	// Server indica que o endpoint local é o servidor.
	Server
)

func (p Perspective) String() string {
	if p == Client {
		return "client"
	}
	return "server"
}

// Type classifica um stream pelo iniciador (local/remoto) e direção.
type Type uint8

const (
	// BidiLocal é um stream bidirecional iniciado localmente.
	BidiLocal Type = iota
	// UniLocal é um stream unidirecional iniciado localmente.
	UniLocal
	// BidiRemote é um stream bidirecional iniciado pelo peer.
	BidiRemote
	// UniRemote é um stream unidirecional iniciado pelo peer.
	UniRemote
)

// IsLocal indica se o tipo é iniciado localmente.
func (t Type) IsLocal() bool { return t == BidiLocal || t == UniLocal }

// IsBidi indica se o tipo é bidirecional.
func (t Type) IsBidi() bool { return t == BidiLocal || t == BidiRemote }

func (t Type) String() string {
	switch t {
	case BidiLocal:
		return "bidi_local"
	case UniLocal:
		return "uni_local"
	case BidiRemote:
		return "bidi_remote"
	case UniRemote:
		return "uni_remote"
	default:
		return "unknown"
	}
}

// ID é um identificador de stream de 62 bits. Os dois bits baixos
// codificam o quadrante: bit 0 = iniciador (0 cliente, 1 servidor),
// bit 1 = direção (0 bidi, 1 uni). O n-ésimo stream de um quadrante tem
// id (n << 2) | tag.
type ID varint.VarInt

// NewID monta o id do n-ésimo stream do tipo t na perspectiva p.
func NewID(n varint.VarInt, t Type, p Perspective) ID {
	tag := varint.VarInt(0)
	initiator := p
	if !t.IsLocal() {
		if p == Client {
			initiator = Server
		} else {
			initiator = Client
		}
	}
	if initiator == Server {
		tag |= 0x1
	}
	if !t.IsBidi() {
		tag |= 0x2
	}
	return ID(n<<2 | tag)
}

// Index retorna a posição do stream dentro do seu quadrante.
func (id ID) Index() varint.VarInt { return varint.VarInt(id) >> 2 }

// Type classifica o id na perspectiva p.
func (id ID) Type(p Perspective) Type {
	serverInitiated := id&0x1 != 0
	uni := id&0x2 != 0
	local := (p == Server) == serverInitiated
	switch {
	case local && !uni:
		return BidiLocal
	case local && uni:
		return UniLocal
	case !local && !uni:
		return BidiRemote
	default:
		return UniRemote
	}
}

func (id ID) String() string {
	return fmt.Sprintf("stream(%d)", varint.VarInt(id))
}
