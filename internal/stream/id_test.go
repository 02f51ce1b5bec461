// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"testing"

	"github.com/nishisan-dev/n-quic/internal/varint"
)

func varintN(n int) varint.VarInt { return varint.VarInt(n) }

func TestNewID_QuadrantTags(t *testing.T) {
	cases := []struct {
		p    Perspective
		typ  Type
		n    int
		want ID
	}{
		// Cliente: bidi local = iniciado pelo cliente, tag 0x0.
		{Client, BidiLocal, 0, 0},
		{Client, BidiLocal, 1, 4},
		{Client, UniLocal, 0, 2},
		{Client, BidiRemote, 0, 1},
		{Client, UniRemote, 0, 3},
		// Servidor: bidi local = iniciado pelo servidor, tag 0x1.
		{Server, BidiLocal, 0, 1},
		{Server, UniLocal, 2, 11},
		{Server, BidiRemote, 0, 0},
		{Server, UniRemote, 1, 6},
	}
	for _, c := range cases {
		got := NewID(varintN(c.n), c.typ, c.p)
		if got != c.want {
			t.Errorf("NewID(%d, %v, %v): want %d, got %d", c.n, c.typ, c.p, c.want, got)
		}
	}
}

func TestID_TypeRoundTrip(t *testing.T) {
	for _, p := range []Perspective{Client, Server} {
		for _, typ := range []Type{BidiLocal, UniLocal, BidiRemote, UniRemote} {
			for n := 0; n < 5; n++ {
				id := NewID(varintN(n), typ, p)
				if got := id.Type(p); got != typ {
					t.Errorf("perspective %v: id %d classified as %v, want %v", p, id, got, typ)
				}
				if got := id.Index(); got != varintN(n) {
					t.Errorf("id %d: index %d, want %d", id, got, n)
				}
			}
		}
	}
}

func TestID_PeerSymmetry(t *testing.T) {
	// O que é local para o cliente é remoto para o servidor.
	id := NewID(3, BidiLocal, Client)
	if got := id.Type(Server); got != BidiRemote {
		t.Errorf("client bidi_local seen by server: want bidi_remote, got %v", got)
	}
	id = NewID(2, UniLocal, Server)
	if got := id.Type(Client); got != UniRemote {
		t.Errorf("server uni_local seen by client: want uni_remote, got %v", got)
	}
}
