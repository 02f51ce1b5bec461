// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package ack implementa o conjunto de packet numbers com semântica de
// ranges e o produtor de frames ACK do espaço 1-RTT.
package ack

import (
	"sort"

	"github.com/nishisan-dev/n-quic/internal/transmission"
)

// Range é um intervalo fechado de packet numbers.
type Range struct {
	Smallest transmission.PacketNumber
	Largest  transmission.PacketNumber
}

// Contains indica se pn pertence ao intervalo.
func (r Range) Contains(pn transmission.PacketNumber) bool {
	return pn >= r.Smallest && pn <= r.Largest
}

// Set é um conjunto ordenado de packet numbers mantido como ranges
// disjuntos. É o payload das notificações de ack e de perda e a fonte
// dos ranges do frame ACK.
type Set struct {
	ranges []Range // ordem crescente, disjuntos, não adjacentes
}

// NewSet cria um Set contendo os packet numbers dados.
func NewSet(pns ...transmission.PacketNumber) *Set {
	s := &Set{}
	for _, pn := range pns {
		s.Insert(pn)
	}
	return s
}

// IsEmpty indica se o conjunto está vazio.
func (s *Set) IsEmpty() bool { return len(s.ranges) == 0 }

// Len retorna o número de packet numbers no conjunto.
func (s *Set) Len() int {
	n := 0
	for _, r := range s.ranges {
		n += int(r.Largest-r.Smallest) + 1
	}
	return n
}

// Smallest retorna o menor packet number. Pânico se vazio.
func (s *Set) Smallest() transmission.PacketNumber { return s.ranges[0].Smallest }

// Largest retorna o maior packet number. Pânico se vazio.
func (s *Set) Largest() transmission.PacketNumber { return s.ranges[len(s.ranges)-1].Largest }

// Contains indica se pn pertence ao conjunto.
func (s *Set) Contains(pn transmission.PacketNumber) bool {
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].Largest >= pn })
	return i < len(s.ranges) && s.ranges[i].Contains(pn)
}

// Insert adiciona pn ao conjunto, fundindo ranges adjacentes.
func (s *Set) Insert(pn transmission.PacketNumber) {
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].Largest+1 >= pn })
	if i < len(s.ranges) && s.ranges[i].Smallest <= pn+1 {
		r := &s.ranges[i]
		if r.Contains(pn) {
			return
		}
		if pn == r.Smallest-1 {
			r.Smallest = pn
			return
		}
		// pn == r.Largest+1: estende e tenta fundir com o próximo.
		r.Largest = pn
		if i+1 < len(s.ranges) && s.ranges[i+1].Smallest == pn+1 {
			r.Largest = s.ranges[i+1].Largest
			s.ranges = append(s.ranges[:i+1], s.ranges[i+2:]...)
		}
		return
	}
	s.ranges = append(s.ranges, Range{})
	copy(s.ranges[i+1:], s.ranges[i:])
	s.ranges[i] = Range{Smallest: pn, Largest: pn}
}

// RemoveUpTo remove todos os packet numbers ≤ pn.
func (s *Set) RemoveUpTo(pn transmission.PacketNumber) {
	for len(s.ranges) > 0 {
		r := s.ranges[0]
		if r.Largest <= pn {
			s.ranges = s.ranges[1:]
			continue
		}
		if r.Smallest <= pn {
			s.ranges[0].Smallest = pn + 1
		}
		return
	}
}

// Ascending retorna os ranges em ordem crescente.
func (s *Set) Ascending() []Range {
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Descending retorna os ranges do maior para o menor, a ordem exigida
// pelo frame ACK.
func (s *Set) Descending() []Range {
	out := make([]Range, len(s.ranges))
	for i, r := range s.ranges {
		out[len(s.ranges)-1-i] = r
	}
	return out
}
