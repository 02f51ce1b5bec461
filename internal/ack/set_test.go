// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ack

import (
	"testing"

	"github.com/nishisan-dev/n-quic/internal/transmission"
)

func TestSet_InsertAndContains(t *testing.T) {
	s := NewSet(1, 2, 3, 7, 8, 20)
	for _, pn := range []transmission.PacketNumber{1, 2, 3, 7, 8, 20} {
		if !s.Contains(pn) {
			t.Errorf("expected set to contain %d", pn)
		}
	}
	for _, pn := range []transmission.PacketNumber{0, 4, 6, 9, 19, 21} {
		if s.Contains(pn) {
			t.Errorf("expected set to not contain %d", pn)
		}
	}
	if got := len(s.Ascending()); got != 3 {
		t.Errorf("expected 3 ranges, got %d", got)
	}
}

func TestSet_MergesAdjacentRanges(t *testing.T) {
	s := NewSet(1, 3)
	s.Insert(2)
	ranges := s.Ascending()
	if len(ranges) != 1 {
		t.Fatalf("expected 1 merged range, got %d: %+v", len(ranges), ranges)
	}
	if ranges[0].Smallest != 1 || ranges[0].Largest != 3 {
		t.Errorf("merged range: want [1,3], got [%d,%d]", ranges[0].Smallest, ranges[0].Largest)
	}
}

func TestSet_InsertDuplicate(t *testing.T) {
	s := NewSet(5)
	s.Insert(5)
	if s.Len() != 1 {
		t.Errorf("duplicate insert changed length: %d", s.Len())
	}
}

func TestSet_RemoveUpTo(t *testing.T) {
	s := NewSet(1, 2, 3, 10, 11, 12)
	s.RemoveUpTo(10)
	if s.Contains(3) || s.Contains(10) {
		t.Error("RemoveUpTo(10) should drop 1-3 and 10")
	}
	if !s.Contains(11) || !s.Contains(12) {
		t.Error("RemoveUpTo(10) should keep 11-12")
	}
	if s.Smallest() != 11 {
		t.Errorf("smallest after removal: want 11, got %d", s.Smallest())
	}
}

func TestSet_Descending(t *testing.T) {
	s := NewSet(1, 5, 6, 10)
	d := s.Descending()
	if d[0].Largest != 10 || d[len(d)-1].Smallest != 1 {
		t.Errorf("descending order wrong: %+v", d)
	}
}

func TestSet_SmallestLargest(t *testing.T) {
	s := NewSet(42, 7, 99)
	if s.Smallest() != 7 {
		t.Errorf("smallest: want 7, got %d", s.Smallest())
	}
	if s.Largest() != 99 {
		t.Errorf("largest: want 99, got %d", s.Largest())
	}
}
