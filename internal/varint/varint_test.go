// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package varint

import (
	"bytes"
	"testing"
)

func TestAppend_RoundTrip(t *testing.T) {
	values := []VarInt{0, 1, 63, 64, 16383, 16384, 1073741823, 1073741824, Max}
	for _, v := range values {
		buf := Append(nil, v)
		if len(buf) != v.Len() {
			t.Errorf("value %d: encoded %d bytes, Len() says %d", v, len(buf), v.Len())
		}
		got, n, err := Decode(buf)
		if err != nil {
			t.Fatalf("value %d: decode failed: %v", v, err)
		}
		if n != len(buf) {
			t.Errorf("value %d: consumed %d of %d bytes", v, n, len(buf))
		}
		if got != v {
			t.Errorf("round trip mismatch: want %d, got %d", v, got)
		}
	}
}

func TestAppend_KnownEncodings(t *testing.T) {
	// Exemplos do RFC 9000 §A.1
	cases := []struct {
		value VarInt
		wire  []byte
	}{
		{37, []byte{0x25}},
		{15293, []byte{0x7b, 0xbd}},
		{494878333, []byte{0x9d, 0x7f, 0x3e, 0x7d}},
		{151288809941952652, []byte{0xc2, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c}},
	}
	for _, c := range cases {
		got := Append(nil, c.value)
		if !bytes.Equal(got, c.wire) {
			t.Errorf("value %d: want % x, got % x", c.value, c.wire, got)
		}
	}
}

func TestDecode_Truncated(t *testing.T) {
	cases := [][]byte{
		nil,
		{0x40},
		{0x80, 0x00},
		{0xc0, 0x00, 0x00, 0x00},
	}
	for _, buf := range cases {
		if _, _, err := Decode(buf); err == nil {
			t.Errorf("buf % x: expected truncation error", buf)
		}
	}
}

func TestNew_Overflow(t *testing.T) {
	if _, err := New(1 << 62); err == nil {
		t.Fatal("expected overflow error for 2^62")
	}
	if v, err := New(uint64(Max)); err != nil || v != Max {
		t.Fatalf("Max should be valid: %v", err)
	}
}

func TestSaturatingAdd(t *testing.T) {
	if got := Max.SaturatingAdd(1); got != Max {
		t.Errorf("Max+1 should saturate at Max, got %d", got)
	}
	if got := VarInt(10).SaturatingAdd(5); got != 15 {
		t.Errorf("10+5: want 15, got %d", got)
	}
	if got := Max.SaturatingAdd(Max); got != Max {
		t.Errorf("Max+Max should saturate at Max, got %d", got)
	}
}

func TestMin(t *testing.T) {
	if got := VarInt(3).Min(7); got != 3 {
		t.Errorf("min(3,7): want 3, got %d", got)
	}
	if got := VarInt(7).Min(3); got != 3 {
		t.Errorf("min(7,3): want 3, got %d", got)
	}
}
