// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package frame

import (
	"github.com/nishisan-dev/n-quic/internal/varint"
)

// Len/Append de cada frame. Append nunca falha: quem decide se o frame
// cabe no pacote é o WriteContext, comparando Len() com a capacidade
// restante antes de chamar Append.

func (f Padding) Len() int { return f.Count }

func (f Padding) Append(buf []byte) []byte {
	return append(buf, make([]byte, f.Count)...)
}

func (Ping) Len() int { return 1 }

func (Ping) Append(buf []byte) []byte { return append(buf, TypePing) }

func (HandshakeDone) Len() int { return 1 }

func (HandshakeDone) Append(buf []byte) []byte { return append(buf, TypeHandshakeDone) }

func (f *Ack) Len() int {
	n := 1 + varint.VarInt(f.Ranges[0].Largest).Len() + f.AckDelay.Len()
	n += varint.VarInt(len(f.Ranges) - 1).Len()
	n += varint.VarInt(f.Ranges[0].Largest - f.Ranges[0].Smallest).Len()
	for i := 1; i < len(f.Ranges); i++ {
		gap := f.Ranges[i-1].Smallest - f.Ranges[i].Largest - 2
		n += varint.VarInt(gap).Len()
		n += varint.VarInt(f.Ranges[i].Largest - f.Ranges[i].Smallest).Len()
	}
	return n
}

func (f *Ack) Append(buf []byte) []byte {
	buf = append(buf, TypeAck)
	buf = varint.Append(buf, varint.VarInt(f.Ranges[0].Largest))
	buf = varint.Append(buf, f.AckDelay)
	buf = varint.Append(buf, varint.VarInt(len(f.Ranges)-1))
	buf = varint.Append(buf, varint.VarInt(f.Ranges[0].Largest-f.Ranges[0].Smallest))
	for i := 1; i < len(f.Ranges); i++ {
		// Gap: número de pacotes não reconhecidos entre ranges, menos 1.
		gap := f.Ranges[i-1].Smallest - f.Ranges[i].Largest - 2
		buf = varint.Append(buf, varint.VarInt(gap))
		buf = varint.Append(buf, varint.VarInt(f.Ranges[i].Largest-f.Ranges[i].Smallest))
	}
	return buf
}

func (f *MaxStreams) Len() int { return 1 + f.Limit.Len() }

func (f *MaxStreams) Append(buf []byte) []byte {
	t := byte(TypeMaxStreamsUni)
	if f.Bidi {
		t = TypeMaxStreamsBidi
	}
	return varint.Append(append(buf, t), f.Limit)
}

func (f *StreamsBlocked) Len() int { return 1 + f.Limit.Len() }

func (f *StreamsBlocked) Append(buf []byte) []byte {
	t := byte(TypeStreamsBlockedUni)
	if f.Bidi {
		t = TypeStreamsBlockedBidi
	}
	return varint.Append(append(buf, t), f.Limit)
}

func (f *PathChallenge) Len() int { return 9 }

func (f *PathChallenge) Append(buf []byte) []byte {
	return append(append(buf, TypePathChallenge), f.Data[:]...)
}

func (f *PathResponse) Len() int { return 9 }

func (f *PathResponse) Append(buf []byte) []byte {
	return append(append(buf, TypePathResponse), f.Data[:]...)
}

func (f *MaxData) Len() int { return 1 + f.Maximum.Len() }

func (f *MaxData) Append(buf []byte) []byte {
	return varint.Append(append(buf, TypeMaxData), f.Maximum)
}

func (f *MaxStreamData) Len() int { return 1 + f.StreamID.Len() + f.Maximum.Len() }

func (f *MaxStreamData) Append(buf []byte) []byte {
	buf = varint.Append(append(buf, TypeMaxStreamData), f.StreamID)
	return varint.Append(buf, f.Maximum)
}

func (f *DataBlocked) Len() int { return 1 + f.Limit.Len() }

func (f *DataBlocked) Append(buf []byte) []byte {
	return varint.Append(append(buf, TypeDataBlocked), f.Limit)
}

func (f *StreamDataBlocked) Len() int { return 1 + f.StreamID.Len() + f.Limit.Len() }

func (f *StreamDataBlocked) Append(buf []byte) []byte {
	buf = varint.Append(append(buf, TypeStreamDataBlocked), f.StreamID)
	return varint.Append(buf, f.Limit)
}

func (f *ResetStream) Len() int {
	return 1 + f.StreamID.Len() + f.ErrorCode.Len() + f.FinalSize.Len()
}

func (f *ResetStream) Append(buf []byte) []byte {
	buf = varint.Append(append(buf, TypeResetStream), f.StreamID)
	buf = varint.Append(buf, f.ErrorCode)
	return varint.Append(buf, f.FinalSize)
}

func (f *StopSending) Len() int { return 1 + f.StreamID.Len() + f.ErrorCode.Len() }

func (f *StopSending) Append(buf []byte) []byte {
	buf = varint.Append(append(buf, TypeStopSending), f.StreamID)
	return varint.Append(buf, f.ErrorCode)
}

func (f *Crypto) Len() int {
	return 1 + f.Offset.Len() + varint.VarInt(len(f.Data)).Len() + len(f.Data)
}

func (f *Crypto) Append(buf []byte) []byte {
	buf = varint.Append(append(buf, TypeCrypto), f.Offset)
	buf = varint.Append(buf, varint.VarInt(len(f.Data)))
	return append(buf, f.Data...)
}

func (f *Stream) Len() int {
	return 1 + f.StreamID.Len() + f.Offset.Len() +
		varint.VarInt(len(f.Data)).Len() + len(f.Data)
}

func (f *Stream) Append(buf []byte) []byte {
	// OFF e LEN sempre presentes; FIN conforme o campo.
	t := byte(TypeStreamBase | 0x04 | 0x02)
	if f.Fin {
		t |= 0x01
	}
	buf = varint.Append(append(buf, t), f.StreamID)
	buf = varint.Append(buf, f.Offset)
	buf = varint.Append(buf, varint.VarInt(len(f.Data)))
	return append(buf, f.Data...)
}

func (f *NewConnectionID) Len() int {
	return 1 + f.SequenceNumber.Len() + f.RetirePriorTo.Len() +
		1 + len(f.ConnectionID) + 16
}

func (f *NewConnectionID) Append(buf []byte) []byte {
	buf = varint.Append(append(buf, TypeNewConnectionID), f.SequenceNumber)
	buf = varint.Append(buf, f.RetirePriorTo)
	buf = append(buf, byte(len(f.ConnectionID)))
	buf = append(buf, f.ConnectionID...)
	return append(buf, f.StatelessResetToken[:]...)
}

func (f *RetireConnectionID) Len() int { return 1 + f.SequenceNumber.Len() }

func (f *RetireConnectionID) Append(buf []byte) []byte {
	return varint.Append(append(buf, TypeRetireConnectionID), f.SequenceNumber)
}

func (f *ConnectionClose) Len() int {
	n := 1 + f.ErrorCode.Len() +
		varint.VarInt(len(f.ReasonPhrase)).Len() + len(f.ReasonPhrase)
	if !f.Application {
		n += f.FrameType.Len()
	}
	return n
}

func (f *ConnectionClose) Append(buf []byte) []byte {
	t := byte(TypeConnectionCloseQ)
	if f.Application {
		t = TypeConnectionCloseApp
	}
	buf = varint.Append(append(buf, t), f.ErrorCode)
	if !f.Application {
		buf = varint.Append(buf, f.FrameType)
	}
	buf = varint.Append(buf, varint.VarInt(len(f.ReasonPhrase)))
	return append(buf, f.ReasonPhrase...)
}

func (f *Datagram) Len() int {
	return 1 + varint.VarInt(len(f.Data)).Len() + len(f.Data)
}

func (f *Datagram) Append(buf []byte) []byte {
	buf = varint.Append(append(buf, TypeDatagramLen), varint.VarInt(len(f.Data)))
	return append(buf, f.Data...)
}
