// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package frame

import (
	"fmt"

	"github.com/nishisan-dev/n-quic/internal/varint"
)

// Parse decodifica o primeiro frame de buf.
// Retorna o frame, quantos bytes foram consumidos e o erro.
// PADDING é consumido em bloco e retornado como nil frame.
func Parse(buf []byte) (Frame, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrTruncated
	}
	switch t := buf[0]; {
	case t == TypePadding:
		n := 1
		for n < len(buf) && buf[n] == TypePadding {
			n++
		}
		return nil, n, nil
	case t == TypePing:
		return Ping{}, 1, nil
	case t == TypeHandshakeDone:
		return HandshakeDone{}, 1, nil
	case t == TypeAck || t == TypeAckECN:
		return parseAck(buf)
	case t == TypeMaxStreamsBidi || t == TypeMaxStreamsUni:
		limit, n, err := parseVarInt(buf[1:])
		if err != nil {
			return nil, 0, err
		}
		if limit > MaxStreamsLimit {
			return nil, 0, &TransportError{
				Code:      ErrCodeStreamLimit,
				FrameType: uint64(t),
				Reason:    fmt.Sprintf("MAX_STREAMS limit %d exceeds 2^60", limit),
			}
		}
		return &MaxStreams{Bidi: t == TypeMaxStreamsBidi, Limit: limit}, 1 + n, nil
	case t == TypeStreamsBlockedBidi || t == TypeStreamsBlockedUni:
		limit, n, err := parseVarInt(buf[1:])
		if err != nil {
			return nil, 0, err
		}
		if limit > MaxStreamsLimit {
			return nil, 0, &TransportError{
				Code:      ErrCodeStreamLimit,
				FrameType: uint64(t),
				Reason:    fmt.Sprintf("STREAMS_BLOCKED limit %d exceeds 2^60", limit),
			}
		}
		return &StreamsBlocked{Bidi: t == TypeStreamsBlockedBidi, Limit: limit}, 1 + n, nil
	case t == TypePathChallenge || t == TypePathResponse:
		if len(buf) < 9 {
			return nil, 0, ErrTruncated
		}
		var data [8]byte
		copy(data[:], buf[1:9])
		if t == TypePathChallenge {
			return &PathChallenge{Data: data}, 9, nil
		}
		return &PathResponse{Data: data}, 9, nil
	case t == TypeMaxData:
		v, n, err := parseVarInt(buf[1:])
		if err != nil {
			return nil, 0, err
		}
		return &MaxData{Maximum: v}, 1 + n, nil
	case t == TypeMaxStreamData:
		id, n1, err := parseVarInt(buf[1:])
		if err != nil {
			return nil, 0, err
		}
		max, n2, err := parseVarInt(buf[1+n1:])
		if err != nil {
			return nil, 0, err
		}
		return &MaxStreamData{StreamID: id, Maximum: max}, 1 + n1 + n2, nil
	case t == TypeDataBlocked:
		v, n, err := parseVarInt(buf[1:])
		if err != nil {
			return nil, 0, err
		}
		return &DataBlocked{Limit: v}, 1 + n, nil
	case t == TypeStreamDataBlocked:
		id, n1, err := parseVarInt(buf[1:])
		if err != nil {
			return nil, 0, err
		}
		limit, n2, err := parseVarInt(buf[1+n1:])
		if err != nil {
			return nil, 0, err
		}
		return &StreamDataBlocked{StreamID: id, Limit: limit}, 1 + n1 + n2, nil
	case t == TypeResetStream:
		return parseResetStream(buf)
	case t == TypeStopSending:
		id, n1, err := parseVarInt(buf[1:])
		if err != nil {
			return nil, 0, err
		}
		code, n2, err := parseVarInt(buf[1+n1:])
		if err != nil {
			return nil, 0, err
		}
		return &StopSending{StreamID: id, ErrorCode: code}, 1 + n1 + n2, nil
	case t == TypeCrypto:
		return parseCrypto(buf)
	case t >= TypeStreamBase && t <= TypeStreamBase|0x07:
		return parseStream(buf)
	case t == TypeNewConnectionID:
		return parseNewConnectionID(buf)
	case t == TypeRetireConnectionID:
		seq, n, err := parseVarInt(buf[1:])
		if err != nil {
			return nil, 0, err
		}
		return &RetireConnectionID{SequenceNumber: seq}, 1 + n, nil
	case t == TypeConnectionCloseQ || t == TypeConnectionCloseApp:
		return parseConnectionClose(buf)
	case t == TypeDatagram || t == TypeDatagramLen:
		return parseDatagram(buf)
	default:
		return nil, 0, &TransportError{
			Code:      ErrCodeFrameEncoding,
			FrameType: uint64(buf[0]),
			Reason:    fmt.Sprintf("unknown frame type 0x%x", buf[0]),
		}
	}
}

func parseVarInt(buf []byte) (varint.VarInt, int, error) {
	v, n, err := varint.Decode(buf)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return v, n, nil
}

func parseAck(buf []byte) (Frame, int, error) {
	ecn := buf[0] == TypeAckECN
	off := 1
	largest, n, err := parseVarInt(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	delay, n, err := parseVarInt(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	rangeCount, n, err := parseVarInt(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	firstRange, n, err := parseVarInt(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	if varint.VarInt(largest) < firstRange {
		return nil, 0, &TransportError{
			Code:      ErrCodeFrameEncoding,
			FrameType: uint64(buf[0]),
			Reason:    "ack first range exceeds largest acknowledged",
		}
	}
	f := &Ack{AckDelay: delay}
	f.Ranges = append(f.Ranges, AckRange{
		Smallest: uint64(largest) - uint64(firstRange),
		Largest:  uint64(largest),
	})
	prev := f.Ranges[0]
	for i := varint.VarInt(0); i < rangeCount; i++ {
		gap, n, err := parseVarInt(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		length, n, err := parseVarInt(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		if prev.Smallest < uint64(gap)+2+uint64(length) {
			return nil, 0, &TransportError{
				Code:      ErrCodeFrameEncoding,
				FrameType: uint64(buf[0]),
				Reason:    "ack range underflows packet number zero",
			}
		}
		largest := prev.Smallest - uint64(gap) - 2
		r := AckRange{Smallest: largest - uint64(length), Largest: largest}
		f.Ranges = append(f.Ranges, r)
		prev = r
	}
	if ecn {
		// Três contadores ECN; validados mas não retidos.
		for i := 0; i < 3; i++ {
			_, n, err := parseVarInt(buf[off:])
			if err != nil {
				return nil, 0, err
			}
			off += n
		}
	}
	return f, off, nil
}

func parseResetStream(buf []byte) (Frame, int, error) {
	off := 1
	id, n, err := parseVarInt(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	code, n, err := parseVarInt(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	final, n, err := parseVarInt(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	return &ResetStream{StreamID: id, ErrorCode: code, FinalSize: final}, off, nil
}

func parseCrypto(buf []byte) (Frame, int, error) {
	off := 1
	offset, n, err := parseVarInt(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	length, n, err := parseVarInt(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	if len(buf) < off+int(length) {
		return nil, 0, ErrTruncated
	}
	data := make([]byte, length)
	copy(data, buf[off:off+int(length)])
	return &Crypto{Offset: offset, Data: data}, off + int(length), nil
}

func parseStream(buf []byte) (Frame, int, error) {
	t := buf[0]
	hasOff := t&0x04 != 0
	hasLen := t&0x02 != 0
	fin := t&0x01 != 0
	off := 1
	id, n, err := parseVarInt(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	var offset varint.VarInt
	if hasOff {
		offset, n, err = parseVarInt(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
	}
	var data []byte
	if hasLen {
		length, n, err := parseVarInt(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		if len(buf) < off+int(length) {
			return nil, 0, ErrTruncated
		}
		data = make([]byte, length)
		copy(data, buf[off:off+int(length)])
		off += int(length)
	} else {
		// Sem LEN: o frame se estende até o fim do pacote.
		data = make([]byte, len(buf)-off)
		copy(data, buf[off:])
		off = len(buf)
	}
	return &Stream{StreamID: id, Offset: offset, Data: data, Fin: fin}, off, nil
}

func parseNewConnectionID(buf []byte) (Frame, int, error) {
	off := 1
	seq, n, err := parseVarInt(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	retire, n, err := parseVarInt(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	if len(buf) <= off {
		return nil, 0, ErrTruncated
	}
	cidLen := int(buf[off])
	off++
	if cidLen < 1 || cidLen > 20 {
		return nil, 0, &TransportError{
			Code:      ErrCodeFrameEncoding,
			FrameType: TypeNewConnectionID,
			Reason:    fmt.Sprintf("connection id length %d out of range", cidLen),
		}
	}
	if len(buf) < off+cidLen+16 {
		return nil, 0, ErrTruncated
	}
	f := &NewConnectionID{SequenceNumber: seq, RetirePriorTo: retire}
	f.ConnectionID = make([]byte, cidLen)
	copy(f.ConnectionID, buf[off:off+cidLen])
	off += cidLen
	copy(f.StatelessResetToken[:], buf[off:off+16])
	return f, off + 16, nil
}

func parseConnectionClose(buf []byte) (Frame, int, error) {
	app := buf[0] == TypeConnectionCloseApp
	off := 1
	code, n, err := parseVarInt(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	f := &ConnectionClose{Application: app, ErrorCode: code}
	if !app {
		ft, n, err := parseVarInt(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		f.FrameType = ft
	}
	reasonLen, n, err := parseVarInt(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	if len(buf) < off+int(reasonLen) {
		return nil, 0, ErrTruncated
	}
	f.ReasonPhrase = string(buf[off : off+int(reasonLen)])
	return f, off + int(reasonLen), nil
}

func parseDatagram(buf []byte) (Frame, int, error) {
	off := 1
	var data []byte
	if buf[0] == TypeDatagramLen {
		length, n, err := parseVarInt(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		if len(buf) < off+int(length) {
			return nil, 0, ErrTruncated
		}
		data = make([]byte, length)
		copy(data, buf[off:off+int(length)])
		off += int(length)
	} else {
		data = make([]byte, len(buf)-off)
		copy(data, buf[off:])
		off = len(buf)
	}
	return &Datagram{Data: data}, off, nil
}
