// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package trace implementa os assinantes de eventos da conexão: o
// contador de frames, o sink JSONL comprimido e o arquivador opcional
// para S3. Assinantes apenas observam — nenhum caminho de controle da
// conexão passa por aqui.
package trace

import (
	"log/slog"
	"sync/atomic"

	"github.com/nishisan-dev/n-quic/internal/frame"
)

// Counters acumula métricas por conexão.
type Counters struct {
	FramesTx uint64 `json:"frames_tx"`
	FramesRx uint64 `json:"frames_rx"`
	AckTx    uint64 `json:"ack_tx"`
	AckRx    uint64 `json:"ack_rx"`
	BytesTx  uint64 `json:"bytes_tx"`
	BytesRx  uint64 `json:"bytes_rx"`
}

// Subscriber conta frames e bytes trafegados e, opcionalmente, grava
// cada evento num Sink.
type Subscriber struct {
	framesTx atomic.Uint64
	framesRx atomic.Uint64
	ackTx    atomic.Uint64
	ackRx    atomic.Uint64
	bytesTx  atomic.Uint64
	bytesRx  atomic.Uint64

	logger *slog.Logger
	sink   *Sink
}

// NewSubscriber cria o assinante. sink pode ser nil.
func NewSubscriber(logger *slog.Logger, sink *Sink) *Subscriber {
	return &Subscriber{
		logger: logger.With("component", "trace"),
		sink:   sink,
	}
}

// OnFrameSent registra um frame transmitido.
func (s *Subscriber) OnFrameSent(f frame.Frame) {
	s.framesTx.Add(1)
	s.bytesTx.Add(uint64(f.Len()))
	if _, ok := f.(*frame.Ack); ok {
		s.ackTx.Add(1)
	}
	if s.sink != nil {
		s.sink.Push("frame_sent", frameName(f))
	}
}

// OnFrameReceived registra um frame recebido.
func (s *Subscriber) OnFrameReceived(f frame.Frame) {
	s.framesRx.Add(1)
	s.bytesRx.Add(uint64(f.Len()))
	if _, ok := f.(*frame.Ack); ok {
		s.ackRx.Add(1)
	}
	if s.sink != nil {
		s.sink.Push("frame_received", frameName(f))
	}
}

// OnConnectionClosed loga o snapshot final da conexão.
func (s *Subscriber) OnConnectionClosed(err error) {
	c := s.Snapshot()
	s.logger.Info("connection closed",
		"error", err,
		"frames_tx", c.FramesTx, "frames_rx", c.FramesRx,
		"ack_tx", c.AckTx, "ack_rx", c.AckRx,
		"bytes_tx", c.BytesTx, "bytes_rx", c.BytesRx)
	if s.sink != nil {
		s.sink.Push("connection_closed", "")
	}
}

// Snapshot retorna os contadores correntes.
func (s *Subscriber) Snapshot() Counters {
	return Counters{
		FramesTx: s.framesTx.Load(),
		FramesRx: s.framesRx.Load(),
		AckTx:    s.ackTx.Load(),
		AckRx:    s.ackRx.Load(),
		BytesTx:  s.bytesTx.Load(),
		BytesRx:  s.bytesRx.Load(),
	}
}

func frameName(f frame.Frame) string {
	switch fr := f.(type) {
	case frame.Ping:
		return "ping"
	case frame.HandshakeDone:
		return "handshake_done"
	case frame.Padding:
		return "padding"
	case *frame.Ack:
		return "ack"
	case *frame.Stream:
		return "stream"
	case *frame.Crypto:
		return "crypto"
	case *frame.Datagram:
		return "datagram"
	case *frame.MaxStreams:
		if fr.Bidi {
			return "max_streams_bidi"
		}
		return "max_streams_uni"
	case *frame.StreamsBlocked:
		if fr.Bidi {
			return "streams_blocked_bidi"
		}
		return "streams_blocked_uni"
	case *frame.MaxData:
		return "max_data"
	case *frame.MaxStreamData:
		return "max_stream_data"
	case *frame.DataBlocked:
		return "data_blocked"
	case *frame.StreamDataBlocked:
		return "stream_data_blocked"
	case *frame.ResetStream:
		return "reset_stream"
	case *frame.StopSending:
		return "stop_sending"
	case *frame.NewConnectionID:
		return "new_connection_id"
	case *frame.RetireConnectionID:
		return "retire_connection_id"
	case *frame.PathChallenge:
		return "path_challenge"
	case *frame.PathResponse:
		return "path_response"
	case *frame.ConnectionClose:
		return "connection_close"
	default:
		return "unknown"
	}
}
