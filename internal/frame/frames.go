// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package frame implementa os frames QUIC v1 (RFC 9000 §19) usados no
// espaço de pacotes 1-RTT: codificação, decodificação e classificação.
package frame

import (
	"errors"
	"fmt"

	"github.com/nishisan-dev/n-quic/internal/varint"
)

// Tipos de frame (RFC 9000 §19).
const (
	TypePadding            = 0x00
	TypePing               = 0x01
	TypeAck                = 0x02
	TypeAckECN             = 0x03
	TypeResetStream        = 0x04
	TypeStopSending        = 0x05
	TypeCrypto             = 0x06
	TypeStreamBase         = 0x08 // 0x08..0x0f com bits OFF/LEN/FIN
	TypeMaxData            = 0x10
	TypeMaxStreamData      = 0x11
	TypeMaxStreamsBidi     = 0x12
	TypeMaxStreamsUni      = 0x13
	TypeDataBlocked        = 0x14
	TypeStreamDataBlocked  = 0x15
	TypeStreamsBlockedBidi = 0x16
	TypeStreamsBlockedUni  = 0x17
	TypeNewConnectionID    = 0x18
	TypeRetireConnectionID = 0x19
	TypePathChallenge      = 0x1a
	TypePathResponse       = 0x1b
	TypeConnectionCloseQ   = 0x1c // erro de transporte
	TypeConnectionCloseApp = 0x1d // erro de aplicação
	TypeHandshakeDone      = 0x1e
	TypeDatagram           = 0x30 // sem campo de length
	TypeDatagramLen        = 0x31 // com campo de length
)

// MaxStreamsLimit é o maior valor aceito num frame MAX_STREAMS ou
// STREAMS_BLOCKED (RFC 9000 §19.11: 2^60).
const MaxStreamsLimit = varint.VarInt(1 << 60)

// Códigos de erro de transporte (RFC 9000 §20.1).
const (
	ErrCodeNone              = 0x00
	ErrCodeFlowControl       = 0x03
	ErrCodeStreamLimit       = 0x04
	ErrCodeStreamState       = 0x05
	ErrCodeFrameEncoding     = 0x07
	ErrCodeProtocolViolation = 0x0a
)

// Erros de decodificação.
var (
	ErrTruncated   = errors.New("frame: truncated frame")
	ErrUnknownType = errors.New("frame: unknown frame type")
)

// TransportError é um erro fatal de conexão, mapeado para um
// CONNECTION_CLOSE com o código RFC 9000 correspondente.
type TransportError struct {
	Code      uint64
	FrameType uint64
	Reason    string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("frame: transport error 0x%x: %s", e.Code, e.Reason)
}

// StreamLimitError cria um TransportError STREAM_LIMIT_ERROR.
func StreamLimitError(reason string) *TransportError {
	return &TransportError{Code: ErrCodeStreamLimit, Reason: reason}
}

// ProtocolViolation cria um TransportError PROTOCOL_VIOLATION.
func ProtocolViolation(reason string) *TransportError {
	return &TransportError{Code: ErrCodeProtocolViolation, Reason: reason}
}

// Frame é qualquer frame serializável.
type Frame interface {
	// Len retorna o tamanho da codificação em bytes.
	Len() int
	// Append codifica o frame e anexa em buf.
	Append(buf []byte) []byte
	// IsAckEliciting indica se o frame solicita ACK do peer
	// (RFC 9000 §1: todos exceto ACK, PADDING e CONNECTION_CLOSE).
	IsAckEliciting() bool
}

// Padding preenche o pacote com Count bytes PADDING.
type Padding struct {
	Count int
}

// Ping solicita um ACK do peer. Sem payload.
type Ping struct{}

// HandshakeDone confirma o handshake para o cliente. Sem payload.
// Só pode ser enviado pelo servidor.
type HandshakeDone struct{}

// AckRange é um intervalo fechado de packet numbers reconhecidos.
type AckRange struct {
	Smallest uint64
	Largest  uint64
}

// Ack reconhece pacotes recebidos (RFC 9000 §19.3).
// Ranges deve estar ordenado do maior para o menor, sem sobreposição.
type Ack struct {
	AckDelay varint.VarInt
	Ranges   []AckRange // [maior ... menor]
}

// LargestAcked retorna o maior packet number reconhecido.
func (f *Ack) LargestAcked() uint64 {
	return f.Ranges[0].Largest
}

// MaxStreams informa ao peer o limite cumulativo de streams que ele pode
// abrir (RFC 9000 §19.11).
type MaxStreams struct {
	Bidi  bool
	Limit varint.VarInt
}

// StreamsBlocked informa que o emissor quer abrir um stream mas está
// bloqueado no limite do peer (RFC 9000 §19.14).
type StreamsBlocked struct {
	Bidi  bool
	Limit varint.VarInt
}

// PathChallenge carrega 8 bytes opacos para validação de caminho.
type PathChallenge struct {
	Data [8]byte
}

// PathResponse ecoa os 8 bytes de um PATH_CHALLENGE recebido.
type PathResponse struct {
	Data [8]byte
}

// MaxData informa o limite cumulativo de dados da conexão.
type MaxData struct {
	Maximum varint.VarInt
}

// MaxStreamData informa o limite cumulativo de dados de um stream.
type MaxStreamData struct {
	StreamID varint.VarInt
	Maximum  varint.VarInt
}

// DataBlocked indica bloqueio no limite de dados da conexão.
type DataBlocked struct {
	Limit varint.VarInt
}

// StreamDataBlocked indica bloqueio no limite de dados de um stream.
type StreamDataBlocked struct {
	StreamID varint.VarInt
	Limit    varint.VarInt
}

// ResetStream aborta abruptamente o lado de envio de um stream.
type ResetStream struct {
	StreamID  varint.VarInt
	ErrorCode varint.VarInt
	FinalSize varint.VarInt
}

// StopSending pede ao peer que pare de enviar num stream.
type StopSending struct {
	StreamID  varint.VarInt
	ErrorCode varint.VarInt
}

// Crypto carrega bytes de handshake TLS.
type Crypto struct {
	Offset varint.VarInt
	Data   []byte
}

// Stream carrega dados de aplicação de um stream (RFC 9000 §19.8).
// A codificação sempre inclui os campos Offset e Length explícitos.
type Stream struct {
	StreamID varint.VarInt
	Offset   varint.VarInt
	Data     []byte
	Fin      bool
}

// NewConnectionID fornece um connection ID alternativo ao peer.
type NewConnectionID struct {
	SequenceNumber      varint.VarInt
	RetirePriorTo       varint.VarInt
	ConnectionID        []byte // 1..20 bytes
	StatelessResetToken [16]byte
}

// RetireConnectionID indica que um connection ID não será mais usado.
type RetireConnectionID struct {
	SequenceNumber varint.VarInt
}

// ConnectionClose encerra a conexão com um código de erro.
type ConnectionClose struct {
	Application  bool
	ErrorCode    varint.VarInt
	FrameType    varint.VarInt // ausente na variante de aplicação
	ReasonPhrase string
}

// Datagram carrega um datagrama de aplicação (RFC 9221). Datagramas não
// podem ser fragmentados; um datagrama que não cabe no pacote é adiado
// ou descartado, nunca dividido.
type Datagram struct {
	Data []byte
}

func (Padding) IsAckEliciting() bool             { return false }
func (Ping) IsAckEliciting() bool                { return true }
func (HandshakeDone) IsAckEliciting() bool       { return true }
func (*Ack) IsAckEliciting() bool                { return false }
func (*MaxStreams) IsAckEliciting() bool         { return true }
func (*StreamsBlocked) IsAckEliciting() bool     { return true }
func (*PathChallenge) IsAckEliciting() bool      { return true }
func (*PathResponse) IsAckEliciting() bool       { return true }
func (*MaxData) IsAckEliciting() bool            { return true }
func (*MaxStreamData) IsAckEliciting() bool      { return true }
func (*DataBlocked) IsAckEliciting() bool        { return true }
func (*StreamDataBlocked) IsAckEliciting() bool  { return true }
func (*ResetStream) IsAckEliciting() bool        { return true }
func (*StopSending) IsAckEliciting() bool        { return true }
func (*Crypto) IsAckEliciting() bool             { return true }
func (*Stream) IsAckEliciting() bool             { return true }
func (*NewConnectionID) IsAckEliciting() bool    { return true }
func (*RetireConnectionID) IsAckEliciting() bool { return true }
func (*ConnectionClose) IsAckEliciting() bool    { return false }
func (*Datagram) IsAckEliciting() bool           { return true }
