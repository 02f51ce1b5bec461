// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package conn

import (
	"errors"
	"log/slog"
	"time"

	"lukechampine.com/frand"

	"github.com/nishisan-dev/n-quic/internal/ack"
	"github.com/nishisan-dev/n-quic/internal/clock"
	"github.com/nishisan-dev/n-quic/internal/frame"
	"github.com/nishisan-dev/n-quic/internal/path"
	"github.com/nishisan-dev/n-quic/internal/stream"
	qsync "github.com/nishisan-dev/n-quic/internal/sync"
	"github.com/nishisan-dev/n-quic/internal/transmission"
	"github.com/nishisan-dev/n-quic/internal/varint"
)

// ErrConnectionClosed indica operação numa conexão já encerrada.
var ErrConnectionClosed = errors.New("conn: connection closed")

// Subscriber observa eventos da conexão. Os assinantes apenas observam;
// nenhum caminho de controle passa por eles.
type Subscriber interface {
	OnFrameSent(f frame.Frame)
	OnFrameReceived(f frame.Frame)
	OnConnectionClosed(err error)
}

// NopSubscriber é um Subscriber que ignora tudo.
type NopSubscriber struct{}

func (NopSubscriber) OnFrameSent(frame.Frame)     {}
func (NopSubscriber) OnFrameReceived(frame.Frame) {}
func (NopSubscriber) OnConnectionClosed(error)    {}

// Config parametriza uma conexão.
type Config struct {
	Streams stream.ManagerConfig

	// PeerMaxData é o crédito de dados inicial concedido pelo peer.
	PeerMaxData varint.VarInt

	// PeerMaxDatagramFrame é o max_datagram_frame_size do peer
	// (0 = datagramas desabilitados).
	PeerMaxDatagramFrame int

	// MaxMTU limita a sondagem de MTU.
	MaxMTU int

	// PrioritizeDatagramsInitial é o estado inicial da alternância de
	// prioridade de datagramas.
	PrioritizeDatagramsInitial bool
}

// Connection é o estado de uma conexão no espaço 1-RTT. Todo o estado é
// mutado por uma única goroutine (modelo cooperativo); conexões
// distintas rodam em goroutines distintas sem nada compartilhado além
// de configuração imutável.
type Connection struct {
	perspective stream.Perspective
	logger      *slog.Logger
	clock       clock.Clock
	subscriber  Subscriber

	acks      *ack.Manager
	handshake *HandshakeStatus
	crypto    *CryptoStream
	datagrams *DatagramManager
	registry  *LocalIDRegistry
	resetSync *StatelessResetSync
	recovery  *RecoveryManager
	streams   *stream.Manager
	paths     *path.Manager
	ping      *qsync.Flag

	prioritizeDatagrams bool
	nextPN              transmission.PacketNumber

	closed     bool
	closeErr   error
	closeFrame *frame.ConnectionClose
	closeSent  bool
}

// New cria uma conexão pronta para o espaço 1-RTT (handshake entregue
// pelo provedor TLS externo).
func New(cfg Config, p stream.Perspective, clk clock.Clock, logger *slog.Logger, sub Subscriber) *Connection {
	if sub == nil {
		sub = NopSubscriber{}
	}
	logger = logger.With("component", "connection", "perspective", p.String())
	var resetKey [32]byte
	frand.Read(resetKey[:])
	registry := NewLocalIDRegistry(resetKey)
	c := &Connection{
		perspective:         p,
		logger:              logger,
		clock:               clk,
		subscriber:          sub,
		acks:                ack.NewManager(clk),
		handshake:           NewHandshakeStatus(p),
		crypto:              NewCryptoStream(),
		datagrams:           NewDatagramManager(cfg.PeerMaxDatagramFrame),
		registry:            registry,
		resetSync:           NewStatelessResetSync(registry),
		recovery:            NewRecoveryManager(clk),
		streams:             stream.NewManager(cfg.Streams, cfg.PeerMaxData, p, clk, logger),
		paths:               path.NewManager(cfg.MaxMTU, clk, logger),
		ping:                qsync.NewFlag(),
		prioritizeDatagrams: cfg.PrioritizeDatagramsInitial,
	}
	return c
}

// Streams expõe o gerenciador de streams.
func (c *Connection) Streams() *stream.Manager { return c.streams }

// Paths expõe o gerenciador de caminhos.
func (c *Connection) Paths() *path.Manager { return c.paths }

// Datagrams expõe o gerenciador de datagramas.
func (c *Connection) Datagrams() *DatagramManager { return c.datagrams }

// Crypto expõe o stream de handshake.
func (c *Connection) Crypto() *CryptoStream { return c.crypto }

// Handshake expõe o status do handshake.
func (c *Connection) Handshake() *HandshakeStatus { return c.handshake }

// Ping arma um PING explícito da aplicação.
func (c *Connection) Ping() { c.ping.Set() }

// CloseError retorna o motivo do encerramento, se houver.
func (c *Connection) CloseError() error { return c.closeErr }

// IsClosed indica se a conexão encerrou.
func (c *Connection) IsClosed() bool { return c.closed }

func (c *Connection) producers() transmission.Producers {
	return transmission.Producers{
		Ack:             c.acks,
		HandshakeStatus: c.handshake,
		DcManager:       c.resetSync,
		CryptoStream:    c.crypto,
		ActivePath:      c.paths.ActivePath(),
		LocalIDRegistry: c.registry,
		PathManager:     c.paths,
		DatagramManager: c.datagrams,
		StreamManager:   c.streams,
		RecoveryManager: c.recovery,
		Ping:            c.ping,
		MTUController:   c.paths.MTUController(),
	}
}

// TransmissionInterest agrega o interesse do payload Normal corrente.
func (c *Connection) TransmissionInterest() transmission.Interest {
	if c.closed {
		if c.closeSent {
			return transmission.InterestNone
		}
		return transmission.InterestForced
	}
	n := transmission.NewNormal(c.producers(), c.prioritizeDatagrams)
	return n.TransmissionInterest()
}

// Transmit monta um pacote para o modo e caminho dados. Retorna nil sem
// erro quando não há nada que valha um pacote.
func (c *Connection) Transmit(mode transmission.Mode, pathID path.ID, constraint transmission.Constraint) (*transmission.PacketContext, error) {
	if c.closed {
		return c.transmitClose()
	}

	producers := c.producers()
	if mode == transmission.ModePathValidationOnly {
		producers.TargetPath = c.paths.Path(pathID)
	}
	payload, err := transmission.NewPayload(mode, pathID == c.paths.ActivePathID(), producers, c.prioritizeDatagrams)
	if err != nil {
		return nil, err
	}

	interest := payload.TransmissionInterest()
	if !interest.CanSend() {
		return nil, nil
	}

	capacity := c.paths.MTUController().CurrentMTU()
	if mode == transmission.ModeMtuProbing {
		capacity = c.paths.MTUController().ProbeSize()
	}
	capacity = payload.SizeHint(capacity)

	ctx := transmission.NewPacketContext(c.nextPN, capacity, constraint, mode)
	payload.OnTransmit(ctx)
	if ctx.IsEmpty() {
		return nil, nil
	}

	if n, ok := payload.(*transmission.Normal); ok {
		c.prioritizeDatagrams = n.PrioritizeDatagrams()
	}
	c.nextPN++
	c.recovery.OnPacketSent(ctx.PacketNumber(), ctx.AckElicitation())
	for _, f := range ctx.Frames() {
		c.subscriber.OnFrameSent(f)
	}
	return ctx, nil
}

// transmitClose emite o CONNECTION_CLOSE uma única vez.
func (c *Connection) transmitClose() (*transmission.PacketContext, error) {
	if c.closeSent || c.closeFrame == nil {
		return nil, nil
	}
	ctx := transmission.NewPacketContext(c.nextPN, c.paths.MTUController().CurrentMTU(), transmission.ConstraintNone, transmission.ModeNormal)
	if _, ok := ctx.WriteFrame(c.closeFrame); !ok {
		return nil, nil
	}
	c.nextPN++
	c.closeSent = true
	c.subscriber.OnFrameSent(c.closeFrame)
	return ctx, nil
}

// Receive ingere o payload de um pacote recebido no caminho dado.
// Erros de transporte encerram a conexão imediatamente.
func (c *Connection) Receive(pn transmission.PacketNumber, pathID path.ID, payload []byte) error {
	if c.closed {
		return nil
	}
	ackEliciting := false
	buf := payload
	for len(buf) > 0 {
		f, n, err := frame.Parse(buf)
		if err != nil {
			c.fatal(err)
			return err
		}
		buf = buf[n:]
		if f == nil { // PADDING
			continue
		}
		if f.IsAckEliciting() {
			ackEliciting = true
		}
		c.subscriber.OnFrameReceived(f)
		if err := c.dispatch(f, pathID); err != nil {
			c.fatal(err)
			return err
		}
	}
	c.acks.OnPacketReceived(pn, ackEliciting)
	return nil
}

func (c *Connection) dispatch(f frame.Frame, pathID path.ID) error {
	switch fr := f.(type) {
	case frame.Ping:
		// Nada: o pacote já conta como ack-eliciting.
		return nil
	case frame.HandshakeDone:
		return c.handshake.OnHandshakeDoneReceived()
	case *frame.Ack:
		acked, lost := c.recovery.OnAckReceived(fr)
		c.distributeAck(acked)
		c.distributeLoss(lost)
		return nil
	case *frame.Crypto:
		c.crypto.OnCryptoFrame(fr)
		return nil
	case *frame.Stream:
		return c.streams.OnStreamFrame(fr)
	case *frame.ResetStream:
		return c.streams.OnResetStreamFrame(fr)
	case *frame.StopSending:
		return c.streams.OnStopSendingFrame(fr)
	case *frame.MaxData:
		c.streams.OnMaxDataFrame(fr)
		return nil
	case *frame.MaxStreamData:
		c.streams.OnMaxStreamDataFrame(fr)
		return nil
	case *frame.MaxStreams:
		// Fala dos streams que NÓS abrimos.
		if fr.Bidi {
			c.streams.OnMaxStreamsFrame(stream.BidiLocal, fr.Limit)
		} else {
			c.streams.OnMaxStreamsFrame(stream.UniLocal, fr.Limit)
		}
		return nil
	case *frame.StreamsBlocked:
		// O peer estagnou abrindo os streams dele.
		if fr.Bidi {
			c.streams.OnStreamsBlockedFrame(stream.BidiRemote, fr.Limit)
		} else {
			c.streams.OnStreamsBlockedFrame(stream.UniRemote, fr.Limit)
		}
		return nil
	case *frame.DataBlocked:
		c.streams.OnDataBlockedFrame(fr)
		return nil
	case *frame.StreamDataBlocked:
		c.logger.Debug("peer stream data blocked",
			"stream_id", uint64(fr.StreamID), "limit", uint64(fr.Limit))
		return nil
	case *frame.PathChallenge:
		c.paths.Path(pathID).OnPathChallengeReceived(fr.Data)
		return nil
	case *frame.PathResponse:
		c.paths.Path(pathID).OnPathResponseReceived(fr.Data)
		return nil
	case *frame.NewConnectionID:
		c.registry.OnNewConnectionIDFrame(fr)
		return nil
	case *frame.RetireConnectionID:
		return c.registry.OnRetireConnectionIDFrame(fr)
	case *frame.Datagram:
		c.datagrams.OnDatagramFrame(fr)
		return nil
	case *frame.ConnectionClose:
		c.logger.Info("peer closed connection",
			"code", uint64(fr.ErrorCode), "reason", fr.ReasonPhrase)
		c.shutdown(ErrConnectionClosed, nil)
		return nil
	default:
		return frame.ProtocolViolation("frame not allowed in 1-RTT packet")
	}
}

func (c *Connection) distributeAck(set *ack.Set) {
	if set.IsEmpty() {
		return
	}
	c.acks.OnPacketAck(set)
	c.streams.OnPacketAck(set)
	c.handshake.OnPacketAck(set.Contains)
	c.crypto.OnPacketAck(set.Contains)
	c.registry.OnPacketAck(set.Contains)
	c.resetSync.OnPacketAck(set.Contains)
	c.paths.OnPacketAck(set.Contains)
	c.ping.OnPacketAck(set.Contains)
}

func (c *Connection) distributeLoss(set *ack.Set) {
	if set.IsEmpty() {
		return
	}
	c.acks.OnPacketLoss(set)
	c.streams.OnPacketLoss(set)
	c.handshake.OnPacketLoss(set.Contains)
	c.crypto.OnPacketLoss(set.Contains)
	c.registry.OnPacketLoss(set.Contains)
	c.resetSync.OnPacketLoss(set.Contains)
	c.paths.OnPacketLoss(set.Contains)
	c.ping.OnPacketLoss(set.Contains)
}

// OnTimeout dirige todos os timers da conexão.
func (c *Connection) OnTimeout(now time.Time) {
	if c.closed {
		return
	}
	c.streams.OnTimeout(now)
	c.recovery.OnTimeout(now)
	c.paths.OnTimeout(now)
}

// Close encerra a conexão localmente com um erro de aplicação.
func (c *Connection) Close(code varint.VarInt, reason string) {
	c.shutdown(ErrConnectionClosed, &frame.ConnectionClose{
		Application:  true,
		ErrorCode:    code,
		ReasonPhrase: reason,
	})
}

// fatal encerra a conexão por erro de transporte.
func (c *Connection) fatal(err error) {
	var te *frame.TransportError
	cc := &frame.ConnectionClose{ErrorCode: frame.ErrCodeProtocolViolation}
	if errors.As(err, &te) {
		cc.ErrorCode = varint.VarInt(te.Code)
		cc.FrameType = varint.VarInt(te.FrameType)
		cc.ReasonPhrase = te.Reason
	}
	c.logger.Error("transport error", "error", err)
	c.shutdown(err, cc)
}

func (c *Connection) shutdown(err error, cc *frame.ConnectionClose) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeErr = err
	c.closeFrame = cc
	// Esperas de abertura resolvem em cancelamento, exatamente uma vez.
	c.streams.Close()
	c.subscriber.OnConnectionClosed(err)
}
