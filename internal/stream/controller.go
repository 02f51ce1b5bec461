// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"log/slog"
	"time"

	"github.com/nishisan-dev/n-quic/internal/ack"
	"github.com/nishisan-dev/n-quic/internal/clock"
	"github.com/nishisan-dev/n-quic/internal/frame"
	qsync "github.com/nishisan-dev/n-quic/internal/sync"
	"github.com/nishisan-dev/n-quic/internal/transmission"
	"github.com/nishisan-dev/n-quic/internal/varint"
)

// wakersInitialCapacity é a capacidade inicial da lista de wakers antes
// de crescer.
const wakersInitialCapacity = 5

// PollStatus é o resultado de uma tentativa de abertura de stream.
type PollStatus uint8

const (
	// PollReady indica que o stream foi aberto.
	PollReady PollStatus = iota
	// PollPending indica bloqueio no crédito do peer ou no limite local;
	// o waker registrado será invocado quando houver capacidade.
	PollPending
	// PollCancelled indica que a conexão fechou ou o token expirou.
	PollCancelled
)

// Limits é a configuração de concorrência dos quatro quadrantes.
type Limits struct {
	// MaxBidiLocal e MaxUniLocal limitam quantos streams locais podem
	// estar abertos simultaneamente, independente do crédito do peer.
	MaxBidiLocal varint.VarInt
	MaxUniLocal  varint.VarInt

	// MaxBidiRemote e MaxUniRemote são os limites anunciados ao peer
	// para streams iniciados por ele.
	MaxBidiRemote varint.VarInt
	MaxUniRemote  varint.VarInt

	// PeerBidi e PeerUni são os limites cumulativos iniciais recebidos
	// do peer nos transport parameters.
	PeerBidi varint.VarInt
	PeerUni  varint.VarInt

	// BlockedRetransmitPeriod é o período de retransmissão do
	// STREAMS_BLOCKED. Zero usa o default de 100ms.
	BlockedRetransmitPeriod time.Duration
}

// Controller coordena a concorrência de streams dos quatro quadrantes:
// bloqueia aberturas locais no crédito cumulativo do peer, anuncia novos
// MAX_STREAMS conforme streams remotos fecham e emite STREAMS_BLOCKED
// quando aberturas locais estagnam.
type Controller struct {
	bidiLocal  localController
	uniLocal   localController
	bidiRemote remoteController
	uniRemote  remoteController

	perspective Perspective
	clock       clock.Clock
	logger      *slog.Logger

	tokens  tokenCounter
	expired OpenToken
	closed  bool
}

// NewController cria o controlador com os limites configurados.
func NewController(limits Limits, p Perspective, clk clock.Clock, logger *slog.Logger) *Controller {
	period := limits.BlockedRetransmitPeriod
	c := &Controller{
		perspective: p,
		clock:       clk,
		logger:      logger.With("component", "stream_controller"),
	}
	c.bidiLocal = newLocalController(BidiLocal, limits.MaxBidiLocal, limits.PeerBidi, period)
	c.uniLocal = newLocalController(UniLocal, limits.MaxUniLocal, limits.PeerUni, period)
	c.bidiRemote = newRemoteController(BidiRemote, limits.MaxBidiRemote)
	c.uniRemote = newRemoteController(UniRemote, limits.MaxUniRemote)
	return c
}

func (c *Controller) local(t Type) *localController {
	if t == BidiLocal {
		return &c.bidiLocal
	}
	return &c.uniLocal
}

func (c *Controller) remote(t Type) *remoteController {
	if t == BidiRemote {
		return &c.bidiRemote
	}
	return &c.uniRemote
}

// PollOpen tenta abrir o próximo stream local do tipo t. Quando não há
// capacidade, registra o waker e devolve PollPending; o token emitido em
// *token identifica a espera e expira no fechamento da conexão.
func (c *Controller) PollOpen(t Type, waker Waker, token *OpenToken) (ID, PollStatus) {
	if !t.IsLocal() {
		panic("stream: PollOpen on remote-initiated type " + t.String())
	}
	if c.closed || (*token != 0 && *token <= c.expired) {
		return 0, PollCancelled
	}
	lc := c.local(t)
	if id, ok := lc.tryOpen(c.perspective); ok {
		return id, PollReady
	}
	if *token == 0 {
		*token = c.tokens.Issue()
	}
	lc.suspend(waker, c.clock.Now())
	return 0, PollPending
}

// OnOpenStream registra a abertura de um stream remoto do tipo t.
// Retorna erro de protocolo se o id implícito excede o limite anunciado.
func (c *Controller) OnOpenStream(t Type) error {
	if t.IsLocal() {
		panic("stream: OnOpenStream on local-initiated type " + t.String())
	}
	return c.remote(t).onOpen()
}

// OnCloseStream registra o encerramento de um stream do tipo t. Para
// tipos remotos o alvo do MAX_STREAMS avança; para tipos locais o
// crédito local liberado acorda esperas pendentes.
func (c *Controller) OnCloseStream(t Type) {
	if t.IsLocal() {
		c.local(t).onClose()
		return
	}
	c.remote(t).onClose()
}

// OnMaxStreamsFrame processa um MAX_STREAMS recebido. Limites que não
// crescem são ignorados (o limite do peer é monótono).
func (c *Controller) OnMaxStreamsFrame(t Type, limit varint.VarInt) {
	if !t.IsLocal() {
		// MAX_STREAMS fala do que NÓS podemos abrir.
		panic("stream: OnMaxStreamsFrame takes a local-initiated type")
	}
	c.local(t).onMaxStreams(limit)
}

// OnStreamsBlockedReceived processa um STREAMS_BLOCKED do peer.
// Informacional: o peer está estagnado no limite que anunciamos.
func (c *Controller) OnStreamsBlockedReceived(t Type, at varint.VarInt) {
	c.logger.Debug("peer streams blocked", "stream_type", t.String(), "at", uint64(at))
}

// OnTransmit emite MAX_STREAMS (bidi antes de uni) e STREAMS_BLOCKED
// (a recusa mais antiga primeiro).
func (c *Controller) OnTransmit(ctx transmission.WriteContext) {
	c.bidiRemote.sync.OnTransmit(ctx)
	c.uniRemote.sync.OnTransmit(ctx)

	first, second := &c.bidiLocal, &c.uniLocal
	if olderRefusal(&c.uniLocal, &c.bidiLocal) {
		first, second = &c.uniLocal, &c.bidiLocal
	}
	first.sync.OnTransmit(ctx)
	second.sync.OnTransmit(ctx)
}

// TransmissionInterest agrega o interesse das quatro máquinas de sync.
func (c *Controller) TransmissionInterest() transmission.Interest {
	i := c.bidiRemote.sync.TransmissionInterest()
	i = i.Merge(c.uniRemote.sync.TransmissionInterest())
	i = i.Merge(c.bidiLocal.sync.TransmissionInterest())
	return i.Merge(c.uniLocal.sync.TransmissionInterest())
}

// OnPacketAck encaminha reconhecimentos às máquinas de sync.
func (c *Controller) OnPacketAck(set *ack.Set) {
	c.bidiRemote.sync.OnPacketAck(set.Contains)
	c.uniRemote.sync.OnPacketAck(set.Contains)
	c.bidiLocal.sync.OnPacketAck(set.Contains)
	c.uniLocal.sync.OnPacketAck(set.Contains)
}

// OnPacketLoss encaminha perdas às máquinas de sync.
func (c *Controller) OnPacketLoss(set *ack.Set) {
	now := c.clock.Now()
	c.bidiRemote.sync.OnPacketLoss(set.Contains)
	c.uniRemote.sync.OnPacketLoss(set.Contains)
	c.bidiLocal.sync.OnPacketLoss(set.Contains, now)
	c.uniLocal.sync.OnPacketLoss(set.Contains, now)
}

// OnTimeout dirige os timers de retransmissão.
func (c *Controller) OnTimeout(now time.Time) {
	c.bidiLocal.sync.OnTimeout(now)
	c.uniLocal.sync.OnTimeout(now)
}

// Close cancela todas as esperas de abertura: os wakers pendentes são
// invocados exatamente uma vez e todo token emitido até aqui expira.
func (c *Controller) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.expired = c.tokens.Current()
	c.bidiLocal.drainWakers()
	c.uniLocal.drainWakers()
	c.bidiLocal.sync.Cancel()
	c.uniLocal.sync.Cancel()
}

// olderRefusal indica se a recusa pendente de a é mais antiga que a de b.
func olderRefusal(a, b *localController) bool {
	if a.blockedSince.IsZero() {
		return false
	}
	if b.blockedSince.IsZero() {
		return true
	}
	return a.blockedSince.Before(b.blockedSince)
}

// localController governa um quadrante iniciado localmente.
//
// opened é comparado contra o menor entre o teto local concorrente
// (maxLocal + closed) e o limite cumulativo do peer. O limite do peer
// nunca retrocede; o teto local libera crédito a cada fechamento.
type localController struct {
	streamType Type

	maxLocal  varint.VarInt
	peerLimit varint.VarInt
	opened    varint.VarInt
	closed    varint.VarInt

	sync         *qsync.PeriodicSync[varint.VarInt, streamsBlockedFrameWriter]
	wakers       []Waker
	blockedSince time.Time
}

func newLocalController(t Type, maxLocal, peerLimit varint.VarInt, period time.Duration) localController {
	return localController{
		streamType: t,
		maxLocal:   maxLocal,
		peerLimit:  peerLimit,
		sync:       qsync.NewPeriodicSync[varint.VarInt](streamsBlockedFrameWriter{bidi: t.IsBidi()}, period),
		wakers:     make([]Waker, 0, wakersInitialCapacity),
	}
}

// capacity retorna o teto corrente de aberturas cumulativas.
func (lc *localController) capacity() varint.VarInt {
	return lc.maxLocal.SaturatingAdd(lc.closed).Min(lc.peerLimit)
}

func (lc *localController) tryOpen(p Perspective) (ID, bool) {
	if lc.opened >= lc.capacity() {
		return 0, false
	}
	id := NewID(lc.opened, lc.streamType, p)
	lc.opened++
	lc.blockedSince = time.Time{}
	return id, true
}

func (lc *localController) suspend(waker Waker, now time.Time) {
	if lc.opened >= lc.peerLimit {
		// Recusa por crédito do peer: emite STREAMS_BLOCKED no limite
		// que causou o bloqueio.
		lc.sync.Request(now, lc.peerLimit)
		if lc.blockedSince.IsZero() {
			lc.blockedSince = now
		}
	}
	lc.wakers = append(lc.wakers, waker)
}

func (lc *localController) onClose() {
	lc.closed++
	// Crédito local liberado; quem esperava no teto concorrente pode
	// tentar de novo.
	lc.drainWakers()
}

func (lc *localController) onMaxStreams(limit varint.VarInt) {
	if limit <= lc.peerLimit {
		return
	}
	lc.peerLimit = limit
	// Qualquer STREAMS_BLOCKED pendente fala de um limite que já não
	// bloqueia ninguém.
	lc.sync.Cancel()
	lc.blockedSince = time.Time{}
	lc.drainWakers()
}

func (lc *localController) drainWakers() {
	wakers := lc.wakers
	lc.wakers = lc.wakers[:0]
	for _, w := range wakers {
		w.Wake()
	}
}

// remoteController governa um quadrante iniciado pelo peer.
type remoteController struct {
	streamType Type

	maxLocal varint.VarInt
	opened   varint.VarInt
	closed   varint.VarInt

	sync *qsync.IncrementalValueSync[varint.VarInt, maxStreamsFrameWriter]
}

func newRemoteController(t Type, maxLocal varint.VarInt) remoteController {
	return remoteController{
		streamType: t,
		maxLocal:   maxLocal,
		sync: qsync.NewIncrementalValueSync[varint.VarInt](
			maxStreamsFrameWriter{bidi: t.IsBidi()}, maxLocal),
	}
}

func (rc *remoteController) onOpen() error {
	if rc.opened >= rc.sync.Latest() {
		return frame.StreamLimitError(
			"peer opened " + rc.streamType.String() + " stream beyond advertised limit")
	}
	rc.opened++
	return nil
}

func (rc *remoteController) onClose() {
	rc.closed++
	rc.sync.Update(rc.maxLocal.SaturatingAdd(rc.closed))
}

// maxStreamsFrameWriter serializa um valor como frame MAX_STREAMS.
type maxStreamsFrameWriter struct{ bidi bool }

func (w maxStreamsFrameWriter) Write(v varint.VarInt, ctx transmission.WriteContext) (transmission.PacketNumber, bool) {
	return ctx.WriteFrame(&frame.MaxStreams{Bidi: w.bidi, Limit: v})
}

// streamsBlockedFrameWriter serializa um valor como frame STREAMS_BLOCKED.
type streamsBlockedFrameWriter struct{ bidi bool }

func (w streamsBlockedFrameWriter) Write(v varint.VarInt, ctx transmission.WriteContext) (transmission.PacketNumber, bool) {
	return ctx.WriteFrame(&frame.StreamsBlocked{Bidi: w.bidi, Limit: v})
}
