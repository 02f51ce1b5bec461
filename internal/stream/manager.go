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

// ManagerConfig parametriza o gerenciador de streams.
type ManagerConfig struct {
	Limits Limits

	// InitialMaxData é a janela de flow control da conexão, nas duas
	// direções.
	InitialMaxData varint.VarInt

	// InitialMaxStreamData é a janela de flow control por stream, nas
	// duas direções.
	InitialMaxStreamData varint.VarInt
}

// Manager gerencia os streams abertos da conexão e produz seus frames no
// pipeline de transmissão: STREAM, RESET_STREAM, STOP_SENDING, MAX_DATA,
// MAX_STREAM_DATA, DATA_BLOCKED, STREAM_DATA_BLOCKED e, via o controller
// que ele possui, MAX_STREAMS e STREAMS_BLOCKED.
type Manager struct {
	controller  *Controller
	perspective Perspective
	logger      *slog.Logger

	entries map[ID]*streamEntry
	active  []ID // fila round-robin de streams com dados a enviar

	// Flow control da conexão.
	peerMaxData varint.VarInt
	dataSent    varint.VarInt
	dataRecv    varint.VarInt
	connWindow  varint.VarInt
	maxDataSync *qsync.IncrementalValueSync[varint.VarInt, maxDataFrameWriter]
	dataBlocked *qsync.PeriodicSync[varint.VarInt, dataBlockedFrameWriter]

	streamWindow varint.VarInt

	// Índices mais altos já vistos por quadrante remoto, para registrar
	// aberturas implícitas em ordem.
	nextRemoteBidi varint.VarInt
	nextRemoteUni  varint.VarInt

	resetQueue []*frame.ResetStream
	stopQueue  []*frame.StopSending

	inFlight   map[transmission.PacketNumber][]chunk
	retransmit []chunk

	clock clock.Clock

	// Deliver recebe os bytes contíguos de cada stream à medida que
	// chegam. Opcional.
	Deliver func(id ID, data []byte, fin bool)
}

// maxDataFrameWriter serializa um valor como frame MAX_DATA.
type maxDataFrameWriter struct{}

func (w maxDataFrameWriter) Write(v varint.VarInt, ctx transmission.WriteContext) (transmission.PacketNumber, bool) {
	return ctx.WriteFrame(&frame.MaxData{Maximum: v})
}

// dataBlockedFrameWriter serializa um valor como frame DATA_BLOCKED.
type dataBlockedFrameWriter struct{}

func (w dataBlockedFrameWriter) Write(v varint.VarInt, ctx transmission.WriteContext) (transmission.PacketNumber, bool) {
	return ctx.WriteFrame(&frame.DataBlocked{Limit: v})
}

// maxStreamDataFrameWriter serializa um valor como frame MAX_STREAM_DATA.
type maxStreamDataFrameWriter struct{ id ID }

func (w maxStreamDataFrameWriter) Write(v varint.VarInt, ctx transmission.WriteContext) (transmission.PacketNumber, bool) {
	return ctx.WriteFrame(&frame.MaxStreamData{StreamID: varint.VarInt(w.id), Maximum: v})
}

// chunk é um trecho de STREAM em voo ou aguardando retransmissão.
type chunk struct {
	entry  *streamEntry
	offset varint.VarInt
	data   []byte
	fin    bool
}

type streamEntry struct {
	id  ID
	typ Type

	send *sendState
	recv *recvState

	closedReported bool
}

type sendState struct {
	offset      varint.VarInt // primeiro byte ainda não enviado
	queue       []byte
	fin         bool
	finSent     bool
	outstanding int // chunks em voo ou em fila de retransmissão
	reset       bool

	peerWindow   varint.VarInt
	blockedDirty bool
}

type recvState struct {
	segments   map[uint64][]byte
	next       varint.VarInt
	finAt        varint.VarInt
	hasFin       bool
	finDelivered bool
	done         bool
	windowSync *qsync.IncrementalValueSync[varint.VarInt, maxStreamDataFrameWriter]
}

// NewManager cria o Manager e o Controller que ele possui.
func NewManager(cfg ManagerConfig, peerMaxData varint.VarInt, p Perspective, clk clock.Clock, logger *slog.Logger) *Manager {
	m := &Manager{
		controller:   NewController(cfg.Limits, p, clk, logger),
		perspective:  p,
		logger:       logger.With("component", "stream_manager"),
		entries:      make(map[ID]*streamEntry),
		peerMaxData:  peerMaxData,
		connWindow:   cfg.InitialMaxData,
		streamWindow: cfg.InitialMaxStreamData,
		inFlight:     make(map[transmission.PacketNumber][]chunk),
		clock:        clk,
	}
	m.maxDataSync = qsync.NewIncrementalValueSync[varint.VarInt](maxDataFrameWriter{}, cfg.InitialMaxData)
	m.dataBlocked = qsync.NewPeriodicSync[varint.VarInt](dataBlockedFrameWriter{}, cfg.Limits.BlockedRetransmitPeriod)
	return m
}

// Controller expõe o controlador de concorrência (para ingestão de
// frames MAX_STREAMS/STREAMS_BLOCKED pela conexão).
func (m *Manager) Controller() *Controller { return m.controller }

// OpenStream tenta abrir um stream local do tipo t.
func (m *Manager) OpenStream(t Type, waker Waker, token *OpenToken) (ID, PollStatus) {
	id, status := m.controller.PollOpen(t, waker, token)
	if status != PollReady {
		return 0, status
	}
	e := &streamEntry{id: id, typ: t}
	e.send = &sendState{peerWindow: m.streamWindow}
	if t == BidiLocal {
		e.recv = m.newRecvState(id)
	}
	m.entries[id] = e
	return id, PollReady
}

func (m *Manager) newRecvState(id ID) *recvState {
	return &recvState{
		segments: make(map[uint64][]byte),
		windowSync: qsync.NewIncrementalValueSync[varint.VarInt](
			maxStreamDataFrameWriter{id: id}, m.streamWindow),
	}
}

// Write enfileira dados para envio no stream id.
func (m *Manager) Write(id ID, data []byte) error {
	e, ok := m.entries[id]
	if !ok || e.send == nil || e.send.fin || e.send.reset {
		return frame.ProtocolViolation("write on closed or receive-only stream")
	}
	e.send.queue = append(e.send.queue, data...)
	m.markActive(id)
	return nil
}

// Finish encerra o lado de envio do stream id (FIN).
func (m *Manager) Finish(id ID) error {
	e, ok := m.entries[id]
	if !ok || e.send == nil || e.send.reset {
		return frame.ProtocolViolation("finish on unknown or reset stream")
	}
	e.send.fin = true
	m.markActive(id)
	return nil
}

// Reset aborta o lado de envio do stream id com o código dado.
func (m *Manager) Reset(id ID, code varint.VarInt) error {
	e, ok := m.entries[id]
	if !ok || e.send == nil {
		return frame.ProtocolViolation("reset on unknown or receive-only stream")
	}
	if e.send.reset {
		return nil
	}
	finalSize := e.send.offset.SaturatingAdd(varint.VarInt(len(e.send.queue)))
	e.send.reset = true
	e.send.queue = nil
	m.resetQueue = append(m.resetQueue, &frame.ResetStream{
		StreamID:  varint.VarInt(id),
		ErrorCode: code,
		FinalSize: finalSize,
	})
	m.maybeClose(e)
	return nil
}

func (m *Manager) markActive(id ID) {
	for _, a := range m.active {
		if a == id {
			return
		}
	}
	m.active = append(m.active, id)
}

// OnStreamFrame ingere um frame STREAM recebido do peer.
func (m *Manager) OnStreamFrame(f *frame.Stream) error {
	e, err := m.entryForReceive(ID(f.StreamID))
	if err != nil {
		return err
	}
	if e.recv == nil {
		return frame.ProtocolViolation("STREAM frame on send-only stream")
	}
	r := e.recv
	if r.done {
		return nil
	}
	end := f.Offset.SaturatingAdd(varint.VarInt(len(f.Data)))
	if f.Fin {
		if r.hasFin && r.finAt != end {
			return frame.ProtocolViolation("inconsistent final size")
		}
		r.hasFin = true
		r.finAt = end
	}
	if len(f.Data) > 0 && end > r.next {
		r.segments[uint64(f.Offset)] = f.Data
	}
	m.drain(e)
	return nil
}

// entryForReceive resolve a entry do id, registrando aberturas remotas
// implícitas (todo índice menor do mesmo quadrante abre junto).
func (m *Manager) entryForReceive(id ID) (*streamEntry, error) {
	if e, ok := m.entries[id]; ok {
		return e, nil
	}
	t := id.Type(m.perspective)
	if t.IsLocal() {
		return nil, frame.ProtocolViolation("frame on local stream never opened")
	}
	next := &m.nextRemoteBidi
	if t == UniRemote {
		next = &m.nextRemoteUni
	}
	if id.Index() < *next {
		// Já aberto e esquecido (fechado); ignora criando entry efêmera.
		return &streamEntry{id: id, typ: t, recv: m.newRecvState(id), closedReported: true}, nil
	}
	var e *streamEntry
	for n := *next; n <= id.Index(); n++ {
		if err := m.controller.OnOpenStream(t); err != nil {
			return nil, err
		}
		nid := NewID(n, t, m.perspective)
		e = &streamEntry{id: nid, typ: t}
		e.recv = m.newRecvState(nid)
		if t == BidiRemote {
			e.send = &sendState{peerWindow: m.streamWindow}
		}
		m.entries[nid] = e
	}
	*next = id.Index() + 1
	return m.entries[id], nil
}

// drain entrega os bytes contíguos do stream e avança as janelas.
func (m *Manager) drain(e *streamEntry) {
	r := e.recv
	for {
		data, ok := r.segments[uint64(r.next)]
		if !ok {
			break
		}
		delete(r.segments, uint64(r.next))
		r.next = r.next.SaturatingAdd(varint.VarInt(len(data)))
		m.dataRecv = m.dataRecv.SaturatingAdd(varint.VarInt(len(data)))
		fin := r.hasFin && r.next == r.finAt
		if m.Deliver != nil {
			m.Deliver(e.id, data, fin)
		}
		if fin {
			r.finDelivered = true
		}
	}
	// Janela consumida → anuncia crédito novo.
	r.windowSync.Update(r.next.SaturatingAdd(m.streamWindow))
	m.maxDataSync.Update(m.dataRecv.SaturatingAdd(m.connWindow))

	if r.hasFin && r.next == r.finAt && !r.done {
		r.done = true
		if m.Deliver != nil && !r.finDelivered {
			m.Deliver(e.id, nil, true)
			r.finDelivered = true
		}
		m.maybeClose(e)
	}
}

// OnResetStreamFrame ingere um RESET_STREAM do peer.
func (m *Manager) OnResetStreamFrame(f *frame.ResetStream) error {
	e, err := m.entryForReceive(ID(f.StreamID))
	if err != nil {
		return err
	}
	if e.recv == nil {
		return frame.ProtocolViolation("RESET_STREAM on send-only stream")
	}
	if !e.recv.done {
		e.recv.done = true
		m.maybeClose(e)
	}
	return nil
}

// OnStopSendingFrame ingere um STOP_SENDING do peer: o lado de envio é
// abortado com o código recebido.
func (m *Manager) OnStopSendingFrame(f *frame.StopSending) error {
	e, ok := m.entries[ID(f.StreamID)]
	if !ok || e.send == nil {
		// Stream já fechado; nada a parar.
		return nil
	}
	return m.Reset(ID(f.StreamID), f.ErrorCode)
}

// OnMaxDataFrame eleva o crédito de dados da conexão.
func (m *Manager) OnMaxDataFrame(f *frame.MaxData) {
	if f.Maximum > m.peerMaxData {
		m.peerMaxData = f.Maximum
		m.dataBlocked.Cancel()
	}
}

// OnMaxStreamDataFrame eleva o crédito de dados de um stream.
func (m *Manager) OnMaxStreamDataFrame(f *frame.MaxStreamData) {
	e, ok := m.entries[ID(f.StreamID)]
	if !ok || e.send == nil {
		return
	}
	if f.Maximum > e.send.peerWindow {
		e.send.peerWindow = f.Maximum
		e.send.blockedDirty = false
		if len(e.send.queue) > 0 || e.send.fin {
			m.markActive(e.id)
		}
	}
}

// OnMaxStreamsFrame encaminha ao controller.
func (m *Manager) OnMaxStreamsFrame(t Type, limit varint.VarInt) {
	m.controller.OnMaxStreamsFrame(t, limit)
}

// OnStreamsBlockedFrame encaminha ao controller.
func (m *Manager) OnStreamsBlockedFrame(t Type, at varint.VarInt) {
	m.controller.OnStreamsBlockedReceived(t, at)
}

// OnDataBlockedFrame é informacional.
func (m *Manager) OnDataBlockedFrame(f *frame.DataBlocked) {
	m.logger.Debug("peer data blocked", "limit", uint64(f.Limit))
}

// maybeClose reporta o término do stream ao controller quando todos os
// lados aplicáveis completaram.
func (m *Manager) maybeClose(e *streamEntry) {
	if e.closedReported {
		return
	}
	sendDone := e.send == nil || e.send.reset ||
		(e.send.finSent && len(e.send.queue) == 0 && e.send.outstanding == 0)
	recvDone := e.recv == nil || e.recv.done
	if sendDone && recvDone {
		e.closedReported = true
		m.controller.OnCloseStream(e.typ)
		delete(m.entries, e.id)
	}
}

// TransmissionInterest agrega o interesse de todos os produtores do
// gerenciador.
func (m *Manager) TransmissionInterest() transmission.Interest {
	i := m.controller.TransmissionInterest()
	i = i.Merge(m.maxDataSync.TransmissionInterest())
	i = i.Merge(m.dataBlocked.TransmissionInterest())
	if len(m.retransmit) > 0 {
		i = i.Merge(transmission.InterestLostData)
	}
	if len(m.resetQueue) > 0 || len(m.stopQueue) > 0 {
		i = i.Merge(transmission.InterestNewData)
	}
	for _, id := range m.active {
		if e, ok := m.entries[id]; ok && m.sendable(e) > 0 {
			i = i.Merge(transmission.InterestNewData)
			break
		}
		if e, ok := m.entries[id]; ok && e.send != nil && e.send.fin && !e.send.finSent {
			i = i.Merge(transmission.InterestNewData)
			break
		}
	}
	for _, e := range m.entries {
		if e.recv != nil && e.recv.windowSync.TransmissionInterest() != transmission.InterestNone {
			i = i.Merge(transmission.InterestNewData)
			break
		}
		if e.send != nil && e.send.blockedDirty {
			i = i.Merge(transmission.InterestNewData)
			break
		}
	}
	return i
}

// sendable retorna quantos bytes do stream cabem nas janelas correntes.
func (m *Manager) sendable(e *streamEntry) int {
	if e.send == nil || e.send.reset {
		return 0
	}
	n := varint.VarInt(len(e.send.queue))
	if room := e.send.peerWindow - e.send.offset.Min(e.send.peerWindow); room < n {
		n = room
	}
	if m.peerMaxData > m.dataSent {
		if room := m.peerMaxData - m.dataSent; room < n {
			n = room
		}
	} else {
		n = 0
	}
	return int(n)
}

// OnTransmit escreve os frames do gerenciador no pacote, na ordem:
// limites de concorrência, créditos de flow control, resets,
// bloqueios, retransmissões e por fim dados novos; bloqueios detectados
// durante a escrita de dados novos saem ao final do mesmo pacote.
func (m *Manager) OnTransmit(ctx transmission.WriteContext) {
	m.controller.OnTransmit(ctx)
	m.maxDataSync.OnTransmit(ctx)
	for _, e := range m.entries {
		if e.recv != nil {
			e.recv.windowSync.OnTransmit(ctx)
		}
	}
	m.transmitResets(ctx)
	m.transmitBlocked(ctx)
	m.transmitRetransmissions(ctx)
	m.transmitNewData(ctx)
	// Bloqueios recém-detectados por transmitNewData.
	m.transmitBlocked(ctx)
}

func (m *Manager) transmitResets(ctx transmission.WriteContext) {
	for len(m.resetQueue) > 0 {
		if _, ok := ctx.WriteFrame(m.resetQueue[0]); !ok {
			return
		}
		m.resetQueue = m.resetQueue[1:]
	}
	for len(m.stopQueue) > 0 {
		if _, ok := ctx.WriteFrame(m.stopQueue[0]); !ok {
			return
		}
		m.stopQueue = m.stopQueue[1:]
	}
}

func (m *Manager) transmitBlocked(ctx transmission.WriteContext) {
	m.dataBlocked.OnTransmit(ctx)
	for _, id := range m.active {
		e, ok := m.entries[id]
		if !ok || e.send == nil || !e.send.blockedDirty {
			continue
		}
		f := &frame.StreamDataBlocked{StreamID: varint.VarInt(id), Limit: e.send.peerWindow}
		if _, ok := ctx.WriteFrame(f); ok {
			e.send.blockedDirty = false
		}
	}
}

func (m *Manager) transmitRetransmissions(ctx transmission.WriteContext) {
	for len(m.retransmit) > 0 {
		c := m.retransmit[0]
		f := &frame.Stream{
			StreamID: varint.VarInt(c.entry.id),
			Offset:   c.offset,
			Data:     c.data,
			Fin:      c.fin,
		}
		pn, ok := ctx.WriteFrame(f)
		if !ok {
			return
		}
		m.retransmit = m.retransmit[1:]
		m.inFlight[pn] = append(m.inFlight[pn], c)
	}
}

func (m *Manager) transmitNewData(ctx transmission.WriteContext) {
	// Round-robin: cada stream ativo envia um chunk por pacote enquanto
	// houver espaço, preservando justiça entre streams.
	for rounds := len(m.active); rounds > 0; rounds-- {
		id := m.active[0]
		m.active = m.active[1:]
		e, ok := m.entries[id]
		if !ok || e.send == nil || e.send.reset {
			continue
		}
		if !m.transmitChunk(ctx, e) {
			// Sem espaço no pacote; o stream continua ativo.
			m.active = append(m.active, id)
			return
		}
		if len(e.send.queue) > 0 || (e.send.fin && !e.send.finSent) {
			m.active = append(m.active, id)
		}
	}
}

// transmitChunk envia um trecho do stream. Retorna false se o pacote
// encheu.
func (m *Manager) transmitChunk(ctx transmission.WriteContext, e *streamEntry) bool {
	s := e.send
	n := m.sendable(e)
	overhead := streamOverhead(varint.VarInt(e.id), s.offset, n)
	space := ctx.RemainingCapacity() - overhead
	if space < 0 {
		return false
	}
	if n > space {
		n = space
	}
	if n == 0 {
		if len(s.queue) > 0 {
			// Bloqueio por janela, não por espaço no pacote.
			if s.offset >= s.peerWindow {
				s.blockedDirty = true
				return true
			}
			if m.dataSent >= m.peerMaxData {
				m.dataBlocked.Request(m.clock.Now(), m.peerMaxData)
				return true
			}
			return false
		}
		if !s.fin || s.finSent {
			return true
		}
	}
	fin := s.fin && n == len(s.queue)
	data := make([]byte, n)
	copy(data, s.queue[:n])
	f := &frame.Stream{
		StreamID: varint.VarInt(e.id),
		Offset:   s.offset,
		Data:     data,
		Fin:      fin,
	}
	pn, ok := ctx.WriteFrame(f)
	if !ok {
		return false
	}
	c := chunk{entry: e, offset: s.offset, data: data, fin: fin}
	m.inFlight[pn] = append(m.inFlight[pn], c)
	s.outstanding++
	s.queue = s.queue[n:]
	s.offset = s.offset.SaturatingAdd(varint.VarInt(n))
	m.dataSent = m.dataSent.SaturatingAdd(varint.VarInt(n))
	if fin {
		s.finSent = true
	}
	return true
}

// streamOverhead estima o cabeçalho de um frame STREAM para o pior caso
// do comprimento de dados n.
func streamOverhead(id, offset varint.VarInt, n int) int {
	return 1 + id.Len() + offset.Len() + varint.VarInt(n).Len()
}

// OnPacketAck processa reconhecimentos de pacotes com frames do
// gerenciador.
func (m *Manager) OnPacketAck(set *ack.Set) {
	m.controller.OnPacketAck(set)
	m.maxDataSync.OnPacketAck(set.Contains)
	m.dataBlocked.OnPacketAck(set.Contains)
	for _, e := range m.entries {
		if e.recv != nil {
			e.recv.windowSync.OnPacketAck(set.Contains)
		}
	}
	for pn, chunks := range m.inFlight {
		if !set.Contains(pn) {
			continue
		}
		delete(m.inFlight, pn)
		for _, c := range chunks {
			c.entry.send.outstanding--
			m.maybeClose(c.entry)
		}
	}
}

// OnPacketLoss reenfileira os chunks perdidos para retransmissão.
func (m *Manager) OnPacketLoss(set *ack.Set) {
	m.controller.OnPacketLoss(set)
	m.maxDataSync.OnPacketLoss(set.Contains)
	m.dataBlocked.OnPacketLoss(set.Contains, m.clock.Now())
	for _, e := range m.entries {
		if e.recv != nil {
			e.recv.windowSync.OnPacketLoss(set.Contains)
		}
	}
	for pn, chunks := range m.inFlight {
		if !set.Contains(pn) {
			continue
		}
		delete(m.inFlight, pn)
		for _, c := range chunks {
			c.entry.send.outstanding--
			m.retransmit = append(m.retransmit, c)
		}
	}
}

// OnTimeout dirige os timers dos sincronizadores.
func (m *Manager) OnTimeout(now time.Time) {
	m.controller.OnTimeout(now)
	m.dataBlocked.OnTimeout(now)
}

// Close cancela as esperas pendentes e descarta o estado de envio.
func (m *Manager) Close() {
	m.controller.Close()
	m.active = nil
	m.retransmit = nil
}
