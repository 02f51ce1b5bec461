// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package bench implementa o driver de benchmark: pares de conexão em
// processo trocando pacotes pelo pipeline de transmissão, com pacing,
// métricas de sistema e relatórios agendados.
package bench

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/n-quic/internal/clock"
	"github.com/nishisan-dev/n-quic/internal/config"
	"github.com/nishisan-dev/n-quic/internal/conn"
	"github.com/nishisan-dev/n-quic/internal/logging"
	"github.com/nishisan-dev/n-quic/internal/stream"
	"github.com/nishisan-dev/n-quic/internal/trace"
	"github.com/nishisan-dev/n-quic/internal/transmission"
	"github.com/nishisan-dev/n-quic/internal/varint"
)

// totals agrega o progresso de todos os pares.
type totals struct {
	bytesDelivered     atomic.Int64
	streamsCompleted   atomic.Int64
	datagramsDelivered atomic.Int64
	packets            atomic.Int64
	pairsDone          atomic.Int64
}

// Run executa o benchmark e bloqueia até terminar ou o context cancelar.
func Run(ctx context.Context, cfg *config.BenchConfig, logger *slog.Logger) error {
	logger.Info("bench starting",
		"connections", cfg.Bench.Connections,
		"streams_per_connection", cfg.Bench.StreamsPerConnection,
		"bytes_per_stream", cfg.Bench.BytesPerStream,
		"datagrams", cfg.Bench.Datagrams,
		"gso", !cfg.Bench.DisableGSO)

	var sink *trace.Sink
	if cfg.Trace.Enabled {
		var err error
		sink, err = trace.NewSink(cfg.Trace.Path, cfg.Trace.CompressionMode)
		if err != nil {
			return fmt.Errorf("opening trace sink: %w", err)
		}
	}
	sub := trace.NewSubscriber(logger, sink)

	monitor := NewSystemMonitor(logger)
	monitor.Start()
	defer monitor.Stop()

	tot := &totals{}
	start := time.Now()

	report := func(stage string) {
		sys := monitor.Stats()
		counters := sub.Snapshot()
		logger.Info("bench stats",
			"stage", stage,
			"elapsed_s", time.Since(start).Seconds(),
			"pairs_done", tot.pairsDone.Load(),
			"streams_completed", tot.streamsCompleted.Load(),
			"bytes_delivered", tot.bytesDelivered.Load(),
			"datagrams_delivered", tot.datagramsDelivered.Load(),
			"packets", tot.packets.Load(),
			"frames_tx", counters.FramesTx,
			"ack_tx", counters.AckTx,
			"ack_rx", counters.AckRx,
			"cpu_percent", sys.CPUPercent,
			"mem_percent", sys.MemoryPercent,
			"load_avg", sys.LoadAverage)
	}

	var scheduler *cron.Cron
	if cfg.Bench.StatsSchedule != "" {
		scheduler = cron.New(cron.WithLogger(cron.VerbosePrintfLogger(
			slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
		if _, err := scheduler.AddFunc(cfg.Bench.StatsSchedule, func() { report("scheduled") }); err != nil {
			return fmt.Errorf("scheduling stats reports: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Bench.Connections; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if err := runPair(ctx, idx, cfg, logger, sub, tot); err != nil {
				logger.Error("connection pair failed", "pair", idx, "error", err)
				return
			}
			tot.pairsDone.Add(1)
		}(i)
	}
	wg.Wait()

	report("final")

	if sink != nil {
		if err := sink.Close(); err != nil {
			logger.Error("closing trace sink", "error", err)
		} else if cfg.Trace.S3Bucket != "" {
			archiver, err := trace.NewArchiver(ctx, cfg.Trace.S3Bucket, cfg.Trace.S3Prefix, cfg.Trace.S3Region, logger)
			if err != nil {
				logger.Error("creating trace archiver", "error", err)
			} else if err := archiver.Upload(ctx, sink.Path()); err != nil {
				logger.Error("archiving trace", "error", err)
			}
		}
	}

	return ctx.Err()
}

func connConfig(t config.TransportInfo) conn.Config {
	return conn.Config{
		Streams: stream.ManagerConfig{
			Limits: stream.Limits{
				MaxBidiLocal:  varint.VarInt(t.InitialMaxStreamsBidiLocal),
				MaxUniLocal:   varint.VarInt(t.InitialMaxStreamsUniLocal),
				MaxBidiRemote: varint.VarInt(t.InitialMaxStreamsBidiRemote),
				MaxUniRemote:  varint.VarInt(t.InitialMaxStreamsUniRemote),
				// Simétrico: o peer anuncia os limites "remote" dele.
				PeerBidi:                varint.VarInt(t.InitialMaxStreamsBidiRemote),
				PeerUni:                 varint.VarInt(t.InitialMaxStreamsUniRemote),
				BlockedRetransmitPeriod: t.StreamsBlockedRetransmitPeriod,
			},
			InitialMaxData:       varint.VarInt(t.InitialMaxData),
			InitialMaxStreamData: varint.VarInt(t.InitialMaxStreamData),
		},
		PeerMaxData:                varint.VarInt(t.InitialMaxData),
		PeerMaxDatagramFrame:       t.MaxDatagramFrameSize,
		MaxMTU:                     t.MaxMTU,
		PrioritizeDatagramsInitial: t.PrioritizeDatagramsInitial,
	}
}

// runPair dirige um par cliente/servidor em processo até o cenário
// completar: N streams bidi com eco de FIN e D datagramas.
func runPair(ctx context.Context, idx int, cfg *config.BenchConfig, baseLogger *slog.Logger, sub *trace.Subscriber, tot *totals) error {
	logger, closer, _, err := logging.NewConnectionLogger(baseLogger, cfg.Logging.ConnectionLogDir, uint64(idx))
	if err != nil {
		return fmt.Errorf("creating connection logger: %w", err)
	}
	defer closer.Close()

	clk := clock.System()
	client := conn.New(connConfig(cfg.Transport), stream.Client, clk, logger, sub)
	server := conn.New(connConfig(cfg.Transport), stream.Server, clk, logger, sub)

	// Handshake entregue pelo provedor TLS externo; aqui só o sinal.
	server.Handshake().OnHandshakeComplete()
	client.Handshake().OnHandshakeComplete()

	var deliveredBytes int
	var completedStreams int
	server.Streams().Deliver = func(id stream.ID, data []byte, fin bool) {
		deliveredBytes += len(data)
		tot.bytesDelivered.Add(int64(len(data)))
		if fin {
			completedStreams++
			tot.streamsCompleted.Add(1)
			// Eco de fechamento do lado de envio do bidi remoto.
			_ = server.Streams().Finish(id)
		}
	}
	datagramsGot := 0
	server.Datagrams().Receive = func([]byte) {
		datagramsGot++
		tot.datagramsDelivered.Add(1)
	}

	for i := 0; i < cfg.Bench.Datagrams; i++ {
		payload := make([]byte, cfg.Bench.DatagramSize)
		if err := client.Datagrams().Send(payload); err != nil {
			return fmt.Errorf("queueing datagram: %w", err)
		}
	}

	pacer := NewPacer(ctx, cfg.Pacing.MaxBytesPerSec)
	payload := make([]byte, cfg.Bench.BytesPerStream)

	opened := 0
	wake := make(chan struct{}, 1)
	waker := stream.WakerFunc(func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	var token stream.OpenToken

	pumpOne := func(src, dst *conn.Connection) (bool, error) {
		pctx, err := src.Transmit(transmission.ModeNormal, src.Paths().ActivePathID(), transmission.ConstraintNone)
		if err != nil {
			return false, err
		}
		if pctx == nil {
			return false, nil
		}
		if err := pacer.Wait(len(pctx.Payload())); err != nil {
			return false, err
		}
		tot.packets.Add(1)
		if err := dst.Receive(pctx.PacketNumber(), 0, pctx.Payload()); err != nil {
			return false, err
		}
		return true, nil
	}

	deadline := time.Now().Add(2 * time.Minute)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("pair %d stalled: %d/%d streams, %d bytes", idx,
				completedStreams, cfg.Bench.StreamsPerConnection, deliveredBytes)
		}

		// Abre streams até o alvo; bloqueios resolvem via waker quando o
		// crédito de MAX_STREAMS chega.
		for opened < cfg.Bench.StreamsPerConnection {
			id, status := client.Streams().OpenStream(stream.BidiLocal, waker, &token)
			if status != stream.PollReady {
				break
			}
			token = 0
			opened++
			if err := client.Streams().Write(id, payload); err != nil {
				return fmt.Errorf("writing stream payload: %w", err)
			}
			if err := client.Streams().Finish(id); err != nil {
				return fmt.Errorf("finishing stream: %w", err)
			}
		}

		moved := false
		for _, pair := range [][2]*conn.Connection{{client, server}, {server, client}} {
			m, err := pumpOne(pair[0], pair[1])
			if err != nil {
				return err
			}
			moved = moved || m
		}

		now := time.Now()
		client.OnTimeout(now)
		server.OnTimeout(now)

		done := completedStreams >= cfg.Bench.StreamsPerConnection &&
			opened >= cfg.Bench.StreamsPerConnection &&
			datagramsGot >= cfg.Bench.Datagrams
		if done && !moved {
			break
		}
		if !moved {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wake:
			case <-time.After(time.Millisecond):
			}
		}
	}

	client.Close(0, "bench complete")
	if pctx, err := client.Transmit(transmission.ModeNormal, 0, transmission.ConstraintNone); err == nil && pctx != nil {
		_ = server.Receive(pctx.PacketNumber(), 0, pctx.Payload())
	}

	logger.Debug("pair complete",
		"pair", idx,
		"streams", completedStreams,
		"bytes", deliveredBytes,
		"datagrams", datagramsGot)
	return nil
}
