// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package trace

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/nishisan-dev/n-quic/internal/frame"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubscriber_CountsAckFrames(t *testing.T) {
	s := NewSubscriber(testLogger(), nil)

	ackFrame := &frame.Ack{Ranges: []frame.AckRange{{Smallest: 0, Largest: 3}}}
	s.OnFrameSent(ackFrame)
	s.OnFrameSent(frame.Ping{})
	s.OnFrameReceived(ackFrame)
	s.OnFrameReceived(&frame.Stream{StreamID: 0, Data: []byte("abc")})

	c := s.Snapshot()
	if c.AckTx != 1 || c.AckRx != 1 {
		t.Errorf("ack counters: tx=%d rx=%d, want 1/1", c.AckTx, c.AckRx)
	}
	if c.FramesTx != 2 || c.FramesRx != 2 {
		t.Errorf("frame counters: tx=%d rx=%d, want 2/2", c.FramesTx, c.FramesRx)
	}
	if c.BytesRx == 0 {
		t.Error("received bytes should be accounted")
	}
}

func readEvents(t *testing.T, r io.Reader) []Event {
	t.Helper()
	var events []Event
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad event line %q: %v", sc.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func TestSink_PlainRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace"+FileExtension(CompressionNone))
	s, err := NewSink(path, CompressionNone)
	if err != nil {
		t.Fatal(err)
	}
	s.Push("frame_sent", "ping")
	s.Push("connection_closed", "")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	events := readEvents(t, f)
	if len(events) != 2 || events[0].Kind != "frame_sent" || events[0].Detail != "ping" {
		t.Errorf("events: %+v", events)
	}
}

func TestSink_GzipRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace"+FileExtension(CompressionGzip))
	s, err := NewSink(path, CompressionGzip)
	if err != nil {
		t.Fatal(err)
	}
	s.Push("frame_sent", "stream")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("pgzip output must be standard gzip: %v", err)
	}
	events := readEvents(t, gz)
	if len(events) != 1 || events[0].Detail != "stream" {
		t.Errorf("events: %+v", events)
	}
}

func TestSink_ZstdRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace"+FileExtension(CompressionZstd))
	s, err := NewSink(path, CompressionZstd)
	if err != nil {
		t.Fatal(err)
	}
	s.Push("frame_received", "max_streams_bidi")
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	events := readEvents(t, zr)
	if len(events) != 1 || events[0].Detail != "max_streams_bidi" {
		t.Errorf("events: %+v", events)
	}
}

func TestSink_UnknownCompressionFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.out")
	if _, err := NewSink(path, "lz4"); err == nil {
		t.Fatal("unknown compression mode must fail")
	}
}

func TestSink_PushAfterCloseIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	s, err := NewSink(path, CompressionNone)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s.Push("frame_sent", "late") // não deve panicar nem gravar
}
