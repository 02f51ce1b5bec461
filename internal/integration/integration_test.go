// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package integration

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nishisan-dev/n-quic/internal/bench"
	"github.com/nishisan-dev/n-quic/internal/config"
)

// TestEndToEnd_ConfigFileToBenchRun testa o fluxo completo:
// arquivo YAML → config validada → bench com trace → arquivo de trace
// comprimido legível com os eventos esperados.
func TestEndToEnd_ConfigFileToBenchRun(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "trace.jsonl.gz")

	cfgYAML := `
bench:
  connections: 2
  streams_per_connection: 2
  bytes_per_stream: 8192
  datagrams: 4
  datagram_size: 300
transport:
  initial_max_streams_bidi_remote: 1
  streams_blocked_retransmit_period: 50ms
trace:
  enabled: true
  compression_mode: gzip
  path: ` + tracePath + `
logging:
  level: debug
  format: json
`
	cfgPath := filepath.Join(dir, "bench.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.LoadBenchConfig(cfgPath)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	if err := bench.Run(ctx, cfg, logger); err != nil {
		t.Fatalf("bench run: %v", err)
	}

	// O trace deve conter streams, datagramas e o crédito de MAX_STREAMS
	// forçado pelo limite de 1 stream concorrente.
	f, err := os.Open(tracePath)
	if err != nil {
		t.Fatalf("opening trace: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("trace must be gzip: %v", err)
	}

	kinds := map[string]int{}
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		var e struct {
			Kind   string `json:"kind"`
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad trace line %q: %v", sc.Text(), err)
		}
		kinds[e.Kind+":"+e.Detail]++
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"frame_sent:stream",
		"frame_received:stream",
		"frame_sent:datagram",
		"frame_sent:ack",
		"frame_sent:max_streams_bidi",
	} {
		if kinds[want] == 0 {
			t.Errorf("trace missing %s events (got %v)", want, kinds)
		}
	}
}
