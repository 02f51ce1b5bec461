// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadBenchConfig_Defaults(t *testing.T) {
	path := writeConfig(t, "bench:\n  connections: 2\n")
	cfg, err := LoadBenchConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bench.Connections != 2 {
		t.Errorf("connections: want 2, got %d", cfg.Bench.Connections)
	}
	if cfg.Bench.StreamsPerConnection != 4 {
		t.Errorf("streams_per_connection default: want 4, got %d", cfg.Bench.StreamsPerConnection)
	}
	if cfg.Transport.InitialMaxStreamsBidiLocal != 100 {
		t.Errorf("bidi local default: want 100, got %d", cfg.Transport.InitialMaxStreamsBidiLocal)
	}
	if cfg.Transport.StreamsBlockedRetransmitPeriod != 100*time.Millisecond {
		t.Errorf("retransmit period default: want 100ms, got %v", cfg.Transport.StreamsBlockedRetransmitPeriod)
	}
	if cfg.Transport.PrioritizeDatagramsInitial {
		t.Error("prioritize_datagrams_initial must default to false")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadBenchConfig_FullFile(t *testing.T) {
	path := writeConfig(t, `
bench:
  connections: 8
  streams_per_connection: 16
  bytes_per_stream: 65536
  datagrams: 100
  datagram_size: 1000
  stats_schedule: "*/5 * * * *"
transport:
  initial_max_streams_bidi_local: 10
  initial_max_streams_uni_local: 5
  streams_blocked_retransmit_period: 250ms
  prioritize_datagrams_initial: true
  max_mtu: 9000
trace:
  enabled: true
  compression_mode: zst
  s3_bucket: bench-traces
  s3_region: us-east-1
pacing:
  max_bytes_per_sec: 10485760
`)
	cfg, err := LoadBenchConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport.InitialMaxStreamsBidiLocal != 10 || cfg.Transport.InitialMaxStreamsUniLocal != 5 {
		t.Errorf("stream limits: %+v", cfg.Transport)
	}
	if cfg.Transport.StreamsBlockedRetransmitPeriod != 250*time.Millisecond {
		t.Errorf("retransmit period: %v", cfg.Transport.StreamsBlockedRetransmitPeriod)
	}
	if !cfg.Transport.PrioritizeDatagramsInitial {
		t.Error("prioritize_datagrams_initial should be true")
	}
	if cfg.Trace.CompressionMode != "zst" || cfg.Trace.FileExtension() != ".jsonl.zst" {
		t.Errorf("trace: %+v ext=%s", cfg.Trace, cfg.Trace.FileExtension())
	}
	if cfg.Trace.Path == "" {
		t.Error("trace path default should be filled")
	}
	if cfg.Pacing.MaxBytesPerSec != 10485760 {
		t.Errorf("pacing: %d", cfg.Pacing.MaxBytesPerSec)
	}
}

func TestLoadBenchConfig_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad cron", "bench:\n  stats_schedule: \"not a cron\"\n"},
		{"mtu too small", "transport:\n  max_mtu: 800\n"},
		{"stream limit above 2^60", "transport:\n  initial_max_streams_bidi_local: 1152921504606846977\n"},
		{"bad compression", "trace:\n  enabled: true\n  compression_mode: lz4\n"},
		{"s3 without region", "trace:\n  enabled: true\n  s3_bucket: b\n"},
		{"negative pacing", "pacing:\n  max_bytes_per_sec: -1\n"},
	}
	for _, c := range cases {
		path := writeConfig(t, c.content)
		if _, err := LoadBenchConfig(path); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}

func TestLoadBenchConfig_MissingFile(t *testing.T) {
	if _, err := LoadBenchConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
