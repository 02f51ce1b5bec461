// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config carrega e valida a configuração YAML do driver de
// benchmark e os parâmetros de transporte das conexões.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/nishisan-dev/n-quic/internal/trace"
	"github.com/nishisan-dev/n-quic/internal/varint"
)

// BenchConfig representa a configuração completa do nquic-bench.
type BenchConfig struct {
	Bench     BenchInfo     `yaml:"bench"`
	Transport TransportInfo `yaml:"transport"`
	Logging   LoggingInfo   `yaml:"logging"`
	Trace     TraceInfo     `yaml:"trace"`
	Pacing    PacingInfo    `yaml:"pacing"`
}

// BenchInfo parametriza o cenário do benchmark.
type BenchInfo struct {
	// Connections é o número de pares de conexão simulados.
	Connections int `yaml:"connections"`

	// StreamsPerConnection é quantos streams bidi cada cliente abre.
	StreamsPerConnection int `yaml:"streams_per_connection"`

	// BytesPerStream é o volume enviado por stream.
	BytesPerStream int `yaml:"bytes_per_stream"`

	// Datagrams é quantos datagramas cada cliente envia.
	Datagrams int `yaml:"datagrams"`

	// DatagramSize é o tamanho de cada datagrama.
	DatagramSize int `yaml:"datagram_size"`

	// StatsSchedule é um cron spec para snapshots de estatísticas
	// (ex: "*/1 * * * *"). Vazio desabilita o agendamento.
	StatsSchedule string `yaml:"stats_schedule"`

	// DisableGSO só é registrado no log de início do benchmark; a troca
	// de pacotes é em processo e não passa por socket.
	DisableGSO bool `yaml:"disable_gso"`
}

// TransportInfo são os parâmetros de transporte das conexões.
type TransportInfo struct {
	InitialMaxStreamsBidiLocal  uint64 `yaml:"initial_max_streams_bidi_local"`
	InitialMaxStreamsUniLocal   uint64 `yaml:"initial_max_streams_uni_local"`
	InitialMaxStreamsBidiRemote uint64 `yaml:"initial_max_streams_bidi_remote"`
	InitialMaxStreamsUniRemote  uint64 `yaml:"initial_max_streams_uni_remote"`

	InitialMaxData       uint64 `yaml:"initial_max_data"`
	InitialMaxStreamData uint64 `yaml:"initial_max_stream_data"`

	MaxDatagramFrameSize int `yaml:"max_datagram_frame_size"`
	MaxMTU               int `yaml:"max_mtu"`

	StreamsBlockedRetransmitPeriod time.Duration `yaml:"streams_blocked_retransmit_period"`
	PrioritizeDatagramsInitial     bool          `yaml:"prioritize_datagrams_initial"`
}

// LoggingInfo configura o log estruturado.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Path   string `yaml:"path"`

	// ConnectionLogDir habilita um arquivo de log por conexão (debug).
	// Vazio desabilita.
	ConnectionLogDir string `yaml:"connection_log_dir"`
}

// TraceInfo configura o arquivo de trace e o arquivamento opcional.
type TraceInfo struct {
	Enabled         bool   `yaml:"enabled"`
	Path            string `yaml:"path"`
	CompressionMode string `yaml:"compression_mode"` // none|gzip|zst (default: gzip)

	// Arquivamento opcional em S3 ao final do benchmark.
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`
	S3Region string `yaml:"s3_region"`
}

// PacingInfo limita a taxa de transmissão simulada.
type PacingInfo struct {
	// MaxBytesPerSec limita os bytes de pacote por segundo por conexão.
	// 0 desabilita o pacing.
	MaxBytesPerSec int64 `yaml:"max_bytes_per_sec"`
}

// FileExtension retorna a extensão do arquivo de trace deste modo.
func (t TraceInfo) FileExtension() string {
	return trace.FileExtension(t.CompressionMode)
}

// LoadBenchConfig lê e valida o arquivo YAML de configuração.
func LoadBenchConfig(path string) (*BenchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bench config: %w", err)
	}

	var cfg BenchConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing bench config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating bench config: %w", err)
	}

	return &cfg, nil
}

// DefaultBenchConfig retorna a configuração com todos os defaults
// aplicados, sem arquivo.
func DefaultBenchConfig() *BenchConfig {
	cfg := &BenchConfig{}
	// validate só falha com valores explícitos inválidos.
	_ = cfg.validate()
	return cfg
}

func (c *BenchConfig) validate() error {
	if c.Bench.Connections <= 0 {
		c.Bench.Connections = 1
	}
	if c.Bench.StreamsPerConnection <= 0 {
		c.Bench.StreamsPerConnection = 4
	}
	if c.Bench.BytesPerStream <= 0 {
		c.Bench.BytesPerStream = 1 << 20
	}
	if c.Bench.Datagrams < 0 {
		return fmt.Errorf("bench.datagrams must be >= 0, got %d", c.Bench.Datagrams)
	}
	if c.Bench.DatagramSize <= 0 {
		c.Bench.DatagramSize = 512
	}
	if c.Bench.StatsSchedule != "" {
		if _, err := cron.ParseStandard(c.Bench.StatsSchedule); err != nil {
			return fmt.Errorf("bench.stats_schedule: %w", err)
		}
	}

	if c.Transport.InitialMaxStreamsBidiLocal == 0 {
		c.Transport.InitialMaxStreamsBidiLocal = 100
	}
	if c.Transport.InitialMaxStreamsUniLocal == 0 {
		c.Transport.InitialMaxStreamsUniLocal = 100
	}
	if c.Transport.InitialMaxStreamsBidiRemote == 0 {
		c.Transport.InitialMaxStreamsBidiRemote = 100
	}
	if c.Transport.InitialMaxStreamsUniRemote == 0 {
		c.Transport.InitialMaxStreamsUniRemote = 100
	}
	for name, v := range map[string]uint64{
		"initial_max_streams_bidi_local":  c.Transport.InitialMaxStreamsBidiLocal,
		"initial_max_streams_uni_local":   c.Transport.InitialMaxStreamsUniLocal,
		"initial_max_streams_bidi_remote": c.Transport.InitialMaxStreamsBidiRemote,
		"initial_max_streams_uni_remote":  c.Transport.InitialMaxStreamsUniRemote,
	} {
		if v > 1<<60 {
			return fmt.Errorf("transport.%s must be <= 2^60, got %d", name, v)
		}
	}
	if c.Transport.InitialMaxData == 0 {
		c.Transport.InitialMaxData = 1 << 24
	}
	if c.Transport.InitialMaxStreamData == 0 {
		c.Transport.InitialMaxStreamData = 1 << 20
	}
	if c.Transport.InitialMaxData > uint64(varint.Max) || c.Transport.InitialMaxStreamData > uint64(varint.Max) {
		return fmt.Errorf("transport flow control limits must fit in a varint")
	}
	if c.Transport.MaxDatagramFrameSize == 0 {
		c.Transport.MaxDatagramFrameSize = 1200
	}
	if c.Transport.MaxMTU == 0 {
		c.Transport.MaxMTU = 1500
	}
	if c.Transport.MaxMTU < 1200 {
		return fmt.Errorf("transport.max_mtu must be >= 1200, got %d", c.Transport.MaxMTU)
	}
	if c.Transport.StreamsBlockedRetransmitPeriod <= 0 {
		c.Transport.StreamsBlockedRetransmitPeriod = 100 * time.Millisecond
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Trace.Enabled {
		if c.Trace.CompressionMode == "" {
			c.Trace.CompressionMode = "gzip"
		}
		c.Trace.CompressionMode = strings.ToLower(strings.TrimSpace(c.Trace.CompressionMode))
		switch c.Trace.CompressionMode {
		case trace.CompressionNone, trace.CompressionGzip, trace.CompressionZstd:
		default:
			return fmt.Errorf("trace.compression_mode must be none, gzip or zst, got %q", c.Trace.CompressionMode)
		}
		if c.Trace.Path == "" {
			c.Trace.Path = "nquic-trace" + c.Trace.FileExtension()
		}
		if c.Trace.S3Bucket != "" && c.Trace.S3Region == "" {
			return fmt.Errorf("trace.s3_region is required when trace.s3_bucket is set")
		}
	}

	if c.Pacing.MaxBytesPerSec < 0 {
		return fmt.Errorf("pacing.max_bytes_per_sec must be >= 0, got %d", c.Pacing.MaxBytesPerSec)
	}

	return nil
}
