// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// Modos de compressão do arquivo de trace.
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zst"
)

// Event é uma linha do arquivo de trace.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
}

// Sink grava eventos em JSONL, opcionalmente comprimido com gzip
// (pgzip paralelo) ou zstd.
type Sink struct {
	mu   sync.Mutex
	file *os.File
	w    io.Writer
	c    io.Closer // camada de compressão, se houver
	enc  *json.Encoder
	path string
}

// FileExtension retorna a extensão do arquivo de trace para o modo dado.
func FileExtension(compression string) string {
	switch compression {
	case CompressionZstd:
		return ".jsonl.zst"
	case CompressionGzip:
		return ".jsonl.gz"
	default:
		return ".jsonl"
	}
}

// NewSink abre o arquivo de trace no caminho dado com o modo de
// compressão indicado.
func NewSink(path, compression string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	s := &Sink{file: f, path: path}
	switch compression {
	case CompressionZstd:
		zw, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("creating zstd writer: %w", err)
		}
		s.w, s.c = zw, zw
	case CompressionGzip:
		gw := pgzip.NewWriter(f)
		s.w, s.c = gw, gw
	case CompressionNone, "":
		s.w = f
	default:
		f.Close()
		return nil, fmt.Errorf("unknown trace compression mode %q", compression)
	}
	s.enc = json.NewEncoder(s.w)
	return s, nil
}

// Path retorna o caminho do arquivo de trace.
func (s *Sink) Path() string { return s.path }

// Push grava um evento. Erros de I/O são silenciosos: trace nunca
// derruba a conexão.
func (s *Sink) Push(kind, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return
	}
	_ = s.enc.Encode(Event{Timestamp: time.Now(), Kind: kind, Detail: detail})
}

// Close drena a compressão e fecha o arquivo.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enc = nil
	if s.c != nil {
		if err := s.c.Close(); err != nil {
			s.file.Close()
			return fmt.Errorf("closing trace compressor: %w", err)
		}
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("closing trace file: %w", err)
	}
	return nil
}
