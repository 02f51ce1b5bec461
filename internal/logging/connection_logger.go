// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// fanOutHandler é um slog.Handler que despacha cada registro para dois handlers.
// Usado pelo logger de conexão para gravar simultaneamente no handler global e
// no arquivo de log dedicado da conexão.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	// Verifica Enabled() de cada handler individualmente antes de despachar.
	// Isso garante que registros DEBUG não são enviados ao handler primário
	// quando este aceita apenas INFO (ou superior).
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// Erros de escrita no arquivo da conexão não devem impedir o log global.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// NewConnectionLogger cria um logger que grava tanto no logger base (global)
// quanto em um arquivo dedicado para a conexão. O arquivo é criado em:
//
//	{connLogDir}/conn-{connID}.log
//
// Retorna o logger enriquecido, um io.Closer para fechar o arquivo e o path
// do arquivo criado (connLogDir unido ao nome; absoluto só se connLogDir
// for absoluto). O Closer DEVE ser chamado (defer) quando a conexão
// terminar.
//
// Se connLogDir for vazio, retorna o logger base sem modificações (no-op).
func NewConnectionLogger(baseLogger *slog.Logger, connLogDir string, connID uint64) (*slog.Logger, io.Closer, string, error) {
	if connLogDir == "" {
		return baseLogger, io.NopCloser(nil), "", nil
	}

	if err := os.MkdirAll(connLogDir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating connection log directory %s: %w", connLogDir, err)
	}

	logPath := filepath.Join(connLogDir, fmt.Sprintf("conn-%d.log", connID))
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening connection log file %s: %w", logPath, err)
	}

	// Arquivo da conexão sempre usa JSON com nível DEBUG para captura máxima.
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	combined := &fanOutHandler{
		primary:   baseLogger.Handler(),
		secondary: fileHandler,
	}

	return slog.New(combined).With("conn_id", connID), f, logPath, nil
}
