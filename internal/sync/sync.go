// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package sync implementa as máquinas de retransmissão de frames de
// controle: PeriodicSync para frames de flag com valor (STREAMS_BLOCKED),
// IncrementalValueSync para frames de valor monótono (MAX_STREAMS) e
// Flag para frames sem payload (PING).
//
// As três são paramétricas sobre o tipo de valor e uma capability de
// escrita que sabe serializar o valor como um frame específico.
package sync

import (
	"github.com/nishisan-dev/n-quic/internal/transmission"
)

// FrameWriter serializa um valor como um frame concreto dentro do
// contexto de escrita. Retorna o packet number e true, ou false se o
// frame não coube no pacote.
type FrameWriter[T any] interface {
	Write(value T, ctx transmission.WriteContext) (transmission.PacketNumber, bool)
}
