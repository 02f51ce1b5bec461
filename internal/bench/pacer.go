// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bench

import (
	"context"

	"golang.org/x/time/rate"
)

// maxBurstSize é o burst máximo do token bucket de pacing (64KB,
// alinhado a alguns pacotes de MTU cheio).
const maxBurstSize = 64 * 1024

// Pacer limita a taxa de bytes de pacote transmitidos por conexão,
// com um token bucket. Sem limite configurado é um no-op.
type Pacer struct {
	limiter *rate.Limiter
	ctx     context.Context
}

// NewPacer cria um Pacer com a taxa máxima em bytes/segundo.
// bytesPerSec <= 0 desabilita o pacing.
func NewPacer(ctx context.Context, bytesPerSec int64) *Pacer {
	if bytesPerSec <= 0 {
		return &Pacer{ctx: ctx}
	}
	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}
	return &Pacer{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

// Wait bloqueia até haver tokens para n bytes, respeitando o context.
// Pacotes maiores que o burst consomem em pedaços.
func (p *Pacer) Wait(n int) error {
	if p.limiter == nil {
		return nil
	}
	for n > 0 {
		chunk := n
		if chunk > p.limiter.Burst() {
			chunk = p.limiter.Burst()
		}
		if err := p.limiter.WaitN(p.ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
