// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

// Waker é a capability de retomada de um open_stream suspenso. O
// scheduler cooperativo da conexão trata o handle como token de resume;
// nenhuma sinalização entre threads acontece aqui.
type Waker interface {
	Wake()
}

// WakerFunc adapta uma função a Waker.
type WakerFunc func()

// Wake invoca a função.
func (f WakerFunc) Wake() { f() }

// OpenToken identifica uma tentativa de abertura suspensa. Tokens são
// monotonicamente crescentes por conexão; no fechamento da conexão o
// limiar de expiração avança até o contador corrente e qualquer poll
// subsequente com token antigo resolve em cancelamento.
type OpenToken uint64

// tokenCounter emite OpenTokens.
type tokenCounter struct {
	next OpenToken
}

// Issue emite o próximo token.
func (c *tokenCounter) Issue() OpenToken {
	c.next++
	return c.next
}

// Current retorna o último token emitido.
func (c *tokenCounter) Current() OpenToken { return c.next }
