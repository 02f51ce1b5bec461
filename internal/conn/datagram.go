// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package conn

import (
	"errors"
	"fmt"

	"github.com/nishisan-dev/n-quic/internal/frame"
	"github.com/nishisan-dev/n-quic/internal/transmission"
)

// ErrDatagramTooLarge indica um datagrama maior que o frame máximo
// negociado. Datagramas nunca são fragmentados (RFC 9221 §5).
var ErrDatagramTooLarge = errors.New("conn: datagram exceeds peer max_datagram_frame_size")

// DatagramManager enfileira datagramas de aplicação. Um datagrama que
// não cabe no pacote corrente espera o próximo; com o flag de prioridade
// o produtor escreve antes do bloco de controle e dos streams, dando a
// datagramas perto do MTU um pacote inteiro em transmissões alternadas.
type DatagramManager struct {
	queue        [][]byte
	peerMaxFrame int // 0 = peer não aceita datagramas

	// Receive entrega datagramas recebidos. Opcional.
	Receive func(data []byte)
}

// NewDatagramManager cria o gerenciador com o max_datagram_frame_size
// anunciado pelo peer.
func NewDatagramManager(peerMaxFrame int) *DatagramManager {
	return &DatagramManager{peerMaxFrame: peerMaxFrame}
}

// Send enfileira um datagrama. Falha se o peer não aceita datagramas ou
// se o frame resultante excede o máximo negociado — fragmentação é
// proibida, então o erro é definitivo.
func (d *DatagramManager) Send(data []byte) error {
	if d.peerMaxFrame == 0 {
		return fmt.Errorf("%w: peer does not accept datagrams", ErrDatagramTooLarge)
	}
	f := &frame.Datagram{Data: data}
	if f.Len() > d.peerMaxFrame {
		return fmt.Errorf("%w: frame %d > %d", ErrDatagramTooLarge, f.Len(), d.peerMaxFrame)
	}
	d.queue = append(d.queue, data)
	return nil
}

// QueueLen retorna o número de datagramas aguardando envio.
func (d *DatagramManager) QueueLen() int { return len(d.queue) }

// TransmissionInterest retorna NewData enquanto houver fila.
func (d *DatagramManager) TransmissionInterest() transmission.Interest {
	if len(d.queue) > 0 {
		return transmission.InterestNewData
	}
	return transmission.InterestNone
}

// OnTransmit escreve datagramas da fila enquanto couberem. O primeiro
// que não couber interrompe o lote: a ordem de envio é preservada e
// nada é fragmentado.
func (d *DatagramManager) OnTransmit(ctx transmission.WriteContext, prioritized bool) {
	_ = prioritized // a prioridade muda QUANDO somos chamados, não o que escrevemos
	for len(d.queue) > 0 {
		f := &frame.Datagram{Data: d.queue[0]}
		if _, ok := ctx.WriteFrame(f); !ok {
			return
		}
		d.queue = d.queue[1:]
	}
}

// OnDatagramFrame ingere um DATAGRAM recebido.
func (d *DatagramManager) OnDatagramFrame(f *frame.Datagram) {
	if d.Receive != nil {
		d.Receive(f.Data)
	}
}
