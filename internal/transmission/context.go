// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transmission

import (
	"github.com/nishisan-dev/n-quic/internal/frame"
)

// PacketNumber identifica um pacote no espaço 1-RTT.
type PacketNumber uint64

// Mode seleciona a variante de payload de uma oportunidade de transmissão.
type Mode uint8

const (
	// ModeNormal monta um payload completo no caminho ativo.
	ModeNormal Mode = iota
	// ModeLossRecoveryProbing monta um payload Normal como probe de
	// recuperação de perda.
	ModeLossRecoveryProbing
	// ModeMtuProbing monta um pacote de sondagem de MTU.
	ModeMtuProbing
	// ModePathValidationOnly monta apenas frames de validação de caminho,
	// possivelmente num caminho não-ativo.
	ModePathValidationOnly
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeLossRecoveryProbing:
		return "loss_recovery_probing"
	case ModeMtuProbing:
		return "mtu_probing"
	case ModePathValidationOnly:
		return "path_validation_only"
	default:
		return "unknown"
	}
}

// Space identifica o espaço de packet numbers de um pacote. O core
// monta apenas pacotes do espaço de aplicação (1-RTT); Initial e
// Handshake pertencem ao provedor de handshake.
type Space uint8

const (
	// SpaceApplicationData é o espaço 1-RTT.
	SpaceApplicationData Space = iota
)

// Constraint descreve o que o controlador de congestionamento permite
// nesta oportunidade de transmissão.
type Constraint uint8

const (
	// ConstraintNone permite dados novos e retransmissões.
	ConstraintNone Constraint = iota
	// ConstraintRetransmissionOnly permite apenas retransmissões.
	ConstraintRetransmissionOnly
	// ConstraintCongestionLimited não permite nada além de ACKs.
	ConstraintCongestionLimited
)

// CanTransmit indica se dados novos podem ser enviados.
func (c Constraint) CanTransmit() bool { return c == ConstraintNone }

// CanRetransmit indica se dados perdidos podem ser reenviados.
func (c Constraint) CanRetransmit() bool {
	return c == ConstraintNone || c == ConstraintRetransmissionOnly
}

// IsCongestionLimited indica bloqueio total pelo congestionamento.
func (c Constraint) IsCongestionLimited() bool { return c == ConstraintCongestionLimited }

// WriteContext é o contrato consumido pelos produtores de frames durante
// a montagem de um pacote. Cada produtor escreve zero ou mais frames,
// respeitando a capacidade restante.
type WriteContext interface {
	// RemainingCapacity retorna os bytes ainda disponíveis no pacote.
	RemainingCapacity() int
	// Constraint retorna a restrição de congestionamento vigente.
	Constraint() Constraint
	// Mode retorna o modo de transmissão do pacote em montagem.
	Mode() Mode
	// WriteFrame tenta serializar f no pacote. Retorna o packet number
	// do pacote e true, ou false se não há espaço — caso em que o
	// produtor aborta o lote atual e mantém seu interesse para a
	// próxima oportunidade.
	WriteFrame(f frame.Frame) (PacketNumber, bool)
	// AckElicitation indica se algum frame ack-eliciting já foi escrito.
	AckElicitation() bool
	// PacketNumberSpace retorna o espaço do pacote em montagem.
	PacketNumberSpace() Space
}

// PacketContext é a implementação concreta de WriteContext usada pelo
// loop da conexão e pelos testes: serializa frames num buffer único,
// limitado pela capacidade observada na entrada.
type PacketContext struct {
	packetNumber PacketNumber
	constraint   Constraint
	mode         Mode
	capacity     int
	buf          []byte
	ackEliciting bool
	frames       []frame.Frame
}

// NewPacketContext cria um contexto para um pacote com a capacidade dada.
func NewPacketContext(pn PacketNumber, capacity int, constraint Constraint, mode Mode) *PacketContext {
	return &PacketContext{
		packetNumber: pn,
		constraint:   constraint,
		mode:         mode,
		capacity:     capacity,
	}
}

func (c *PacketContext) RemainingCapacity() int { return c.capacity - len(c.buf) }

func (c *PacketContext) Constraint() Constraint { return c.constraint }

func (c *PacketContext) Mode() Mode { return c.mode }

func (c *PacketContext) AckElicitation() bool { return c.ackEliciting }

func (c *PacketContext) PacketNumberSpace() Space { return SpaceApplicationData }

func (c *PacketContext) WriteFrame(f frame.Frame) (PacketNumber, bool) {
	if f.Len() > c.RemainingCapacity() {
		return 0, false
	}
	c.buf = f.Append(c.buf)
	c.frames = append(c.frames, f)
	if f.IsAckEliciting() {
		c.ackEliciting = true
	}
	return c.packetNumber, true
}

// Payload retorna os bytes serializados do pacote.
func (c *PacketContext) Payload() []byte { return c.buf }

// Frames retorna os frames escritos, na ordem de escrita.
func (c *PacketContext) Frames() []frame.Frame { return c.frames }

// PacketNumber retorna o packet number do pacote em montagem.
func (c *PacketContext) PacketNumber() PacketNumber { return c.packetNumber }

// IsEmpty indica se nenhum frame foi escrito.
func (c *PacketContext) IsEmpty() bool { return len(c.frames) == 0 }
