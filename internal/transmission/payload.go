// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transmission

import (
	"fmt"
)

// Producer é um produtor de frames convidado pelo payload a escrever no
// pacote.
type Producer interface {
	OnTransmit(ctx WriteContext)
	TransmissionInterest() Interest
}

// AckProducer é o gerenciador de ACK, com o aperto de mão de fim de
// pacote (OnTransmitComplete) quando um ACK foi escrito.
type AckProducer interface {
	OnTransmit(ctx WriteContext) bool
	OnTransmitComplete(ctx WriteContext)
	TransmissionInterest() Interest
}

// DatagramProducer é o gerenciador de datagramas; recebe o flag de
// prioridade do pacote corrente.
type DatagramProducer interface {
	OnTransmit(ctx WriteContext, prioritized bool)
	TransmissionInterest() Interest
}

// Producers reúne as referências mutáveis disjuntas da conexão que o
// payload convida a escrever. A conexão monta o struct a cada
// oportunidade; nenhum produtor guarda ponteiro de volta.
type Producers struct {
	Ack             AckProducer
	HandshakeStatus Producer
	DcManager       Producer
	CryptoStream    Producer
	ActivePath      Producer
	LocalIDRegistry Producer
	PathManager     Producer
	DatagramManager DatagramProducer
	StreamManager   Producer
	RecoveryManager Producer
	Ping            Producer

	// MTUController e TargetPath servem os modos MtuProbing e
	// PathValidationOnly.
	MTUController Producer
	TargetPath    Producer
}

// Payload é uma variante de montagem de pacote do espaço 1-RTT.
type Payload interface {
	// SizeHint retorna o tamanho mínimo útil do pacote. Sempre ≥ 1:
	// precisa haver espaço para um HANDSHAKE_DONE ou PING mínimo.
	SizeHint(min int) int
	OnTransmit(ctx WriteContext)
	TransmissionInterest() Interest
}

// NewPayload seleciona a variante para o modo dado. Modos Normal e
// LossRecoveryProbing exigem o caminho ativo.
func NewPayload(mode Mode, pathIsActive bool, p Producers, prioritizeDatagrams bool) (Payload, error) {
	switch mode {
	case ModeNormal, ModeLossRecoveryProbing:
		if !pathIsActive {
			return nil, fmt.Errorf("transmission: %v payload requires the active path", mode)
		}
		return &Normal{producers: p, prioritizeDatagrams: prioritizeDatagrams}, nil
	case ModeMtuProbing:
		return &MtuProbe{mtu: p.MTUController}, nil
	case ModePathValidationOnly:
		return &PathValidationOnly{path: p.TargetPath}, nil
	default:
		return nil, fmt.Errorf("transmission: unknown mode %d", mode)
	}
}

// Normal é o payload completo do caminho ativo. A ordem de escrita é
// contrato de wire: HANDSHAKE_DONE e o reset-sync do dc são transições
// de estado sensíveis a tempo; crypto e validação de caminho não podem
// ser afogados por dados de stream; datagramas entram antes dos streams
// porque não podem ser fragmentados (RFC 9221 §5); PING sai por último
// porque só é necessário se o pacote ainda não for ack-eliciting.
type Normal struct {
	producers           Producers
	prioritizeDatagrams bool
}

// NewNormal cria o payload Normal com o estado inicial do flag de
// prioridade de datagramas.
func NewNormal(p Producers, prioritizeDatagrams bool) *Normal {
	return &Normal{producers: p, prioritizeDatagrams: prioritizeDatagrams}
}

func (n *Normal) SizeHint(min int) int {
	if min < 1 {
		return 1
	}
	return min
}

func (n *Normal) OnTransmit(ctx WriteContext) {
	p := &n.producers
	canTransmit := ctx.Constraint().CanTransmit() || ctx.Constraint().CanRetransmit()

	// Datagramas grandes perto do MTU precisam de um pacote inteiro de
	// vez em quando: em pacotes alternados eles escrevem primeiro.
	if n.prioritizeDatagrams && canTransmit {
		p.DatagramManager.OnTransmit(ctx, true)
	}

	didSendAck := p.Ack.OnTransmit(ctx)

	if canTransmit {
		n.transmitControlData(ctx)

		if !n.prioritizeDatagrams {
			p.DatagramManager.OnTransmit(ctx, false)
		}

		p.StreamManager.OnTransmit(ctx)

		p.RecoveryManager.OnTransmit(ctx)
		p.Ping.OnTransmit(ctx)
	}

	if didSendAck {
		p.Ack.OnTransmitComplete(ctx)
	}

	n.prioritizeDatagrams = !n.prioritizeDatagrams
}

// transmitControlData escreve o bloco de controle, na ordem fixa.
func (n *Normal) transmitControlData(ctx WriteContext) {
	p := &n.producers

	// HANDSHAKE_DONE primeiro: confirma o handshake o quanto antes.
	p.HandshakeStatus.OnTransmit(ctx)

	// Tokens de stateless reset em seguida, pelo mesmo motivo.
	p.DcManager.OnTransmit(ctx)

	p.CryptoStream.OnTransmit(ctx)

	// PATH_CHALLENGE/PATH_RESPONSE acima de dados de aplicação
	// (RFC 9000 §8.2 permite acompanhá-los de outros frames).
	p.ActivePath.OnTransmit(ctx)

	p.LocalIDRegistry.OnTransmit(ctx)

	p.PathManager.OnTransmit(ctx)
}

func (n *Normal) TransmissionInterest() Interest {
	p := &n.producers
	i := p.Ack.TransmissionInterest()
	i = i.Merge(p.HandshakeStatus.TransmissionInterest())
	i = i.Merge(p.StreamManager.TransmissionInterest())
	i = i.Merge(p.DatagramManager.TransmissionInterest())
	i = i.Merge(p.LocalIDRegistry.TransmissionInterest())
	i = i.Merge(p.PathManager.TransmissionInterest())
	i = i.Merge(p.CryptoStream.TransmissionInterest())
	i = i.Merge(p.RecoveryManager.TransmissionInterest())
	i = i.Merge(p.ActivePath.TransmissionInterest())
	i = i.Merge(p.Ping.TransmissionInterest())
	return i.Merge(p.DcManager.TransmissionInterest())
}

// PrioritizeDatagrams expõe o estado corrente da alternância.
func (n *Normal) PrioritizeDatagrams() bool { return n.prioritizeDatagrams }

// MtuProbe é o payload de sondagem de MTU: um único produtor, gated no
// controlador de congestionamento.
type MtuProbe struct {
	mtu Producer
}

func (m *MtuProbe) SizeHint(min int) int {
	if min < 1 {
		return 1
	}
	return min
}

func (m *MtuProbe) OnTransmit(ctx WriteContext) {
	if ctx.Constraint().CanTransmit() {
		m.mtu.OnTransmit(ctx)
	}
}

func (m *MtuProbe) TransmissionInterest() Interest {
	return m.mtu.TransmissionInterest()
}

// PathValidationOnly escreve apenas frames de validação do caminho
// indicado, possivelmente não-ativo. Nunca carrega dados de aplicação.
type PathValidationOnly struct {
	path Producer
}

func (v *PathValidationOnly) SizeHint(min int) int {
	if min < 1 {
		return 1
	}
	return min
}

func (v *PathValidationOnly) OnTransmit(ctx WriteContext) {
	if ctx.Constraint().CanTransmit() {
		v.path.OnTransmit(ctx)
	}
}

func (v *PathValidationOnly) TransmissionInterest() Interest {
	return v.path.TransmissionInterest()
}
