// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package transmission implementa o pipeline de montagem de payloads do
// espaço de pacotes 1-RTT: o contexto de escrita limitado por tamanho, o
// reticulado de interesse de transmissão e as variantes de payload que
// ordenam os produtores de frames dentro de cada pacote.
package transmission

// Interest declara que um produtor tem frames que valem um pacote na
// próxima oportunidade, num nível de prioridade. Os níveis formam um
// semirreticulado monótono: None < NewData < LostData < Forced.
type Interest uint8

const (
	// InterestNone indica que o produtor não tem nada a enviar.
	InterestNone Interest = iota
	// InterestNewData indica dados novos pendentes.
	InterestNewData
	// InterestLostData indica retransmissão de dados perdidos pendente.
	InterestLostData
	// InterestForced exige um pacote ack-eliciting imediato, mesmo que
	// nenhum outro produtor tenha nada (resolve-se com um PING).
	InterestForced
)

// Merge retorna o supremo entre a e b.
func (a Interest) Merge(b Interest) Interest {
	if b > a {
		return b
	}
	return a
}

// CanSend indica se o nível de interesse justifica montar um pacote.
func (a Interest) CanSend() bool { return a >= InterestNewData }

// IsForced indica se o interesse exige um pacote ack-eliciting.
func (a Interest) IsForced() bool { return a == InterestForced }

func (a Interest) String() string {
	switch a {
	case InterestNone:
		return "none"
	case InterestNewData:
		return "new_data"
	case InterestLostData:
		return "lost_data"
	case InterestForced:
		return "forced"
	default:
		return "unknown"
	}
}

// Provider é implementado por todo produtor de frames que participa da
// agregação de interesse de um payload.
type Provider interface {
	TransmissionInterest() Interest
}
