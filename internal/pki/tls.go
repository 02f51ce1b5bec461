// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package pki fornece os carregadores de certificado do provedor TLS
// externo das conexões. O handshake em si fica fora do core; aqui só a
// configuração: QUIC exige TLS 1.3 (RFC 9001 §4.2) e ALPN.
package pki

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// NewClientTLSConfig cria a configuração TLS do lado cliente.
// caCertPath valida o servidor; alpn é obrigatório em QUIC.
func NewClientTLSConfig(caCertPath, serverName string, alpn []string) (*tls.Config, error) {
	if len(alpn) == 0 {
		return nil, fmt.Errorf("alpn protocol list is required")
	}
	caPool, err := loadCACertPool(caCertPath)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		// Clients MUST NOT offer TLS versions older than 1.3.
		MinVersion: tls.VersionTLS13,
		RootCAs:    caPool,
		ServerName: serverName,
		NextProtos: alpn,
	}, nil
}

// NewServerTLSConfig cria a configuração TLS do lado servidor.
func NewServerTLSConfig(serverCertPath, serverKeyPath string, alpn []string) (*tls.Config, error) {
	if len(alpn) == 0 {
		return nil, fmt.Errorf("alpn protocol list is required")
	}
	cert, err := tls.LoadX509KeyPair(serverCertPath, serverKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		NextProtos:   alpn,
	}, nil
}

func loadCACertPool(caCertPath string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate from %s", caCertPath)
	}

	return pool, nil
}
