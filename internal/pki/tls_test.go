// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testPKI contém os caminhos dos certificados gerados para teste.
type testPKI struct {
	CACertPath     string
	ServerCertPath string
	ServerKeyPath  string
}

// generateTestPKI gera uma PKI (CA + server cert) em diretório temporário.
func generateTestPKI(t *testing.T) *testPKI {
	t.Helper()
	dir := t.TempDir()

	// Gera a CA
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating CA key: %v", err)
	}

	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(1 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}

	caCertDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("creating CA certificate: %v", err)
	}

	caCertPath := filepath.Join(dir, "ca.pem")
	writePEM(t, caCertPath, "CERTIFICATE", caCertDER)

	// Gera certificado do server
	serverKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating server key: %v", err)
	}

	serverTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "Test Server"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(1 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		DNSNames:     []string{"localhost"},
	}

	caCert, err := x509.ParseCertificate(caCertDER)
	if err != nil {
		t.Fatalf("parsing CA certificate: %v", err)
	}

	serverCertDER, err := x509.CreateCertificate(rand.Reader, serverTemplate, caCert, &serverKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("creating server certificate: %v", err)
	}

	serverCertPath := filepath.Join(dir, "server.pem")
	writePEM(t, serverCertPath, "CERTIFICATE", serverCertDER)

	serverKeyPath := filepath.Join(dir, "server-key.pem")
	writeKeyPEM(t, serverKeyPath, serverKey)

	return &testPKI{
		CACertPath:     caCertPath,
		ServerCertPath: serverCertPath,
		ServerKeyPath:  serverKeyPath,
	}
}

func writePEM(t *testing.T, path, blockType string, data []byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating file %s: %v", path, err)
	}
	defer f.Close()

	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: data}); err != nil {
		t.Fatalf("encoding PEM: %v", err)
	}
}

func writeKeyPEM(t *testing.T, path string, key *ecdsa.PrivateKey) {
	t.Helper()
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshaling EC key: %v", err)
	}
	writePEM(t, path, "EC PRIVATE KEY", der)
}

func TestNewClientTLSConfig(t *testing.T) {
	pki := generateTestPKI(t)

	cfg, err := NewClientTLSConfig(pki.CACertPath, "localhost", []string{"nquic-bench"})
	if err != nil {
		t.Fatalf("NewClientTLSConfig: %v", err)
	}

	if cfg.MinVersion != tls.VersionTLS13 {
		t.Errorf("QUIC requires TLS 1.3, got %d", cfg.MinVersion)
	}
	if cfg.RootCAs == nil {
		t.Error("expected non-nil RootCAs")
	}
	if len(cfg.NextProtos) != 1 || cfg.NextProtos[0] != "nquic-bench" {
		t.Errorf("alpn: %v", cfg.NextProtos)
	}
}

func TestNewServerTLSConfig(t *testing.T) {
	pki := generateTestPKI(t)

	cfg, err := NewServerTLSConfig(pki.ServerCertPath, pki.ServerKeyPath, []string{"nquic-bench"})
	if err != nil {
		t.Fatalf("NewServerTLSConfig: %v", err)
	}

	if cfg.MinVersion != tls.VersionTLS13 {
		t.Errorf("QUIC requires TLS 1.3, got %d", cfg.MinVersion)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("expected 1 certificate, got %d", len(cfg.Certificates))
	}
}

func TestAlpnIsRequired(t *testing.T) {
	pki := generateTestPKI(t)

	if _, err := NewClientTLSConfig(pki.CACertPath, "localhost", nil); err == nil {
		t.Error("client config without ALPN must fail")
	}
	if _, err := NewServerTLSConfig(pki.ServerCertPath, pki.ServerKeyPath, nil); err == nil {
		t.Error("server config without ALPN must fail")
	}
}

func TestTLS13Handshake(t *testing.T) {
	pki := generateTestPKI(t)

	serverCfg, err := NewServerTLSConfig(pki.ServerCertPath, pki.ServerKeyPath, []string{"nquic-bench"})
	if err != nil {
		t.Fatal(err)
	}
	clientCfg, err := NewClientTLSConfig(pki.CACertPath, "localhost", []string{"nquic-bench"})
	if err != nil {
		t.Fatal(err)
	}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	if err != nil {
		t.Fatalf("starting TLS listener: %v", err)
	}
	defer ln.Close()

	done := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		defer c.Close()
		done <- c.(*tls.Conn).Handshake()
	}()

	c, err := tls.Dial("tcp", ln.Addr().String(), clientCfg)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	defer c.Close()

	if err := <-done; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	state := c.ConnectionState()
	if state.Version != tls.VersionTLS13 {
		t.Errorf("negotiated version %x, want TLS 1.3", state.Version)
	}
	if state.NegotiatedProtocol != "nquic-bench" {
		t.Errorf("negotiated alpn %q", state.NegotiatedProtocol)
	}
}
