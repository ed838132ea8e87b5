// Package pki fornece a configuração TLS opcional do transporte de
// netplay. Sem TLS a sessão roda em TCP puro; com mutual_auth os peers
// também apresentam certificado.
package pki

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/nishisan-dev/n-netplay/internal/config"
)

// NewHostTLSConfig cria a configuração TLS 1.3 do lado que escuta.
func NewHostTLSConfig(info config.TLSInfo) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(info.Cert, info.Key)
	if err != nil {
		return nil, fmt.Errorf("loading host certificate: %w", err)
	}

	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
	}

	if info.MutualAuth {
		pool, err := loadCACertPool(info.CACert)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}

// NewPeerTLSConfig cria a configuração TLS 1.3 do lado que disca.
func NewPeerTLSConfig(info config.TLSInfo) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS13}

	if info.CACert != "" {
		pool, err := loadCACertPool(info.CACert)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	if info.MutualAuth {
		cert, err := tls.LoadX509KeyPair(info.Cert, info.Key)
		if err != nil {
			return nil, fmt.Errorf("loading peer certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
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
