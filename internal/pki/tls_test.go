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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nishisan-dev/n-netplay/internal/config"
)

// writeSelfSigned gera um par cert/key autoassinado em dir.
func writeSelfSigned(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "netplay-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")

	certOut, _ := os.Create(certPath)
	pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der})
	certOut.Close()

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshaling key: %v", err)
	}
	keyOut, _ := os.Create(keyPath)
	pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	keyOut.Close()

	return certPath, keyPath
}

func TestNewHostTLSConfig(t *testing.T) {
	certPath, keyPath := writeSelfSigned(t, t.TempDir())

	cfg, err := NewHostTLSConfig(config.TLSInfo{Cert: certPath, Key: keyPath})
	if err != nil {
		t.Fatalf("NewHostTLSConfig: %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS13 {
		t.Error("expected TLS 1.3 minimum")
	}
	if cfg.ClientAuth == tls.RequireAndVerifyClientCert {
		t.Error("client certs must not be required without mutual_auth")
	}
}

func TestNewHostTLSConfig_MutualAuth(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writeSelfSigned(t, dir)

	cfg, err := NewHostTLSConfig(config.TLSInfo{
		Cert: certPath, Key: keyPath, CACert: certPath, MutualAuth: true,
	})
	if err != nil {
		t.Fatalf("NewHostTLSConfig: %v", err)
	}
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Error("mutual_auth must require client certs")
	}
	if cfg.ClientCAs == nil {
		t.Error("mutual_auth must load the CA pool")
	}
}

func TestNewPeerTLSConfig(t *testing.T) {
	certPath, _ := writeSelfSigned(t, t.TempDir())

	cfg, err := NewPeerTLSConfig(config.TLSInfo{CACert: certPath})
	if err != nil {
		t.Fatalf("NewPeerTLSConfig: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Error("expected CA pool loaded")
	}
}

func TestLoadCACertPool_Missing(t *testing.T) {
	if _, err := NewPeerTLSConfig(config.TLSInfo{CACert: "/nonexistent/ca.pem"}); err == nil {
		t.Fatal("expected error for missing CA file")
	}
}

func TestLoadCACertPool_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	os.WriteFile(path, []byte("not a pem"), 0644)
	if _, err := NewPeerTLSConfig(config.TLSInfo{CACert: path}); err == nil {
		t.Fatal("expected error for invalid CA file")
	}
}
