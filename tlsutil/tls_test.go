package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"testing"
	"time"
)

func TestGenerateConfigReturnsValidCert(t *testing.T) {
	validity := 2 * time.Hour
	cfg, fingerprint, err := GenerateConfig(validity, "")
	if err != nil {
		t.Fatalf("GenerateConfig: %v", err)
	}
	if fingerprint == "" {
		t.Fatal("expected non-empty fingerprint")
	}
	if len(fingerprint) != 64 {
		t.Errorf("fingerprint length: got %d, want 64", len(fingerprint))
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected 1 certificate, got %d", len(cfg.Certificates))
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %v, want TLS 1.2", cfg.MinVersion)
	}

	leaf := cfg.Certificates[0].Leaf
	if leaf == nil {
		t.Fatal("expected parsed leaf certificate")
	}
	if leaf.Subject.CommonName != "dcpd" {
		t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, "dcpd")
	}

	now := time.Now()
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		t.Errorf("cert not valid at current time: NotBefore=%v NotAfter=%v", leaf.NotBefore, leaf.NotAfter)
	}
}

func TestGenerateConfigUniqueCerts(t *testing.T) {
	_, fp1, err := GenerateConfig(time.Hour, "")
	if err != nil {
		t.Fatalf("GenerateConfig: %v", err)
	}
	_, fp2, err := GenerateConfig(time.Hour, "")
	if err != nil {
		t.Fatalf("GenerateConfig: %v", err)
	}
	if fp1 == fp2 {
		t.Error("two calls should produce different certificates")
	}
}

func TestGenerateConfigSelfSigned(t *testing.T) {
	cfg, _, err := GenerateConfig(time.Hour, "chat.example.org")
	if err != nil {
		t.Fatalf("GenerateConfig: %v", err)
	}
	leaf := cfg.Certificates[0].Leaf

	if leaf.Issuer.CommonName != leaf.Subject.CommonName {
		t.Errorf("expected self-signed cert: issuer=%q subject=%q", leaf.Issuer.CommonName, leaf.Subject.CommonName)
	}

	foundHost, foundLocalhost := false, false
	for _, name := range leaf.DNSNames {
		if name == "chat.example.org" {
			foundHost = true
		}
		if name == "localhost" {
			foundLocalhost = true
		}
	}
	if !foundHost || !foundLocalhost {
		t.Errorf("expected both hostname and localhost in DNS names, got %v", leaf.DNSNames)
	}

	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	if _, err := leaf.Verify(x509.VerifyOptions{DNSName: "chat.example.org", Roots: pool}); err != nil {
		t.Errorf("self-verification failed: %v", err)
	}
}
