package service

import (
	"math/big"
	"testing"
	"time"
)

func TestParseCertificate(t *testing.T) {
	notBefore := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	certPEM, _, _ := generateTestCert(t, "token-one", 42, notBefore)

	info, cert, err := parseCertificate(certPEM)
	if err != nil {
		t.Fatalf("parseCertificate: %v", err)
	}
	if cert == nil {
		t.Fatal("expected non-nil certificate")
	}

	if info.SerialNumber != "2A" {
		t.Fatalf("expected serial 2A, got %s", info.SerialNumber)
	}
	if info.Serial == nil || info.Serial.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("expected Serial 42, got %v", info.Serial)
	}
	if info.NotBefore != "20240101000000" {
		t.Fatalf("expected NotBefore 20240101000000, got %s", info.NotBefore)
	}
	if info.NotAfter <= info.NotBefore {
		t.Fatalf("expected NotAfter > NotBefore")
	}
	if info.Fingerprint == "" {
		t.Fatal("expected non-empty fingerprint")
	}
	if info.SubjectName == "" || info.IssuerName == "" {
		t.Fatal("expected non-empty subject/issuer")
	}
	if info.KeyUsage == "" {
		t.Fatal("expected non-empty key usage summary")
	}
	if !info.Valid() {
		t.Fatal("expected CertInfo to be valid")
	}
}

func TestParseCertificate_RejectsGarbage(t *testing.T) {
	_, _, err := parseCertificate([]byte("not a certificate"))
	if err == nil {
		t.Fatal("expected an error for garbage input")
	}
}

func TestColonHex(t *testing.T) {
	cases := []struct {
		in   []byte
		want string
	}{
		{[]byte{0x2a}, "2A"},
		{[]byte{0x00, 0x2a}, "2A"},
		{[]byte{0xff, 0x01}, "FF:01"},
		{[]byte{}, ""},
	}
	for _, c := range cases {
		got := colonHex(c.in)
		if got != c.want {
			t.Errorf("colonHex(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeDN(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/C=US/O=Example/CN=Test", "C=US, O=Example, CN=Test"},
		{"CN=Test,O=Example", "CN=Test,O=Example"},
	}
	for _, c := range cases {
		if got := normalizeDN(c.in); got != c.want {
			t.Errorf("normalizeDN(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
