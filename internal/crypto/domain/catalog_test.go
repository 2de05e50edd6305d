package domain

import (
	"math/big"
	"testing"
)

func tok(name, issuer, serial, notBefore, fingerprint string) *Token {
	return &Token{
		Name: name,
		Info: CertInfo{
			SubjectName:  "CN=" + name,
			IssuerName:   issuer,
			SerialNumber: serial,
			Serial:       big.NewInt(1),
			NotBefore:    notBefore,
			NotAfter:     "99991231235959",
			PublicKey:    "cHVia2V5",
			Certificate:  "Y2Vy",
			Fingerprint:  fingerprint,
		},
	}
}

func TestNewTokenCatalog_CurrentIsGreatestNotBefore(t *testing.T) {
	t1 := tok("t1", "CA", "01", "20200101000000", "FP1")
	t2 := tok("t2", "CA", "02", "20230101000000", "FP2")
	t3 := tok("t3", "CA", "03", "20100101000000", "FP3")

	cat, err := NewTokenCatalog([]*Token{t1, t2, t3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	current, ok := cat.Current()
	if !ok || current.Name != "t2" {
		t.Fatalf("expected t2 as current, got %+v (ok=%v)", current, ok)
	}
}

func TestNewTokenCatalog_TieBreakIsFirstConfigured(t *testing.T) {
	t1 := tok("t1", "CA", "01", "20200101000000", "FP1")
	t2 := tok("t2", "CA", "02", "20200101000000", "FP2")

	cat, err := NewTokenCatalog([]*Token{t1, t2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	current, _ := cat.Current()
	if current.Name != "t1" {
		t.Fatalf("expected t1 (first configured) to win the tie, got %s", current.Name)
	}
}

func TestNewTokenCatalog_DuplicateFingerprintRejected(t *testing.T) {
	t1 := tok("t1", "CA", "01", "20200101000000", "FP1")
	t2 := tok("t2", "CA", "02", "20200101000000", "FP1")

	if _, err := NewTokenCatalog([]*Token{t1, t2}); err == nil {
		t.Fatal("expected an error for duplicate fingerprint")
	}
}

func TestTokenCatalog_ByIssuerSerial(t *testing.T) {
	t1 := tok("t1", "CA", "01", "20200101000000", "FP1")
	cat, err := NewTokenCatalog([]*Token{t1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := cat.ByIssuerSerial("CA", "01")
	if !ok || got.Name != "t1" {
		t.Fatalf("expected to find t1 by issuer/serial, got %+v (ok=%v)", got, ok)
	}

	if _, ok := cat.ByIssuerSerial("CA", "99"); ok {
		t.Fatal("expected no match for unknown serial")
	}
}

func TestTokenCatalog_EmptyCatalog(t *testing.T) {
	cat, err := NewTokenCatalog(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cat.Current(); ok {
		t.Fatal("expected no current token in an empty catalog")
	}
	if cat.Len() != 0 {
		t.Fatalf("expected length 0, got %d", cat.Len())
	}
}

func TestTokenCatalog_NilCatalogIsSafe(t *testing.T) {
	var cat *TokenCatalog
	if _, ok := cat.Current(); ok {
		t.Fatal("expected nil catalog to report no current token")
	}
	if _, ok := cat.ByFingerprint("FP1"); ok {
		t.Fatal("expected nil catalog to report no match")
	}
	if cat.Len() != 0 {
		t.Fatal("expected nil catalog length 0")
	}
}
