package service

import (
	"testing"
	"time"
)

func TestBackend_ExtractRecipientInfos(t *testing.T) {
	notBefore := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	certPEM, keyPEM, _ := generateTestCert(t, "recipient", 9, notBefore)
	certPath := writeTempFile(t, "cert.pem", certPEM)
	keyPath := writeTempFile(t, "key.pem", keyPEM)

	b := NewBackend()
	loaded, err := b.LoadToken("t1", certPath, keyPath, "")
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}

	envelope, err := b.EnvelopeEncrypt([]byte("payload"), loaded.Certificate)
	if err != nil {
		t.Fatalf("EnvelopeEncrypt: %v", err)
	}

	infos, err := b.ExtractRecipientInfos(envelope)
	if err != nil {
		t.Fatalf("ExtractRecipientInfos: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 recipient info, got %d", len(infos))
	}
	if infos[0].Serial != loaded.Token.Info.SerialNumber {
		t.Fatalf("expected serial %s, got %s", loaded.Token.Info.SerialNumber, infos[0].Serial)
	}
}
