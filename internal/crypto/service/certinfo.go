package service

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strconv"
	"strings"
	"time"

	cryptoDomain "github.com/keynanny/keynannyd/internal/crypto/domain"
)

// parseCertificate decodes a PEM-encoded X.509v3 certificate and extracts the
// normalized CertInfo fields the token manager's catalog is built from.
func parseCertificate(pemBytes []byte) (cryptoDomain.CertInfo, *x509.Certificate, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		return cryptoDomain.CertInfo{}, nil, cryptoDomain.ErrCertificateParse
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return cryptoDomain.CertInfo{}, nil, fmt.Errorf("%w: %v", cryptoDomain.ErrCertificateParse, err)
	}

	fingerprint := sha1.Sum(cert.Raw)

	info := cryptoDomain.CertInfo{
		Version:      cert.Version,
		SubjectName:  normalizeDN(cert.Subject.String()),
		IssuerName:   normalizeDN(cert.Issuer.String()),
		SerialNumber: colonHex(cert.SerialNumber.Bytes()),
		Serial:       cert.SerialNumber,
		NotBefore:    formatCertTime(cert.NotBefore),
		NotAfter:     formatCertTime(cert.NotAfter),
		PublicKey:    base64.StdEncoding.EncodeToString(cert.RawSubjectPublicKeyInfo),
		Certificate:  base64.StdEncoding.EncodeToString(cert.Raw),
		Fingerprint:  colonHexUpper(fingerprint[:]),
		KeyUsage:     summarizeKeyUsage(cert.KeyUsage),
	}

	for _, name := range cert.DNSNames {
		info.SubjectAltName = appendCSV(info.SubjectAltName, "DNS:"+name)
	}
	for _, ip := range cert.IPAddresses {
		info.SubjectAltName = appendCSV(info.SubjectAltName, "IP:"+ip.String())
	}
	if cert.IsCA {
		info.BasicConstraints = fmt.Sprintf("CA:TRUE, pathlen:%d", cert.MaxPathLen)
	} else {
		info.BasicConstraints = "CA:FALSE"
	}
	if len(cert.SubjectKeyId) > 0 {
		info.SubjectKeyIdentifier = colonHexUpper(cert.SubjectKeyId)
	}
	if len(cert.AuthorityKeyId) > 0 {
		info.AuthorityKeyIdentifier = colonHexUpper(cert.AuthorityKeyId)
	}
	if len(cert.CRLDistributionPoints) > 0 {
		info.CRLDistributionPoints = strings.Join(cert.CRLDistributionPoints, ", ")
	}

	if !info.Valid() {
		return cryptoDomain.CertInfo{}, nil, cryptoDomain.ErrMissingField
	}

	return info, cert, nil
}

// colonHex renders raw big-endian bytes as colon-separated upper-case hex
// with an even digit count, per the serial-number normalization rule. A
// leading zero byte produced only by encoding/asn1's sign-padding is dropped
// so a positive serial doesn't carry a spurious "00:" prefix.
func colonHex(b []byte) string {
	for len(b) > 1 && b[0] == 0x00 {
		b = b[1:]
	}
	return colonHexUpper(b)
}

func colonHexUpper(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = strconv.FormatUint(uint64(c), 16)
		if len(parts[i]) == 1 {
			parts[i] = "0" + parts[i]
		}
	}
	return strings.ToUpper(strings.Join(parts, ":"))
}

// normalizeDN strips a leading slash and replaces slash separators with
// ", ", matching the narrative `/CN=.../O=...` style the spec describes.
// crypto/x509's pkix.Name.String() already renders the RFC 2253 comma form,
// so this only needs to fix up the rare slash-separated form some issuers
// still emit in cert.Subject.Names ordering quirks.
func normalizeDN(dn string) string {
	dn = strings.TrimPrefix(dn, "/")
	if !strings.Contains(dn, "/") {
		return dn
	}
	parts := strings.Split(dn, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, ", ")
}

// formatCertTime renders a certificate timestamp as 14-digit YYYYMMDDHHMMSS
// in UTC, matching the normalization rule in the data model.
func formatCertTime(t time.Time) string {
	return t.UTC().Format("20060102150405")
}

func appendCSV(existing, next string) string {
	if existing == "" {
		return next
	}
	return existing + ", " + next
}

func summarizeKeyUsage(ku x509.KeyUsage) string {
	var names []string
	flags := []struct {
		bit  x509.KeyUsage
		name string
	}{
		{x509.KeyUsageDigitalSignature, "Digital Signature"},
		{x509.KeyUsageContentCommitment, "Non Repudiation"},
		{x509.KeyUsageKeyEncipherment, "Key Encipherment"},
		{x509.KeyUsageDataEncipherment, "Data Encipherment"},
		{x509.KeyUsageKeyAgreement, "Key Agreement"},
		{x509.KeyUsageCertSign, "Certificate Sign"},
		{x509.KeyUsageCRLSign, "CRL Sign"},
		{x509.KeyUsageEncipherOnly, "Encipher Only"},
		{x509.KeyUsageDecipherOnly, "Decipher Only"},
	}
	for _, f := range flags {
		if ku&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, ", ")
}
