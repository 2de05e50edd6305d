package service

import (
	"crypto/x509/pkix"
	"encoding/asn1"

	cryptoDomain "github.com/keynanny/keynannyd/internal/crypto/domain"
	"github.com/keynanny/keynannyd/internal/errors"
)

// The ASN.1 shapes below are the minimal slice of RFC 5652 (CMS) needed to
// read each RecipientInfo's IssuerAndSerialNumber without pulling in the
// rest of EnvelopedData. pkcs7.Parse already does the full parse for the
// actual decrypt; this exists purely to get (issuer, serial) pairs ahead of
// that call so the token manager can route directly instead of trying every
// configured token.
type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type envelopedData struct {
	Version        int
	RecipientInfos []asn1.RawValue `asn1:"set"`
}

type recipientInfo struct {
	Version               int
	IssuerAndSerialNumber issuerAndSerialNumber
}

type issuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber asn1.RawValue
}

// ExtractRecipientInfos parses a CMS EnvelopedData blob's outer structure
// just far enough to recover each recipient's (issuer, serial) pair, per the
// "Recipient info pair" glossary entry: extracted directly from the ASN.1
// RecipientInfo set ahead of calling into the CMS library for the decrypt
// itself.
func (b *Backend) ExtractRecipientInfos(envelope []byte) ([]cryptoDomain.RecipientInfo, error) {
	var ci contentInfo
	if _, err := asn1.Unmarshal(envelope, &ci); err != nil {
		return nil, errors.Wrapf(cryptoDomain.ErrDecryptionFailed, "CMS ContentInfo parse: %v", err)
	}

	var ed envelopedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &ed); err != nil {
		return nil, errors.Wrapf(cryptoDomain.ErrDecryptionFailed, "CMS EnvelopedData parse: %v", err)
	}

	var out []cryptoDomain.RecipientInfo
	for _, raw := range ed.RecipientInfos {
		var ri recipientInfo
		if _, err := asn1.Unmarshal(raw.FullBytes, &ri); err != nil {
			// Not every RecipientInfo variant is IssuerAndSerialNumber (e.g.
			// subjectKeyIdentifier-keyed KeyTransRecipientInfo uses a
			// different CHOICE arm); skip what this implementation can't
			// parse and let the brute-force fallback handle it.
			continue
		}

		issuerDN := normalizeDN(asn1RDNString(ri.IssuerAndSerialNumber.Issuer))
		serial := colonHex(ri.IssuerAndSerialNumber.SerialNumber.Bytes)
		out = append(out, cryptoDomain.RecipientInfo{Issuer: issuerDN, Serial: serial})
	}

	return out, nil
}

// asn1RDNString renders a raw ASN.1 Name using crypto/x509/pkix so it
// matches the same normalization path certificate parsing uses, keeping
// recipient-info issuer strings comparable to CertInfo.IssuerName.
func asn1RDNString(name asn1.RawValue) string {
	var rdn pkix.RDNSequence
	if _, err := asn1.Unmarshal(name.FullBytes, &rdn); err != nil {
		return ""
	}
	return rdn.String()
}
