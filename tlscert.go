// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package strophe

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"strconv"
	"time"

	"mellium.im/strophe/internal/certname"
)

// CertElement selects a field of a certificate.
type CertElement int

// A list of certificate fields.
const (
	CertVersion           CertElement = iota // X.509 Version
	CertSerialNumber                         // SerialNumber
	CertSubject                              // Subject
	CertIssuer                               // Issuer
	CertNotBefore                            // Issued On
	CertNotAfter                             // Expires On
	CertKeyAlg                               // Public Key Algorithm
	CertSigAlg                               // Certificate Signature Algorithm
	CertFingerprintSHA1                      // Fingerprint SHA-1
	CertFingerprintSHA256                    // Fingerprint SHA-256
)

// Description returns a human readable name of the field.
func (e CertElement) Description() string {
	if e < 0 || int(e) >= len(_CertElement_index)-1 {
		return ""
	}
	return e.String()
}

// TLSCert is a certificate presented by a server.
// The certificate passed to a CertfailHandler is only valid during that call;
// the one returned by Connection.PeerCert is owned by the caller.
type TLSCert struct {
	scope *scope
	cert  *x509.Certificate
	chain []*x509.Certificate
}

func (c *TLSCert) get(op string) *x509.Certificate {
	c.scope.check(op)
	return c.cert
}

// PEM returns the certificate PEM encoded.
func (c *TLSCert) PEM() string {
	crt := c.get("TLSCert.PEM")
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: crt.Raw}))
}

// ChainLen returns the number of certificates sent by the server, including
// this one.
func (c *TLSCert) ChainLen() int {
	c.get("TLSCert.ChainLen")
	return len(c.chain)
}

// DNSName returns the n-th DNS name in the subject alternative names of the
// certificate.
func (c *TLSCert) DNSName(n int) (string, bool) {
	crt := c.get("TLSCert.DNSName")
	if n < 0 || n >= len(crt.DNSNames) {
		return "", false
	}
	return crt.DNSNames[n], true
}

// XMPPAddrs returns the XmppAddr identities of the certificate.
func (c *TLSCert) XMPPAddrs() []string {
	names, _ := certname.Parse(c.get("TLSCert.XMPPAddrs"))
	return names.XMPP
}

// XMPPAddrNum returns the number of XmppAddr identities of the certificate.
func (c *TLSCert) XMPPAddrNum() int {
	names, _ := certname.Parse(c.get("TLSCert.XMPPAddrNum"))
	return len(names.XMPP)
}

// XMPPAddr returns the n-th XmppAddr identity of the certificate.
func (c *TLSCert) XMPPAddr(n int) (string, bool) {
	names, _ := certname.Parse(c.get("TLSCert.XMPPAddr"))
	if n < 0 || n >= len(names.XMPP) {
		return "", false
	}
	return names.XMPP[n], true
}

// SRVNames returns the SRV-ID identities of the certificate.
func (c *TLSCert) SRVNames() []string {
	names, _ := certname.Parse(c.get("TLSCert.SRVNames"))
	return names.SRV
}

// Element returns a field of the certificate formatted as a string.
func (c *TLSCert) Element(e CertElement) (string, bool) {
	crt := c.get("TLSCert.Element")
	switch e {
	case CertVersion:
		return strconv.Itoa(crt.Version), true
	case CertSerialNumber:
		if crt.SerialNumber == nil {
			return "", false
		}
		return crt.SerialNumber.Text(16), true
	case CertSubject:
		return crt.Subject.String(), true
	case CertIssuer:
		return crt.Issuer.String(), true
	case CertNotBefore:
		return crt.NotBefore.UTC().Format(time.RFC3339), true
	case CertNotAfter:
		return crt.NotAfter.UTC().Format(time.RFC3339), true
	case CertKeyAlg:
		return crt.PublicKeyAlgorithm.String(), true
	case CertSigAlg:
		return crt.SignatureAlgorithm.String(), true
	case CertFingerprintSHA1:
		/* #nosec */
		sum := sha1.Sum(crt.Raw)
		return hex.EncodeToString(sum[:]), true
	case CertFingerprintSHA256:
		sum := sha256.Sum256(crt.Raw)
		return hex.EncodeToString(sum[:]), true
	}
	return "", false
}
