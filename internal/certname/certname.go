// Copyright 2017 Sam Whited.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.
//
// Some code code in this file was copied from the Go crypto/x509 package:
//
// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.GO file.

// Package certname extracts the XMPP specific identities from the subject
// alternative names of a certificate.
//
// Go's crypto/x509 package only exposes the DNS, email, IP and URI names of a
// certificate.
// XMPP servers additionally use the id-on-xmppAddr otherName (RFC 6120
// §13.7.1.4) and SRV-ID names (RFC 4985), which are found here.
package certname // import "mellium.im/strophe/internal/certname"

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
)

var oidSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}

// Names holds the XMPP identities of a certificate.
type Names struct {
	SRV  []string
	XMPP []string
}

// Parse returns the XMPP identities found in crt.
// Names found before a malformed extension are returned along with the error.
func Parse(crt *x509.Certificate) (Names, error) {
	var names Names
	for _, ext := range crt.Extensions {
		if !ext.Id.Equal(oidSubjectAltName) {
			continue
		}
		if err := names.parseExtension(ext.Value); err != nil {
			return names, err
		}
	}
	return names, nil
}

// parseExtension walks the GeneralNames sequence of RFC 5280 §4.2.1.6.
func (n *Names) parseExtension(value []byte) error {
	var seq asn1.RawValue
	rest, err := asn1.Unmarshal(value, &seq)
	switch {
	case err != nil:
		return err
	case len(rest) != 0:
		return errors.New("certname: trailing data after subject alternative name")
	case !seq.IsCompound || seq.Tag != asn1.TagSequence || seq.Class != asn1.ClassUniversal:
		return asn1.StructuralError{Msg: "bad SAN sequence"}
	}
	return n.parseGeneralNames(seq.Bytes)
}

func (n *Names) parseGeneralNames(rest []byte) error {
	for len(rest) > 0 {
		var v asn1.RawValue
		var err error
		rest, err = asn1.Unmarshal(rest, &v)
		if err != nil {
			return err
		}
		switch v.Tag {
		case 0:
			// otherName and the explicitly tagged value it wraps.
			if err := n.parseGeneralNames(v.Bytes); err != nil {
				return err
			}
		case asn1.TagUTF8String:
			n.XMPP = append(n.XMPP, string(v.Bytes))
		case asn1.TagIA5String:
			n.SRV = append(n.SRV, string(v.Bytes))
		}
	}
	return nil
}
