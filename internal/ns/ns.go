// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ns provides namespace constants that are used by the strophe package
// and the native engine.
package ns // import "mellium.im/strophe/internal/ns"

// List of commonly used namespaces.
const (
	Bind      = "urn:ietf:params:xml:ns:xmpp-bind"
	Client    = "jabber:client"
	Component = "jabber:component:accept"
	SASL      = "urn:ietf:params:xml:ns:xmpp-sasl"
	Stanzas   = "urn:ietf:params:xml:ns:xmpp-stanzas"
	StartTLS  = "urn:ietf:params:xml:ns:xmpp-tls"
	Stream    = "http://etherx.jabber.org/streams"
	Streams   = "urn:ietf:params:xml:ns:xmpp-streams"
	Version   = "jabber:iq:version"
	XML       = "http://www.w3.org/XML/1998/namespace"
)
