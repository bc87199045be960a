// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"io"
	"net"

	"mellium.im/xmpp/jid"

	"mellium.im/strophe/internal/iter"
	"mellium.im/strophe/internal/ns"
)

// runRaw connects without negotiating a stream.
// Once connected, everything received after a stream header is dispatched to
// the stanza callbacks, including stream features and errors.
func (c *Conn) runRaw(ctx context.Context, gen uint32, cfg config) {
	var j jid.JID
	if cfg.jid != "" {
		var err error
		j, err = domainOf(cfg.jid)
		if err != nil {
			c.post(event{kind: evDisconnect, gen: gen, fault: &Fault{Err: err}})
			return
		}
	} else {
		j, _ = jid.New("", cfg.host, "")
	}
	domain := j.Domainpart()
	if domain == "" {
		domain = cfg.host
	}
	tlsConfig := c.tlsConfig(ctx, gen, cfg, domain)
	if cfg.host == "" {
		cfg.host = domain
	}
	conn, err := c.dial(ctx, cfg, j, tlsConfig)
	if err != nil {
		c.logf(LevelError, "conn", "connection to %s failed: %v", cfg.host, err)
		c.post(event{kind: evDisconnect, gen: gen, fault: &Fault{Err: err}})
		return
	}
	l := &rawLink{conn: conn, to: domain, lang: cfg.lang}
	ev := event{kind: evRawConnect, gen: gen, link: l, bound: cfg.jid}
	if tc, ok := conn.(*tls.Conn); ok {
		ev.secured = true
		ev.peer = tc.ConnectionState().PeerCertificates
	}
	if !c.post(ev) || c.closed() {
		_ = l.close()
		return
	}

	f := c.readRaw(gen, io.TeeReader(conn, logWriter{c: c, prefix: "RECV: "}))
	_ = l.close()
	c.post(event{kind: evDisconnect, gen: gen, fault: f})
}

func (c *Conn) readRaw(gen uint32, r io.Reader) *Fault {
	d := xml.NewDecoder(r)
	// Wait for the peer's stream header.
	for {
		t, err := d.Token()
		if err != nil {
			return readFault(err)
		}
		if start, ok := t.(xml.StartElement); ok {
			if !iter.IsStreamStart(start) {
				return &Fault{Err: errors.New("engine: expected stream header")}
			}
			break
		}
	}

	var fault *Fault
	it := iter.New(d)
	for it.Next() {
		start, body := it.Current()
		if body == nil {
			c.logf(LevelDebug, "xmpp", "stream restarted")
			continue
		}
		n, err := Decode(*start, body)
		if err != nil {
			return readFault(err)
		}
		if n.ns == ns.Stream && n.name == "error" {
			fault = streamFault(n.Copy())
		}
		if !c.post(event{kind: evStanza, gen: gen, node: n}) {
			return nil
		}
	}
	if err := it.Err(); err != nil {
		return readFault(err)
	}
	return fault
}

func readFault(err error) *Fault {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return &Fault{Err: err}
}

// streamFault builds a StreamFault from a received <stream:error/> element.
func streamFault(n *Node) *Fault {
	sf := &StreamFault{Node: n, Cond: "undefined-condition"}
	for c := n.first; c != nil; c = c.next {
		if c.text || c.ns != ns.Streams {
			continue
		}
		if c.name == "text" {
			sf.Text = c.Text()
			continue
		}
		sf.Cond = c.name
	}
	return &Fault{Err: errors.New(sf.Cond), Stream: sf}
}
