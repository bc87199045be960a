// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"mellium.im/legacy/compress"
	"mellium.im/sasl"
	"mellium.im/xmpp"
	"mellium.im/xmpp/component"
	"mellium.im/xmpp/dial"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stream"

	"mellium.im/strophe/internal/iter"
	"mellium.im/strophe/internal/ns"
)

// config is the part of a Conn read by the connection goroutine.
// It is copied when Connect is called.
type config struct {
	mode         Mode
	jid          string
	pass         string
	flags        Flags
	lang         string
	host         string
	port         uint16
	keepIdle     time.Duration
	keepInterval time.Duration
	tls          tlsMaterial
	dialer       DialFunc
	sockopt      func(fd uintptr) error
	certfail     bool
}

func (c *Conn) snapshot(host string, port uint16, tm tlsMaterial) config {
	return config{
		mode:         c.mode,
		jid:          c.jid,
		pass:         c.pass,
		flags:        c.flags,
		lang:         c.lang,
		host:         host,
		port:         port,
		keepIdle:     c.keepIdle,
		keepInterval: c.keepInterval,
		tls:          tm,
		dialer:       c.dialer,
		sockopt:      c.sockopt(),
		certfail:     c.certFn != nil,
	}
}

func domainOf(addr string) (jid.JID, error) {
	if addr == "" {
		return jid.JID{}, ErrInvalidOperation
	}
	j, err := jid.Parse(addr)
	if err != nil {
		return jid.JID{}, errors.Join(ErrInvalidOperation, err)
	}
	return j, nil
}

// logWriter forwards raw stream traffic to the context log.
type logWriter struct {
	c      *Conn
	prefix string
}

func (w logWriter) Write(p []byte) (int, error) {
	w.c.logf(LevelDebug, "xmpp", "%s%s", w.prefix, p)
	return len(p), nil
}

// run establishes the connection and reads from it until it is closed.
// It executes on its own goroutine and only talks to the loop through post.
func (c *Conn) run(ctx context.Context, gen uint32, cfg config) {
	if cfg.mode == ModeRaw {
		c.runRaw(ctx, gen, cfg)
		return
	}

	j, err := domainOf(cfg.jid)
	if err != nil {
		c.post(event{kind: evDisconnect, gen: gen, fault: &Fault{Err: err}})
		return
	}
	tlsConfig := c.tlsConfig(ctx, gen, cfg, j.Domainpart())

	conn, err := c.dial(ctx, cfg, j, tlsConfig)
	if err != nil {
		c.logf(LevelError, "conn", "connection to %s failed: %v", j.Domainpart(), err)
		c.post(event{kind: evDisconnect, gen: gen, fault: &Fault{Err: err}})
		return
	}
	c.logf(LevelDebug, "conn", "connected to %s", conn.RemoteAddr())

	var s *xmpp.Session
	if cfg.mode == ModeComponent {
		s, err = component.NewSession(ctx, j, []byte(cfg.pass), conn)
	} else {
		s, err = xmpp.NewSession(ctx, j.Domain(), j, conn, 0, c.negotiator(cfg, j, tlsConfig))
	}
	if err == nil && cfg.mode == ModeClient && cfg.flags&FlagMandatoryTLS != 0 && s.State()&xmpp.Secure == 0 {
		_ = s.Close()
		err = ErrTLSRequired
	}
	if err != nil {
		_ = conn.Close()
		c.logf(LevelError, "xmpp", "stream negotiation failed: %v", err)
		c.post(event{kind: evDisconnect, gen: gen, fault: faultFrom(err)})
		return
	}

	l := &sessionLink{s: s, raw: conn}
	bound := j.String()
	if cfg.mode == ModeClient {
		bound = s.LocalAddr().String()
	}
	if !c.post(event{
		kind:    evConnect,
		gen:     gen,
		link:    l,
		bound:   bound,
		secured: s.State()&xmpp.Secure == xmpp.Secure,
		peer:    s.ConnectionState().PeerCertificates,
	}) || c.closed() {
		_ = l.close()
		return
	}

	f := c.readSession(gen, s)
	_ = l.close()
	c.post(event{kind: evDisconnect, gen: gen, fault: f})
}

// readSession dispatches every top level element of an established session.
// Elements are handed to the loop without replying on their behalf, so IQs
// are left for the stanza callbacks to answer.
func (c *Conn) readSession(gen uint32, s *xmpp.Session) *Fault {
	r := s.TokenReader()
	defer r.Close()
	it := iter.New(r)
	for it.Next() {
		start, body := it.Current()
		if body == nil {
			continue
		}
		n, err := Decode(*start, body)
		if err != nil {
			return faultFrom(err)
		}
		if !c.post(event{kind: evStanza, gen: gen, node: n}) {
			return nil
		}
	}
	if err := it.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		return faultFrom(err)
	}
	return nil
}

func (c *Conn) closed() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

func (c *Conn) negotiator(cfg config, j jid.JID, tlsConfig *tls.Config) xmpp.Negotiator {
	features := []xmpp.StreamFeature{xmpp.BindResource()}
	if cfg.flags&FlagDisableTLS == 0 && cfg.flags&FlagLegacySSL == 0 {
		features = append(features, xmpp.StartTLS(tlsConfig))
	}
	mechanisms := []sasl.Mechanism{sasl.ScramSha256Plus, sasl.ScramSha1Plus, sasl.ScramSha256, sasl.ScramSha1}
	if cfg.flags&FlagLegacyAuth != 0 || cfg.flags&FlagDisableTLS == 0 {
		mechanisms = append(mechanisms, sasl.Plain)
	}
	features = append(features, xmpp.SASL(j.Bare().String(), cfg.pass, mechanisms...))
	if cfg.flags&FlagEnableCompression != 0 {
		features = append(features, compress.New(compress.LZW))
	}

	return xmpp.NewNegotiator(func(*xmpp.Session, *xmpp.StreamConfig) xmpp.StreamConfig {
		return xmpp.StreamConfig{
			Lang:     cfg.lang,
			Features: features,
			TeeIn:    logWriter{c: c, prefix: "RECV: "},
			TeeOut:   logWriter{c: c, prefix: "SENT: "},
		}
	})
}

func (c *Conn) dial(ctx context.Context, cfg config, j jid.JID, tlsConfig *tls.Config) (net.Conn, error) {
	nd := net.Dialer{Control: control(cfg.sockopt)}
	if cfg.keepIdle > 0 || cfg.keepInterval > 0 {
		nd.KeepAliveConfig = net.KeepAliveConfig{
			Enable:   true,
			Idle:     cfg.keepIdle,
			Interval: cfg.keepInterval,
		}
	}

	host, port := cfg.host, cfg.port
	if cfg.dialer == nil && host == "" && cfg.mode == ModeClient {
		d := dial.Dialer{
			Dialer:    nd,
			NoTLS:     cfg.flags&FlagLegacySSL == 0,
			TLSConfig: tlsConfig,
		}
		return d.Dial(ctx, "tcp", j)
	}

	if host == "" {
		host = j.Domainpart()
	}
	if port == 0 {
		port = defaultClientPort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	var (
		conn net.Conn
		err  error
	)
	if cfg.dialer != nil {
		conn, err = cfg.dialer(ctx, "tcp", addr)
	} else {
		conn, err = nd.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	if cfg.flags&FlagLegacySSL != 0 {
		tc := tls.Client(conn, tlsConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return tc, nil
	}
	return conn, nil
}

// faultFrom converts a negotiation or session error into a Fault, extracting
// stream errors sent by the peer.
func faultFrom(err error) *Fault {
	f := &Fault{Err: err}
	var se stream.Error
	if errors.As(err, &se) {
		n := NewElement("error")
		n.ns = ns.Stream
		cond := NewElement(se.Err)
		cond.ns = ns.Streams
		n.link(cond)
		f.Stream = &StreamFault{Cond: se.Err, Node: n}
	}
	return f
}
