// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmpptest provides an in-memory XMPP server for testing.
package xmpptest // import "mellium.im/strophe/internal/xmpptest"

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"mellium.im/strophe/internal/attr"
	"mellium.im/strophe/internal/iter"
	"mellium.im/strophe/internal/ns"
)

// Namespace used by external components.
const nsComponent = "jabber:component:accept"

// Element is a top level element received by a Server.
type Element struct {
	Start xml.StartElement
	// Text is all of the character data found inside the element.
	Text string
}

// Attr returns the value of the named attribute of the element.
func (e Element) Attr(local string) string {
	_, v := attr.Get(e.Start.Attr, local)
	return v
}

// Option configures a Server.
type Option func(*Server)

// Domain sets the domain the server announces in its stream header.
// The default is "example.net".
func Domain(domain string) Option {
	return func(s *Server) {
		s.domain = domain
	}
}

// Component makes the server accept external component handshakes instead of
// advertising client stream features.
func Component() Option {
	return func(s *Server) {
		s.component = true
	}
}

// Eager makes the server send its stream header as soon as the connection is
// established instead of waiting for the client's header.
// This is what raw connections expect.
func Eager() Option {
	return func(s *Server) {
		s.eager = true
	}
}

// TLS makes the server expect a TLS handshake as soon as the connection is
// established, as legacy SSL clients do.
func TLS(config *tls.Config) Option {
	return func(s *Server) {
		s.tls = config
	}
}

// Server is a fake XMPP server that accepts connections over net.Pipe.
// Only one connection is served at a time; dialing again replaces it.
type Server struct {
	domain    string
	component bool
	eager     bool
	tls       *tls.Config

	mu     sync.Mutex
	conn   net.Conn
	addr   string
	header chan struct{}
	recv   chan Element
	done   chan struct{}
	once   *sync.Once
}

// NewServer returns a server configured with opts.
func NewServer(opts ...Option) *Server {
	s := &Server{domain: "example.net"}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dial has the signature of a dialer and returns the client end of a new
// in-memory connection to the server.
func (s *Server) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, server := net.Pipe()
	if s.tls != nil {
		server = tls.Server(server, s.tls)
	}

	s.mu.Lock()
	s.conn = server
	s.addr = addr
	s.header = make(chan struct{})
	s.recv = make(chan Element, 64)
	s.done = make(chan struct{})
	s.once = new(sync.Once)
	header, recv, done, once := s.header, s.recv, s.done, s.once
	s.mu.Unlock()

	go s.serve(server, header, recv, done, once)
	return client, nil
}

// Addr returns the address passed to the last call to Dial.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Received returns the elements read from the current connection.
// The channel is closed when the connection ends.
func (s *Server) Received() <-chan Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recv
}

// Done is closed when the current connection ends.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Write sends raw XML to the client.
func (s *Server) Write(raw string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	_, err := io.WriteString(conn, raw)
	return err
}

// StreamError sends a stream error with the given condition and optional text
// and then closes the connection.
func (s *Server) StreamError(cond, text string) error {
	var b strings.Builder
	fmt.Fprintf(&b, `<stream:error><%s xmlns="%s"/>`, cond, ns.Streams)
	if text != "" {
		fmt.Fprintf(&b, `<text xmlns="%s">`, ns.Streams)
		_ = xml.EscapeText(&b, []byte(text))
		b.WriteString(`</text>`)
	}
	b.WriteString(`</stream:error>`)
	err := s.Write(b.String())
	return errors.Join(err, s.Close())
}

// Close ends the stream and closes the current connection.
func (s *Server) Close() error {
	s.mu.Lock()
	conn, once := s.conn, s.once
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	var err error
	once.Do(func() {
		_, err = io.WriteString(conn, `</stream:stream>`)
		if cerr := conn.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

func (s *Server) streamHeader() string {
	space := ns.Client
	if s.component {
		space = nsComponent
	}
	h := fmt.Sprintf(`<?xml version="1.0"?><stream:stream from="%s" id="%s" version="1.0" xmlns="%s" xmlns:stream="%s">`,
		s.domain, attr.RandomID(), space, ns.Stream)
	if !s.component {
		h += `<stream:features/>`
	}
	return h
}

func (s *Server) serve(conn net.Conn, header chan struct{}, recv chan Element, done chan struct{}, once *sync.Once) {
	defer close(done)
	defer close(recv)
	defer once.Do(func() {
		_ = conn.Close()
	})

	// Writes on a pipe block until they are read, so the header is written
	// concurrently with reading.
	sendHeader := func() {
		go func() {
			if _, err := io.WriteString(conn, s.streamHeader()); err != nil {
				return
			}
			close(header)
		}()
	}
	if s.eager {
		sendHeader()
	}

	d := xml.NewDecoder(conn)
	for {
		t, err := d.Token()
		if err != nil {
			return
		}
		start, ok := t.(xml.StartElement)
		if !ok {
			continue
		}
		if !iter.IsStreamStart(start) {
			recv <- readElement(start, d)
			continue
		}
		if !s.eager {
			sendHeader()
		}
		break
	}

	it := iter.New(d)
	for it.Next() {
		start, body := it.Current()
		if body == nil {
			continue
		}
		el := readElement(*start, body)
		if s.component && el.Start.Name.Local == "handshake" {
			<-header
			if _, err := io.WriteString(conn, `<handshake/>`); err != nil {
				return
			}
		}
		recv <- el
	}
}

// readElement consumes the rest of the element opened by start.
func readElement(start xml.StartElement, r xml.TokenReader) Element {
	el := Element{Start: start.Copy()}
	var b strings.Builder
	depth := 1
	for depth > 0 {
		t, err := r.Token()
		if err != nil {
			break
		}
		switch tok := t.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			b.Write(tok)
		}
	}
	el.Text = b.String()
	return el
}
