// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"mellium.im/xmpp"

	"mellium.im/strophe/internal/ns"
)

// link is the transport of an established connection.
type link interface {
	send(n *Node) error
	sendRaw(b []byte) error
	close() error
}

// sessionLink sends through a negotiated mellium session.
type sessionLink struct {
	s    *xmpp.Session
	raw  net.Conn
	once sync.Once
	err  error
}

func (l *sessionLink) send(n *Node) error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return l.s.Send(ctx, n.TokenReader())
}

func (l *sessionLink) sendRaw(b []byte) error {
	_, err := l.s.Conn().Write(b)
	return err
}

func (l *sessionLink) close() error {
	l.once.Do(func() {
		_ = l.raw.SetDeadline(time.Now().Add(closeTimeout))
		l.err = l.s.Close()
		if err := l.s.Conn().Close(); l.err == nil {
			l.err = err
		}
	})
	return l.err
}

// rawLink writes directly to the socket of a raw connection.
type rawLink struct {
	conn   net.Conn
	to     string
	lang   string
	mu     sync.Mutex
	opened bool
	once   sync.Once
	err    error
}

func (l *rawLink) send(n *Node) error {
	b, err := n.Marshal()
	if err != nil {
		return err
	}
	return l.sendRaw(b)
}

func (l *rawLink) sendRaw(b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.conn.Write(b)
	return err
}

func (l *rawLink) openStream(attrs map[string]string) error {
	if attrs == nil {
		attrs = map[string]string{
			"to":      l.to,
			"version": "1.0",
			"xmlns":   ns.Client,
		}
		if l.lang != "" {
			attrs["xml:lang"] = l.lang
		}
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><stream:stream`)
	for _, k := range keys {
		fmt.Fprintf(&b, ` %s="`, k)
		attrEscaper.WriteString(&b, attrs[k])
		b.WriteByte('"')
	}
	b.WriteString(` xmlns:stream="` + ns.Stream + `">`)
	if err := l.sendRaw([]byte(b.String())); err != nil {
		return err
	}
	l.mu.Lock()
	l.opened = true
	l.mu.Unlock()
	return nil
}

func (l *rawLink) close() error {
	l.once.Do(func() {
		_ = l.conn.SetDeadline(time.Now().Add(closeTimeout))
		l.mu.Lock()
		opened := l.opened
		l.mu.Unlock()
		if opened {
			_ = l.sendRaw([]byte(`</stream:stream>`))
		}
		l.err = l.conn.Close()
	})
	return l.err
}
