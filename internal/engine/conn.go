// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"crypto/x509"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// Flags alter how a connection is established.
type Flags uint32

// A list of connection flags.
const (
	FlagDisableTLS Flags = 1 << iota
	FlagMandatoryTLS
	FlagLegacySSL
	FlagTrustTLS
	FlagLegacyAuth
	FlagDisableSM
	FlagEnableCompression
)

// Event is a connection state change reported to the connection callback.
type Event int

// A list of connection events.
const (
	EventConnect Event = iota
	EventRawConnect
	EventDisconnect
)

func (ev Event) String() string {
	switch ev {
	case EventConnect:
		return "connect"
	case EventRawConnect:
		return "raw connect"
	case EventDisconnect:
		return "disconnect"
	}
	return fmt.Sprintf("Event(%d)", int(ev))
}

// State is the lifecycle state of a connection.
type State int

// A list of connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// Mode selects the kind of stream a connection negotiates.
type Mode int

// A list of connection modes.
const (
	ModeClient Mode = iota
	ModeComponent
	ModeRaw
)

// DialFunc replaces the dialer used to reach the server.
// It receives a host:port address; SRV resolution is skipped when it is set.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Queue ends for SendQueueDrop.
const (
	QueueOldest = iota
	QueueYoungest
)

const (
	inboxSize         = 64
	defaultClientPort = 5222
	closeTimeout      = 2 * time.Second
)

// DefaultConnectTimeout bounds dialing plus stream negotiation.
const DefaultConnectTimeout = 30 * time.Second

type evKind int

const (
	evConnect evKind = iota
	evRawConnect
	evDisconnect
	evStanza
	evCertfail
)

type event struct {
	kind    evKind
	gen     uint32
	node    *Node
	fault   *Fault
	link    link
	cert    *CertRequest
	bound   string
	secured bool
	peer    []*x509.Certificate
}

type queued struct {
	node *Node
	raw  []byte
}

// Conn is a single XMPP connection.
// Apart from the fields documented as such, a Conn is only touched by the
// goroutine driving its Ctx.
type Conn struct {
	e        *Ctx
	Userdata uintptr

	jid            string
	pass           string
	flags          Flags
	lang           string
	keepIdle       time.Duration
	keepInterval   time.Duration
	connectTimeout time.Duration
	cafile         string
	capath         string
	certFile       string
	keyFile        string
	dialer         DialFunc

	connFn       ConnFunc
	connUserdata uintptr
	certFn       CertfailFunc
	certUserdata uintptr
	sockFn       SockoptFunc
	sockUserdata uintptr
	sockDefault  bool
	passFn       PasswordFunc
	passUserdata uintptr
	passRetries  int

	h           handlers
	state       State
	mode        Mode
	dispatching bool
	released    bool
	requested   bool
	bound       string
	secured     bool
	peer        []*x509.Certificate
	link        link
	sendq       []queued

	// Shared with the connection goroutine.
	inbox  lfq.SPSC[event]
	gen    uint32
	mu     sync.Mutex
	cancel context.CancelFunc
	quit   chan struct{}
}

// NewConn returns a new disconnected connection driven by e.
func (e *Ctx) NewConn() *Conn {
	c := &Conn{
		e:              e,
		connectTimeout: DefaultConnectTimeout,
		quit:           make(chan struct{}),
	}
	c.inbox.Init(inboxSize)
	e.conns = append(e.conns, c)
	return c
}

// Ctx returns the context that drives c.
func (c *Conn) Ctx() *Ctx { return c.e }

func (c *Conn) logf(level Level, area, format string, v ...interface{}) {
	if len(v) == 0 {
		c.e.Log(level, area, format)
		return
	}
	c.e.Log(level, area, fmt.Sprintf(format, v...))
}

// SetJID sets the address used to authenticate.
func (c *Conn) SetJID(jid string) { c.jid = jid }

// JID returns the configured address.
func (c *Conn) JID() string { return c.jid }

// BoundJID returns the address bound by the server, if connected.
func (c *Conn) BoundJID() string { return c.bound }

// SetPass sets the password or component secret.
func (c *Conn) SetPass(pass string) { c.pass = pass }

// Pass returns the configured password.
func (c *Conn) Pass() string { return c.pass }

// SetFlags sets the connection flags.
// Flags can only be changed while disconnected.
func (c *Conn) SetFlags(f Flags) error {
	if c.state != StateDisconnected {
		return ErrInvalidOperation
	}
	c.flags = f
	return nil
}

// Flags returns the connection flags.
func (c *Conn) Flags() Flags { return c.flags }

// SetLang sets the stream language.
func (c *Conn) SetLang(lang string) { c.lang = lang }

// SetKeepalive configures TCP keepalives for the next connection attempt.
func (c *Conn) SetKeepalive(idle, interval time.Duration) {
	c.keepIdle, c.keepInterval = idle, interval
}

// SetConnectTimeout bounds dialing and negotiation.
func (c *Conn) SetConnectTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultConnectTimeout
	}
	c.connectTimeout = d
}

// SetCAFile sets a PEM file of trusted certificates.
func (c *Conn) SetCAFile(path string) { c.cafile = path }

// SetCAPath sets a directory of PEM files of trusted certificates.
func (c *Conn) SetCAPath(path string) { c.capath = path }

// SetClientCert sets the certificate and key used for TLS client
// authentication.
func (c *Conn) SetClientCert(cert, key string) { c.certFile, c.keyFile = cert, key }

// SetDialer replaces the network dialer.
func (c *Conn) SetDialer(d DialFunc) { c.dialer = d }

// SetCertfailHandler registers the callback consulted when the server
// certificate does not verify.
func (c *Conn) SetCertfailHandler(fn CertfailFunc, userdata uintptr) {
	c.certFn, c.certUserdata = fn, userdata
}

// State returns the current connection state.
func (c *Conn) State() State { return c.state }

// Secured reports whether the stream is encrypted.
func (c *Conn) Secured() bool { return c.secured }

// PeerCerts returns the certificate chain presented by the server, or nil if
// the connection is not secured.
func (c *Conn) PeerCerts() []*x509.Certificate { return c.peer }

// Connect starts establishing the connection in the background.
// The connection callback is notified through the event loop.
func (c *Conn) Connect(mode Mode, host string, port uint16, fn ConnFunc, userdata uintptr) error {
	if c.released || c.state != StateDisconnected {
		return ErrInvalidOperation
	}
	if mode != ModeRaw || c.jid != "" || host == "" {
		if _, err := domainOf(c.jid); err != nil {
			return err
		}
	}
	if mode == ModeComponent && host == "" {
		return ErrInvalidOperation
	}
	tm, err := c.loadTLS()
	if err != nil {
		return err
	}
	if err := c.resolve(host); err != nil {
		return err
	}
	c.logUnsupported(mode)

	c.mode = mode
	c.connFn, c.connUserdata = fn, userdata
	c.state = StateConnecting
	c.requested = false
	c.bound, c.secured, c.peer = "", false, nil

	ctx, cancel := context.WithTimeout(context.Background(), c.connectTimeout)
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.cancel = cancel
	c.mu.Unlock()

	cfg := c.snapshot(host, port, tm)
	go func() {
		defer cancel()
		c.run(ctx, gen, cfg)
	}()
	return nil
}

// resolve looks up an explicitly configured host so that unknown names are
// reported by Connect.
// Hosts reached through a custom dialer or proxy are left to that dialer.
func (c *Conn) resolve(host string) error {
	if host == "" || c.dialer != nil || net.ParseIP(host) != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.connectTimeout)
	defer cancel()
	if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
		return fmt.Errorf("engine: resolving %s: %w", host, err)
	}
	return nil
}

func (c *Conn) logUnsupported(mode Mode) {
	var names []string
	if c.flags&FlagDisableSM != 0 {
		names = append(names, "disable stream management")
	}
	if c.flags&FlagEnableCompression != 0 && mode != ModeClient {
		names = append(names, "compression")
	}
	if len(names) > 0 {
		c.logf(LevelDebug, "conn", "flags without effect: %s", strings.Join(names, ", "))
	}
}

// Disconnect closes the stream.
// The connection callback receives a disconnect event once the connection
// goroutine has exited.
func (c *Conn) Disconnect() {
	if c.released || c.state == StateDisconnected || c.requested {
		return
	}
	c.requested = true
	c.flush()
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if c.link != nil {
		if err := c.link.close(); err != nil {
			c.logf(LevelDebug, "conn", "closing stream: %v", err)
		}
	}
}

// Send queues a copy of n for transmission.
func (c *Conn) Send(n *Node) {
	if c.state != StateConnected || c.link == nil {
		c.logf(LevelWarn, "conn", "dropping stanza sent while not connected")
		return
	}
	c.sendq = append(c.sendq, queued{node: n.Copy()})
}

// SendRaw queues raw bytes for transmission.
func (c *Conn) SendRaw(b []byte) {
	if c.state != StateConnected || c.link == nil {
		c.logf(LevelWarn, "conn", "dropping data sent while not connected")
		return
	}
	c.sendq = append(c.sendq, queued{raw: append([]byte(nil), b...)})
}

// SendQueueLen returns the number of elements waiting to be written.
func (c *Conn) SendQueueLen() int {
	return len(c.sendq)
}

// SendQueueDrop removes the oldest or youngest queued element and returns its
// serialized form.
func (c *Conn) SendQueueDrop(which int) (string, bool) {
	if len(c.sendq) == 0 {
		return "", false
	}
	var q queued
	if which == QueueYoungest {
		q = c.sendq[len(c.sendq)-1]
		c.sendq = c.sendq[:len(c.sendq)-1]
	} else {
		q = c.sendq[0]
		c.sendq = c.sendq[1:]
	}
	if q.node != nil {
		b, err := q.node.Marshal()
		q.node.Release()
		return string(b), err == nil
	}
	return string(q.raw), true
}

// OpenStream writes a new stream header on a raw connection.
func (c *Conn) OpenStream(attrs map[string]string) error {
	rl, ok := c.link.(*rawLink)
	if !ok || c.state != StateConnected {
		return ErrInvalidOperation
	}
	return rl.openStream(attrs)
}

func (c *Conn) flush() {
	if c.link == nil || len(c.sendq) == 0 {
		return
	}
	q := c.sendq
	c.sendq = nil
	for i, item := range q {
		var err error
		if item.node != nil {
			err = c.link.send(item.node)
			item.node.Release()
		} else {
			err = c.link.sendRaw(item.raw)
		}
		if err != nil {
			c.logf(LevelError, "conn", "write failed: %v", err)
			for _, rest := range q[i+1:] {
				if rest.node != nil {
					rest.node.Release()
				}
			}
			_ = c.link.close()
			return
		}
	}
}

// post hands an event to the loop.
// It is called from the connection goroutine and waits while the inbox is
// full.
func (c *Conn) post(ev event) bool {
	var bo iox.Backoff
	for {
		err := c.inbox.Enqueue(&ev)
		if err == nil {
			return true
		}
		if !iox.IsWouldBlock(err) {
			return false
		}
		select {
		case <-c.quit:
			if ev.node != nil {
				ev.node.Release()
			}
			return false
		default:
		}
		bo.Wait()
	}
}

// drain dispatches every queued event and returns how many were handled.
func (c *Conn) drain() int {
	n := 0
	for !c.released {
		ev, err := c.inbox.Dequeue()
		if err != nil {
			break
		}
		n++
		c.handle(ev)
	}
	return n
}

func (c *Conn) current(gen uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Conn) handle(ev event) {
	if !c.current(ev.gen) {
		if ev.link != nil {
			_ = ev.link.close()
		}
		if ev.node != nil {
			ev.node.Release()
		}
		if ev.cert != nil {
			ev.cert.answer(false)
		}
		return
	}
	switch ev.kind {
	case evConnect, evRawConnect:
		c.link = ev.link
		c.bound = ev.bound
		c.secured = ev.secured
		c.peer = ev.peer
		c.state = StateConnected
		if c.requested {
			_ = c.link.close()
			return
		}
		typ := EventConnect
		if ev.kind == evRawConnect {
			typ = EventRawConnect
		}
		c.logf(LevelDebug, "event", "%s established", typ)
		c.notify(typ, nil)
	case evStanza:
		c.fireStanza(ev.node)
		ev.node.Release()
	case evCertfail:
		ok := false
		if c.certFn != nil {
			ok = c.certFn(c, ev.cert, c.certUserdata)
		}
		ev.cert.answer(ok)
	case evDisconnect:
		c.teardown()
		fault := ev.fault
		if c.requested {
			fault = nil
		}
		if fault != nil {
			c.logf(LevelInfo, "event", "disconnected: %v", fault)
		}
		c.notify(EventDisconnect, fault)
	}
}

func (c *Conn) notify(ev Event, f *Fault) {
	if c.connFn == nil {
		return
	}
	c.dispatching = true
	defer func() {
		c.dispatching = false
		if !c.released {
			c.arm()
		}
	}()
	c.connFn(c, ev, f, c.connUserdata)
}

func (c *Conn) teardown() {
	for _, q := range c.sendq {
		if q.node != nil {
			q.node.Release()
		}
	}
	c.sendq = nil
	if c.link != nil {
		_ = c.link.close()
	}
	c.link = nil
	c.state = StateDisconnected
	c.bound = ""
	c.secured = false
	c.peer = nil
}

// Release closes the connection, drops every callback and removes it from its
// context.
// No callback runs after Release returns.
func (c *Conn) Release() {
	if c.released {
		return
	}
	c.released = true
	c.mu.Lock()
	c.gen++
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	close(c.quit)
	c.teardown()
	for {
		ev, err := c.inbox.Dequeue()
		if err != nil {
			break
		}
		if ev.link != nil {
			_ = ev.link.close()
		}
		if ev.node != nil {
			ev.node.Release()
		}
		if ev.cert != nil {
			ev.cert.answer(false)
		}
	}
	c.HandlersClear()
	c.IDHandlersClear()
	c.TimedHandlersClear()
	c.connFn = nil
	c.certFn = nil
	c.sockFn = nil
	c.passFn = nil
	c.e.remove(c)
}
