// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package strophe

import (
	"reflect"

	"mellium.im/strophe/internal/engine"
	"mellium.im/strophe/internal/handle"
)

// HandlerResult is returned by stanza and timed handlers to tell the event
// loop whether to keep calling them.
type HandlerResult int

// A list of handler results.
const (
	KeepHandler   HandlerResult = iota // keep
	RemoveHandler                      // remove
)

// Handler signatures.
//
// Every argument passed to a handler is only valid for the duration of the
// call.
type (
	// ConnectionHandler is notified of changes to the connection state.
	ConnectionHandler func(ctx *Context, conn *Connection, ev ConnectionEvent)

	// StanzaHandler receives incoming stanzas.
	StanzaHandler func(ctx *Context, conn *Connection, st *Stanza) HandlerResult

	// TimedHandler is called periodically while the connection is connected.
	TimedHandler func(ctx *Context, conn *Connection) HandlerResult

	// CertfailHandler decides whether to accept a server certificate that did
	// not verify.
	// It receives the certificate and the verification error.
	CertfailHandler func(cert *TLSCert, errMsg string) bool

	// PasswordHandler returns the password of an encrypted client key, which
	// may be at most maxLen bytes long.
	// Returning false gives up.
	// It is called while connecting, once per allowed attempt.
	PasswordHandler func(conn *Connection, maxLen int) (string, bool)

	// SockoptHandler is called with the socket of each new connection before
	// it connects, for example to set socket options with
	// golang.org/x/sys/unix.
	// It runs on the goroutine dialing the server, so it receives no Context or
	// Connection.
	// Returning an error aborts the connection attempt.
	SockoptHandler func(fd uintptr) error
)

// HandlerID identifies a handler registered with Connection.HandlerAdd.
type HandlerID struct {
	h handle.Handle
}

// IDHandlerID identifies a handler registered with Connection.IDHandlerAdd.
type IDHandlerID struct {
	h  handle.Handle
	id string
}

// TimedHandlerID identifies a handler registered with
// Connection.TimedHandlerAdd.
type TimedHandlerID struct {
	h handle.Handle
}

// funcKey identifies the code of a function.
// Closures created from the same function literal share a key.
func funcKey(fn any) uintptr {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return 0
	}
	return v.Pointer()
}

// HandlersSame reports whether a and b are the same handler as far as
// duplicate detection is concerned.
//
// Only one of two handlers that are the same can be active at a time on a
// connection: registering the second one succeeds and returns an ID but it is
// never called.
// Closures created from the same function literal are always the same even
// if they capture different variables.
func HandlersSame(a, b any) bool {
	ka, kb := funcKey(a), funcKey(b)
	return ka != 0 && ka == kb
}

func connTrampoline(c *engine.Conn, ev engine.Event, f *engine.Fault, userdata uintptr) {
	fn, ok := handle.Lookup(handle.Handle(userdata)).(ConnectionHandler)
	if !ok || fn == nil {
		return
	}
	s := new(scope)
	defer s.end()
	cev := ConnectionEvent{Event: Event(ev)}
	if f != nil {
		cev.Err = newConnectionError(f, s)
	}
	fn(viewContext(c.Ctx(), s), viewConnection(c, s), cev)
}

func stanzaTrampoline(c *engine.Conn, n *engine.Node, userdata uintptr) bool {
	fn, ok := handle.Lookup(handle.Handle(userdata)).(StanzaHandler)
	if !ok {
		return false
	}
	s := new(scope)
	defer s.end()
	if fn(viewContext(c.Ctx(), s), viewConnection(c, s), viewStanza(n, s, true)) == RemoveHandler {
		if cs := connStateOf(c); cs != nil {
			cs.drop(handle.Handle(userdata))
		}
		return false
	}
	return true
}

func timedTrampoline(c *engine.Conn, userdata uintptr) bool {
	fn, ok := handle.Lookup(handle.Handle(userdata)).(TimedHandler)
	if !ok {
		return false
	}
	s := new(scope)
	defer s.end()
	if fn(viewContext(c.Ctx(), s), viewConnection(c, s)) == RemoveHandler {
		if cs := connStateOf(c); cs != nil {
			cs.drop(handle.Handle(userdata))
		}
		return false
	}
	return true
}

func certfailTrampoline(c *engine.Conn, req *engine.CertRequest, userdata uintptr) bool {
	fn, ok := handle.Lookup(handle.Handle(userdata)).(CertfailHandler)
	if !ok {
		return false
	}
	s := new(scope)
	defer s.end()
	return fn(&TLSCert{scope: s, cert: req.Cert, chain: req.Chain}, req.Err)
}

func passwordTrampoline(c *engine.Conn, maxLen int, userdata uintptr) (string, bool) {
	fn, ok := handle.Lookup(handle.Handle(userdata)).(PasswordHandler)
	if !ok {
		return "", false
	}
	s := new(scope)
	defer s.end()
	return fn(viewConnection(c, s), maxLen)
}

func sockoptTrampoline(fd uintptr, userdata uintptr) error {
	fn, ok := handle.Lookup(handle.Handle(userdata)).(SockoptHandler)
	if !ok {
		return nil
	}
	return fn(fd)
}
