// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package engine is the native XMPP engine wrapped by package strophe.
//
// It owns the event loop, the connections and their callback lists, and a
// reference counted XML node tree.
// Stream negotiation, TLS and SASL are delegated to mellium.im/xmpp.
// Callbacks are registered as fixed functions plus an opaque userdata value and
// are always invoked on the goroutine that drives the loop.
package engine // import "mellium.im/strophe/internal/engine"

import (
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
)

// Level is the severity of a log message.
type Level int

// A list of log levels.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// LogFunc receives every message logged by the engine.
type LogFunc func(level Level, area, msg string)

// DefaultTimeout is the default time RunOnce waits for events.
const DefaultTimeout = time.Second

// Ctx is an event loop and the set of connections it drives.
type Ctx struct {
	Userdata uintptr

	logMu    sync.Mutex
	log      LogFunc
	timeout  time.Duration
	conns    []*Conn
	timed    []*timedEntry
	running  atomix.Bool
	stop     atomix.Bool
	released bool
}

// New returns a context that logs to log.
// A nil log discards everything.
func New(log LogFunc) *Ctx {
	return &Ctx{
		log:     log,
		timeout: DefaultTimeout,
	}
}

// Log writes a message to the context's log sink.
// Calls are serialized so that the sink never runs concurrently with itself.
func (e *Ctx) Log(level Level, area, msg string) {
	e.logMu.Lock()
	defer e.logMu.Unlock()
	if e.log != nil {
		e.log(level, area, msg)
	}
}

// SetTimeout sets the default time Run waits for events on each iteration.
func (e *Ctx) SetTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	e.timeout = d
}

// Timeout returns the default wait time.
func (e *Ctx) Timeout() time.Duration {
	return e.timeout
}

// Conns returns the connections created from e.
func (e *Ctx) Conns() []*Conn {
	return append([]*Conn(nil), e.conns...)
}

// RunOnce runs a single iteration of the event loop.
// Queued output is flushed, due timed callbacks run, and then events are
// dispatched as they arrive until at least one was handled or timeout (capped
// by the next timed callback) elapsed.
func (e *Ctx) RunOnce(timeout time.Duration) {
	if e.released {
		return
	}
	for _, c := range e.Conns() {
		c.flush()
	}

	now := time.Now()
	wait := e.fireTimed(now, timeout)
	for _, c := range e.Conns() {
		if e.released {
			return
		}
		wait = c.fireTimed(now, wait)
	}

	deadline := now.Add(wait)
	var bo iox.Backoff
	for !e.released {
		n := 0
		for _, c := range e.Conns() {
			n += c.drain()
			if e.released {
				return
			}
		}
		if n > 0 || e.stop.Load() || !time.Now().Before(deadline) {
			break
		}
		bo.Wait()
	}
	for _, c := range e.Conns() {
		c.flush()
	}
}

// Run runs the event loop until Stop is called.
// Calling Run while it is already running returns immediately.
func (e *Ctx) Run() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.stop.Store(false)
	defer e.running.Store(false)
	for !e.stop.Load() && !e.released {
		e.RunOnce(e.timeout)
	}
}

// Stop signals Run to return after the current iteration.
// It is safe to call from any goroutine.
func (e *Ctx) Stop() {
	if e.running.Load() {
		e.stop.Store(true)
	}
}

// Release closes every connection and drops every callback.
func (e *Ctx) Release() {
	if e.released {
		return
	}
	for _, c := range e.Conns() {
		c.Release()
	}
	for _, h := range e.timed {
		h.removed = true
	}
	e.timed = nil
	e.released = true
}

func (e *Ctx) remove(c *Conn) {
	for i, cc := range e.conns {
		if cc == c {
			e.conns = append(e.conns[:i], e.conns[i+1:]...)
			return
		}
	}
}
