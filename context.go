// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package strophe

import (
	"time"

	"code.hybscloud.com/atomix"
	"github.com/google/uuid"

	"mellium.im/strophe/internal/engine"
	"mellium.im/strophe/internal/handle"
)

// DefaultTimeout is the time Run waits for events on each iteration unless
// changed with SetTimeout.
const DefaultTimeout = engine.DefaultTimeout

// ctxState is shared by every handle and view of the same Context.
type ctxState struct {
	e        *engine.Ctx
	self     handle.Handle
	driver   atomix.Uint32
	timed    map[handle.Handle]struct{}
	released bool
}

func ctxStateOf(e *engine.Ctx) *ctxState {
	st, _ := handle.Lookup(handle.Handle(e.Userdata)).(*ctxState)
	return st
}

// drive runs fn while holding the right to drive the event loop.
func (st *ctxState) drive(op string, fn func()) {
	if st.driver.Add(1) != 1 {
		st.driver.Add(^uint32(0))
		panic(misuse(op, ErrBorrowed))
	}
	defer st.driver.Add(^uint32(0))
	fn()
}

func (st *ctxState) release() {
	if st.released {
		return
	}
	st.released = true
	for _, c := range st.e.Conns() {
		if cs := connStateOf(c); cs != nil {
			cs.unregisterAll()
		}
	}
	st.e.Release()
	for h := range st.timed {
		handle.Unregister(h)
	}
	st.timed = nil
	handle.Unregister(st.self)
}

// Context is an event loop and the connections it drives.
//
// A Context handle is moved into a Connection by NewConnection and handed back
// by the Connection's connect methods.
// The Context passed to callbacks is a view that is only valid for the
// duration of the call.
type Context struct {
	st    *ctxState
	scope *scope
	view  bool
	moved bool
}

// NewContext returns a new Context that logs to l.
// The logger is moved into the Context.
// A nil logger discards everything.
func NewContext(l *Logger) *Context {
	checkLive("NewContext")
	Init()
	st := &ctxState{
		e:     engine.New(l.take("NewContext")),
		timed: make(map[handle.Handle]struct{}),
	}
	st.self = handle.Register(st)
	st.e.Userdata = uintptr(st.self)
	return &Context{st: st}
}

// NewContextWithDefaultLogger returns a new Context that logs through the
// logger configured with SetLogger.
func NewContextWithDefaultLogger() *Context {
	return NewContext(NewDefaultLogger())
}

// NewContextWithNullLogger returns a new Context that discards its logs.
func NewContextWithNullLogger() *Context {
	return NewContext(NewNullLogger())
}

func viewContext(e *engine.Ctx, s *scope) *Context {
	return &Context{st: ctxStateOf(e), scope: s, view: true}
}

func (c *Context) state(op string) *ctxState {
	checkLive(op)
	if c.moved || c.st == nil || c.st.released {
		panic(misuse(op, ErrMoved))
	}
	c.scope.check(op)
	return c.st
}

// take moves the handle out of c.
func (c *Context) take(op string) *ctxState {
	st := c.state(op)
	if c.view {
		panic(misuse(op, ErrBorrowed))
	}
	c.moved = true
	return st
}

// Release closes every connection of the Context and drops all of their
// callbacks.
// It panics when called on the view passed to a callback.
func (c *Context) Release() {
	st := c.take("Context.Release")
	if st.driver.Load() != 0 {
		c.moved = false
		panic(misuse("Context.Release", ErrBorrowed))
	}
	st.release()
}

// SetTimeout sets how long each iteration of Run waits for events.
func (c *Context) SetTimeout(d time.Duration) {
	c.state("Context.SetTimeout").e.SetTimeout(d)
}

// Timeout returns the time each iteration of Run waits for events.
func (c *Context) Timeout() time.Duration {
	return c.state("Context.Timeout").e.Timeout()
}

// RunOnce runs a single iteration of the event loop, waiting up to d for
// events.
// Only one goroutine may drive a Context at a time; RunOnce panics with an
// error wrapping ErrBorrowed if the loop is already running, including when
// called from a callback.
func (c *Context) RunOnce(d time.Duration) {
	st := c.state("Context.RunOnce")
	st.drive("Context.RunOnce", func() {
		st.e.RunOnce(d)
	})
}

// Run runs the event loop until Stop is called from a callback.
func (c *Context) Run() {
	st := c.state("Context.Run")
	st.drive("Context.Run", st.e.Run)
}

// Stop makes Run return once the current iteration completes.
func (c *Context) Stop() {
	c.state("Context.Stop").e.Stop()
}

// Log writes a message to the Context's logger.
func (c *Context) Log(level LogLevel, area, msg string) {
	c.state("Context.Log").e.Log(engine.Level(level), area, msg)
}

// UUIDGen returns a new random UUID suitable for use as a stanza id.
func (c *Context) UUIDGen() string {
	c.state("Context.UUIDGen")
	return uuid.NewString()
}

// GlobalTimedHandler is called periodically by the event loop regardless of
// the state of any connection.
type GlobalTimedHandler func(ctx *Context) HandlerResult

// GlobalTimedHandlerID identifies a registered GlobalTimedHandler.
type GlobalTimedHandlerID struct {
	h handle.Handle
}

// TimedHandlerAdd registers fn to be called every period.
func (c *Context) TimedHandlerAdd(fn GlobalTimedHandler, period time.Duration) GlobalTimedHandlerID {
	st := c.state("Context.TimedHandlerAdd")
	h := handle.Register(fn)
	st.timed[h] = struct{}{}
	st.e.TimedHandlerAdd(globalTimedTrampoline, funcKey(fn), uintptr(h), period)
	return GlobalTimedHandlerID{h: h}
}

// TimedHandlerDelete removes a handler registered with TimedHandlerAdd.
func (c *Context) TimedHandlerDelete(id GlobalTimedHandlerID) {
	st := c.state("Context.TimedHandlerDelete")
	st.e.TimedHandlerDelete(uintptr(id.h))
	st.drop(id.h)
}

// HandlerCount returns the number of global timed handlers held by the
// Context.
func (c *Context) HandlerCount() int {
	return len(c.state("Context.HandlerCount").timed)
}

func (st *ctxState) drop(h handle.Handle) {
	if _, ok := st.timed[h]; !ok {
		return
	}
	delete(st.timed, h)
	handle.Unregister(h)
}

func globalTimedTrampoline(e *engine.Ctx, userdata uintptr) bool {
	fn, ok := handle.Lookup(handle.Handle(userdata)).(GlobalTimedHandler)
	st := ctxStateOf(e)
	if !ok || st == nil {
		return false
	}
	s := new(scope)
	defer s.end()
	if fn(viewContext(e, s)) == RemoveHandler {
		st.drop(handle.Handle(userdata))
		return false
	}
	return true
}
