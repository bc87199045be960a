// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package engine

import (
	"time"
)

// Native callback signatures.
// Each callback is registered together with a key that identifies the
// function for duplicate detection and an opaque userdata value that is passed
// back unchanged.
// Stanza and timed callbacks return false to be removed.
type (
	StanzaFunc      func(c *Conn, n *Node, userdata uintptr) bool
	TimedFunc       func(c *Conn, userdata uintptr) bool
	GlobalTimedFunc func(e *Ctx, userdata uintptr) bool
	ConnFunc        func(c *Conn, ev Event, f *Fault, userdata uintptr)
	CertfailFunc    func(c *Conn, req *CertRequest, userdata uintptr) bool
)

type stanzaEntry struct {
	fn       StanzaFunc
	key      uintptr
	userdata uintptr
	id       string
	ns       string
	name     string
	typ      string
	armed    bool
	removed  bool
}

type timedEntry struct {
	fn       TimedFunc
	gfn      GlobalTimedFunc
	key      uintptr
	userdata uintptr
	period   time.Duration
	last     time.Time
	armed    bool
	removed  bool
}

func (t *timedEntry) due(now time.Time) time.Duration {
	return t.last.Add(t.period).Sub(now)
}

type handlers struct {
	stanza []*stanzaEntry
	id     map[string][]*stanzaEntry
	timed  []*timedEntry
}

// HandlerAdd registers a stanza callback filtered by namespace, element name
// and type attribute.
// If a callback with the same key is already registered the call is ignored
// and false is returned.
func (c *Conn) HandlerAdd(fn StanzaFunc, key, userdata uintptr, space, name, typ string) bool {
	for _, h := range c.h.stanza {
		if !h.removed && h.key == key {
			c.logf(LevelWarn, "xmpp", "stanza handler already registered")
			return false
		}
	}
	c.h.stanza = append(c.h.stanza, &stanzaEntry{
		fn:       fn,
		key:      key,
		userdata: userdata,
		ns:       space,
		name:     name,
		typ:      typ,
		armed:    !c.dispatching,
	})
	return true
}

// HandlerDelete removes the stanza callback registered with userdata.
func (c *Conn) HandlerDelete(userdata uintptr) bool {
	found := false
	for _, h := range c.h.stanza {
		if !h.removed && h.userdata == userdata {
			h.removed = true
			found = true
		}
	}
	return found
}

// IDHandlerAdd registers a callback for stanzas with the given id attribute.
// If a callback with the same key is already registered for id the call is
// ignored and false is returned.
func (c *Conn) IDHandlerAdd(fn StanzaFunc, key, userdata uintptr, id string) bool {
	for _, h := range c.h.id[id] {
		if !h.removed && h.key == key {
			c.logf(LevelWarn, "xmpp", "id handler already registered for %s", id)
			return false
		}
	}
	if c.h.id == nil {
		c.h.id = make(map[string][]*stanzaEntry)
	}
	c.h.id[id] = append(c.h.id[id], &stanzaEntry{
		fn:       fn,
		key:      key,
		userdata: userdata,
		id:       id,
		armed:    !c.dispatching,
	})
	return true
}

// IDHandlerDelete removes the id callback registered with userdata.
func (c *Conn) IDHandlerDelete(userdata uintptr, id string) bool {
	found := false
	for _, h := range c.h.id[id] {
		if !h.removed && h.userdata == userdata {
			h.removed = true
			found = true
		}
	}
	return found
}

// TimedHandlerAdd registers a callback that is run every period while the
// connection is connected.
// If a callback with the same key is already registered the call is ignored
// and false is returned.
func (c *Conn) TimedHandlerAdd(fn TimedFunc, key, userdata uintptr, period time.Duration) bool {
	for _, h := range c.h.timed {
		if !h.removed && h.key == key {
			c.logf(LevelWarn, "xmpp", "timed handler already registered")
			return false
		}
	}
	c.h.timed = append(c.h.timed, &timedEntry{
		fn:       fn,
		key:      key,
		userdata: userdata,
		period:   period,
		last:     time.Now(),
		armed:    true,
	})
	return true
}

// TimedHandlerDelete removes the timed callback registered with userdata.
func (c *Conn) TimedHandlerDelete(userdata uintptr) bool {
	found := false
	for _, h := range c.h.timed {
		if !h.removed && h.userdata == userdata {
			h.removed = true
			found = true
		}
	}
	return found
}

// HandlersClear removes every stanza callback.
// Id and timed callbacks are left in place.
func (c *Conn) HandlersClear() {
	for _, h := range c.h.stanza {
		h.removed = true
	}
	c.compact()
}

// IDHandlersClear removes every id callback.
func (c *Conn) IDHandlersClear() {
	for _, l := range c.h.id {
		for _, h := range l {
			h.removed = true
		}
	}
	c.compact()
}

// TimedHandlersClear removes every timed callback.
func (c *Conn) TimedHandlersClear() {
	for _, h := range c.h.timed {
		h.removed = true
	}
	c.compact()
}

// HandlerCount returns the number of active native registrations.
func (c *Conn) HandlerCount() int {
	n := 0
	for _, h := range c.h.stanza {
		if !h.removed {
			n++
		}
	}
	for _, l := range c.h.id {
		for _, h := range l {
			if !h.removed {
				n++
			}
		}
	}
	for _, h := range c.h.timed {
		if !h.removed {
			n++
		}
	}
	return n
}

func (c *Conn) compact() {
	c.h.stanza = keepStanza(c.h.stanza)
	for id, l := range c.h.id {
		l = keepStanza(l)
		if len(l) == 0 {
			delete(c.h.id, id)
			continue
		}
		c.h.id[id] = l
	}
	c.h.timed = keepTimed(c.h.timed)
}

func keepStanza(l []*stanzaEntry) []*stanzaEntry {
	out := l[:0]
	for _, h := range l {
		if !h.removed {
			out = append(out, h)
		}
	}
	for i := len(out); i < len(l); i++ {
		l[i] = nil
	}
	return out
}

func keepTimed(l []*timedEntry) []*timedEntry {
	out := l[:0]
	for _, h := range l {
		if !h.removed {
			out = append(out, h)
		}
	}
	for i := len(out); i < len(l); i++ {
		l[i] = nil
	}
	return out
}

// fireStanza dispatches n to the id callbacks matching its id and then to the
// stanza callbacks whose filters match.
// Callbacks registered while dispatching are armed once it completes.
func (c *Conn) fireStanza(n *Node) {
	c.dispatching = true
	defer func() {
		c.dispatching = false
		c.arm()
		c.compact()
	}()

	if id, ok := n.Attr("id"); ok {
		for _, h := range append([]*stanzaEntry(nil), c.h.id[id]...) {
			if h.removed || !h.armed {
				continue
			}
			if !h.fn(c, n, h.userdata) {
				h.removed = true
			}
			if c.released {
				return
			}
		}
	}
	for _, h := range append([]*stanzaEntry(nil), c.h.stanza...) {
		if h.removed || !h.armed || !n.Match(h.ns, h.name, h.typ) {
			continue
		}
		if !h.fn(c, n, h.userdata) {
			h.removed = true
		}
		if c.released {
			return
		}
	}
}

func (c *Conn) arm() {
	for _, h := range c.h.stanza {
		h.armed = true
	}
	for _, l := range c.h.id {
		for _, h := range l {
			h.armed = true
		}
	}
}

// fireTimed runs the timed callbacks that are due and returns the time until
// the next one is.
func (c *Conn) fireTimed(now time.Time, max time.Duration) time.Duration {
	if c.state != StateConnected {
		return max
	}
	wait := fireTimed(append([]*timedEntry(nil), c.h.timed...), now, max, func(h *timedEntry) bool {
		return h.fn(c, h.userdata)
	}, func() bool { return c.released })
	c.h.timed = keepTimed(c.h.timed)
	return wait
}

func fireTimed(list []*timedEntry, now time.Time, max time.Duration, call func(*timedEntry) bool, stop func() bool) time.Duration {
	wait := max
	for _, h := range list {
		if h.removed || stop() {
			continue
		}
		if d := h.due(now); d > 0 {
			if d < wait {
				wait = d
			}
			continue
		}
		h.last = now
		if !call(h) {
			h.removed = true
			continue
		}
		if h.period < wait {
			wait = h.period
		}
	}
	return wait
}

// TimedHandlerAdd registers a callback run every period regardless of the
// state of any connection.
// If a callback with the same key is already registered the call is ignored
// and false is returned.
func (e *Ctx) TimedHandlerAdd(fn GlobalTimedFunc, key, userdata uintptr, period time.Duration) bool {
	for _, h := range e.timed {
		if !h.removed && h.key == key {
			e.Log(LevelWarn, "xmpp", "global timed handler already registered")
			return false
		}
	}
	e.timed = append(e.timed, &timedEntry{
		gfn:      fn,
		key:      key,
		userdata: userdata,
		period:   period,
		last:     time.Now(),
		armed:    true,
	})
	return true
}

// TimedHandlerDelete removes the global timed callback registered with
// userdata.
func (e *Ctx) TimedHandlerDelete(userdata uintptr) bool {
	found := false
	for _, h := range e.timed {
		if !h.removed && h.userdata == userdata {
			h.removed = true
			found = true
		}
	}
	e.timed = keepTimed(e.timed)
	return found
}

// TimedHandlerCount returns the number of active global timed callbacks.
func (e *Ctx) TimedHandlerCount() int {
	n := 0
	for _, h := range e.timed {
		if !h.removed {
			n++
		}
	}
	return n
}

func (e *Ctx) fireTimed(now time.Time, max time.Duration) time.Duration {
	wait := fireTimed(append([]*timedEntry(nil), e.timed...), now, max, func(h *timedEntry) bool {
		return h.gfn(e, h.userdata)
	}, func() bool { return e.released })
	e.timed = keepTimed(e.timed)
	return wait
}
