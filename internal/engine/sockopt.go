// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"
	"syscall"
	"time"
)

// SockoptFunc is called with the socket of every new connection before it
// connects.
// It runs on the connection goroutine, not the event loop.
// Returning an error aborts the attempt.
type SockoptFunc func(fd uintptr, userdata uintptr) error

// SetSockopt installs fn as the socket option callback.
// It is not called for connections made through a custom dialer.
func (c *Conn) SetSockopt(fn SockoptFunc, userdata uintptr) {
	c.sockFn, c.sockUserdata, c.sockDefault = fn, userdata, false
}

// SetDefaultSockopt installs the built in socket option callback, which
// enables TCP keepalive using the values given to SetKeepalive.
func (c *Conn) SetDefaultSockopt() {
	c.sockFn, c.sockUserdata, c.sockDefault = nil, 0, true
}

// sockopt returns the socket option callback for a connection attempt, or
// nil if there is none.
func (c *Conn) sockopt() func(fd uintptr) error {
	switch {
	case c.sockDefault:
		idle, interval := c.keepIdle, c.keepInterval
		return func(fd uintptr) error {
			return setKeepalive(fd, idle, interval)
		}
	case c.sockFn != nil:
		fn, userdata := c.sockFn, c.sockUserdata
		return func(fd uintptr) error {
			return fn(fd, userdata)
		}
	}
	return nil
}

// control adapts fn to the Control hook of a net.Dialer.
func control(fn func(fd uintptr) error) func(network, address string, rc syscall.RawConn) error {
	if fn == nil {
		return nil
	}
	return func(_, _ string, rc syscall.RawConn) error {
		var serr error
		if err := rc.Control(func(fd uintptr) {
			serr = fn(fd)
		}); err != nil {
			return err
		}
		if serr != nil {
			return fmt.Errorf("engine: setting socket options: %w", serr)
		}
		return nil
	}
}

func seconds(d time.Duration) int {
	s := int(d / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
