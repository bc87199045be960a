// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

//go:build linux

package engine

import (
	"context"
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestDefaultSockopt(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on loopback: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	e := New(nil)
	defer e.Release()
	c := e.NewConn()
	c.SetKeepalive(42*time.Second, 7*time.Second)
	c.SetDefaultSockopt()

	var keepalive, idle, interval int
	set := c.sockopt()
	d := net.Dialer{Control: control(func(fd uintptr) error {
		if err := set(fd); err != nil {
			return err
		}
		var err error
		keepalive, err = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE)
		if err != nil {
			return err
		}
		idle, err = unix.GetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE)
		if err != nil {
			return err
		}
		interval, err = unix.GetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL)
		return err
	})}
	conn, err := d.DialContext(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("error dialing: %v", err)
	}
	defer conn.Close()
	if keepalive != 1 || idle != 42 || interval != 7 {
		t.Errorf("wrong socket options: keepalive=%d, idle=%d, interval=%d", keepalive, idle, interval)
	}
}

func TestSockoptRemoved(t *testing.T) {
	e := New(nil)
	defer e.Release()
	c := e.NewConn()
	if c.sockopt() != nil {
		t.Errorf("new connection has a socket option callback")
	}
	c.SetDefaultSockopt()
	c.SetSockopt(nil, 0)
	if c.sockopt() != nil {
		t.Errorf("socket option callback not removed")
	}
}
