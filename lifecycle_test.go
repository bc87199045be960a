// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package strophe

import (
	"errors"
	"sync"
	"testing"

	"mellium.im/strophe/internal/handle"
)

func mustPanic(t *testing.T, target error, f func()) {
	t.Helper()
	defer func() {
		err, ok := recover().(error)
		if !ok || !errors.Is(err, target) {
			t.Errorf("wrong panic: want=%q, got=%v", target, err)
		}
	}()
	f()
}

// restart undoes Shutdown so that other tests in the binary keep working.
func restart() {
	shutdownOnce = sync.Once{}
	if shutdown.Load() != 0 {
		shutdown.Add(^uint32(0))
	}
}

func TestVersionCheck(t *testing.T) {
	if !VersionCheck(VersionMajor, VersionMinor) {
		t.Errorf("current version rejected")
	}
	if !VersionCheck(0, 0) {
		t.Errorf("older version rejected")
	}
	if VersionCheck(VersionMajor+1, 0) {
		t.Errorf("newer version accepted")
	}
	if VersionCheck(VersionMajor, VersionMinor+1) {
		t.Errorf("newer minor version accepted")
	}
}

func TestShutdown(t *testing.T) {
	defer restart()

	Init()
	Init()
	ctx := NewContextWithNullLogger()
	ctx.Release()

	Shutdown()
	// A second call is a no-op.
	Shutdown()

	mustPanic(t, ErrShutdown, Init)
	mustPanic(t, ErrShutdown, func() { NewContextWithNullLogger() })
	mustPanic(t, ErrShutdown, func() { NewStanza() })
	mustPanic(t, ErrShutdown, func() { _, _ = StanzaFromString("<a/>") })
}

func TestShutdownWithLiveContext(t *testing.T) {
	defer restart()

	ctx := NewContextWithNullLogger()
	st := NewPresence()
	Shutdown()
	mustPanic(t, ErrShutdown, func() { ctx.RunOnce(0) })
	mustPanic(t, ErrShutdown, func() { _ = st.Name() })
	restart()
	st.Release()
	ctx.Release()
}

func TestHandleTableDrained(t *testing.T) {
	before := handle.Count()
	ctx := NewContextWithNullLogger()
	conn := NewConnection(ctx)
	conn.HandlerAdd(func(*Context, *Connection, *Stanza) HandlerResult { return KeepHandler }, "", "", "")
	conn.TimedHandlerAdd(func(*Context, *Connection) HandlerResult { return KeepHandler }, 0)
	conn.SetCertfailHandler(func(*TLSCert, string) bool { return false })
	ctx = conn.Release()
	ctx.TimedHandlerAdd(func(*Context) HandlerResult { return KeepHandler }, 0)
	if n := handle.Count(); n != before+2 {
		t.Errorf("wrong number of handles while the context is live: want=%d, got=%d", before+2, n)
	}
	ctx.Release()
	if n := handle.Count(); n != before {
		t.Errorf("handles left after release: want=%d, got=%d", before, n)
	}
}
