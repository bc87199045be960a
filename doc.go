// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

//go:generate go run -tags=tools golang.org/x/tools/cmd/stringer -output=string.go -type=ErrorType,CertElement,HandlerResult,LogLevel -linecomment

// Package strophe is an ownership checked XMPP client library modeled on the
// libstrophe C API.
//
// A program builds a Context, moves it into a Connection, registers callbacks
// and connects.
// Connecting hands the Context back to the caller whether or not it
// succeeded, and the Context's event loop then invokes the callbacks on the
// goroutine that drives it:
//
//	ctx := strophe.NewContextWithDefaultLogger()
//	conn := strophe.NewConnection(ctx)
//	conn.SetJID("me@example.net")
//	conn.SetPass("secret")
//	ctx, err := conn.ConnectClient("", 0, func(ctx *strophe.Context, conn *strophe.Connection, ev strophe.ConnectionEvent) {
//		if ev.Event == strophe.EventDisconnect {
//			ctx.Stop()
//		}
//	})
//	if err != nil {
//		// The context can be used to build a new connection.
//	}
//	ctx.Run()
//
// # Ownership
//
// Values passed to a callback (the Context, the Connection, stanzas and
// errors) are views that are only valid for the duration of that call.
// Keeping one and using it later panics with an error wrapping ErrOutOfScope;
// Clone or Owned make copies that may be kept.
//
// Handles that were moved, for instance a Context passed to NewConnection or a
// Stanza passed to AddChild, panic with ErrMoved when used again.
// A Stanza that is being iterated over is borrowed: releasing or moving it
// before the loop ends panics with ErrBorrowed.
// Taking a new reference with Dup before iterating allows the original to be
// released early.
//
// These checks report programmer errors and are not meant to be recovered
// from.
package strophe // import "mellium.im/strophe"
