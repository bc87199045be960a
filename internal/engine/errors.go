// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package engine

import (
	"errors"
	"fmt"
)

// Native status codes.
var (
	ErrMemory           = errors.New("strophe: out of memory")
	ErrInvalidOperation = errors.New("strophe: invalid operation")
	ErrInternal         = errors.New("strophe: internal error")
)

// ErrTLSRequired is reported through a Fault when TLS is mandatory but the
// server did not offer it.
var ErrTLSRequired = errors.New("engine: TLS is mandatory but the server did not offer it")

// StreamFault is a stream level error received from the peer.
type StreamFault struct {
	Cond string
	Text string
	Node *Node
}

// Fault describes why a connection was lost.
// Err is the transport or negotiation error, Stream is set when the peer sent a
// stream error.
type Fault struct {
	Err    error
	Stream *StreamFault
}

func (f *Fault) Error() string {
	switch {
	case f.Stream != nil && f.Stream.Text != "":
		return fmt.Sprintf("stream error %s: %s", f.Stream.Cond, f.Stream.Text)
	case f.Stream != nil:
		return "stream error " + f.Stream.Cond
	case f.Err != nil:
		return f.Err.Error()
	}
	return "connection lost"
}

func (f *Fault) Unwrap() error {
	return f.Err
}
